package bridge

import (
	"encoding/hex"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/kbridge/internal/hid"
	"github.com/srg/kbridge/internal/link"
)

// cccOffsetFallbackRange is how far past the value handle the CCC
// auto-discovery fallback searches when the +1 heuristic fails.
const cccOffsetFallbackRange = 5

// Relay subscribes to the resolved report characteristic and forwards
// notification payloads to the sink. Its subscription state is meaningful
// only while the owning connection is live; Reset tears it down.
type Relay struct {
	central link.Central
	sink    hid.Sink
	logger  *logrus.Logger

	mu     sync.Mutex
	conn   link.Conn
	params *link.SubscribeParams
	active bool
	buf    hid.Report // last report received, zeroed on disconnect
}

// NewRelay creates a Relay over the given central and sink.
func NewRelay(central link.Central, sink hid.Sink, logger *logrus.Logger) *Relay {
	if logger == nil {
		logger = logrus.New()
	}
	return &Relay{central: central, sink: sink, logger: logger}
}

// Subscribe registers for notifications on valueHandle. The CCC is assumed
// to be the immediately following handle; when that heuristic fails for any
// reason other than an existing subscription, a second attempt lets the
// stack auto-discover the CCC near the value handle. If both fail the relay
// stays unsubscribed until the next connection cycle.
func (r *Relay) Subscribe(c link.Conn, valueHandle uint16) {
	params := &link.SubscribeParams{
		ValueHandle: valueHandle,
		CCCHandle:   valueHandle + 1, // CCC is typically the next handle
		Notify:      r.handleNotification,
	}

	err := r.central.Subscribe(c, params)
	if err != nil && !errors.Is(err, link.ErrAlreadySubscribed) {
		r.logger.WithError(err).Error("Subscribe failed")

		params.CCCHandle = 0
		params.EndHandle = valueHandle + cccOffsetFallbackRange
		err = r.central.Subscribe(c, params)
		if err != nil && !errors.Is(err, link.ErrAlreadySubscribed) {
			r.logger.WithError(err).Error("Subscribe with auto-discovery also failed")
			return
		}
		r.logger.Info("Subscribed with auto-discovery")
	} else {
		r.logger.Info("Subscribed to HID reports")
	}

	r.mu.Lock()
	r.conn = c
	r.params = params
	r.active = true
	r.mu.Unlock()
}

// Active reports whether a subscription is currently relaying.
func (r *Relay) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// handleNotification runs on the stack-callback goroutine for every
// notification on the subscribed value handle.
func (r *Relay) handleNotification(data []byte) bool {
	if data == nil {
		// Payload-less notification: the stack unsubscribed us. No
		// automatic resubscription within this connection.
		r.logger.Warn("Unsubscribed")
		r.mu.Lock()
		r.conn = nil
		r.params = nil
		r.active = false
		r.mu.Unlock()
		return false
	}

	r.mu.Lock()
	if !r.active {
		// Report arrived after disconnect teardown: discard.
		r.mu.Unlock()
		return false
	}
	if len(data) < hid.ReportSize {
		// Short payloads are dropped, not an error.
		r.mu.Unlock()
		return true
	}
	copy(r.buf[:], data[:hid.ReportSize])
	report := r.buf
	r.mu.Unlock()

	r.push(report)

	r.logger.WithField("report", hex.EncodeToString(report[:])).Debug("HID report forwarded")
	return true
}

// push delivers one report to the sink, best effort. A busy sink is
// tolerated silently; any other failure is logged and relay state is left
// unchanged.
func (r *Relay) push(report hid.Report) {
	if !r.sink.Ready() {
		return
	}
	err := r.sink.Write(report)
	switch {
	case err == nil:
	case errors.Is(err, hid.ErrBusy):
		// Transient; the next notification carries fresh state.
	default:
		r.logger.WithError(err).Error("Failed to send HID report")
	}
}

// Reset tears down subscription state on disconnect, zeroes the report
// buffer, and pushes the zero report so the host never sees stuck keys.
func (r *Relay) Reset() {
	r.mu.Lock()
	r.buf = hid.ZeroReport
	r.conn = nil
	r.params = nil
	r.active = false
	r.mu.Unlock()

	r.push(hid.ZeroReport)
}
