package bridge

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/kbridge/internal/link"
)

// discoverPhase is the explicit discovery cursor state. Carrying it as a
// tagged value rather than module statics makes stale-callback detection
// and re-entrancy explicit.
type discoverPhase int

const (
	phaseIdle discoverPhase = iota
	phaseAwaitingService
	phaseAwaitingCharacteristic
)

func (p discoverPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseAwaitingService:
		return "awaiting-service"
	case phaseAwaitingCharacteristic:
		return "awaiting-characteristic"
	default:
		return "unknown"
	}
}

// discoverer locates the HID service and report characteristic on a
// freshly connected peripheral. One instance lives inside the Manager; a
// cursor is created per connection and destroyed when the value handle is
// resolved or the handle range is exhausted.
type discoverer struct {
	mu            sync.Mutex
	phase         discoverPhase
	conn          link.Conn // owning connection, for stale-callback checks
	serviceFound  bool
	serviceHandle uint16
}

// begin arms the cursor for a new connection, superseding any previous
// in-flight discovery.
func (d *discoverer) begin(c link.Conn) {
	d.mu.Lock()
	d.phase = phaseAwaitingService
	d.conn = c
	d.serviceFound = false
	d.serviceHandle = 0
	d.mu.Unlock()
}

// reset destroys the cursor. Safe to call at any time.
func (d *discoverer) reset() {
	d.mu.Lock()
	d.phase = phaseIdle
	d.conn = nil
	d.serviceFound = false
	d.serviceHandle = 0
	d.mu.Unlock()
}

// startDiscovery kicks off the service phase over the full handle range.
// A discovery that fails to start, or finds nothing, leaves the link
// connected but inert until the next disconnect/reconnect cycle.
func (m *Manager) startDiscovery(c link.Conn) {
	m.disc.begin(c)

	err := m.central.DiscoverPrimary(c, link.UUIDHIDService,
		link.FirstAttributeHandle, link.LastAttributeHandle,
		func(attr *link.Attr) bool { return m.onServiceAttr(c, attr) })
	if err != nil {
		m.logger.WithError(err).Error("Service discovery failed to start")
		m.disc.reset()
	}
}

// onServiceAttr handles service-phase discovery callbacks. Every match
// overwrites the remembered handle, so the last one wins, and discovery
// runs to exhaustion before deciding, to tolerate peripherals that
// enumerate service children in a separate pass.
func (m *Manager) onServiceAttr(c link.Conn, attr *link.Attr) bool {
	d := &m.disc

	d.mu.Lock()
	if d.conn != c || d.phase != phaseAwaitingService {
		d.mu.Unlock()
		return false // stale callback for a superseded connection
	}

	if attr != nil {
		d.serviceFound = true
		d.serviceHandle = attr.Handle
		d.mu.Unlock()
		m.logger.WithField("handle", attr.Handle).Debug("Found HID service")
		return true
	}

	// Terminal: the service range is exhausted, decide now.
	if !d.serviceFound {
		d.phase = phaseIdle
		d.mu.Unlock()
		m.logger.Info("HID service not found; link stays connected but inert")
		return false
	}
	d.phase = phaseAwaitingCharacteristic
	start := d.serviceHandle
	d.mu.Unlock()

	m.logger.WithField("handle", start).Info("HID service found, discovering characteristics...")

	err := m.central.DiscoverCharacteristic(c, link.UUIDHIDReport,
		start, link.LastAttributeHandle,
		func(attr *link.Attr) bool { return m.onCharacteristicAttr(c, attr) })
	if err != nil {
		m.logger.WithError(err).Error("Characteristic discovery failed to start")
		d.reset()
	}
	return false
}

// onCharacteristicAttr handles characteristic-phase callbacks. The first
// match wins and discovery stops immediately; only one report
// characteristic is needed.
func (m *Manager) onCharacteristicAttr(c link.Conn, attr *link.Attr) bool {
	d := &m.disc

	d.mu.Lock()
	if d.conn != c || d.phase != phaseAwaitingCharacteristic {
		d.mu.Unlock()
		return false
	}
	d.phase = phaseIdle

	if attr == nil {
		d.mu.Unlock()
		m.logger.Info("HID report characteristic not found; link stays connected but inert")
		return false
	}
	d.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"handle":       attr.Handle,
		"value_handle": attr.ValueHandle,
	}).Info("Found HID report characteristic")

	m.relay.Subscribe(c, attr.ValueHandle)

	if m.relay.Active() {
		m.mu.Lock()
		if m.conn == c {
			m.state = StateSubscribed
		}
		m.mu.Unlock()
	}
	return false
}
