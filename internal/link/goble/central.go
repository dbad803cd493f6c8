// Package goble implements the link.Central boundary on top of
// github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/kbridge/internal/groutine"
	"github.com/srg/kbridge/internal/link"
)

// DefaultConnectTimeout bounds a single dial attempt. The lifecycle
// manager's backoff loop supplies the retries.
const DefaultConnectTimeout = 30 * time.Second

// cccUUID is the Client Characteristic Configuration descriptor.
var cccUUID = ble.UUID16(0x2902)

// Central is the go-ble backed link layer.
type Central struct {
	logger         *logrus.Logger
	connectTimeout time.Duration

	mu         sync.Mutex
	dev        ble.Device
	events     link.Events
	scanCancel context.CancelFunc
}

// NewCentral creates a Central. The underlying ble.Device is created
// lazily on first use through DeviceFactory.
func NewCentral(connectTimeout time.Duration, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Central{logger: logger, connectTimeout: connectTimeout}
}

// conn is the opaque handle handed to the bridge core.
type conn struct {
	client ble.Client
	addr   link.Addr
}

func (c *conn) Addr() link.Addr { return c.addr }

// advertisement adapts ble.Advertisement to the link boundary.
type advertisement struct {
	adv ble.Advertisement
}

func (a advertisement) LocalName() string { return a.adv.LocalName() }
func (a advertisement) RSSI() int         { return a.adv.RSSI() }
func (a advertisement) Connectable() bool { return a.adv.Connectable() }

func (a advertisement) Addr() link.Addr {
	// go-ble does not expose the address type; public covers the
	// keyboards this bridge targets and a direct connect with the wrong
	// type just falls back to scanning.
	addr, err := link.ParseAddr(a.adv.Addr().String())
	if err != nil {
		return link.Addr{}
	}
	return addr
}

// SetEventHandler registers connect/disconnect callbacks.
func (c *Central) SetEventHandler(e link.Events) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = e
}

// ensureDeviceLocked creates and installs the ble.Device on first use.
// Caller must hold c.mu.
func (c *Central) ensureDeviceLocked() (ble.Device, error) {
	if c.dev != nil {
		return c.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	c.dev = dev
	return dev, nil
}

// StartScan begins active scanning on a background goroutine. Calling it
// while a scan is running is a no-op.
func (c *Central) StartScan(handler func(link.Advertisement)) error {
	c.mu.Lock()
	if c.scanCancel != nil {
		c.mu.Unlock()
		c.logger.Debug("Scan already in progress")
		return nil
	}
	dev, err := c.ensureDeviceLocked()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.scanCancel = cancel
	c.mu.Unlock()

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, true, func(a ble.Advertisement) {
			handler(advertisement{adv: a})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.WithError(err).Error("Scan terminated with error")
		}
		c.mu.Lock()
		if c.scanCancel != nil {
			c.scanCancel()
			c.scanCancel = nil
		}
		c.mu.Unlock()
	})
	return nil
}

// StopScan aborts an in-progress scan.
func (c *Central) StopScan() error {
	c.mu.Lock()
	cancel := c.scanCancel
	c.scanCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Connect issues an asynchronous connect attempt; the outcome arrives via
// Events.Connected. Only a missing BLE device fails synchronously.
func (c *Central) Connect(addr link.Addr) error {
	c.mu.Lock()
	_, err := c.ensureDeviceLocked()
	events := c.events
	c.mu.Unlock()
	if err != nil {
		return err
	}

	groutine.Go(nil, "ble-connect", func(context.Context) {
		dialCtx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
		defer cancel()

		client, err := ble.Dial(dialCtx, ble.NewAddr(addr.MAC()))
		if err != nil {
			if events.Connected != nil {
				events.Connected(addr, nil, normalizeError(err))
			}
			return
		}

		cn := &conn{client: client, addr: addr}

		// The client's Disconnected channel is the only link-loss signal
		// go-ble provides; HCI reason codes are not surfaced.
		groutine.Go(nil, "ble-disconnect-watch", func(context.Context) {
			<-client.Disconnected()
			if events.Disconnected != nil {
				events.Disconnected(cn, link.ReasonUnknown)
			}
		})

		if events.Connected != nil {
			events.Connected(addr, cn, nil)
		}
	})
	return nil
}

// Disconnect tears the link down. The Disconnected event fires through the
// client's disconnect watch once the link is actually gone.
func (c *Central) Disconnect(lc link.Conn, _ link.DisconnectReason) error {
	cn, ok := lc.(*conn)
	if !ok || cn.client == nil {
		return link.ErrNotConnected
	}
	return normalizeError(cn.client.CancelConnection())
}

// DiscoverPrimary searches for primary services with the given UUID inside
// [start..end], delivering matches and the terminal nil asynchronously.
func (c *Central) DiscoverPrimary(lc link.Conn, uuid16, start, end uint16, fn link.DiscoverFunc) error {
	cn, ok := lc.(*conn)
	if !ok || cn.client == nil {
		return link.ErrNotConnected
	}

	groutine.Go(nil, "gatt-discover-primary", func(context.Context) {
		svcs, err := cn.client.DiscoverServices([]ble.UUID{ble.UUID16(uuid16)})
		if err != nil {
			c.logger.WithError(err).Warn("Primary service discovery failed")
			fn(nil)
			return
		}
		for _, s := range svcs {
			if s.Handle < start || s.Handle > end {
				continue
			}
			if !fn(&link.Attr{Handle: s.Handle, UUID: uuid16}) {
				return
			}
		}
		fn(nil)
	})
	return nil
}

// DiscoverCharacteristic searches [start..end] for characteristics with
// the given UUID, delivering matches like DiscoverPrimary.
func (c *Central) DiscoverCharacteristic(lc link.Conn, uuid16, start, end uint16, fn link.DiscoverFunc) error {
	cn, ok := lc.(*conn)
	if !ok || cn.client == nil {
		return link.ErrNotConnected
	}

	groutine.Go(nil, "gatt-discover-characteristic", func(context.Context) {
		span := &ble.Service{Handle: start, EndHandle: end}
		chars, err := cn.client.DiscoverCharacteristics([]ble.UUID{ble.UUID16(uuid16)}, span)
		if err != nil {
			c.logger.WithError(err).Warn("Characteristic discovery failed")
			fn(nil)
			return
		}
		for _, ch := range chars {
			if ch.Handle < start || ch.Handle > end {
				continue
			}
			if !fn(&link.Attr{Handle: ch.Handle, ValueHandle: ch.ValueHandle, UUID: uuid16}) {
				return
			}
		}
		fn(nil)
	})
	return nil
}

// Subscribe enables notifications for params. With CCCHandle set the
// descriptor is addressed directly; with CCCHandle zero the CCC is
// auto-discovered within [ValueHandle..EndHandle].
func (c *Central) Subscribe(lc link.Conn, p *link.SubscribeParams) error {
	cn, ok := lc.(*conn)
	if !ok || cn.client == nil {
		return link.ErrNotConnected
	}

	char := &ble.Characteristic{
		Handle:      p.ValueHandle - 1,
		ValueHandle: p.ValueHandle,
		EndHandle:   p.EndHandle,
		Property:    ble.CharNotify,
	}

	if p.CCCHandle != 0 {
		char.CCCD = &ble.Descriptor{UUID: cccUUID, Handle: p.CCCHandle}
	} else {
		descs, err := cn.client.DiscoverDescriptors(nil, char)
		if err != nil {
			return normalizeError(err)
		}
		for _, d := range descs {
			if d.UUID.Equal(cccUUID) {
				char.CCCD = d
				break
			}
		}
		if char.CCCD == nil {
			return fmt.Errorf("no CCC descriptor in handles [%#x..%#x]", p.ValueHandle, p.EndHandle)
		}
	}

	// go-ble handlers have no return value; a stream the callback stopped
	// is muted locally until unsubscribe.
	var stopped atomic.Bool
	handler := func(data []byte) {
		if stopped.Load() {
			return
		}
		if !p.Notify(data) {
			stopped.Store(true)
		}
	}

	return normalizeError(cn.client.Subscribe(char, false, handler))
}

// Unsubscribe disables notifications previously enabled with params.
func (c *Central) Unsubscribe(lc link.Conn, p *link.SubscribeParams) error {
	cn, ok := lc.(*conn)
	if !ok || cn.client == nil {
		return link.ErrNotConnected
	}

	char := &ble.Characteristic{
		Handle:      p.ValueHandle - 1,
		ValueHandle: p.ValueHandle,
		Property:    ble.CharNotify,
	}
	if p.CCCHandle != 0 {
		char.CCCD = &ble.Descriptor{UUID: cccUUID, Handle: p.CCCHandle}
	}
	return normalizeError(cn.client.Unsubscribe(char, false))
}

// normalizeError maps known go-ble error strings onto link sentinels so
// callers can branch with errors.Is even if upstream wording drifts.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already subscribed"):
		return fmt.Errorf("%w: %v", link.ErrAlreadySubscribed, err)
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "connection is not"):
		return fmt.Errorf("%w: %v", link.ErrNotConnected, err)
	default:
		return err
	}
}
