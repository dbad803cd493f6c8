// Package bridge holds the connection lifecycle core: the state machine
// that discovers, connects, re-connects and subscribes to the remote
// keyboard, and the relay that feeds its reports to the output sink. Every
// failure path here ends in a retry loop or a return to scanning, never in
// a halt.
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/kbridge/internal/groutine"
	"github.com/srg/kbridge/internal/hid"
	"github.com/srg/kbridge/internal/link"
	"github.com/srg/kbridge/internal/pairing"
	"github.com/srg/kbridge/internal/statusled"
)

// State is the lifecycle manager's externally observable state.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateDiscovering
	StateSubscribed
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Options configures the lifecycle manager.
type Options struct {
	// DeviceNames are the accepted advertisement name variants; a device
	// matches when its name contains any of them.
	DeviceNames []string

	// Backoff is the fixed delay before re-arming the connection path
	// after a failure or disconnect.
	Backoff time.Duration

	// SettleDelay separates a scan stop or forced disconnect from the
	// action that follows it.
	SettleDelay time.Duration

	// StatusTick is the housekeeping period driving the indicator.
	StatusTick time.Duration
}

// DefaultOptions returns the options the original bridge shipped with.
func DefaultOptions() Options {
	return Options{
		DeviceNames: []string{"Adv360 Pro", "Adv360 Pro R", "Adv360 Pro L"},
		Backoff:     time.Second,
		SettleDelay: 100 * time.Millisecond,
		StatusTick:  time.Second,
	}
}

// Manager owns the scan/connect/reconnect/disconnect state machine. The
// live connection handle and the state derived from it are the only data
// shared across the callback, worker, and housekeeping contexts; both are
// guarded by one mutex held only for check-and-copy sections.
type Manager struct {
	central link.Central
	pairing *pairing.Manager
	relay   *Relay
	disc    discoverer
	ind     statusled.Indicator
	opts    Options
	logger  *logrus.Logger

	mu    sync.Mutex
	conn  link.Conn
	state State

	// sleep is injectable so tests can drop the recovery delays.
	sleep func(time.Duration)
}

// NewManager wires the lifecycle manager to its collaborators and
// registers for connection events.
func NewManager(central link.Central, pm *pairing.Manager, sink hid.Sink, ind statusled.Indicator, opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if ind == nil {
		ind = statusled.Null{}
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 100 * time.Millisecond
	}
	if opts.StatusTick <= 0 {
		opts.StatusTick = time.Second
	}
	if len(opts.DeviceNames) == 0 {
		opts.DeviceNames = DefaultOptions().DeviceNames
	}

	m := &Manager{
		central: central,
		pairing: pm,
		relay:   NewRelay(central, sink, logger),
		ind:     ind,
		opts:    opts,
		logger:  logger,
		state:   StateIdle,
		sleep:   time.Sleep,
	}

	central.SetEventHandler(link.Events{
		Connected:    m.handleConnected,
		Disconnected: m.handleDisconnected,
	})
	return m
}

// IsConnected reports whether a connection handle is currently live.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Relay exposes the report relay, mainly for status reporting.
func (m *Manager) Relay() *Relay {
	return m.relay
}

// StartScan begins active scanning for the keyboard. No-op while a
// connection handle exists.
func (m *Manager) StartScan() {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		m.logger.Debug("Already connected, not scanning")
		return
	}
	m.state = StateScanning
	m.mu.Unlock()

	if err := m.central.StartScan(m.onAdvertisement); err != nil {
		m.logger.WithError(err).Error("Scanning failed to start")
		return
	}
	m.logger.Info("Scanning for keyboard...")
}

// AttemptReconnect issues a direct connect to the stored identity,
// bypassing scanning. Without a valid pairing it delegates to StartScan;
// a failed connect issue falls back to scanning too.
func (m *Manager) AttemptReconnect() {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		m.logger.Debug("Already connected")
		return
	}
	m.mu.Unlock()

	rec := m.pairing.Record()
	if !rec.Valid {
		m.logger.Info("No saved keyboard, starting scan")
		m.StartScan()
		return
	}

	m.mu.Lock()
	m.state = StateConnecting
	m.mu.Unlock()

	m.logger.WithField("address", rec.Identity.String()).Info("Attempting direct reconnection to saved keyboard")
	if err := m.central.Connect(rec.Identity); err != nil {
		m.logger.WithError(err).Error("Direct reconnection failed, starting scan")
		m.StartScan()
	}
}

// Reconnect is the single-press intent: a reconnect attempt that no-ops
// while connected.
func (m *Manager) Reconnect() {
	m.AttemptReconnect()
}

// onAdvertisement filters advertisements by device name and turns the
// first match into a connect attempt.
func (m *Manager) onAdvertisement(adv link.Advertisement) {
	name := adv.LocalName()
	if name == "" || !m.matchesName(name) {
		return
	}

	// Claim the transition under the lock so a burst of matching
	// advertisements yields exactly one connect attempt.
	m.mu.Lock()
	if m.state != StateScanning || m.conn != nil {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"name":    name,
		"address": adv.Addr().String(),
		"rssi":    adv.RSSI(),
	}).Info("Found keyboard")

	if err := m.central.StopScan(); err != nil {
		// The scan is still live; fall back to scanning so the next
		// matching advertisement gets another attempt.
		m.logger.WithError(err).Error("Stop scan failed")
		m.mu.Lock()
		if m.state == StateConnecting && m.conn == nil {
			m.state = StateScanning
		}
		m.mu.Unlock()
		return
	}

	// Give the controller a moment to wind the scan down.
	m.sleep(m.opts.SettleDelay)

	if err := m.central.Connect(adv.Addr()); err != nil {
		m.logger.WithError(err).Error("Create connection failed")
		m.sleep(m.opts.Backoff)
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		m.StartScan()
	}
}

// matchesName reports whether an advertised name matches any accepted
// variant, exactly or as an embedded substring.
func (m *Manager) matchesName(name string) bool {
	for _, want := range m.opts.DeviceNames {
		if strings.Contains(name, want) {
			return true
		}
	}
	return false
}

// handleConnected runs on the stack-callback goroutine when a connect
// attempt completes either way.
func (m *Manager) handleConnected(addr link.Addr, c link.Conn, err error) {
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"address": addr.String(),
			"error":   err,
		}).Error("Failed to connect")

		m.mu.Lock()
		m.conn = nil
		m.state = StateIdle
		m.mu.Unlock()

		m.recoverAfterBackoff()
		return
	}

	m.mu.Lock()
	if m.conn != nil {
		// Single-link invariant: a second live link is rejected
		// deterministically in favor of the existing one.
		m.mu.Unlock()
		m.logger.WithField("address", addr.String()).Warn("Connection completed while another link is live, dropping it")
		_ = m.central.Disconnect(c, link.ReasonLocalHostTerminated)
		return
	}
	m.conn = c
	m.state = StateDiscovering
	m.mu.Unlock()

	m.logger.WithField("address", addr.String()).Info("Connected")

	// Persist the identity for direct reconnection, overwriting any
	// previous pairing.
	if perr := m.pairing.Save(addr); perr != nil {
		m.logger.WithError(perr).Warn("Failed to persist keyboard address")
	}

	m.startDiscovery(c)
}

// handleDisconnected runs on the stack-callback goroutine on link loss.
// Every disconnect unconditionally re-arms the reconnection path.
func (m *Manager) handleDisconnected(c link.Conn, reason link.DisconnectReason) {
	m.mu.Lock()
	if m.conn == nil {
		// Unpair already tore this link down and re-armed scanning;
		// leave its state alone.
		m.mu.Unlock()
		m.logger.Debug("Disconnect for already-released link")
		return
	}
	if m.conn != c {
		// Stale completion for a superseded handle.
		m.mu.Unlock()
		m.logger.Debug("Ignoring disconnect for superseded connection")
		return
	}
	m.conn = nil
	m.state = StateIdle
	m.mu.Unlock()

	m.logger.WithField("reason", uint8(reason)).Info("Disconnected")

	m.disc.reset()
	m.relay.Reset()

	m.recoverAfterBackoff()
}

// recoverAfterBackoff waits the fixed backoff and re-enters the
// appropriate connection path. Runs outside the lock on a callback
// goroutine.
func (m *Manager) recoverAfterBackoff() {
	m.sleep(m.opts.Backoff)
	if m.pairing.Record().Valid {
		m.logger.Info("Attempting to reconnect to saved keyboard")
		m.AttemptReconnect()
	} else {
		m.StartScan()
	}
}

// Unpair is the double-press intent: forcibly disconnect if connected,
// forget the pairing in memory and in the store, then rescan after a
// settle delay so the teardown is not raced.
func (m *Manager) Unpair() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	if c != nil {
		m.state = StateDisconnecting
	} else {
		m.state = StateIdle
	}
	m.mu.Unlock()

	if c != nil {
		if err := m.central.Disconnect(c, link.ReasonRemoteUserTerminated); err != nil {
			m.logger.WithError(err).Warn("Forced disconnect failed")
		}
		m.disc.reset()
		m.relay.Reset()
	}

	if err := m.pairing.Clear(); err != nil {
		m.logger.WithError(err).Error("Failed to clear pairing record")
	}
	m.logger.Info("Pairing cleared")

	m.sleep(m.opts.SettleDelay)

	m.mu.Lock()
	m.state = StateIdle
	m.mu.Unlock()
	m.StartScan()
}

// Run arms the connection path and drives the housekeeping tick until ctx
// is done: the indicator stays steady while connected and toggles while
// searching.
func (m *Manager) Run(ctx context.Context) error {
	// Arm the initial connection path off this goroutine; it sleeps.
	groutine.Go(ctx, "bridge-arm", func(context.Context) {
		if m.pairing.Record().Valid {
			m.logger.Info("Found saved keyboard, attempting reconnection")
			m.AttemptReconnect()
		} else {
			m.logger.Info("No saved keyboard, starting scan")
			m.StartScan()
		}
	})

	ticker := time.NewTicker(m.opts.StatusTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case <-ticker.C:
			if m.IsConnected() {
				_ = m.ind.Set(true)
			} else {
				_ = m.ind.Toggle()
			}
		}
	}
}

// shutdown releases the link and stops scanning on process exit.
func (m *Manager) shutdown() {
	_ = m.central.StopScan()

	m.mu.Lock()
	c := m.conn
	m.conn = nil
	m.state = StateIdle
	m.mu.Unlock()

	if c != nil {
		if err := m.central.Disconnect(c, link.ReasonLocalHostTerminated); err != nil {
			m.logger.WithError(err).Debug("Disconnect during shutdown failed")
		}
	}
	_ = m.ind.Set(false)
}
