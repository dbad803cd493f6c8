// Package link defines the boundary to the BLE link layer: scanning,
// connect-by-address, ranged GATT discovery with a terminal signal, and
// characteristic subscriptions. The bridge core depends only on this shape;
// the go-ble backed implementation lives in the goble subpackage.
package link

import "errors"

// Standard 16-bit GATT identifiers the bridge cares about.
const (
	UUIDHIDService uint16 = 0x1812 // Human Interface Device service
	UUIDHIDReport  uint16 = 0x2A4D // Report characteristic
)

// Attribute handle range boundaries.
const (
	FirstAttributeHandle uint16 = 0x0001
	LastAttributeHandle  uint16 = 0xFFFF
)

// Advertisement is the subset of advertisement data the bridge consumes.
type Advertisement interface {
	LocalName() string
	Addr() Addr
	RSSI() int
	Connectable() bool
}

// Conn is an opaque handle to one live link. At most one Conn is live at a
// time; the lifecycle manager owns it and compares handles by identity to
// detect stale completions.
type Conn interface {
	Addr() Addr
}

// DisconnectReason is the HCI reason code delivered with a disconnect
// event. The bridge logs it but never branches on it.
type DisconnectReason uint8

// Reason codes the implementation may surface or request.
const (
	ReasonUnknown              DisconnectReason = 0x00
	ReasonConnectionTimeout    DisconnectReason = 0x08
	ReasonRemoteUserTerminated DisconnectReason = 0x13
	ReasonLocalHostTerminated  DisconnectReason = 0x16
)

// Attr is one discovered attribute. ValueHandle is populated only for
// characteristic discovery results.
type Attr struct {
	Handle      uint16
	ValueHandle uint16
	UUID        uint16
}

// DiscoverFunc receives each attribute matching a discovery request, then a
// final call with nil signalling "no more attributes" in the requested
// range. Returning false stops the discovery before exhaustion.
type DiscoverFunc func(attr *Attr) bool

// NotifyFunc receives notification payloads for a subscribed value handle.
// A nil payload means the stack unsubscribed the characteristic remotely.
// Returning false stops the notification stream.
type NotifyFunc func(data []byte) bool

// SubscribeParams configures a notification subscription. CCCHandle is the
// client characteristic configuration handle; zero requests auto-discovery
// of the CCC within [ValueHandle..EndHandle].
type SubscribeParams struct {
	ValueHandle uint16
	CCCHandle   uint16
	EndHandle   uint16
	Notify      NotifyFunc
}

// Events carries the connection event callbacks. Connected is invoked with
// a nil Conn and non-nil error when a connect attempt fails. Both callbacks
// run on stack-callback goroutines and may not be invoked concurrently with
// each other.
type Events struct {
	Connected    func(addr Addr, c Conn, err error)
	Disconnected func(c Conn, reason DisconnectReason)
}

// Central is the link-layer collaborator: an implementation drives the
// radio while the bridge core drives policy.
type Central interface {
	// SetEventHandler registers connect/disconnect callbacks. Must be
	// called before Connect.
	SetEventHandler(e Events)

	// StartScan begins active scanning, delivering advertisements to
	// handler until StopScan. Returns immediately; the handler runs on a
	// callback goroutine.
	StartScan(handler func(Advertisement)) error

	// StopScan aborts an in-progress scan. No-op when not scanning.
	StopScan() error

	// Connect issues a connect attempt to addr. The outcome is delivered
	// through Events.Connected.
	Connect(addr Addr) error

	// Disconnect tears down the link, requesting the given reason code.
	// Events.Disconnected fires once the link is actually down.
	Disconnect(c Conn, reason DisconnectReason) error

	// DiscoverPrimary searches [start..end] for primary services with the
	// given 16-bit UUID. Matches and the terminal nil are delivered to fn
	// on a callback goroutine.
	DiscoverPrimary(c Conn, uuid uint16, start, end uint16, fn DiscoverFunc) error

	// DiscoverCharacteristic searches [start..end] for characteristics
	// with the given 16-bit UUID, delivering matches like DiscoverPrimary.
	DiscoverCharacteristic(c Conn, uuid uint16, start, end uint16, fn DiscoverFunc) error

	// Subscribe enables notifications per params.
	Subscribe(c Conn, params *SubscribeParams) error

	// Unsubscribe disables notifications previously enabled with params.
	Unsubscribe(c Conn, params *SubscribeParams) error
}

// Sentinel errors shared across Central implementations.
var (
	// ErrNotConnected is returned for operations that require a live link.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadySubscribed is returned by Subscribe when the value handle
	// already has an active subscription. Callers treat it as success.
	ErrAlreadySubscribed = errors.New("already subscribed")

	// ErrScanAborted is returned when a scan is stopped before a caller
	// imposed deadline.
	ErrScanAborted = errors.New("scan aborted")
)
