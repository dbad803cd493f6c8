// Package pairing persists the identity of the one peripheral this bridge
// is bound to. The record survives restarts through a small key-value
// store; a record whose stored size does not match the fixed encoding is
// treated as absent rather than an error.
package pairing

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/kbridge/internal/link"
)

// StoreKey is the key the pairing record is stored under.
const StoreKey = "addr"

// recordSize is the fixed on-disk encoding: one address-type byte followed
// by the six address bytes.
const recordSize = 1 + link.AddrLen

// Record is the persisted pairing state. Valid=false means no known
// peripheral.
type Record struct {
	Identity link.Addr
	Valid    bool
}

// Store is the key-value persistence collaborator.
type Store interface {
	Set(key string, value []byte) error
	Get(key string) (value []byte, ok bool, err error)
	Clear(key string) error
}

// Encode serializes an identity into its fixed 7-byte form.
func Encode(id link.Addr) []byte {
	buf := make([]byte, recordSize)
	buf[0] = id.Type
	copy(buf[1:], id.Bytes[:])
	return buf
}

// Decode parses the fixed encoding produced by Encode. Any other length is
// rejected.
func Decode(data []byte) (link.Addr, error) {
	var id link.Addr
	if len(data) != recordSize {
		return id, fmt.Errorf("pairing record has %d bytes, want %d", len(data), recordSize)
	}
	id.Type = data[0]
	copy(id.Bytes[:], data[1:])
	return id, nil
}

// Manager caches the pairing record in memory and mirrors every change to
// the backing store. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	rec    Record
	store  Store
	logger *logrus.Logger
}

// NewManager creates a Manager over the given store.
func NewManager(store Store, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{store: store, logger: logger}
}

// Load reads the stored record, if any. Invoked once at process start. A
// missing or malformed record leaves the manager unpaired; only a store
// read failure is returned as an error.
func (m *Manager) Load() error {
	data, ok, err := m.store.Get(StoreKey)
	if err != nil {
		return fmt.Errorf("failed to load pairing record: %w", err)
	}
	if !ok {
		m.logger.Debug("No saved keyboard address")
		return nil
	}

	id, err := Decode(data)
	if err != nil {
		// Malformed record falls back to scan-based discovery.
		m.logger.WithError(err).Warn("Ignoring malformed pairing record")
		return nil
	}

	m.mu.Lock()
	m.rec = Record{Identity: id, Valid: true}
	m.mu.Unlock()

	m.logger.WithField("address", id.String()).Info("Loaded saved keyboard address")
	return nil
}

// Save persists id as the current pairing, overwriting any previous record.
// Invoked on every successful connection; the overwrite is idempotent.
func (m *Manager) Save(id link.Addr) error {
	m.mu.Lock()
	m.rec = Record{Identity: id, Valid: true}
	m.mu.Unlock()

	if err := m.store.Set(StoreKey, Encode(id)); err != nil {
		return fmt.Errorf("failed to save pairing record: %w", err)
	}
	return nil
}

// Clear forgets the pairing in memory and in the store. Invoked only by the
// unpair intent.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.rec = Record{}
	m.mu.Unlock()

	if err := m.store.Clear(StoreKey); err != nil {
		return fmt.Errorf("failed to clear pairing record: %w", err)
	}
	return nil
}

// Record returns a copy of the current pairing state.
func (m *Manager) Record() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}
