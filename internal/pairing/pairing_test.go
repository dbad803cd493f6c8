package pairing

import (
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/srg/kbridge/internal/link"
)

type memStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (s *memStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func sampleAddr() link.Addr {
	return link.Addr{Type: link.AddrTypeRandom, Bytes: [link.AddrLen]byte{0xAA, 0xBB, 0xCC, 0x11, 0x22, 0x33}}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	id := sampleAddr()

	data := Encode(id)
	require.Len(t, data, 1+link.AddrLen)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = Decode(make([]byte, 8))
	assert.Error(t, err)
}

func TestLoadMissingRecordLeavesUnpaired(t *testing.T) {
	m := NewManager(newMemStore(), quietLogger())

	require.NoError(t, m.Load())
	assert.False(t, m.Record().Valid)
}

func TestLoadMalformedRecordTreatedAsAbsent(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Set(StoreKey, []byte{1, 2, 3}))
	m := NewManager(store, quietLogger())

	require.NoError(t, m.Load())
	assert.False(t, m.Record().Valid)
}

func TestLoadStoreFailureIsAnError(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("io failure")
	m := NewManager(store, quietLogger())

	assert.Error(t, m.Load())
}

func TestSavePersistsAndReloads(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, quietLogger())
	id := sampleAddr()

	require.NoError(t, m.Save(id))

	rec := m.Record()
	require.True(t, rec.Valid)
	assert.Equal(t, id, rec.Identity)

	// A fresh manager over the same store sees the saved identity.
	m2 := NewManager(store, quietLogger())
	require.NoError(t, m2.Load())
	assert.Equal(t, rec, m2.Record())
}

func TestSaveOverwritesPreviousPairing(t *testing.T) {
	m := NewManager(newMemStore(), quietLogger())

	require.NoError(t, m.Save(sampleAddr()))
	other := link.Addr{Type: link.AddrTypePublic, Bytes: [link.AddrLen]byte{9, 8, 7, 6, 5, 4}}
	require.NoError(t, m.Save(other))

	assert.Equal(t, other, m.Record().Identity)
}

func TestClearForgetsEverywhere(t *testing.T) {
	store := newMemStore()
	m := NewManager(store, quietLogger())
	require.NoError(t, m.Save(sampleAddr()))

	require.NoError(t, m.Clear())

	assert.False(t, m.Record().Valid)
	_, ok, err := store.Get(StoreKey)
	require.NoError(t, err)
	assert.False(t, ok)
}
