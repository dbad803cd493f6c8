package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/srg/kbridge/internal/link"
)

type fakeAdvertisement struct {
	name string
	addr link.Addr
	rssi int
}

func (a fakeAdvertisement) LocalName() string { return a.name }
func (a fakeAdvertisement) Addr() link.Addr   { return a.addr }
func (a fakeAdvertisement) RSSI() int         { return a.rssi }
func (a fakeAdvertisement) Connectable() bool { return true }

// replayCentral delivers a canned advertisement sequence as soon as the
// scan starts.
type replayCentral struct {
	advs      []fakeAdvertisement
	scanStops int
}

func (f *replayCentral) SetEventHandler(link.Events) {}

func (f *replayCentral) StartScan(handler func(link.Advertisement)) error {
	for _, adv := range f.advs {
		handler(adv)
	}
	return nil
}

func (f *replayCentral) StopScan() error {
	f.scanStops++
	return nil
}

func (f *replayCentral) Connect(link.Addr) error { return nil }
func (f *replayCentral) Disconnect(link.Conn, link.DisconnectReason) error {
	return nil
}
func (f *replayCentral) DiscoverPrimary(link.Conn, uint16, uint16, uint16, link.DiscoverFunc) error {
	return nil
}
func (f *replayCentral) DiscoverCharacteristic(link.Conn, uint16, uint16, uint16, link.DiscoverFunc) error {
	return nil
}
func (f *replayCentral) Subscribe(link.Conn, *link.SubscribeParams) error   { return nil }
func (f *replayCentral) Unsubscribe(link.Conn, *link.SubscribeParams) error { return nil }

func addrOf(t *testing.T, s string) link.Addr {
	t.Helper()
	a, err := link.ParseAddr(s)
	require.NoError(t, err)
	return a
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestScanDeduplicatesAndSortsByRSSI(t *testing.T) {
	fc := &replayCentral{advs: []fakeAdvertisement{
		{name: "Some Headset", addr: addrOf(t, "11:11:11:11:11:11"), rssi: -70},
		{name: "Adv360 Pro R", addr: addrOf(t, "22:22:22:22:22:22"), rssi: -45},
		// Same device again with a fresher RSSI.
		{name: "Some Headset", addr: addrOf(t, "11:11:11:11:11:11"), rssi: -60},
	}}
	sc := New(fc, []string{"Adv360 Pro"}, quietLogger())

	devices, err := sc.Scan(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)

	require.Len(t, devices, 2)
	assert.Equal(t, "Adv360 Pro R", devices[0].Name)
	assert.True(t, devices[0].Keyboard)
	assert.Equal(t, -45, devices[0].RSSI)
	assert.Equal(t, "Some Headset", devices[1].Name)
	assert.False(t, devices[1].Keyboard)
	assert.Equal(t, -60, devices[1].RSSI)

	assert.Equal(t, 1, fc.scanStops)
}

func TestScanRepeatedSightingsUpdateExistingEntry(t *testing.T) {
	first := addrOf(t, "11:11:11:11:11:11")
	second := addrOf(t, "22:22:22:22:22:22")
	third := addrOf(t, "33:33:33:33:33:33")
	fc := &replayCentral{advs: []fakeAdvertisement{
		{name: "one", addr: first, rssi: -80},
		{name: "two", addr: second, rssi: -70},
		{name: "three", addr: third, rssi: -60},
		// Re-sightings after other devices were inserted must land on
		// the original entries, not create duplicates.
		{name: "one", addr: first, rssi: -40},
		{name: "two", addr: second, rssi: -50},
	}}
	sc := New(fc, nil, quietLogger())

	devices, err := sc.Scan(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)

	require.Len(t, devices, 3)
	assert.Equal(t, 3, sc.devices.Len())
	assert.Equal(t, "one", devices[0].Name)
	assert.Equal(t, -40, devices[0].RSSI)
	assert.Equal(t, "two", devices[1].Name)
	assert.Equal(t, -50, devices[1].RSSI)
	assert.Equal(t, "three", devices[2].Name)
	assert.Equal(t, -60, devices[2].RSSI)
}

func TestScanNameArrivesInLaterAdvertisement(t *testing.T) {
	addr := addrOf(t, "22:22:22:22:22:22")
	fc := &replayCentral{advs: []fakeAdvertisement{
		{name: "", addr: addr, rssi: -50},
		{name: "Adv360 Pro L", addr: addr, rssi: -50},
	}}
	sc := New(fc, []string{"Adv360 Pro"}, quietLogger())

	devices, err := sc.Scan(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)

	require.Len(t, devices, 1)
	assert.Equal(t, "Adv360 Pro L", devices[0].Name)
	assert.True(t, devices[0].Keyboard)
}

func TestScanIgnoresZeroAddresses(t *testing.T) {
	fc := &replayCentral{advs: []fakeAdvertisement{
		{name: "ghost", addr: link.Addr{}, rssi: -30},
	}}
	sc := New(fc, nil, quietLogger())

	devices, err := sc.Scan(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestScanStopsOnContextCancel(t *testing.T) {
	fc := &replayCentral{}
	sc := New(fc, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := sc.Scan(ctx, time.Minute)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, fc.scanStops)
}

func TestScanEmitsNewDeviceEvents(t *testing.T) {
	addr := addrOf(t, "22:22:22:22:22:22")
	fc := &replayCentral{advs: []fakeAdvertisement{
		{name: "Adv360 Pro", addr: addr, rssi: -50},
		{name: "Adv360 Pro", addr: addr, rssi: -51},
	}}
	sc := New(fc, []string{"Adv360 Pro"}, quietLogger())

	_, err := sc.Scan(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)

	// One event per device, not per advertisement.
	select {
	case ev := <-sc.Events():
		assert.Equal(t, addr, ev.Addr)
	default:
		t.Fatal("expected a discovery event")
	}
	select {
	case <-sc.Events():
		t.Fatal("duplicate advertisement must not emit a second event")
	default:
	}
}
