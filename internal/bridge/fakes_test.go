package bridge

import (
	"sync"

	"github.com/srg/kbridge/internal/hid"
	"github.com/srg/kbridge/internal/link"
)

// fakeConn is a trivial link.Conn for tests.
type fakeConn struct {
	addr link.Addr
}

func (c *fakeConn) Addr() link.Addr { return c.addr }

// fakeAdvertisement satisfies link.Advertisement.
type fakeAdvertisement struct {
	name string
	addr link.Addr
	rssi int
}

func (a fakeAdvertisement) LocalName() string { return a.name }
func (a fakeAdvertisement) Addr() link.Addr   { return a.addr }
func (a fakeAdvertisement) RSSI() int         { return a.rssi }
func (a fakeAdvertisement) Connectable() bool { return true }

// fakeCentral implements link.Central with synchronous, scripted
// behavior. Discovery callbacks are delivered inline, which mirrors the
// stack-callback context closely enough for lifecycle tests.
type fakeCentral struct {
	mu     sync.Mutex
	events link.Events

	scanning    bool
	scanHandler func(link.Advertisement)
	scanStarts  int
	scanStops   int
	stopScanErr error

	connects    []link.Addr
	connectErr  error
	disconnects []link.Conn

	// services and characteristics script the discovery phases; only
	// attrs matching the requested UUID and handle range are delivered.
	services        []link.Attr
	characteristics []link.Attr

	// charRanges records the handle ranges characteristic discovery was
	// requested with.
	charRanges [][2]uint16

	// subscribeErrs are returned by successive Subscribe calls; past the
	// end, Subscribe succeeds.
	subscribeErrs []error
	subscribes    []*link.SubscribeParams
	unsubscribes  []*link.SubscribeParams
}

func (f *fakeCentral) SetEventHandler(e link.Events) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = e
}

func (f *fakeCentral) StartScan(handler func(link.Advertisement)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanning = true
	f.scanHandler = handler
	f.scanStarts++
	return nil
}

func (f *fakeCentral) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopScanErr != nil {
		return f.stopScanErr
	}
	f.scanning = false
	f.scanStops++
	return nil
}

func (f *fakeCentral) Connect(addr link.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, addr)
	return f.connectErr
}

func (f *fakeCentral) Disconnect(c link.Conn, _ link.DisconnectReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, c)
	return nil
}

func (f *fakeCentral) DiscoverPrimary(_ link.Conn, uuid, start, end uint16, fn link.DiscoverFunc) error {
	for i := range f.services {
		attr := f.services[i]
		if attr.UUID != uuid || attr.Handle < start || attr.Handle > end {
			continue
		}
		if !fn(&attr) {
			return nil
		}
	}
	fn(nil)
	return nil
}

func (f *fakeCentral) DiscoverCharacteristic(_ link.Conn, uuid, start, end uint16, fn link.DiscoverFunc) error {
	f.mu.Lock()
	f.charRanges = append(f.charRanges, [2]uint16{start, end})
	f.mu.Unlock()

	for i := range f.characteristics {
		attr := f.characteristics[i]
		if attr.UUID != uuid || attr.Handle < start || attr.Handle > end {
			continue
		}
		if !fn(&attr) {
			return nil
		}
	}
	fn(nil)
	return nil
}

func (f *fakeCentral) Subscribe(_ link.Conn, p *link.SubscribeParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, p)
	if len(f.subscribeErrs) > 0 {
		err := f.subscribeErrs[0]
		f.subscribeErrs = f.subscribeErrs[1:]
		return err
	}
	return nil
}

func (f *fakeCentral) Unsubscribe(_ link.Conn, p *link.SubscribeParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes = append(f.unsubscribes, p)
	return nil
}

// deliverAdvertisement feeds an advertisement into the active scan.
func (f *fakeCentral) deliverAdvertisement(adv link.Advertisement) {
	f.mu.Lock()
	handler := f.scanHandler
	f.mu.Unlock()
	if handler != nil {
		handler(adv)
	}
}

// completeConnect fires the Connected event.
func (f *fakeCentral) completeConnect(addr link.Addr, c link.Conn, err error) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events.Connected(addr, c, err)
}

// dropLink fires the Disconnected event.
func (f *fakeCentral) dropLink(c link.Conn, reason link.DisconnectReason) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events.Disconnected(c, reason)
}

func (f *fakeCentral) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeCentral) scanStartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanStarts
}

// fakeSink records reports.
type fakeSink struct {
	mu     sync.Mutex
	ready  bool
	err    error
	writes []hid.Report
}

func newFakeSink() *fakeSink { return &fakeSink{ready: true} }

func (s *fakeSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSink) Write(r hid.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, r)
	return nil
}

func (s *fakeSink) lastWrite() (hid.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return hid.Report{}, false
	}
	return s.writes[len(s.writes)-1], true
}

func (s *fakeSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// fakeStore is an in-memory pairing.Store.
type fakeStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{data: map[string][]byte{}} }

func (s *fakeStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *fakeStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
