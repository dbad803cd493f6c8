// Package scanner runs duration-bound advertisement surveys for the scan
// command. The lifecycle manager does its own connect-oriented scanning;
// this package only observes and reports.
package scanner

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/kbridge/internal/link"
	"github.com/srg/kbridge/internal/ringchan"
)

// DeviceInfo is one observed peripheral.
type DeviceInfo struct {
	Name        string
	Addr        link.Addr
	RSSI        int
	Connectable bool

	// Keyboard reports whether the advertised name matches one of the
	// accepted keyboard name variants.
	Keyboard bool
}

// defaultMapSize presizes the device map; small maps in
// cornelk/hashmap grow while lookups are in flight and can miss
// existing keys, which breaks deduplication.
const defaultMapSize = 64

// Scanner collects advertisements into a deduplicated device list.
type Scanner struct {
	central link.Central
	names   []string
	devices *hashmap.Map[string, *DeviceInfo]
	events  *ringchan.Ring[DeviceInfo]
	logger  *logrus.Logger

	// mu guards the fields of stored DeviceInfo values; the map handles
	// only key lookup concurrency.
	mu sync.Mutex
}

// New creates a Scanner. names are the keyboard name variants used for
// highlighting.
func New(central link.Central, names []string, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		central: central,
		names:   names,
		events:  ringchan.New[DeviceInfo](100),
		logger:  logger,
	}
}

// Events returns a stream of newly discovered devices, best effort.
func (s *Scanner) Events() <-chan DeviceInfo {
	return s.events.C()
}

// Scan observes advertisements for the given duration (or until ctx is
// canceled) and returns the devices seen, strongest signal first.
func (s *Scanner) Scan(ctx context.Context, duration time.Duration) ([]DeviceInfo, error) {
	s.devices = hashmap.NewSized[string, *DeviceInfo](defaultMapSize)

	s.logger.WithField("duration", duration).Info("Starting BLE scan...")

	if err := s.central.StartScan(s.handleAdvertisement); err != nil {
		return nil, err
	}
	defer func() {
		_ = s.central.StopScan()
	}()

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	// Snapshot under the lock: a late advertisement can still be mutating
	// entries after StopScan since scan teardown is asynchronous.
	devices := make([]DeviceInfo, 0, s.devices.Len())
	s.mu.Lock()
	s.devices.Range(func(_ string, d *DeviceInfo) bool {
		devices = append(devices, *d)
		return true
	})
	s.mu.Unlock()
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].RSSI > devices[j].RSSI
	})

	s.logger.WithField("device_count", len(devices)).Info("BLE scan completed")
	return devices, nil
}

// handleAdvertisement updates an existing device or records a new one.
func (s *Scanner) handleAdvertisement(adv link.Advertisement) {
	addr := adv.Addr()
	if addr.IsZero() {
		return
	}

	// GetOrInsert resolves the entry in one step; updates must always land
	// on the stored value, never on a freshly built duplicate.
	key := addr.MAC()
	d, existing := s.devices.GetOrInsert(key, &DeviceInfo{Addr: addr})

	s.mu.Lock()
	d.RSSI = adv.RSSI()
	d.Connectable = adv.Connectable()
	if name := adv.LocalName(); name != "" {
		d.Name = name
		d.Keyboard = s.isKeyboard(name)
	}
	snapshot := *d
	s.mu.Unlock()

	if !existing {
		s.logger.WithFields(logrus.Fields{
			"name":    snapshot.Name,
			"address": key,
			"rssi":    snapshot.RSSI,
		}).Debug("Discovered new device")
		s.events.Send(snapshot)
	}
}

func (s *Scanner) isKeyboard(name string) bool {
	for _, want := range s.names {
		if strings.Contains(name, want) {
			return true
		}
	}
	return false
}
