// Package statusled drives the binary connection indicator: steady when
// connected, toggling at the housekeeping rate while searching.
package statusled

import (
	"fmt"
	"os"
	"sync"
)

// Indicator is the consumer-facing status output.
type Indicator interface {
	Set(on bool) error
	Toggle() error
}

// SysfsLED drives a Linux LED class device through its brightness file,
// e.g. /sys/class/leds/led0/brightness.
type SysfsLED struct {
	mu   sync.Mutex
	path string
	on   bool
}

// NewSysfsLED returns an LED over the given brightness file. The file is
// probed once so a bad path fails at startup rather than on the first
// housekeeping tick.
func NewSysfsLED(path string) (*SysfsLED, error) {
	l := &SysfsLED{path: path}
	if err := l.Set(false); err != nil {
		return nil, fmt.Errorf("LED at %s is not writable: %w", path, err)
	}
	return l, nil
}

// Set forces the LED state.
func (l *SysfsLED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(on)
}

// Toggle inverts the LED state.
func (l *SysfsLED) Toggle() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(!l.on)
}

func (l *SysfsLED) write(on bool) error {
	v := []byte("0")
	if on {
		v = []byte("1")
	}
	if err := os.WriteFile(l.path, v, 0o644); err != nil {
		return err
	}
	l.on = on
	return nil
}

// Null is an Indicator that does nothing, for hosts without an LED.
type Null struct{}

func (Null) Set(bool) error { return nil }
func (Null) Toggle() error  { return nil }
