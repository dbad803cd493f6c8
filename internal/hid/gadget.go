package hid

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DefaultGadgetPath is where the USB HID gadget function exposes its
// endpoint on Linux.
const DefaultGadgetPath = "/dev/hidg0"

// GadgetSink writes reports to a USB HID gadget device file. The file is
// opened non-blocking so that a host that stopped polling the interrupt
// endpoint surfaces as ErrBusy instead of a stalled bridge.
type GadgetSink struct {
	mu     sync.Mutex
	f      *os.File
	logger *logrus.Logger
}

// NewGadgetSink opens the gadget endpoint at path.
func NewGadgetSink(path string, logger *logrus.Logger) (*GadgetSink, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if path == "" {
		path = DefaultGadgetPath
	}

	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open HID gadget %s: %w", path, err)
	}

	logger.WithField("path", path).Info("Opened USB HID gadget endpoint")
	return &GadgetSink{f: f, logger: logger}, nil
}

// Ready reports whether the endpoint is open.
func (s *GadgetSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f != nil
}

// Write delivers one report to the interrupt endpoint. A transiently full
// endpoint maps to ErrBusy.
func (s *GadgetSink) Write(r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return fmt.Errorf("HID gadget endpoint is closed")
	}

	_, err := s.f.Write(r[:])
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return ErrBusy
	}
	return fmt.Errorf("HID gadget write failed: %w", err)
}

// Close releases the endpoint.
func (s *GadgetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
