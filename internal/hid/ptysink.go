package hid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/kbridge/internal/groutine"
	"golang.org/x/term"
)

// DefaultPTYQueueReports is how many reports the PTY sink buffers before
// reporting busy.
const DefaultPTYQueueReports = 64

// masterWriteTimeout bounds each drain write to the PTY master.
const masterWriteTimeout = 100 * time.Millisecond

// PTYSink exposes the report stream on a pseudo-terminal for development
// hosts without a USB gadget controller. Reports are queued into a ring
// buffer and drained to the PTY master by a background goroutine, so Write
// never blocks on a slow reader.
type PTYSink struct {
	master *os.File
	slave  *os.File
	tty    string

	queue  *ringbuffer.RingBuffer
	notify chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	logger *logrus.Logger
}

// NewPTYSink allocates a PTY pair and starts the drain goroutine.
// queueReports is the queue depth in reports; zero uses the default.
func NewPTYSink(queueReports int, logger *logrus.Logger) (*PTYSink, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if queueReports <= 0 {
		queueReports = DefaultPTYQueueReports
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open PTY pair: %w", err)
	}

	// Raw mode keeps the line discipline from translating report bytes.
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("failed to set %s to raw mode: %w", slave.Name(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &PTYSink{
		master: master,
		slave:  slave,
		tty:    slave.Name(),
		queue:  ringbuffer.New(queueReports * ReportSize),
		notify: make(chan struct{}, 1),
		cancel: cancel,
		logger: logger,
	}

	s.wg.Add(1)
	groutine.Go(ctx, "pty-sink-drain", func(ctx context.Context) {
		defer s.wg.Done()
		s.drainLoop(ctx)
	})

	logger.WithField("tty", s.tty).Info("PTY report sink ready")
	return s, nil
}

// TTYName returns the slave device path readers should open.
func (s *PTYSink) TTYName() string { return s.tty }

// Ready reports whether the sink is open.
func (s *PTYSink) Ready() bool { return !s.closed.Load() }

// Write queues one report. Returns ErrBusy when the queue has no room for
// a whole report.
func (s *PTYSink) Write(r Report) error {
	if s.closed.Load() {
		return fmt.Errorf("PTY sink is closed")
	}

	// Reports are queued whole or not at all.
	if s.queue.Free() < ReportSize {
		return ErrBusy
	}
	if _, err := s.queue.Write(r[:]); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return fmt.Errorf("PTY sink queue write failed: %w", err)
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *PTYSink) drainLoop(ctx context.Context) {
	buf := make([]byte, ReportSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}

		for s.queue.Length() >= ReportSize {
			if _, err := s.queue.Read(buf); err != nil {
				if !errors.Is(err, ringbuffer.ErrIsEmpty) {
					s.logger.WithError(err).Warn("PTY sink queue read failed")
				}
				break
			}
			// Bounded write so a reader that stopped consuming cannot
			// wedge the drain, and with it Close.
			_ = s.master.SetWriteDeadline(time.Now().Add(masterWriteTimeout))
			if _, err := s.master.Write(buf); err != nil {
				// A vanished or stalled reader is not fatal; keep
				// draining so the queue never wedges the relay.
				s.logger.WithError(err).Debug("PTY master write failed")
			}
		}
	}
}

// Close stops the drain goroutine and releases the PTY pair.
func (s *PTYSink) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	err1 := s.master.Close()
	err2 := s.slave.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
