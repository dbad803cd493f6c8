// Package button turns raw press events into bridge intents. It runs a
// two-stage pipeline: Press is the capture stage, safe to call from signal
// handlers or interrupt-style callbacks, and Run is the worker that
// classifies captured events and dispatches them.
package button

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/kbridge/internal/ringchan"
)

// DefaultDoublePressWindow is the gap under which two presses classify as
// a double press.
const DefaultDoublePressWindow = 500 * time.Millisecond

// captureQueueDepth bounds how many unclassified presses can be pending.
const captureQueueDepth = 16

// PressEvent is one captured press. Double is computed against the
// immediately preceding press only; there is no longer window.
type PressEvent struct {
	At     time.Time
	Double bool
}

// Dispatcher receives classified intents. The bridge lifecycle manager
// satisfies this.
type Dispatcher interface {
	// IsConnected reports whether a link is currently live.
	IsConnected() bool
	// Reconnect requests a reconnect attempt.
	Reconnect()
	// Unpair forgets the stored pairing and rescans.
	Unpair()
}

// Classifier owns the last-press timestamp and the capture queue. The
// clock is injected so classification thresholds are testable without real
// timers.
type Classifier struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last time.Time

	events *ringchan.Ring[PressEvent]
	logger *logrus.Logger
}

// New creates a Classifier with the given double-press window. A zero
// window uses the default; a nil clock uses time.Now.
func New(window time.Duration, now func() time.Time, logger *logrus.Logger) *Classifier {
	if window <= 0 {
		window = DefaultDoublePressWindow
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Classifier{
		window: window,
		now:    now,
		events: ringchan.New[PressEvent](captureQueueDepth),
		logger: logger,
	}
}

// Press is the capture stage. It records a timestamp, compares it against
// the previous press, and defers the actual dispatch to the worker. The
// previous timestamp is updated on every capture regardless of the
// classification outcome, so a rapid train of presses classifies every
// press after the first as a double press.
func (c *Classifier) Press() {
	ts := c.now()

	c.mu.Lock()
	double := !c.last.IsZero() && ts.Sub(c.last) < c.window
	c.last = ts
	c.mu.Unlock()

	c.events.Send(PressEvent{At: ts, Double: double})
}

// Run consumes captured events and dispatches intents until ctx is done.
func (c *Classifier) Run(ctx context.Context, d Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.events.C():
			if !ok {
				return
			}
			c.dispatch(ev, d)
		}
	}
}

func (c *Classifier) dispatch(ev PressEvent, d Dispatcher) {
	if ev.Double {
		c.logger.Info("Double press detected - clearing pairing and restarting")
		d.Unpair()
		return
	}

	// Single press retries the link only when it is actually down.
	if !d.IsConnected() {
		c.logger.Info("Single press - attempting reconnect")
		d.Reconnect()
	}
}
