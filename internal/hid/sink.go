package hid

import "errors"

// ErrBusy indicates the sink cannot accept a report right now. The caller
// drops the report silently; the next notification carries fresh state
// anyway.
var ErrBusy = errors.New("sink busy")

// Sink accepts fixed-size reports for delivery to the wired host. Writes
// are best effort: ErrBusy is non-fatal and expected under load, any other
// failure is reported by the caller but does not alter relay state.
type Sink interface {
	// Ready reports whether the sink can currently accept writes. The
	// relay checks this before every write.
	Ready() bool

	// Write delivers one report. Returns ErrBusy when the transport
	// cannot take it right now.
	Write(r Report) error
}
