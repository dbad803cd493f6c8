// Package hid defines the fixed boot-protocol keyboard report and the sink
// that delivers reports to the wired host. Reports are forwarded opaquely:
// the bridge validates only their length, never their contents.
package hid

// ReportSize is the boot-protocol keyboard report length: one modifier
// byte, one reserved byte, six key-code slots.
const ReportSize = 8

// Report is one boot-protocol keyboard report.
type Report [ReportSize]byte

// ZeroReport is the all-keys-released report pushed on disconnect so the
// host never sees stuck keys.
var ZeroReport = Report{}

// Modifiers returns the modifier byte.
func (r Report) Modifiers() byte { return r[0] }

// Keys returns the six key-code slots.
func (r Report) Keys() [6]byte {
	var k [6]byte
	copy(k[:], r[2:])
	return k
}
