package link

import (
	"fmt"
	"strings"
)

// AddrLen is the length of a BLE device address in bytes.
const AddrLen = 6

// Address types per the Bluetooth core spec.
const (
	AddrTypePublic byte = 0x00
	AddrTypeRandom byte = 0x01
)

// Addr identifies one remote peripheral: address type plus address bytes
// stored least significant byte first, as the controller delivers them.
// Two addresses are equal iff both the type and all bytes match, which the
// == operator provides since Addr contains no pointers.
type Addr struct {
	Type  byte
	Bytes [AddrLen]byte
}

// String renders the address as colon-separated hex, most significant byte
// first, with the address type appended.
func (a Addr) String() string {
	return fmt.Sprintf("%s (type %d)", a.MAC(), a.Type)
}

// MAC renders only the colon-separated hex form, most significant byte
// first.
func (a Addr) MAC() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		a.Bytes[5], a.Bytes[4], a.Bytes[3], a.Bytes[2], a.Bytes[1], a.Bytes[0])
}

// IsZero reports whether a is the zero address.
func (a Addr) IsZero() bool {
	return a == Addr{}
}

// ParseAddr parses a colon- or dash-separated hex address string as printed
// by MAC. The address type defaults to public; callers that know better set
// it afterwards.
func ParseAddr(s string) (Addr, error) {
	var a Addr

	cleaned := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(cleaned) != AddrLen*2 {
		return a, fmt.Errorf("invalid address %q: want %d hex bytes", s, AddrLen)
	}

	for i := 0; i < AddrLen; i++ {
		var b byte
		if _, err := fmt.Sscanf(cleaned[i*2:i*2+2], "%02x", &b); err != nil {
			return a, fmt.Errorf("invalid address %q: %w", s, err)
		}
		// Printed form is MSB first, stored form is LSB first.
		a.Bytes[AddrLen-1-i] = b
	}

	return a, nil
}
