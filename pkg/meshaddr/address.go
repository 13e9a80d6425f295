// Package meshaddr defines the 6-byte node address used throughout the mesh
// wire format.
package meshaddr

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the fixed byte length of an Address.
const Size = 6

// Address is a 6-byte opaque node identifier. The all-ones value is the
// reserved broadcast address; the all-zero value is invalid and must never
// appear as a src.
type Address [Size]byte

// Broadcast is the reserved all-ones destination address.
var Broadcast = Address{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Zero is the invalid all-zero address.
var Zero = Address{}

// ErrInvalidLength is returned by FromBytes when the input is not exactly
// Size bytes.
var ErrInvalidLength = errors.New("meshaddr: address must be 6 bytes")

// FromBytes copies b into a new Address. b must be exactly Size bytes.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Size {
		return a, ErrInvalidLength
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) IsBroadcast() bool {
	return a == Broadcast
}

func (a Address) IsZero() bool {
	return a == Zero
}

// Valid reports whether a may legally appear as a packet source: neither
// broadcast nor zero.
func (a Address) Valid() bool {
	return !a.IsBroadcast() && !a.IsZero()
}

func (a Address) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, a[:])
	return out
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

func (a Address) GoString() string {
	return fmt.Sprintf("meshaddr.Address(%s)", a.String())
}
