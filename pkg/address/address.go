// Package address provides the tagged Address value type used for all
// parties in the facilitator. Addresses are validated once at the boundary
// by Parse; core APIs accept Address values, never raw strings.
package address

import (
	"fmt"

	"github.com/agoramesh/facilitator/pkg/fault"
)

// Prefix is the required human-readable prefix of a valid address.
const Prefix = "agora1"

const (
	minLength = 12
	maxLength = 90
)

// Address is an opaque, validated account identifier.
// The zero value is the empty address.
type Address string

// Empty is the zero address, used for unoccupied escrow signer slots.
const Empty Address = ""

// Parse validates s and returns it as an Address. A valid address starts
// with the "agora1" prefix, is 12 to 90 characters long, and its payload
// is lowercase alphanumeric.
func Parse(s string) (Address, error) {
	if len(s) < minLength || len(s) > maxLength {
		return Empty, fmt.Errorf("%w: length %d outside [%d,%d]", fault.ErrInvalidAddress, len(s), minLength, maxLength)
	}
	if s[:len(Prefix)] != Prefix {
		return Empty, fmt.Errorf("%w: missing %q prefix", fault.ErrInvalidAddress, Prefix)
	}
	for i := len(Prefix); i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return Empty, fmt.Errorf("%w: invalid character %q at position %d", fault.ErrInvalidAddress, c, i)
		}
	}
	return Address(s), nil
}

// MustParse parses s and panics on failure. For tests and fixtures only.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Valid reports whether s parses as an address.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// String returns the address as a string.
func (a Address) String() string { return string(a) }

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool { return a == Empty }
