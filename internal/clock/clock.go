// Package clock provides a swappable time source for the storage engine.
//
// Block headers, WAL entries, and tombstone markers all stamp a seconds-
// since-epoch timestamp. Threading a [Clock] through each subsystem instead
// of calling time.Now() directly keeps those stamps deterministic in tests.
package clock

import "time"

// Clock returns the current time. The zero value of [Real] is usable.
type Clock interface {
	Now() time.Time
}

// Real is a [Clock] backed by the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Fixed is a [Clock] that always returns the same instant. Useful in tests
// that assert on exact timestamp fields.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return f.At }

// compile-time interface checks.
var (
	_ Clock = Real{}
	_ Clock = Fixed{}
)
