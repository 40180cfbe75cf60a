// Package oracle defines the capability interface the differ uses to ask a
// binary-analysis backend about one loaded binary at a time.
//
// A Session is bound to exactly one Binary for its whole lifetime. Callers
// open a session, issue batched requests, and close it before querying the
// other binary.
package oracle

import (
	"context"
	"fmt"
	"math"
)

// Binary identifies which of the two compared builds a session is bound to.
type Binary int

const (
	Old Binary = iota
	New
)

// Binaries lists both identities in the fixed order the pipeline visits them.
var Binaries = []Binary{Old, New}

func (b Binary) String() string {
	switch b {
	case Old:
		return "old"
	case New:
		return "new"
	default:
		return fmt.Sprintf("binary(%d)", int(b))
	}
}

// Other returns the opposite binary.
func (b Binary) Other() Binary {
	if b == Old {
		return New
	}
	return Old
}

// Unmapped is returned by Session.Addresses for offsets outside any loaded region.
const Unmapped = math.MaxUint64

// Boundary is the half-open byte range [Start, End) of one instruction.
type Boundary struct {
	Start uint64
	End   uint64
}

// Len returns the instruction length in bytes.
func (b Boundary) Len() uint64 {
	if b.End <= b.Start {
		return 0
	}
	return b.End - b.Start
}

// Contains reports whether addr lies inside the boundary.
func (b Boundary) Contains(addr uint64) bool {
	return addr >= b.Start && addr < b.End
}

// Instruction is the oracle's answer for one queried address.
type Instruction struct {
	Address uint64 // queried address
	Offset  uint64 // file offset of Address
	Boundary
	Disasm string
	Bytes  []byte // the whole instruction, Start..End
}

// StartOffset returns the file offset of the instruction's first byte.
func (in Instruction) StartOffset() uint64 {
	return in.Offset - (in.Address - in.Start)
}

// Oracle opens binary-bound sessions.
type Oracle interface {
	Open(ctx context.Context, bin Binary) (Session, error)
}

// Session answers batched questions about one binary. Responses correspond
// one-to-one and in order to the request slice.
type Session interface {
	Binary() Binary

	// Addresses maps file offsets to virtual addresses. Offsets without a
	// mapping yield Unmapped.
	Addresses(ctx context.Context, offsets []uint64) ([]uint64, error)

	// Bytes returns the byte stored at each address.
	Bytes(ctx context.Context, addrs []uint64) ([]byte, error)

	// Instructions resolves the instruction covering each address.
	Instructions(ctx context.Context, addrs []uint64) ([]Instruction, error)

	Close() error
}

// CountError reports a response whose length does not match its request.
type CountError struct {
	Op   string
	Want int
	Got  int
}

func (e *CountError) Error() string {
	return fmt.Sprintf("oracle %s: expected %d results, got %d", e.Op, e.Want, e.Got)
}

// CheckCount returns a *CountError when got != want.
func CheckCount(op string, want, got int) error {
	if want != got {
		return &CountError{Op: op, Want: want, Got: got}
	}
	return nil
}
