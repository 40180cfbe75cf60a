package align

import (
	"errors"
	"fmt"

	"patchdiff/internal/oracle"
)

// ErrIdentical means the comparator found no differences. It is a terminal
// outcome, not a failure.
var ErrIdentical = errors.New("files are identical")

// UnmappableOffsetError reports a file offset with no virtual address.
type UnmappableOffsetError struct {
	Binary oracle.Binary
	Offset uint64
}

func (e *UnmappableOffsetError) Error() string {
	return fmt.Sprintf("%s binary: offset %#x has no virtual address", e.Binary, e.Offset)
}

// ValidationError reports a byte the oracle sees differently from the comparator.
// The analysed binary does not match the file that was compared.
type ValidationError struct {
	Binary   oracle.Binary
	Offset   uint64
	Address  uint64
	Expected byte
	Actual   byte
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s binary: byte at offset %#x (address %#x) is %#02x in the oracle, comparator reported %#02x",
		e.Binary, e.Offset, e.Address, e.Actual, e.Expected)
}

// MisalignmentError reports old and new instruction records that do not line
// up at Index.
type MisalignmentError struct {
	Index     int
	OldOffset uint64
	NewOffset uint64
	OldLen    int
	NewLen    int
}

func (e *MisalignmentError) Error() string {
	if e.OldLen != e.NewLen {
		return fmt.Sprintf("misaligned records: %d old vs %d new", e.OldLen, e.NewLen)
	}
	return fmt.Sprintf("misaligned records at index %d: old offset %#x, new offset %#x", e.Index, e.OldOffset, e.NewOffset)
}

// ConvergenceError reports an extension that did not reach a fixpoint.
type ConvergenceError struct {
	Passes int
	Size   int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("address set did not converge after %d passes (%d addresses)", e.Passes, e.Size)
}
