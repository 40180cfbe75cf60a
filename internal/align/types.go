// Package align widens byte-level differences between two builds of a binary
// to whole instructions in both builds and pairs the resulting instructions.
//
// Data flows from byte differences through Mapper, Validator, Extender and
// Aligner. Every stage talks to an oracle.Oracle one binary at a time.
package align

import (
	"io"
	"sort"

	"github.com/charmbracelet/log"

	"patchdiff/internal/bytediff"
	"patchdiff/internal/oracle"
)

// AddressedDifference is a byte difference plus its address in the old binary.
type AddressedDifference struct {
	bytediff.Difference
	Address uint64
}

// AddressSet is an ascending set of unique addresses in one binary's address
// space. Offsets[i] is the file offset of Addrs[i]; offsets are the only key
// shared by both binaries.
type AddressSet struct {
	Space   oracle.Binary
	Addrs   []uint64
	Offsets []uint64
}

// Len returns the number of addresses in the set.
func (s AddressSet) Len() int { return len(s.Addrs) }

// SortedOffsets returns the set's offsets in ascending order.
func (s AddressSet) SortedOffsets() []uint64 {
	out := append([]uint64(nil), s.Offsets...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SameOffsets reports whether both sets cover the same file offsets.
func (s AddressSet) SameOffsets(t AddressSet) bool {
	if len(s.Offsets) != len(t.Offsets) {
		return false
	}
	a, b := s.SortedOffsets(), t.SortedOffsets()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// newAddressSet sorts addrs by address and drops duplicates, keeping the
// offsets parallel.
func newAddressSet(space oracle.Binary, addrs, offsets []uint64) AddressSet {
	idx := make([]int, len(addrs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return addrs[idx[i]] < addrs[idx[j]] })

	s := AddressSet{Space: space}
	for n, i := range idx {
		if n > 0 && addrs[idx[n-1]] == addrs[i] {
			continue
		}
		s.Addrs = append(s.Addrs, addrs[i])
		s.Offsets = append(s.Offsets, offsets[i])
	}
	return s
}

// SeedSet builds the old-space set holding one address per difference.
func SeedSet(diffs []AddressedDifference) AddressSet {
	addrs := make([]uint64, len(diffs))
	offsets := make([]uint64, len(diffs))
	for i, d := range diffs {
		addrs[i] = d.Address
		offsets[i] = d.Offset
	}
	return newAddressSet(oracle.Old, addrs, offsets)
}

// InstructionRecord describes the instruction covering one address in one binary.
type InstructionRecord struct {
	Address uint64
	Offset  uint64
	Disasm  string
	Bytes   string // whole instruction, uppercase hex, space separated
	Start   uint64
}

// AlignedInstructionDiff pairs the old and new instruction at one file offset.
type AlignedInstructionDiff struct {
	Address    uint64 // old binary
	NewAddress uint64
	Offset     uint64
	OldDisasm  string
	NewDisasm  string
	OldBytes   string
	NewBytes   string
	OldStart   uint64
	NewStart   uint64
}

func discardIfNil(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard)
	}
	return l
}

// StartOffset returns the file offset of the old instruction's first byte.
func (d AlignedInstructionDiff) StartOffset() uint64 {
	return d.Offset - (d.Address - d.OldStart)
}
