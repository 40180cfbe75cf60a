package align

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"patchdiff/internal/oracle"
)

// Mapper converts file offsets to addresses.
type Mapper struct {
	Logger *log.Logger
}

// Map attaches old-binary addresses to diffs with one batched oracle call.
func (m Mapper) Map(ctx context.Context, o oracle.Oracle, diffs []AddressedDifference) ([]AddressedDifference, error) {
	offsets := make([]uint64, len(diffs))
	for i, d := range diffs {
		offsets[i] = d.Offset
	}

	addrs, err := withSession(ctx, o, oracle.Old, func(s oracle.Session) ([]uint64, error) {
		return mapOffsets(ctx, s, offsets)
	})
	if err != nil {
		return nil, err
	}

	out := make([]AddressedDifference, len(diffs))
	for i, d := range diffs {
		out[i] = d
		out[i].Address = addrs[i]
	}
	discardIfNil(m.Logger).Debug("Mapped offsets", "count", len(out))
	return out, nil
}

// Addresses maps offsets in bin with one batched oracle call.
func (m Mapper) Addresses(ctx context.Context, o oracle.Oracle, bin oracle.Binary, offsets []uint64) ([]uint64, error) {
	return withSession(ctx, o, bin, func(s oracle.Session) ([]uint64, error) {
		return mapOffsets(ctx, s, offsets)
	})
}

// mapOffsets issues one Addresses batch and rejects unmapped offsets.
func mapOffsets(ctx context.Context, s oracle.Session, offsets []uint64) ([]uint64, error) {
	addrs, err := s.Addresses(ctx, offsets)
	if err != nil {
		return nil, fmt.Errorf("map offsets in %s binary: %w", s.Binary(), err)
	}
	if err := oracle.CheckCount("addresses", len(offsets), len(addrs)); err != nil {
		return nil, err
	}
	for i, a := range addrs {
		if a == oracle.Unmapped {
			return nil, &UnmappableOffsetError{Binary: s.Binary(), Offset: offsets[i]}
		}
	}
	return addrs, nil
}

// withSession runs fn inside a session bound to bin and closes it before
// returning, so sessions for different binaries never overlap.
func withSession[T any](ctx context.Context, o oracle.Oracle, bin oracle.Binary, fn func(oracle.Session) (T, error)) (T, error) {
	var zero T
	s, err := o.Open(ctx, bin)
	if err != nil {
		return zero, fmt.Errorf("open %s binary: %w", bin, err)
	}
	v, err := fn(s)
	if cerr := s.Close(); cerr != nil && err == nil {
		return zero, fmt.Errorf("close %s binary: %w", bin, cerr)
	}
	if err != nil {
		return zero, err
	}
	return v, nil
}
