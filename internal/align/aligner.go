package align

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"patchdiff/internal/oracle"
	"patchdiff/internal/record"
)

// Aligner resolves an address set into instruction records for each binary
// and pairs them.
type Aligner struct {
	Logger *log.Logger
}

// Resolve returns one record per address of set, in ascending address order
// of bin's space.
func (a Aligner) Resolve(ctx context.Context, o oracle.Oracle, bin oracle.Binary, set AddressSet) ([]InstructionRecord, error) {
	if set.Len() == 0 {
		return nil, nil
	}
	return withSession(ctx, o, bin, func(s oracle.Session) ([]InstructionRecord, error) {
		target := set
		if set.Space != bin {
			addrs, err := mapOffsets(ctx, s, set.Offsets)
			if err != nil {
				return nil, err
			}
			target = newAddressSet(bin, addrs, set.Offsets)
		}

		insts, err := s.Instructions(ctx, target.Addrs)
		if err != nil {
			return nil, fmt.Errorf("resolve instructions in %s binary: %w", bin, err)
		}
		if err := oracle.CheckCount("instructions", target.Len(), len(insts)); err != nil {
			return nil, err
		}

		out := make([]InstructionRecord, len(insts))
		for i, in := range insts {
			out[i] = InstructionRecord{
				Address: in.Address,
				Offset:  in.Offset,
				Disasm:  in.Disasm,
				Bytes:   record.FormatHex(in.Bytes),
				Start:   in.Start,
			}
		}
		discardIfNil(a.Logger).Debug("Resolved instructions", "binary", bin, "records", len(out))
		return out, nil
	})
}

// Align resolves set in the old binary, then in the new one, and merges the
// two record sequences.
func (a Aligner) Align(ctx context.Context, o oracle.Oracle, set AddressSet) ([]AlignedInstructionDiff, error) {
	old, err := a.Resolve(ctx, o, oracle.Old, set)
	if err != nil {
		return nil, err
	}
	nw, err := a.Resolve(ctx, o, oracle.New, set)
	if err != nil {
		return nil, err
	}
	return Merge(old, nw)
}

// Merge pairs old and new records by index. Records must agree on file
// offset at every index. Consecutive pairs of the same two instructions
// collapse into one entry.
func Merge(old, nw []InstructionRecord) ([]AlignedInstructionDiff, error) {
	if len(old) != len(nw) {
		return nil, &MisalignmentError{Index: min(len(old), len(nw)), OldLen: len(old), NewLen: len(nw)}
	}

	var out []AlignedInstructionDiff
	for i := range old {
		o, n := old[i], nw[i]
		if o.Offset != n.Offset {
			return nil, &MisalignmentError{Index: i, OldOffset: o.Offset, NewOffset: n.Offset, OldLen: len(old), NewLen: len(nw)}
		}
		if k := len(out); k > 0 && out[k-1].OldStart == o.Start && out[k-1].NewStart == n.Start {
			continue
		}
		out = append(out, AlignedInstructionDiff{
			Address:    o.Address,
			NewAddress: n.Address,
			Offset:     o.Offset,
			OldDisasm:  o.Disasm,
			NewDisasm:  n.Disasm,
			OldBytes:   o.Bytes,
			NewBytes:   n.Bytes,
			OldStart:   o.Start,
			NewStart:   n.Start,
		})
	}
	return out, nil
}
