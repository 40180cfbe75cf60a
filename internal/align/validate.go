package align

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"patchdiff/internal/oracle"
)

// Validator checks that the oracle sees the bytes the comparator reported.
type Validator struct {
	Logger *log.Logger
}

// Validate fetches every differing byte from both binaries and compares it
// with the comparator's value. The whole batch is checked per binary and
// the first mismatch is returned.
func (v Validator) Validate(ctx context.Context, o oracle.Oracle, diffs []AddressedDifference) error {
	logger := discardIfNil(v.Logger)
	offsets := make([]uint64, len(diffs))
	for i, d := range diffs {
		offsets[i] = d.Offset
	}

	for _, bin := range oracle.Binaries {
		_, err := withSession(ctx, o, bin, func(s oracle.Session) (struct{}, error) {
			addrs := make([]uint64, len(diffs))
			if bin == oracle.Old {
				for i, d := range diffs {
					addrs[i] = d.Address
				}
			} else {
				var err error
				if addrs, err = mapOffsets(ctx, s, offsets); err != nil {
					return struct{}{}, err
				}
			}

			got, err := s.Bytes(ctx, addrs)
			if err != nil {
				return struct{}{}, fmt.Errorf("fetch bytes from %s binary: %w", bin, err)
			}
			if err := oracle.CheckCount("bytes", len(addrs), len(got)); err != nil {
				return struct{}{}, err
			}

			var first *ValidationError
			for i, d := range diffs {
				want := d.Old
				if bin == oracle.New {
					want = d.New
				}
				if got[i] == want {
					continue
				}
				e := &ValidationError{Binary: bin, Offset: d.Offset, Address: addrs[i], Expected: want, Actual: got[i]}
				logger.Error("Byte mismatch", "binary", bin, "offset", fmt.Sprintf("%#x", d.Offset),
					"address", fmt.Sprintf("%#x", addrs[i]), "expected", fmt.Sprintf("%#02x", want), "actual", fmt.Sprintf("%#02x", got[i]))
				if first == nil {
					first = e
				}
			}
			if first != nil {
				return struct{}{}, first
			}
			return struct{}{}, nil
		})
		if err != nil {
			return err
		}
		logger.Debug("Validated bytes", "binary", bin, "count", len(diffs))
	}
	return nil
}
