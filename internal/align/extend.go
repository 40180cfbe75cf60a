package align

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"patchdiff/internal/oracle"
)

// DefaultMaxPasses bounds Extend when Extender.MaxPasses is zero.
const DefaultMaxPasses = 64

// Extender grows an address set until it covers whole instructions in both
// binaries.
type Extender struct {
	MaxPasses int
	Logger    *log.Logger
}

// Extend alternates ExtendOnce over the old and new binary, starting with
// the old one, until a full cycle over both binaries changes nothing. The
// result is in old-binary space.
func (e Extender) Extend(ctx context.Context, o oracle.Oracle, seed AddressSet) (AddressSet, error) {
	if seed.Len() == 0 {
		return AddressSet{Space: oracle.Old}, nil
	}
	logger := discardIfNil(e.Logger)
	limit := e.MaxPasses
	if limit <= 0 {
		limit = DefaultMaxPasses
	}

	last := map[oracle.Binary]AddressSet{seed.Space: seed}
	cur := seed
	stable := 0
	for pass := 0; pass < limit; pass++ {
		target := oracle.Binaries[pass%len(oracle.Binaries)]
		next, err := e.ExtendOnce(ctx, o, cur, target)
		if err != nil {
			return AddressSet{}, err
		}
		logger.Debug("Extension pass", "pass", pass+1, "binary", target, "before", cur.Len(), "after", next.Len())

		if next.SameOffsets(cur) {
			stable++
		} else {
			stable = 0
		}
		last[target] = next
		cur = next

		if stable == len(oracle.Binaries) {
			logger.Info("Address set converged", "passes", pass+1, "addresses", cur.Len())
			return last[oracle.Old], nil
		}
	}
	return AddressSet{}, &ConvergenceError{Passes: limit, Size: cur.Len()}
}

// ExtendOnce resolves the instruction covering every offset of s in target
// and returns every address of those instructions, in target's space. The
// result always contains the offsets of s.
func (e Extender) ExtendOnce(ctx context.Context, o oracle.Oracle, s AddressSet, target oracle.Binary) (AddressSet, error) {
	if s.Len() == 0 {
		return AddressSet{Space: target}, nil
	}
	return withSession(ctx, o, target, func(sess oracle.Session) (AddressSet, error) {
		addrs := s.Addrs
		if s.Space != target {
			var err error
			if addrs, err = mapOffsets(ctx, sess, s.Offsets); err != nil {
				return AddressSet{}, err
			}
		}

		insts, err := sess.Instructions(ctx, addrs)
		if err != nil {
			return AddressSet{}, fmt.Errorf("resolve instructions in %s binary: %w", target, err)
		}
		if err := oracle.CheckCount("instructions", len(addrs), len(insts)); err != nil {
			return AddressSet{}, err
		}

		var outAddrs, outOffs []uint64
		for i, in := range insts {
			if err := checkInstruction(in, addrs[i], s.Offsets[i], target); err != nil {
				return AddressSet{}, err
			}
			for x := in.Start; x < in.End; x++ {
				outAddrs = append(outAddrs, x)
				outOffs = append(outOffs, in.Offset-(in.Address-x))
			}
		}
		return newAddressSet(target, outAddrs, outOffs), nil
	})
}

// checkInstruction rejects an oracle answer that does not cover the queried
// address or disagrees about its offset.
func checkInstruction(in oracle.Instruction, addr, off uint64, bin oracle.Binary) error {
	if in.Address != addr || in.Offset != off {
		return fmt.Errorf("%s binary: oracle answered for %#x (offset %#x), asked for %#x (offset %#x)", bin, in.Address, in.Offset, addr, off)
	}
	if !in.Contains(addr) {
		return fmt.Errorf("%s binary: instruction [%#x,%#x) does not cover %#x", bin, in.Start, in.End, addr)
	}
	if addr-in.Start > off {
		return fmt.Errorf("%s binary: instruction at %#x starts before the file", bin, in.Start)
	}
	return nil
}
