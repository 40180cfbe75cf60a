package align

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"patchdiff/internal/bytediff"
	"patchdiff/internal/oracle"
)

// Result is everything one run produced.
type Result struct {
	Differences []AddressedDifference
	Set         AddressSet
	Diffs       []AlignedInstructionDiff
}

// Pipeline runs the comparator and every stage against one oracle.
type Pipeline struct {
	Comparator bytediff.Comparator
	Oracle     oracle.Oracle
	MaxPasses  int
	Logger     *log.Logger

	// Progress, when set, is called as each stage starts.
	Progress func(stage string)
}

func (p *Pipeline) stage(name string) {
	if p.Progress != nil {
		p.Progress(name)
	}
}

// Run compares the files at oldPath and newPath and aligns their differences.
// Identical files yield ErrIdentical without touching the oracle.
func (p *Pipeline) Run(ctx context.Context, oldPath, newPath string) (*Result, error) {
	p.stage("compare")
	diffs, err := p.Comparator.Compare(ctx, oldPath, newPath)
	if err != nil {
		return nil, fmt.Errorf("compare: %w", err)
	}
	return p.RunDiffs(ctx, diffs)
}

// RunDiffs aligns an already computed byte diff.
func (p *Pipeline) RunDiffs(ctx context.Context, diffs []bytediff.Difference) (*Result, error) {
	logger := discardIfNil(p.Logger)
	if len(diffs) == 0 {
		return nil, ErrIdentical
	}
	logger.Info("Byte differences", "count", len(diffs))

	seed := make([]AddressedDifference, len(diffs))
	for i, d := range diffs {
		seed[i].Difference = d
	}

	p.stage("map")
	addressed, err := Mapper{Logger: logger}.Map(ctx, p.Oracle, seed)
	if err != nil {
		return nil, err
	}

	p.stage("validate")
	if err := (Validator{Logger: logger}).Validate(ctx, p.Oracle, addressed); err != nil {
		return nil, err
	}

	p.stage("extend")
	set, err := Extender{MaxPasses: p.MaxPasses, Logger: logger}.Extend(ctx, p.Oracle, SeedSet(addressed))
	if err != nil {
		return nil, err
	}

	p.stage("align")
	aligned, err := Aligner{Logger: logger}.Align(ctx, p.Oracle, set)
	if err != nil {
		return nil, err
	}
	logger.Info("Aligned instructions", "pairs", len(aligned))

	return &Result{Differences: addressed, Set: set, Diffs: aligned}, nil
}
