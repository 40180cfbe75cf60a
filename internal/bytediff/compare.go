package bytediff

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Comparator produces the byte differences between two files.
type Comparator interface {
	Compare(ctx context.Context, oldPath, newPath string) ([]Difference, error)
}

// CmpTool runs `cmp -l` and parses its output.
type CmpTool struct {
	// Path to the cmp binary. Empty means "cmp" from PATH.
	Path string
}

func (c CmpTool) Compare(ctx context.Context, oldPath, newPath string) ([]Difference, error) {
	bin := c.Path
	if bin == "" {
		bin = "cmp"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-l", oldPath, newPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		// cmp exits 1 when the files differ
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
			return nil, fmt.Errorf("run %s: %w: %s", bin, err, strings.TrimSpace(stderr.String()))
		}
	}
	if strings.Contains(stderr.String(), "EOF on") {
		return nil, fmt.Errorf("%w: %s", ErrSizeMismatch, strings.TrimSpace(stderr.String()))
	}

	return Parse(&stdout)
}

// Native compares the files in-process. Its output matches CmpTool for
// files of equal size.
type Native struct{}

func (Native) Compare(ctx context.Context, oldPath, newPath string) ([]Difference, error) {
	oldInfo, err := os.Stat(oldPath)
	if err != nil {
		return nil, fmt.Errorf("stat old file: %w", err)
	}
	newInfo, err := os.Stat(newPath)
	if err != nil {
		return nil, fmt.Errorf("stat new file: %w", err)
	}
	if oldInfo.Size() != newInfo.Size() {
		return nil, fmt.Errorf("%w: %s is %d bytes, %s is %d bytes",
			ErrSizeMismatch, oldPath, oldInfo.Size(), newPath, newInfo.Size())
	}

	of, err := os.Open(oldPath)
	if err != nil {
		return nil, fmt.Errorf("open old file: %w", err)
	}
	defer of.Close()
	nf, err := os.Open(newPath)
	if err != nil {
		return nil, fmt.Errorf("open new file: %w", err)
	}
	defer nf.Close()

	return compareReaders(ctx, bufio.NewReader(of), bufio.NewReader(nf))
}

func compareReaders(ctx context.Context, a, b io.ByteReader) ([]Difference, error) {
	var diffs []Difference
	for off := uint64(0); ; off++ {
		if off%(1<<20) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		x, errA := a.ReadByte()
		y, errB := b.ReadByte()
		if errA == io.EOF && errB == io.EOF {
			return diffs, nil
		}
		if errA == io.EOF || errB == io.EOF {
			return nil, fmt.Errorf("%w: EOF after byte %d", ErrSizeMismatch, off)
		}
		if errA != nil {
			return nil, errA
		}
		if errB != nil {
			return nil, errB
		}
		if x != y {
			diffs = append(diffs, Difference{Offset: off, Old: x, New: y})
		}
	}
}
