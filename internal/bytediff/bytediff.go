// Package bytediff parses and produces per-byte difference lists in the
// format printed by `cmp -l`.
package bytediff

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Difference is one differing byte at a 0-based file offset.
type Difference struct {
	Offset uint64
	Old    byte
	New    byte
}

func (d Difference) String() string {
	return fmt.Sprintf("%08X %02X %02X", d.Offset, d.Old, d.New)
}

// ErrSizeMismatch is returned when the compared files differ in length.
var ErrSizeMismatch = errors.New("files differ in size")

// ParseError describes a malformed comparator line.
type ParseError struct {
	Line int    // 1-based line number
	Text string // offending line
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("comparator line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseLine parses a single `<byte_number> <old_octal> <new_octal>` line.
// cmp numbers bytes from 1, the returned offset is 0-based.
func ParseLine(line string) (Difference, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Difference{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}

	num, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Difference{}, fmt.Errorf("byte number: %w", err)
	}
	if num == 0 {
		return Difference{}, errors.New("byte number must be at least 1")
	}

	old, err := strconv.ParseUint(fields[1], 8, 8)
	if err != nil {
		return Difference{}, fmt.Errorf("old byte: %w", err)
	}
	nw, err := strconv.ParseUint(fields[2], 8, 8)
	if err != nil {
		return Difference{}, fmt.Errorf("new byte: %w", err)
	}

	return Difference{Offset: num - 1, Old: byte(old), New: byte(nw)}, nil
}

// Parse reads comparator output, one difference per line, preserving order.
// Blank lines are skipped. An empty input yields an empty slice.
func Parse(r io.Reader) ([]Difference, error) {
	var diffs []Difference
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		d, err := ParseLine(text)
		if err != nil {
			return nil, &ParseError{Line: n, Text: text, Err: err}
		}
		diffs = append(diffs, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read comparator output: %w", err)
	}
	return diffs, nil
}

// Format writes diffs back in `cmp -l` layout (1-based, octal).
func Format(w io.Writer, diffs []Difference) error {
	for _, d := range diffs {
		if _, err := fmt.Fprintf(w, "%d %3o %3o\n", d.Offset+1, d.Old, d.New); err != nil {
			return err
		}
	}
	return nil
}

// Offsets returns the offsets of diffs in order.
func Offsets(diffs []Difference) []uint64 {
	out := make([]uint64, len(diffs))
	for i, d := range diffs {
		out[i] = d.Offset
	}
	return out
}

// Chunk is a run of consecutive differing bytes.
type Chunk struct {
	Offset uint64
	Old    []byte
	New    []byte
}

// End returns the offset just past the chunk.
func (c Chunk) End() uint64 {
	return c.Offset + uint64(len(c.Old))
}

// Chunks groups diffs with consecutive offsets. diffs must be in ascending
// offset order, which is how cmp reports them.
func Chunks(diffs []Difference) []Chunk {
	var chunks []Chunk
	for _, d := range diffs {
		if n := len(chunks); n > 0 && chunks[n-1].End() == d.Offset {
			chunks[n-1].Old = append(chunks[n-1].Old, d.Old)
			chunks[n-1].New = append(chunks[n-1].New, d.New)
			continue
		}
		chunks = append(chunks, Chunk{Offset: d.Offset, Old: []byte{d.Old}, New: []byte{d.New}})
	}
	return chunks
}
