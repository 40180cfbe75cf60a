// Package record encodes and decodes the plain-text records exchanged with
// an external analysis oracle: CSV tables with a header row, and bare
// address lists with one integer per line.
package record

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Column names used in the CSV header rows.
const (
	ColOffset  = "offset"
	ColAddress = "address"
	ColByte    = "byte"
	ColDisasm  = "disasm"
	ColBytes   = "bytes"
	ColStart   = "start"
)

// ParseError describes a malformed record.
type ParseError struct {
	Row   int // 1-based data row, 0 for the header
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("record row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("record row %d field %s: %v", e.Row, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// OffsetAddress is one row of the offset-to-address response.
type OffsetAddress struct {
	Offset  uint64
	Address uint64
}

// ByteValue is one row of the byte fetch response.
type ByteValue struct {
	Address uint64
	Byte    byte
}

// Instruction is one row of the instruction resolution response.
type Instruction struct {
	Address uint64
	Offset  uint64
	Disasm  string
	Bytes   string // uppercase hex, space separated
	Start   uint64
}

// table is a decoded CSV table addressed by column name.
type table struct {
	index map[string]int
	rows  [][]string
}

func readTable(r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &ParseError{Row: 0, Err: errors.New("missing header")}
	}
	if err != nil {
		return nil, &ParseError{Row: 0, Err: err}
	}

	t := &table{index: make(map[string]int, len(header))}
	for i, name := range header {
		t.index[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := t.index[name]; !ok {
			return nil, &ParseError{Row: 0, Field: name, Err: errors.New("missing column")}
		}
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Row: len(t.rows) + 1, Err: err}
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func (t *table) str(row int, col string) (string, error) {
	i := t.index[col]
	if i >= len(t.rows[row]) {
		return "", &ParseError{Row: row + 1, Field: col, Err: errors.New("missing value")}
	}
	return t.rows[row][i], nil
}

func (t *table) uint(row int, col string, bits int) (uint64, error) {
	s, err := t.str(row, col)
	if err != nil {
		return 0, err
	}
	v, err := ParseUint(s, bits)
	if err != nil {
		return 0, &ParseError{Row: row + 1, Field: col, Err: err}
	}
	return v, nil
}

// ParseUint parses a decimal or 0x-prefixed integer.
func ParseUint(s string, bits int) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, bits)
}

func writeTable(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

func u(v uint64) string { return strconv.FormatUint(v, 10) }

// WriteOffsets writes the offset-to-address request.
func WriteOffsets(w io.Writer, offsets []uint64) error {
	rows := make([][]string, len(offsets))
	for i, o := range offsets {
		rows[i] = []string{u(o)}
	}
	return writeTable(w, []string{ColOffset}, rows)
}

// ReadOffsets decodes the offset-to-address request.
func ReadOffsets(r io.Reader) ([]uint64, error) {
	t, err := readTable(r, ColOffset)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(t.rows))
	for i := range t.rows {
		if out[i], err = t.uint(i, ColOffset, 64); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WriteAddressMap writes the offset-to-address response.
func WriteAddressMap(w io.Writer, m []OffsetAddress) error {
	rows := make([][]string, len(m))
	for i, oa := range m {
		rows[i] = []string{u(oa.Offset), u(oa.Address)}
	}
	return writeTable(w, []string{ColOffset, ColAddress}, rows)
}

// ReadAddressMap decodes the offset-to-address response.
func ReadAddressMap(r io.Reader) ([]OffsetAddress, error) {
	t, err := readTable(r, ColOffset, ColAddress)
	if err != nil {
		return nil, err
	}
	out := make([]OffsetAddress, len(t.rows))
	for i := range t.rows {
		if out[i].Offset, err = t.uint(i, ColOffset, 64); err != nil {
			return nil, err
		}
		if out[i].Address, err = t.uint(i, ColAddress, 64); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WriteAddresses writes an address request (byte fetch or instruction resolution).
func WriteAddresses(w io.Writer, addrs []uint64) error {
	rows := make([][]string, len(addrs))
	for i, a := range addrs {
		rows[i] = []string{u(a)}
	}
	return writeTable(w, []string{ColAddress}, rows)
}

// ReadAddresses decodes an address request.
func ReadAddresses(r io.Reader) ([]uint64, error) {
	t, err := readTable(r, ColAddress)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(t.rows))
	for i := range t.rows {
		if out[i], err = t.uint(i, ColAddress, 64); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WriteByteValues writes the byte fetch response.
func WriteByteValues(w io.Writer, vals []ByteValue) error {
	rows := make([][]string, len(vals))
	for i, v := range vals {
		rows[i] = []string{u(v.Address), strconv.Itoa(int(v.Byte))}
	}
	return writeTable(w, []string{ColAddress, ColByte}, rows)
}

// ReadByteValues decodes the byte fetch response. Byte values must be 0-255.
func ReadByteValues(r io.Reader) ([]ByteValue, error) {
	t, err := readTable(r, ColAddress, ColByte)
	if err != nil {
		return nil, err
	}
	out := make([]ByteValue, len(t.rows))
	for i := range t.rows {
		if out[i].Address, err = t.uint(i, ColAddress, 64); err != nil {
			return nil, err
		}
		b, err := t.uint(i, ColByte, 8)
		if err != nil {
			return nil, err
		}
		out[i].Byte = byte(b)
	}
	return out, nil
}

// WriteInstructions writes the instruction resolution response.
func WriteInstructions(w io.Writer, insts []Instruction) error {
	rows := make([][]string, len(insts))
	for i, in := range insts {
		rows[i] = []string{u(in.Address), u(in.Offset), in.Disasm, in.Bytes, u(in.Start)}
	}
	return writeTable(w, []string{ColAddress, ColOffset, ColDisasm, ColBytes, ColStart}, rows)
}

// ReadInstructions decodes the instruction resolution response.
func ReadInstructions(r io.Reader) ([]Instruction, error) {
	t, err := readTable(r, ColAddress, ColOffset, ColDisasm, ColBytes, ColStart)
	if err != nil {
		return nil, err
	}
	out := make([]Instruction, len(t.rows))
	for i := range t.rows {
		in := &out[i]
		if in.Address, err = t.uint(i, ColAddress, 64); err != nil {
			return nil, err
		}
		if in.Offset, err = t.uint(i, ColOffset, 64); err != nil {
			return nil, err
		}
		if in.Start, err = t.uint(i, ColStart, 64); err != nil {
			return nil, err
		}
		if in.Disasm, err = t.str(i, ColDisasm); err != nil {
			return nil, err
		}
		if in.Bytes, err = t.str(i, ColBytes); err != nil {
			return nil, err
		}
		if _, err := ParseHex(in.Bytes); err != nil {
			return nil, &ParseError{Row: i + 1, Field: ColBytes, Err: err}
		}
	}
	return out, nil
}

// WriteAddressList writes one address per line, ascending and deduplicated.
func WriteAddressList(w io.Writer, addrs []uint64) error {
	sorted := append([]uint64(nil), addrs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	bw := bufio.NewWriter(w)
	for i, a := range sorted {
		if i > 0 && sorted[i-1] == a {
			continue
		}
		if _, err := bw.WriteString(u(a) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadAddressList decodes a headerless list with one address per line.
func ReadAddressList(r io.Reader) ([]uint64, error) {
	var out []uint64
	sc := bufio.NewScanner(r)
	row := 0
	for sc.Scan() {
		row++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := ParseUint(line, 64)
		if err != nil {
			return nil, &ParseError{Row: row, Field: ColAddress, Err: err}
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FormatHex renders b as uppercase hex pairs separated by spaces.
func FormatHex(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}

// ParseHex parses the FormatHex layout. Case is ignored.
func ParseHex(s string) ([]byte, error) {
	fields := strings.Fields(s)
	out := make([]byte, len(fields))
	for i, f := range fields {
		if len(f) != 2 {
			return nil, fmt.Errorf("hex byte %q: want two digits", f)
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("hex byte %q: %w", f, err)
		}
		out[i] = byte(v)
	}
	return out, nil
}
