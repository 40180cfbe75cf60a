// Package oracletest provides a synthetic oracle backed by hand-written
// instruction tables, for testing code that drives an oracle.Oracle.
package oracletest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"patchdiff/internal/oracle"
	"patchdiff/internal/record"
)

// Span is one instruction occupying [Off, Off+Len) in file offsets.
type Span struct {
	Off  uint64
	Len  uint64
	Text string // optional disassembly, generated when empty
}

// Image is one synthetic binary. File offset o maps to address Base+o for
// every o < len(Data). Offsets not covered by a span are one-byte items.
type Image struct {
	Base  uint64
	Data  []byte
	Spans []Span

	// Poke overrides the byte the oracle reports at an address, to simulate
	// a stale analysis database.
	Poke map[uint64]byte
}

// NewImage returns an image of size bytes filled with fill.
func NewImage(base uint64, size int, fill byte, spans ...Span) *Image {
	data := make([]byte, size)
	for i := range data {
		data[i] = fill
	}
	im := &Image{Base: base, Data: data, Spans: spans}
	im.sortSpans()
	return im
}

// RandomImage partitions size bytes into instructions of 1..maxLen bytes.
func RandomImage(r *rand.Rand, base uint64, size, maxLen int) *Image {
	im := NewImage(base, size, 0)
	r.Read(im.Data)
	for off := 0; off < size; {
		n := 1 + r.Intn(maxLen)
		if off+n > size {
			n = size - off
		}
		im.Spans = append(im.Spans, Span{Off: uint64(off), Len: uint64(n)})
		off += n
	}
	return im
}

func (im *Image) sortSpans() {
	sort.Slice(im.Spans, func(i, j int) bool { return im.Spans[i].Off < im.Spans[j].Off })
}

// span returns the instruction covering off.
func (im *Image) span(off uint64) Span {
	i := sort.Search(len(im.Spans), func(i int) bool { return im.Spans[i].Off+im.Spans[i].Len > off })
	if i < len(im.Spans) && im.Spans[i].Off <= off {
		return im.Spans[i]
	}
	return Span{Off: off, Len: 1}
}

func (im *Image) offsetOf(addr uint64) (uint64, bool) {
	if addr < im.Base || addr-im.Base >= uint64(len(im.Data)) {
		return 0, false
	}
	return addr - im.Base, true
}

// Oracle serves Images and records every call.
type Oracle struct {
	Images map[oracle.Binary]*Image

	// Opens lists the binary of every Open call in order.
	Opens []oracle.Binary
	// Calls counts session operations by name.
	Calls map[string]int

	open *session
}

// New returns an oracle serving old and new.
func New(old, nw *Image) *Oracle {
	return &Oracle{
		Images: map[oracle.Binary]*Image{oracle.Old: old, oracle.New: nw},
		Calls:  make(map[string]int),
	}
}

// ErrInterleaved is returned when a session is opened while another is live.
var ErrInterleaved = errors.New("oracletest: session opened while another is still open")

// TotalCalls returns the number of Open calls plus session operations.
func (o *Oracle) TotalCalls() int {
	n := len(o.Opens)
	for _, c := range o.Calls {
		n += c
	}
	return n
}

func (o *Oracle) Open(ctx context.Context, bin oracle.Binary) (oracle.Session, error) {
	o.Opens = append(o.Opens, bin)
	if o.open != nil {
		return nil, ErrInterleaved
	}
	im := o.Images[bin]
	if im == nil {
		return nil, fmt.Errorf("oracletest: no %s image", bin)
	}
	o.open = &session{o: o, bin: bin, im: im}
	return o.open, nil
}

type session struct {
	o      *Oracle
	bin    oracle.Binary
	im     *Image
	closed bool
}

func (s *session) Binary() oracle.Binary { return s.bin }

func (s *session) check(op string) error {
	s.o.Calls[op]++
	if s.closed {
		return fmt.Errorf("oracletest: %s on closed %s session", op, s.bin)
	}
	return nil
}

func (s *session) Addresses(ctx context.Context, offsets []uint64) ([]uint64, error) {
	if err := s.check("addresses"); err != nil {
		return nil, err
	}
	out := make([]uint64, len(offsets))
	for i, off := range offsets {
		if off >= uint64(len(s.im.Data)) {
			out[i] = oracle.Unmapped
			continue
		}
		out[i] = s.im.Base + off
	}
	return out, nil
}

func (s *session) Bytes(ctx context.Context, addrs []uint64) ([]byte, error) {
	if err := s.check("bytes"); err != nil {
		return nil, err
	}
	out := make([]byte, len(addrs))
	for i, a := range addrs {
		off, ok := s.im.offsetOf(a)
		if !ok {
			return nil, fmt.Errorf("oracletest: %s address %#x unmapped", s.bin, a)
		}
		out[i] = s.im.Data[off]
		if b, ok := s.im.Poke[a]; ok {
			out[i] = b
		}
	}
	return out, nil
}

func (s *session) Instructions(ctx context.Context, addrs []uint64) ([]oracle.Instruction, error) {
	if err := s.check("instructions"); err != nil {
		return nil, err
	}
	out := make([]oracle.Instruction, len(addrs))
	for i, a := range addrs {
		off, ok := s.im.offsetOf(a)
		if !ok {
			return nil, fmt.Errorf("oracletest: %s address %#x unmapped", s.bin, a)
		}
		sp := s.im.span(off)
		end := sp.Off + sp.Len
		if end > uint64(len(s.im.Data)) {
			end = uint64(len(s.im.Data))
		}
		raw := append([]byte(nil), s.im.Data[sp.Off:end]...)
		text := sp.Text
		if text == "" {
			text = fmt.Sprintf("insn%d %s", sp.Len, record.FormatHex(raw))
		}
		out[i] = oracle.Instruction{
			Address:  a,
			Offset:   off,
			Boundary: oracle.Boundary{Start: s.im.Base + sp.Off, End: s.im.Base + end},
			Disasm:   text,
			Bytes:    raw,
		}
	}
	return out, nil
}

func (s *session) Close() error {
	if s.closed {
		return fmt.Errorf("oracletest: %s session closed twice", s.bin)
	}
	s.closed = true
	s.o.open = nil
	return nil
}
