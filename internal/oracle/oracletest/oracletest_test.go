package oracletest

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"patchdiff/internal/oracle"
)

func TestSessionAnswers(t *testing.T) {
	ctx := context.Background()
	im := NewImage(0x1000, 16, 0x90, Span{Off: 4, Len: 3, Text: "mov"})
	im.Poke = map[uint64]byte{0x1002: 0xCC}
	o := New(im, NewImage(0x2000, 16, 0x90))

	s, err := o.Open(ctx, oracle.Old)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	addrs, err := s.Addresses(ctx, []uint64{0, 5, 16})
	if err != nil {
		t.Fatal(err)
	}
	if addrs[0] != 0x1000 || addrs[1] != 0x1005 || addrs[2] != oracle.Unmapped {
		t.Errorf("Addresses = %#x", addrs)
	}

	b, err := s.Bytes(ctx, []uint64{0x1001, 0x1002})
	if err != nil {
		t.Fatal(err)
	}
	if b[0] != 0x90 || b[1] != 0xCC {
		t.Errorf("Bytes = % X", b)
	}

	insts, err := s.Instructions(ctx, []uint64{0x1005, 0x1008})
	if err != nil {
		t.Fatal(err)
	}
	if insts[0].Start != 0x1004 || insts[0].End != 0x1007 || insts[0].Disasm != "mov" {
		t.Errorf("span instruction = %+v", insts[0])
	}
	if insts[0].StartOffset() != 4 {
		t.Errorf("StartOffset = %d, want 4", insts[0].StartOffset())
	}
	if insts[1].Len() != 1 || insts[1].Disasm != "insn1 90" {
		t.Errorf("filler instruction = %+v", insts[1])
	}

	for op, want := range map[string]int{"addresses": 1, "bytes": 1, "instructions": 1} {
		if o.Calls[op] != want {
			t.Errorf("Calls[%s] = %d, want %d", op, o.Calls[op], want)
		}
	}
	if o.TotalCalls() != 4 {
		t.Errorf("TotalCalls = %d, want 4", o.TotalCalls())
	}
}

func TestInterleavedOpen(t *testing.T) {
	ctx := context.Background()
	o := New(NewImage(0, 4, 0), NewImage(0, 4, 0))

	s, err := o.Open(ctx, oracle.Old)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Open(ctx, oracle.New); !errors.Is(err, ErrInterleaved) {
		t.Fatalf("second Open error = %v, want ErrInterleaved", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err == nil {
		t.Error("double Close succeeded")
	}
	if _, err := s.Bytes(ctx, []uint64{0}); err == nil {
		t.Error("Bytes on closed session succeeded")
	}

	s, err = o.Open(ctx, oracle.New)
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	s.Close()
}

func TestRandomImageCoversEveryByte(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	im := RandomImage(r, 0x400000, 200, 6)

	var next uint64
	for _, sp := range im.Spans {
		if sp.Off != next {
			t.Fatalf("span at %d, want %d", sp.Off, next)
		}
		if sp.Len < 1 || sp.Len > 6 {
			t.Fatalf("span length %d out of range", sp.Len)
		}
		next = sp.Off + sp.Len
	}
	if next != 200 {
		t.Errorf("spans end at %d, want 200", next)
	}
}
