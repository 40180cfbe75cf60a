package disasm

import (
	"strings"
	"testing"
)

func TestDecodeX86(t *testing.T) {
	tests := []struct {
		name string
		arch Arch
		code []byte
		op   string
		len  int
	}{
		{name: "mov moffs", arch: ArchX86, code: []byte{0xA1, 0x18, 0x2A, 0x5D, 0x00}, op: "mov", len: 5},
		{name: "call rel32", arch: ArchX86, code: []byte{0xE8, 0x20, 0x6F, 0x16, 0x00}, op: "call", len: 5},
		{name: "nop", arch: ArchX86_64, code: []byte{0x90}, op: "nop", len: 1},
		{name: "ret", arch: ArchX86_64, code: []byte{0xC3}, op: "ret", len: 1},
		{name: "arm64 ret", arch: ArchARM64, code: []byte{0xC0, 0x03, 0x5F, 0xD6}, op: "ret", len: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := Decode(tt.arch, tt.code, 0x1000, nil)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if inst.Op != tt.op {
				t.Errorf("Op = %q, want %q", inst.Op, tt.op)
			}
			if inst.Len != tt.len {
				t.Errorf("Len = %d, want %d", inst.Len, tt.len)
			}
			if !strings.HasPrefix(inst.Text, tt.op) {
				t.Errorf("Text = %q, want prefix %q", inst.Text, tt.op)
			}
		})
	}
}

func TestDecodeUnsupported(t *testing.T) {
	if _, err := Decode(ArchUnknown, []byte{0x90}, 0, nil); err == nil {
		t.Error("expected error for unknown architecture")
	}
}

func TestSweepAndFind(t *testing.T) {
	// nop; mov eax, [0x5d2a18]; ret
	code := []byte{0x90, 0xA1, 0x18, 0x2A, 0x5D, 0x00, 0xC3}
	s := Sweep(ArchX86, code, 0x400, nil)
	if len(s) != 3 {
		t.Fatalf("Sweep produced %d instructions, want 3", len(s))
	}

	tests := []struct {
		va    uint64
		start uint64
		ok    bool
	}{
		{va: 0x400, start: 0x400, ok: true},
		{va: 0x401, start: 0x401, ok: true},
		{va: 0x403, start: 0x401, ok: true},
		{va: 0x405, start: 0x401, ok: true},
		{va: 0x406, start: 0x406, ok: true},
		{va: 0x407, ok: false},
		{va: 0x3FF, ok: false},
	}
	for _, tt := range tests {
		i, ok := s.Find(tt.va)
		if ok != tt.ok {
			t.Errorf("Find(%#x) ok = %v, want %v", tt.va, ok, tt.ok)
			continue
		}
		if ok && s[i].VA != tt.start {
			t.Errorf("Find(%#x) start = %#x, want %#x", tt.va, s[i].VA, tt.start)
		}
	}
}

func TestSweepBadBytes(t *testing.T) {
	// A truncated call decodes as nothing; every byte becomes a bad item.
	s := Sweep(ArchX86, []byte{0xE8, 0x00}, 0, nil)
	if len(s) != 2 {
		t.Fatalf("Sweep produced %d items, want 2", len(s))
	}
	for _, in := range s {
		if !in.Bad || in.Len != 1 {
			t.Errorf("item %+v, want one-byte bad item", in)
		}
	}
}

func TestSymbolizer(t *testing.T) {
	// call rel32 at 0x1000 targets 0x1000 + 5 + 0x166f20
	sym := func(addr uint64) (string, uint64) {
		if addr == 0x167f25 {
			return "sub_167F25", addr
		}
		return "", 0
	}
	inst, err := Decode(ArchX86, []byte{0xE8, 0x20, 0x6F, 0x16, 0x00}, 0x1000, sym)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(inst.Text, "sub_167F25") {
		t.Errorf("Text = %q, want symbol name", inst.Text)
	}
}

func TestParseArch(t *testing.T) {
	for in, want := range map[string]Arch{
		"x86": ArchX86, "i386": ArchX86, "amd64": ArchX86_64, "x86-64": ArchX86_64, "AArch64": ArchARM64,
	} {
		got, err := ParseArch(in)
		if err != nil || got != want {
			t.Errorf("ParseArch(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseArch("mips"); err == nil {
		t.Error("ParseArch(mips) should fail")
	}
}

func TestDecodeRefs(t *testing.T) {
	tests := []struct {
		name string
		arch Arch
		code []byte
		va   uint64
		want uint64
	}{
		{name: "moffs", arch: ArchX86, code: []byte{0xA1, 0x18, 0x2A, 0x5D, 0x00}, va: 0x401000, want: 0x5D2A18},
		{name: "call rel32", arch: ArchX86, code: []byte{0xE8, 0x20, 0x6F, 0x16, 0x00}, va: 0x1000, want: 0x167F25},
		{name: "push imm32", arch: ArchX86, code: []byte{0x68, 0x00, 0x30, 0x40, 0x00}, va: 0x401000, want: 0x403000},
		{name: "lea rip", arch: ArchX86_64, code: []byte{0x48, 0x8D, 0x05, 0x10, 0x00, 0x00, 0x00}, va: 0x1000, want: 0x1017},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Decode(tt.arch, tt.code, tt.va, nil)
			if err != nil {
				t.Fatal(err)
			}
			found := false
			for _, r := range in.Refs {
				if r == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("Refs = %#x, want %#x among them", in.Refs, tt.want)
			}
		})
	}

	in, err := Decode(ArchX86, []byte{0x90}, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(in.Refs) != 0 {
		t.Errorf("nop Refs = %#x", in.Refs)
	}
}

func TestDecodeRejectsUndecodable(t *testing.T) {
	for _, code := range [][]byte{{0xE8, 0x00}, {0x0F, 0xFF}} {
		if in, err := Decode(ArchX86, code, 0x1000, nil); err == nil {
			t.Errorf("Decode(% X) = %+v, want error", code, in)
		}
	}
}
