// Package disasm defines a common instruction representation used
// across architecture-specific disassemblers.
package disasm

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Arch selects the instruction decoder.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86          // 32-bit x86
	ArchX86_64
	ArchARM64
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "x86"
	case ArchX86_64:
		return "x86-64"
	case ArchARM64:
		return "arm64"
	default:
		return "unknown"
	}
}

// ParseArch accepts the names printed by Arch.String plus common aliases.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x86", "i386", "386":
		return ArchX86, nil
	case "x86-64", "x86_64", "amd64", "x64":
		return ArchX86_64, nil
	case "arm64", "aarch64":
		return ArchARM64, nil
	default:
		return ArchUnknown, fmt.Errorf("unknown architecture %q", s)
	}
}

// Inst is a simplified decoded instruction.
type Inst struct {
	VA   uint64 // virtual address of instruction
	Len  int    // encoded length in bytes
	Text string // formatted disassembly string
	Op   string // mnemonic in lowercase
	Bad  bool   // bytes could not be decoded

	// Refs holds absolute addresses named by the operands: immediates,
	// absolute or RIP-relative memory, and branch targets.
	Refs []uint64
}

// End returns the address just past the instruction.
func (i Inst) End() uint64 {
	return i.VA + uint64(i.Len)
}

// Symbolizer resolves an address to a symbol name and the symbol's base.
// It returns "" when nothing is known. The signature matches x86asm.SymLookup.
type Symbolizer func(addr uint64) (string, uint64)

// Decode decodes a single instruction at va.
func Decode(arch Arch, code []byte, va uint64, sym Symbolizer) (Inst, error) {
	switch arch {
	case ArchX86, ArchX86_64:
		mode := 32
		if arch == ArchX86_64 {
			mode = 64
		}
		inst, err := x86asm.Decode(code, mode)
		if err != nil {
			return Inst{}, err
		}
		// Truncated or unknown encodings decode without error as a bare prefix.
		if inst.Op == 0 {
			return Inst{}, fmt.Errorf("x86: undecodable bytes at %#x", va)
		}
		var lookup x86asm.SymLookup
		if sym != nil {
			lookup = x86asm.SymLookup(sym)
		}
		return Inst{
			VA:   va,
			Len:  inst.Len,
			Text: x86asm.IntelSyntax(inst, va, lookup),
			Op:   strings.ToLower(inst.Op.String()),
			Refs: x86Refs(inst, va, mode),
		}, nil

	case ArchARM64:
		if len(code) < 4 {
			return Inst{}, fmt.Errorf("arm64: need 4 bytes, have %d", len(code))
		}
		inst, err := arm64asm.Decode(code[:4])
		if err != nil {
			return Inst{}, err
		}
		var refs []uint64
		for _, a := range inst.Args {
			if rel, ok := a.(arm64asm.PCRel); ok && inst.Op != arm64asm.ADRP {
				refs = append(refs, va+uint64(rel))
			}
		}
		return Inst{
			VA:   va,
			Len:  4,
			Text: arm64asm.GNUSyntax(inst),
			Op:   strings.ToLower(inst.Op.String()),
			Refs: refs,
		}, nil

	default:
		return Inst{}, fmt.Errorf("decode: unsupported architecture %s", arch)
	}
}

func x86Refs(inst x86asm.Inst, va uint64, mode int) []uint64 {
	mask := ^uint64(0)
	if mode == 32 {
		mask = 0xFFFFFFFF
	}
	next := va + uint64(inst.Len)

	var refs []uint64
	for _, a := range inst.Args {
		switch a := a.(type) {
		case nil:
			return refs
		case x86asm.Imm:
			refs = append(refs, uint64(a)&mask)
		case x86asm.Rel:
			refs = append(refs, (next+uint64(a))&mask)
		case x86asm.Mem:
			switch {
			case a.Base == x86asm.RIP:
				refs = append(refs, next+uint64(a.Disp))
			case a.Base == 0 && a.Index == 0:
				refs = append(refs, uint64(a.Disp)&mask)
			}
		}
	}
	return refs
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Sweep decodes code linearly starting at va. Undecodable bytes become
// one-byte Bad items (four bytes on arm64) so the sweep always makes progress.
func Sweep(arch Arch, code []byte, va uint64, sym Symbolizer) Stream {
	var out Stream
	step := 1
	if arch == ArchARM64 {
		step = 4
	}
	for i := 0; i < len(code); {
		inst, err := Decode(arch, code[i:], va+uint64(i), sym)
		if err != nil || inst.Len <= 0 {
			n := step
			if i+n > len(code) {
				n = len(code) - i
			}
			out = append(out, Inst{
				VA:   va + uint64(i),
				Len:  n,
				Text: "(bad)",
				Op:   "(bad)",
				Bad:  true,
			})
			i += n
			continue
		}
		out = append(out, inst)
		i += inst.Len
	}
	return out
}

// Find returns the index of the instruction covering va.
func (s Stream) Find(va uint64) (int, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].End() > va })
	if i < len(s) && s[i].VA <= va {
		return i, true
	}
	return 0, false
}
