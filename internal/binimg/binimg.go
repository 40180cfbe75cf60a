// Package binimg opens ELF and PE executables and maps between file offsets
// and virtual addresses.
package binimg

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"fmt"
	"os"
	"sort"
	"syscall"

	"github.com/ianlancetaylor/demangle"

	"patchdiff/internal/disasm"
)

// Format is the container format of an image.
type Format string

const (
	FormatELF Format = "elf"
	FormatPE  Format = "pe"
	FormatRaw Format = "raw"
)

type Image struct {
	Path   string
	Format Format
	Arch   disasm.Arch
	All    []byte
	Loads  []Seg
	Syms   []Sym
	mapped bool
	f      *os.File
}

// Seg is a file-backed region loaded at Vaddr.
type Seg struct {
	Name               string
	Vaddr, Off, Filesz uint64
	Exec               bool
}

// ContainsOff reports whether the file offset lies in the segment.
func (s Seg) ContainsOff(off uint64) bool {
	return off >= s.Off && off < s.Off+s.Filesz
}

// ContainsVA reports whether the virtual address lies in the segment.
func (s Seg) ContainsVA(va uint64) bool {
	return va >= s.Vaddr && va < s.Vaddr+s.Filesz
}

type Sym struct {
	Name string
	Addr uint64
	Size uint64
}

// Open maps the file at path and parses its load layout.
func Open(path string) (*Image, error) {
	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if fi.Size() == 0 {
		of.Close()
		return nil, fmt.Errorf("empty file: %s", path)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, All: all, mapped: true, f: of}
	switch {
	case bytes.HasPrefix(all, []byte(elf.ELFMAG)):
		err = im.loadELF()
	case bytes.HasPrefix(all, []byte("MZ")):
		err = im.loadPE()
	default:
		err = fmt.Errorf("unrecognized executable format")
	}
	if err != nil {
		im.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return im, nil
}

// FromBytes builds an image over data with an explicit layout. It is used
// for raw firmware blobs and by tests.
func FromBytes(path string, data []byte, arch disasm.Arch, loads []Seg) *Image {
	im := &Image{Path: path, Format: FormatRaw, Arch: arch, All: data, Loads: loads}
	return im
}

func (im *Image) loadELF() error {
	f, err := elf.NewFile(bytes.NewReader(im.All))
	if err != nil {
		return fmt.Errorf("open elf: %w", err)
	}
	defer f.Close()

	im.Format = FormatELF
	switch f.Machine {
	case elf.EM_386:
		im.Arch = disasm.ArchX86
	case elf.EM_X86_64:
		im.Arch = disasm.ArchX86_64
	case elf.EM_AARCH64:
		im.Arch = disasm.ArchARM64
	}

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Name:   fmt.Sprintf("LOAD@%#x", p.Vaddr),
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Exec:   p.Flags&elf.PF_X != 0,
		})
	}

	// Relocatable objects have no program headers; fall back to sections.
	if len(im.Loads) == 0 {
		for _, s := range f.Sections {
			if s.Type == elf.SHT_NOBITS || s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
				continue
			}
			im.Loads = append(im.Loads, Seg{
				Name:   s.Name,
				Vaddr:  s.Addr,
				Off:    s.Offset,
				Filesz: s.Size,
				Exec:   s.Flags&elf.SHF_EXECINSTR != 0,
			})
		}
	}

	im.addELFSymbols(f.Symbols())
	im.addELFSymbols(f.DynamicSymbols())
	im.sortSyms()
	return nil
}

func (im *Image) addELFSymbols(syms []elf.Symbol, err error) {
	if err != nil {
		return // stripped
	}
	for _, s := range syms {
		if s.Value == 0 || s.Name == "" {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT:
		default:
			continue
		}
		im.Syms = append(im.Syms, Sym{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
}

func (im *Image) loadPE() error {
	f, err := pe.NewFile(bytes.NewReader(im.All))
	if err != nil {
		return fmt.Errorf("open pe: %w", err)
	}
	defer f.Close()

	im.Format = FormatPE
	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		im.Arch = disasm.ArchX86
	case pe.IMAGE_FILE_MACHINE_AMD64:
		im.Arch = disasm.ArchX86_64
	case pe.IMAGE_FILE_MACHINE_ARM64:
		im.Arch = disasm.ArchARM64
	}

	var base uint64
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		base = oh.ImageBase
	}

	for _, s := range f.Sections {
		size := uint64(s.Size)
		if s.VirtualSize != 0 && uint64(s.VirtualSize) < size {
			size = uint64(s.VirtualSize)
		}
		if size == 0 {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Name:   s.Name,
			Vaddr:  base + uint64(s.VirtualAddress),
			Off:    uint64(s.Offset),
			Filesz: size,
			Exec:   s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0,
		})
	}

	for _, s := range f.Symbols {
		if s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.Sections) {
			continue
		}
		sec := f.Sections[s.SectionNumber-1]
		im.Syms = append(im.Syms, Sym{
			Name: s.Name,
			Addr: base + uint64(sec.VirtualAddress) + uint64(s.Value),
		})
	}
	im.sortSyms()
	return nil
}

func (im *Image) sortSyms() {
	sort.SliceStable(im.Syms, func(i, j int) bool { return im.Syms[i].Addr < im.Syms[j].Addr })
}

// Close unmaps the memory and closes the underlying file.
func (im *Image) Close() error {
	var err1, err2 error
	if im.mapped && im.All != nil {
		err1 = syscall.Munmap(im.All)
	}
	im.All = nil
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// VA2Off translates a virtual address into a file offset.
// It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if l.ContainsVA(va) {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// Off2VA translates a file offset into a virtual address.
// It returns false if no loaded region is backed by the offset.
func (im *Image) Off2VA(off uint64) (uint64, bool) {
	if seg, ok := im.SegmentAtOff(off); ok {
		return seg.Vaddr + (off - seg.Off), true
	}
	return 0, false
}

// SegmentAtOff returns the first segment backed by the file offset.
func (im *Image) SegmentAtOff(off uint64) (Seg, bool) {
	for _, l := range im.Loads {
		if l.ContainsOff(off) {
			return l, true
		}
	}
	return Seg{}, false
}

// SegmentAt returns the segment containing the virtual address.
func (im *Image) SegmentAt(va uint64) (Seg, bool) {
	for _, l := range im.Loads {
		if l.ContainsVA(va) {
			return l, true
		}
	}
	return Seg{}, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// ReadBytesVA reads exactly size bytes from a virtual address.
func (im *Image) ReadBytesVA(va uint64, size int) ([]byte, bool) {
	if size <= 0 {
		return []byte{}, true
	}
	return im.SliceVA(va, uint64(size))
}

// SegmentBytes returns the file contents backing seg, clipped to the file size.
func (im *Image) SegmentBytes(seg Seg) []byte {
	start := seg.Off
	end := seg.Off + seg.Filesz
	if start > uint64(len(im.All)) {
		return nil
	}
	if end > uint64(len(im.All)) {
		end = uint64(len(im.All))
	}
	return im.All[start:end]
}

// Symbolize returns the demangled name of the symbol starting at or
// containing addr, and the symbol's address.
func (im *Image) Symbolize(addr uint64) (string, uint64) {
	i := sort.Search(len(im.Syms), func(i int) bool { return im.Syms[i].Addr > addr }) - 1
	if i < 0 {
		return "", 0
	}
	s := im.Syms[i]
	if s.Addr != addr && (s.Size == 0 || addr >= s.Addr+s.Size) {
		return "", 0
	}
	return demangle.Filter(s.Name, demangle.NoParams), s.Addr
}
