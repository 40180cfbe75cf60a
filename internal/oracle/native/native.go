// Package native answers oracle queries in-process by loading the binaries
// with binimg and disassembling executable regions with linear sweep.
package native

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"patchdiff/internal/analysis"
	"patchdiff/internal/binimg"
	"patchdiff/internal/disasm"
	"patchdiff/internal/oracle"
)

// Oracle opens one binimg.Image per session.
type Oracle struct {
	paths  map[oracle.Binary]string
	images map[oracle.Binary]*binimg.Image
	arch   disasm.Arch
	logger *log.Logger
}

type Option func(*Oracle)

// WithArch forces the decoder architecture instead of using the image header.
func WithArch(a disasm.Arch) Option {
	return func(o *Oracle) { o.arch = a }
}

// WithLogger sets the logger used for session diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(o *Oracle) { o.logger = l }
}

// WithImage serves bin from an already loaded image. The session does not
// close it.
func WithImage(bin oracle.Binary, im *binimg.Image) Option {
	return func(o *Oracle) { o.images[bin] = im }
}

// New returns an oracle over the executables at oldPath and newPath.
func New(oldPath, newPath string, opts ...Option) *Oracle {
	o := &Oracle{
		paths:  map[oracle.Binary]string{oracle.Old: oldPath, oracle.New: newPath},
		images: make(map[oracle.Binary]*binimg.Image),
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Oracle) Open(ctx context.Context, bin oracle.Binary) (oracle.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	im, owned := o.images[bin], false
	if im == nil {
		path := o.paths[bin]
		if path == "" {
			return nil, fmt.Errorf("native oracle: no %s binary configured", bin)
		}
		var err error
		if im, err = binimg.Open(path); err != nil {
			return nil, fmt.Errorf("native oracle: %w", err)
		}
		owned = true
	}

	arch := o.arch
	if arch == disasm.ArchUnknown {
		arch = im.Arch
	}
	if arch == disasm.ArchUnknown {
		if owned {
			im.Close()
		}
		return nil, fmt.Errorf("native oracle: cannot determine architecture of %s, set it explicitly", im.Path)
	}

	o.logger.Debug("Opened session", "binary", bin, "path", im.Path, "format", im.Format, "arch", arch, "segments", len(im.Loads))
	return &session{
		bin:     bin,
		img:     im,
		owned:   owned,
		arch:    arch,
		streams: make(map[uint64]disasm.Stream),
		logger:  o.logger,
	}, nil
}

type session struct {
	bin     oracle.Binary
	img     *binimg.Image
	owned   bool
	arch    disasm.Arch
	streams map[uint64]disasm.Stream // keyed by segment vaddr
	logger  *log.Logger
}

func (s *session) Binary() oracle.Binary { return s.bin }

func (s *session) Addresses(ctx context.Context, offsets []uint64) ([]uint64, error) {
	out := make([]uint64, len(offsets))
	for i, off := range offsets {
		va, ok := s.img.Off2VA(off)
		if !ok {
			va = oracle.Unmapped
		}
		out[i] = va
	}
	return out, nil
}

func (s *session) Bytes(ctx context.Context, addrs []uint64) ([]byte, error) {
	out := make([]byte, len(addrs))
	for i, a := range addrs {
		b, ok := s.img.ReadBytesVA(a, 1)
		if !ok {
			return nil, fmt.Errorf("%s: address %#x is not mapped", s.bin, a)
		}
		out[i] = b[0]
	}
	return out, nil
}

func (s *session) Instructions(ctx context.Context, addrs []uint64) ([]oracle.Instruction, error) {
	out := make([]oracle.Instruction, len(addrs))
	for i, a := range addrs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in, err := s.resolve(a)
		if err != nil {
			return nil, err
		}
		out[i] = in
	}
	return out, nil
}

func (s *session) resolve(addr uint64) (oracle.Instruction, error) {
	seg, ok := s.img.SegmentAt(addr)
	if !ok {
		return oracle.Instruction{}, fmt.Errorf("%s: address %#x is not mapped", s.bin, addr)
	}
	off, _ := s.img.VA2Off(addr)

	var item disasm.Inst
	if seg.Exec {
		stream := s.stream(seg)
		idx, ok := stream.Find(addr)
		if !ok {
			return oracle.Instruction{}, fmt.Errorf("%s: no instruction covers %#x", s.bin, addr)
		}
		item = stream[idx]
	} else {
		b, _ := s.img.ReadBytesVA(addr, 1)
		item = disasm.Inst{VA: addr, Len: 1, Text: fmt.Sprintf("db %#02x", b[0]), Op: "db"}
	}

	raw, ok := s.img.ReadBytesVA(item.VA, item.Len)
	if !ok {
		return oracle.Instruction{}, fmt.Errorf("%s: cannot read %d bytes at %#x", s.bin, item.Len, item.VA)
	}
	return oracle.Instruction{
		Address:  addr,
		Offset:   off,
		Boundary: oracle.Boundary{Start: item.VA, End: item.End()},
		Disasm:   analysis.Annotate(s.img, item.Text, item.Refs),
		Bytes:    append([]byte(nil), raw...),
	}, nil
}

// stream disassembles seg once per session.
func (s *session) stream(seg binimg.Seg) disasm.Stream {
	if st, ok := s.streams[seg.Vaddr]; ok {
		return st
	}
	st := disasm.Sweep(s.arch, s.img.SegmentBytes(seg), seg.Vaddr, s.img.Symbolize)
	s.logger.Debug("Swept segment", "binary", s.bin, "segment", seg.Name, "instructions", len(st))
	s.streams[seg.Vaddr] = st
	return st
}

func (s *session) Close() error {
	s.streams = nil
	if s.owned {
		return s.img.Close()
	}
	return nil
}
