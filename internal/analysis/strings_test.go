package analysis

import (
	"testing"

	"patchdiff/internal/binimg"
	"patchdiff/internal/disasm"
)

func stringImage() *binimg.Image {
	data := make([]byte, 0x100)
	copy(data[0x00:], "\x90\x90\x90\x90\x90\x00")
	copy(data[0x80:], "hello, world\x00")
	copy(data[0x90:], "abc\x00")
	copy(data[0x98:], "\x01\x02\x03\x04\x05\x00")
	copy(data[0xA0:], "tab\there\x00")
	copy(data[0xB0:], "héllo\x00")
	copy(data[0xF8:], "nonulxyz")
	return binimg.FromBytes("mem", data, disasm.ArchX86, []binimg.Seg{
		{Name: ".text", Vaddr: 0x1000, Off: 0, Filesz: 0x80, Exec: true},
		{Name: ".rodata", Vaddr: 0x2000, Off: 0x80, Filesz: 0x80},
	})
}

func TestReadCString(t *testing.T) {
	im := stringImage()
	tests := []struct {
		name string
		va   uint64
		want string
		ok   bool
	}{
		{name: "plain", va: 0x2000, want: "hello, world", ok: true},
		{name: "interior", va: 0x2007, want: "world", ok: true},
		{name: "too short", va: 0x2010},
		{name: "control bytes", va: 0x2018},
		{name: "tab", va: 0x2020, want: `tab\u0009here`, ok: true},
		{name: "utf8", va: 0x2030, want: "héllo", ok: true},
		{name: "no terminator", va: 0x2078},
		{name: "executable", va: 0x1000},
		{name: "unmapped", va: 0x3000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ReadCString(im, tt.va, MaxStringLen)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ReadCString(%#x) = %q, %v, want %q, %v", tt.va, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestReadCStringMaxLen(t *testing.T) {
	if _, ok := ReadCString(stringImage(), 0x2000, 8); ok {
		t.Error("string longer than maxLen accepted")
	}
}

func TestAnnotate(t *testing.T) {
	im := stringImage()
	if got := Annotate(im, "push 0x2000", []uint64{0x3000, 0x2000}); got != `push 0x2000 ; "hello, world"` {
		t.Errorf("Annotate = %q", got)
	}
	if got := Annotate(im, "call 0x1000", []uint64{0x1000}); got != "call 0x1000" {
		t.Errorf("Annotate = %q", got)
	}
	if got := Annotate(im, "ret", nil); got != "ret" {
		t.Errorf("Annotate = %q", got)
	}
}

func TestEscapeUnprintable(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("abc"), "abc"},
		{[]byte("a\tb"), `a\u0009b`},
		{[]byte{0xff, 'x'}, `\xFFx`},
		{[]byte("日本"), "日本"},
	}
	for _, tt := range tests {
		if got := EscapeUnprintable(tt.in); got != tt.want {
			t.Errorf("EscapeUnprintable(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
