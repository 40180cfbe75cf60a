package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"patchdiff/internal/align"
	"patchdiff/internal/bytediff"
	"patchdiff/internal/oracle"
)

func sample() *align.Result {
	return &align.Result{
		Differences: []align.AddressedDifference{
			{Difference: bytediff.Difference{Offset: 0x764B, Old: 0xA1, New: 0xE8}, Address: 0x40824B},
		},
		Set: align.AddressSet{
			Space:   oracle.Old,
			Addrs:   []uint64{0x40824B, 0x40824C, 0x40824D, 0x40824E, 0x40824F},
			Offsets: []uint64{0x764B, 0x764C, 0x764D, 0x764E, 0x764F},
		},
		Diffs: []align.AlignedInstructionDiff{{
			Address:    0x40824B,
			NewAddress: 0x40824B,
			Offset:     0x764B,
			OldDisasm:  "mov eax, dword_5D2A18",
			NewDisasm:  "call sub_56E570",
			OldBytes:   "A1 18 2A 5D 00",
			NewBytes:   "E8 20 6F 16 00",
			OldStart:   0x40824B,
			NewStart:   0x40824B,
		}},
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats {
		got, err := ParseFormat(strings.ToUpper(string(f)))
		if err != nil || got != f {
			t.Errorf("ParseFormat(%s) = %s, %v", f, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) succeeded")
	}
}

func TestYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := YAML(&buf, sample()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "---\n") {
		t.Errorf("missing document marker:\n%s", out)
	}
	for _, want := range []string{
		"- offset: '0000764B'",
		"old: 'A1 18 2A 5D 00' # mov eax, dword_5D2A18",
		"new: 'E8 20 6F 16 00' # call sub_56E570",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	var chunks []struct {
		Offset string `yaml:"offset"`
		Old    string `yaml:"old"`
		New    string `yaml:"new"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &chunks); err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Offset != "0000764B" || chunks[0].New != "E8 20 6F 16 00" {
		t.Errorf("decoded = %+v", chunks)
	}
}

func TestYAMLEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := YAML(&buf, &align.Result{}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "---\n[]\n" {
		t.Errorf("YAML = %q", buf.String())
	}
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := JSON(&buf, sample(), Options{OldPath: "a.exe", NewPath: "b.exe"}); err != nil {
		t.Fatal(err)
	}
	var doc document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	want := document{
		Old:         "a.exe",
		New:         "b.exe",
		Differences: 1,
		Addresses:   5,
		Instructions: []entry{{
			Offset:     "0x764b",
			Address:    "0x40824b",
			NewAddress: "0x40824b",
			Old:        side{Start: "0x40824b", Disasm: "mov eax, dword_5D2A18", Bytes: "A1 18 2A 5D 00"},
			New:        side{Start: "0x40824b", Disasm: "call sub_56E570", Bytes: "E8 20 6F 16 00"},
		}},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("JSON (-want +got):\n%s", diff)
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	if err := Text(&buf, sample(), Options{}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "0000764B") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "  - A1 18 2A 5D 00") || !strings.HasSuffix(lines[1], "mov eax, dword_5D2A18") {
		t.Errorf("old line = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "  + E8 20 6F 16 00") {
		t.Errorf("new line = %q", lines[2])
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Error("plain text contains escape codes")
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sample(), Options{OldPath: "/x/a.exe", NewPath: "/x/b.exe"})
	for _, want := range []string{"# a.exe → b.exe", "```diff", "- A1 18 2A 5D 00", "+ E8 20 6F 16 00", "**1** differing bytes"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown lacks %q:\n%s", want, md)
		}
	}

	var buf bytes.Buffer
	if err := Write(&buf, FormatMarkdown, sample(), Options{Width: 80}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "sub_56E570") {
		t.Errorf("rendered markdown lost content:\n%s", buf.String())
	}
}
