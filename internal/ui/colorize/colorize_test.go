package colorize

import (
	"strings"
	"testing"
)

func TestDisasmDisabled(t *testing.T) {
	t.Setenv("PATCHDIFF_NO_COLOR", "1")
	if got := Disasm("mov eax, 1", "x86"); got != "mov eax, 1" {
		t.Errorf("Disasm = %q, want input unchanged", got)
	}
}

func TestDisasmColors(t *testing.T) {
	t.Setenv("PATCHDIFF_NO_COLOR", "")
	got := Disasm("mov eax, 0x10", "x86")
	if !strings.Contains(got, "\x1b[") {
		t.Errorf("Disasm = %q, want ANSI escapes", got)
	}
	if !strings.Contains(got, "mov") || strings.HasSuffix(got, "\n") {
		t.Errorf("Disasm = %q", got)
	}
}

func TestStyleRegistered(t *testing.T) {
	if style().Name != "patchdiff-dark" {
		t.Errorf("style = %s, want patchdiff-dark", style().Name)
	}
}
