// Package colorize highlights disassembly for terminal output.
package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether color output is allowed. PATCHDIFF_NO_COLOR
// disables it.
func Enabled() bool {
	return os.Getenv("PATCHDIFF_NO_COLOR") == ""
}

// lexerFor picks an assembly lexer for the architecture name.
func lexerFor(arch string) chroma.Lexer {
	candidates := []string{"nasm", "gas"}
	if arch == "arm64" {
		candidates = []string{"armasm", "gas"}
	}
	for _, name := range candidates {
		if l := lexers.Get(name); l != nil {
			return l
		}
	}
	return nil
}

func style() *chroma.Style {
	for _, name := range []string{"patchdiff-dark", "dracula", "monokai"} {
		if s := styles.Get(name); s != nil {
			return s
		}
	}
	return styles.Fallback
}

func formatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// Disasm highlights one or more lines of disassembly. On any failure, or
// when color is disabled, the input is returned unchanged.
func Disasm(code, arch string) string {
	if !Enabled() || code == "" {
		return code
	}
	lexer := lexerFor(arch)
	if lexer == nil {
		return code
	}
	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter().Format(&buf, style(), it); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}
