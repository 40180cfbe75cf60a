// Package report renders aligned instruction diffs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"patchdiff/internal/align"
	"patchdiff/internal/patchdiff/styles"
	"patchdiff/internal/ui/colorize"
)

type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// Formats lists every supported output format.
var Formats = []Format{FormatText, FormatJSON, FormatYAML, FormatMarkdown}

func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if string(f) == strings.ToLower(s) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown format %q (want one of text, json, yaml, markdown)", s)
}

// Options control rendering.
type Options struct {
	OldPath string
	NewPath string
	Arch    string // decoder architecture name, used for highlighting
	Color   bool
	Width   int // markdown is rendered with glamour when > 0
}

// Write renders res in format f.
func Write(w io.Writer, f Format, res *align.Result, opts Options) error {
	switch f {
	case FormatJSON:
		return JSON(w, res, opts)
	case FormatYAML:
		return YAML(w, res)
	case FormatMarkdown:
		md := Markdown(res, opts)
		if opts.Width > 0 {
			var err error
			if md, err = Render(md, opts.Width); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, md)
		return err
	default:
		return Text(w, res, opts)
	}
}

type side struct {
	Start  string `json:"start"`
	Disasm string `json:"disasm"`
	Bytes  string `json:"bytes"`
}

type entry struct {
	Offset     string `json:"offset"`
	Address    string `json:"address"`
	NewAddress string `json:"newAddress"`
	Old        side   `json:"old"`
	New        side   `json:"new"`
}

type document struct {
	Old          string  `json:"old,omitempty"`
	New          string  `json:"new,omitempty"`
	Differences  int     `json:"differences"`
	Addresses    int     `json:"addresses"`
	Instructions []entry `json:"instructions"`
}

func hex(v uint64) string { return fmt.Sprintf("%#x", v) }

// JSON writes an indented JSON document.
func JSON(w io.Writer, res *align.Result, opts Options) error {
	doc := document{
		Old:          opts.OldPath,
		New:          opts.NewPath,
		Differences:  len(res.Differences),
		Addresses:    res.Set.Len(),
		Instructions: make([]entry, 0, len(res.Diffs)),
	}
	for _, d := range res.Diffs {
		doc.Instructions = append(doc.Instructions, entry{
			Offset:     hex(d.StartOffset()),
			Address:    hex(d.Address),
			NewAddress: hex(d.NewAddress),
			Old:        side{Start: hex(d.OldStart), Disasm: d.OldDisasm, Bytes: d.OldBytes},
			New:        side{Start: hex(d.NewStart), Disasm: d.NewDisasm, Bytes: d.NewBytes},
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// YAML writes one list item per instruction pair:
//
//	---
//	- offset: '0000764B'
//	  old: 'A1 18 2A 5D 00' # mov eax, [0x5d2a18]
//	  new: 'E8 20 6F 16 00' # call 0x56e570
func YAML(w io.Writer, res *align.Result) error {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, d := range res.Diffs {
		seq.Content = append(seq.Content, &yaml.Node{
			Kind: yaml.MappingNode,
			Content: []*yaml.Node{
				key("offset"), quoted(fmt.Sprintf("%08X", d.StartOffset()), ""),
				key("old"), quoted(d.OldBytes, d.OldDisasm),
				key("new"), quoted(d.NewBytes, d.NewDisasm),
			},
		})
	}
	if _, err := io.WriteString(w, "---\n"); err != nil {
		return err
	}
	if len(seq.Content) == 0 {
		_, err := io.WriteString(w, "[]\n")
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(seq); err != nil {
		return err
	}
	return enc.Close()
}

func key(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func quoted(s, comment string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s, Style: yaml.SingleQuotedStyle}
	if comment != "" {
		n.LineComment = "# " + comment
	}
	return n
}

// Text writes a compact listing, one block per instruction pair.
func Text(w io.Writer, res *align.Result, opts Options) error {
	paint := func(st interface{ Render(...string) string }, s string) string {
		if opts.Color {
			return st.Render(s)
		}
		return s
	}
	code := func(s string) string {
		if opts.Color {
			return colorize.Disasm(s, opts.Arch)
		}
		return s
	}

	for i, d := range res.Diffs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		head := fmt.Sprintf("%08X  %#x -> %#x", d.StartOffset(), d.OldStart, d.NewStart)
		if _, err := fmt.Fprintln(w, paint(styles.Address, head)); err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s %-24s %s\n", paint(styles.Removed, "-"), d.OldBytes, code(d.OldDisasm))
		fmt.Fprintf(w, "  %s %-24s %s\n", paint(styles.Added, "+"), d.NewBytes, code(d.NewDisasm))
	}
	return nil
}

// Markdown returns the report as a markdown document.
func Markdown(res *align.Result, opts Options) string {
	var b strings.Builder
	if opts.OldPath != "" || opts.NewPath != "" {
		fmt.Fprintf(&b, "# %s → %s\n\n", filepath.Base(opts.OldPath), filepath.Base(opts.NewPath))
	} else {
		b.WriteString("# Instruction diff\n\n")
	}
	fmt.Fprintf(&b, "**%d** differing bytes widened to **%d** addresses, **%d** instruction pairs.\n\n",
		len(res.Differences), res.Set.Len(), len(res.Diffs))

	for _, d := range res.Diffs {
		fmt.Fprintf(&b, "### `%08X` old `%#x` new `%#x`\n\n", d.StartOffset(), d.OldStart, d.NewStart)
		b.WriteString("```diff\n")
		fmt.Fprintf(&b, "- %-24s %s\n", d.OldBytes, d.OldDisasm)
		fmt.Fprintf(&b, "+ %-24s %s\n", d.NewBytes, d.NewDisasm)
		b.WriteString("```\n\n")
	}
	return b.String()
}

// Render renders markdown for a terminal of the given width.
func Render(md string, width int) (string, error) {
	r, err := styles.MarkdownRenderer(width)
	if err != nil {
		return "", fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return out, nil
}
