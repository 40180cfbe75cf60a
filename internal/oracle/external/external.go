// Package external drives an out-of-process analysis tool (for example an
// IDA Pro script runner) through request/response files.
//
// Every call removes stale exchange files, writes the request, runs the
// configured command against the binary's database, and reads the response.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/nxadm/tail"

	"patchdiff/internal/oracle"
	"patchdiff/internal/record"
)

// DefaultCommand runs IDA in autonomous mode with a script.
var DefaultCommand = []string{"idat", "-A", "-S{script}", "{database}"}

// Default exchange file names.
const (
	DefaultRequest  = "tmp-to-ida.csv"
	DefaultResponse = "tmp-from-ida.csv"
)

// Scripts names the oracle-side script for each operation.
type Scripts struct {
	Addresses    string `json:"addresses" jsonschema:"description=Script mapping file offsets to addresses"`
	Bytes        string `json:"bytes" jsonschema:"description=Script reporting the byte at each address"`
	Instructions string `json:"instructions" jsonschema:"description=Script resolving instructions at each address"`
}

// Config describes how to reach the external tool.
type Config struct {
	// Command is the argv template. Placeholders: {script} {database}
	// {request} {response} {workdir}.
	Command     []string `json:"command,omitempty" jsonschema:"description=Command template"`
	OldDatabase string   `json:"oldDatabase" jsonschema:"description=Analysis database of the old binary"`
	NewDatabase string   `json:"newDatabase" jsonschema:"description=Analysis database of the new binary"`
	Scripts     Scripts  `json:"scripts"`
	WorkDir     string   `json:"workDir,omitempty" jsonschema:"description=Directory holding the exchange files"`
	Request     string   `json:"request,omitempty"`
	Response    string   `json:"response,omitempty"`
	// LogFile is the tool's redirected stdout, streamed into the log while the tool runs.
	LogFile string `json:"logFile,omitempty"`
	// BadAddr is the value the tool reports for unmapped offsets.
	BadAddr uint64 `json:"badAddr,omitempty"`
}

func (c Config) withDefaults() Config {
	if len(c.Command) == 0 {
		c.Command = DefaultCommand
	}
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.Request == "" {
		c.Request = DefaultRequest
	}
	if c.Response == "" {
		c.Response = DefaultResponse
	}
	if c.BadAddr == 0 {
		c.BadAddr = math.MaxUint64
	}
	return c
}

func (c Config) database(bin oracle.Binary) string {
	if bin == oracle.Old {
		return c.OldDatabase
	}
	return c.NewDatabase
}

// Runner executes the expanded command.
type Runner interface {
	Run(ctx context.Context, argv []string, dir string) error
}

// ExecRunner runs the command as a child process.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, argv []string, dir string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(out.String()))
	}
	return nil
}

// Oracle opens sessions bound to one analysis database each.
type Oracle struct {
	cfg    Config
	runner Runner
	logger *log.Logger
}

// New returns an external oracle. A nil runner means ExecRunner and a nil
// logger discards output.
func New(cfg Config, runner Runner, logger *log.Logger) *Oracle {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Oracle{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

func (o *Oracle) Open(ctx context.Context, bin oracle.Binary) (oracle.Session, error) {
	db := o.cfg.database(bin)
	if db == "" {
		return nil, fmt.Errorf("external oracle: no %s database configured", bin)
	}
	abs, err := filepath.Abs(db)
	if err != nil {
		return nil, fmt.Errorf("external oracle: %w", err)
	}
	return &session{o: o, bin: bin, db: abs}, nil
}

type session struct {
	o   *Oracle
	bin oracle.Binary
	db  string
}

func (s *session) Binary() oracle.Binary { return s.bin }

func (s *session) Close() error { return nil }

func (s *session) path(name string) string {
	return filepath.Join(s.o.cfg.WorkDir, name)
}

func (s *session) Addresses(ctx context.Context, offsets []uint64) ([]uint64, error) {
	var rows []record.OffsetAddress
	err := s.call(ctx, "addresses", s.o.cfg.Scripts.Addresses,
		func(w io.Writer) error { return record.WriteOffsets(w, offsets) },
		func(r io.Reader) (err error) { rows, err = record.ReadAddressMap(r); return err })
	if err != nil {
		return nil, err
	}
	if err := oracle.CheckCount("addresses", len(offsets), len(rows)); err != nil {
		return nil, err
	}

	out := make([]uint64, len(rows))
	for i, row := range rows {
		if row.Offset != offsets[i] {
			return nil, fmt.Errorf("external oracle: response row %d is for offset %d, requested %d", i+1, row.Offset, offsets[i])
		}
		out[i] = row.Address
		if row.Address == s.o.cfg.BadAddr {
			out[i] = oracle.Unmapped
		}
	}
	return out, nil
}

func (s *session) Bytes(ctx context.Context, addrs []uint64) ([]byte, error) {
	var rows []record.ByteValue
	err := s.call(ctx, "bytes", s.o.cfg.Scripts.Bytes,
		func(w io.Writer) error { return record.WriteAddresses(w, addrs) },
		func(r io.Reader) (err error) { rows, err = record.ReadByteValues(r); return err })
	if err != nil {
		return nil, err
	}
	if err := oracle.CheckCount("bytes", len(addrs), len(rows)); err != nil {
		return nil, err
	}

	out := make([]byte, len(rows))
	for i, row := range rows {
		if row.Address != addrs[i] {
			return nil, fmt.Errorf("external oracle: response row %d is for address %d, requested %d", i+1, row.Address, addrs[i])
		}
		out[i] = row.Byte
	}
	return out, nil
}

func (s *session) Instructions(ctx context.Context, addrs []uint64) ([]oracle.Instruction, error) {
	var rows []record.Instruction
	err := s.call(ctx, "instructions", s.o.cfg.Scripts.Instructions,
		func(w io.Writer) error { return record.WriteAddresses(w, addrs) },
		func(r io.Reader) (err error) { rows, err = record.ReadInstructions(r); return err })
	if err != nil {
		return nil, err
	}
	if err := oracle.CheckCount("instructions", len(addrs), len(rows)); err != nil {
		return nil, err
	}

	out := make([]oracle.Instruction, len(rows))
	for i, row := range rows {
		if row.Address != addrs[i] {
			return nil, fmt.Errorf("external oracle: response row %d is for address %d, requested %d", i+1, row.Address, addrs[i])
		}
		raw, _ := record.ParseHex(row.Bytes) // validated by ReadInstructions
		end := row.Start + uint64(len(raw))
		if len(raw) == 0 {
			end = row.Start + 1
		}
		if row.Address < row.Start || row.Address >= end {
			return nil, fmt.Errorf("external oracle: address %#x outside its instruction [%#x,%#x)", row.Address, row.Start, end)
		}
		out[i] = oracle.Instruction{
			Address:  row.Address,
			Offset:   row.Offset,
			Boundary: oracle.Boundary{Start: row.Start, End: end},
			Disasm:   row.Disasm,
			Bytes:    raw,
		}
	}
	return out, nil
}

// call performs one request/response round trip.
func (s *session) call(ctx context.Context, op, script string, write func(io.Writer) error, read func(io.Reader) error) error {
	if script == "" {
		return fmt.Errorf("external oracle: no script configured for %s", op)
	}
	cfg := s.o.cfg
	reqPath, respPath := s.path(cfg.Request), s.path(cfg.Response)

	// Leftovers from a previous call must never be read as this call's answer.
	for _, p := range []string{reqPath, respPath, s.logPath()} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("external oracle: clear %s: %w", p, err)
		}
	}

	if err := writeFile(reqPath, write); err != nil {
		return fmt.Errorf("external oracle: write %s request: %w", op, err)
	}

	scriptPath, err := filepath.Abs(script)
	if err != nil {
		return fmt.Errorf("external oracle: %w", err)
	}
	argv := expand(cfg.Command, map[string]string{
		"{script}":   scriptPath,
		"{database}": s.db,
		"{request}":  reqPath,
		"{response}": respPath,
		"{workdir}":  cfg.WorkDir,
	})

	s.o.logger.Debug("Calling oracle", "op", op, "binary", s.bin, "argv", argv)
	stop := s.follow()
	runErr := s.o.runner.Run(ctx, argv, cfg.WorkDir)
	stop()
	if runErr != nil {
		return fmt.Errorf("external oracle: %s on %s: %w", op, s.bin, runErr)
	}

	f, err := os.Open(respPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("external oracle: %s on %s produced no response", op, s.bin)
	}
	if err != nil {
		return fmt.Errorf("external oracle: %w", err)
	}
	defer f.Close()

	if err := read(f); err != nil {
		return fmt.Errorf("external oracle: %s response: %w", op, err)
	}
	return nil
}

func (s *session) logPath() string {
	if s.o.cfg.LogFile == "" {
		return ""
	}
	return s.path(s.o.cfg.LogFile)
}

// follow streams the tool's log file into the logger until the returned
// function is called. Lines the tailer had not delivered yet are read from
// the file afterwards so nothing is lost.
func (s *session) follow() func() {
	p := s.logPath()
	if p == "" {
		return func() {}
	}

	t, err := tail.TailFile(p, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Poll:      true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		s.o.logger.Warn("Cannot follow oracle log", "file", p, "error", err)
		return func() {}
	}

	seen := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for line := range t.Lines {
			if line.Err != nil {
				continue
			}
			seen++
			s.o.logger.Info(line.Text, "binary", s.bin)
		}
	}()

	return func() {
		_ = t.Stop()
		<-done
		t.Cleanup()

		data, err := os.ReadFile(p)
		if err != nil {
			return
		}
		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		for i := seen; i < len(lines); i++ {
			if lines[i] != "" {
				s.o.logger.Info(lines[i], "binary", s.bin)
			}
		}
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func expand(template []string, vars map[string]string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		for k, v := range vars {
			arg = strings.ReplaceAll(arg, k, v)
		}
		out[i] = arg
	}
	return out
}
