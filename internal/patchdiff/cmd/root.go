package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	charmlog "github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"patchdiff/internal/align"
	"patchdiff/internal/bytediff"
	"patchdiff/internal/config"
	"patchdiff/internal/disasm"
	"patchdiff/internal/logging"
	"patchdiff/internal/oracle"
	"patchdiff/internal/oracle/external"
	"patchdiff/internal/oracle/native"
	"patchdiff/internal/patchdiff/log"
	"patchdiff/internal/record"
	"patchdiff/internal/report"
	"patchdiff/internal/ui/colorize"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("config", "", "Config file (default $PATCHDIFF_CONFIG)")
	rootCmd.PersistentFlags().String("cmp", "", "Use this cmp binary instead of comparing in-process")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Print the report instead of opening the viewer")
	rootCmd.Flags().StringP("format", "f", "", "Report format: text, json, yaml, markdown")
	rootCmd.Flags().String("oracle", "", "Analysis backend: native or external")
	rootCmd.Flags().String("arch", "", "Decoder architecture when the header does not name one: x86, x86-64, arm64")
	rootCmd.Flags().Int("max-passes", 0, "Upper bound on extension passes")
	rootCmd.Flags().StringP("addresses", "a", "", "Write the extended address set to this file")

	rootCmd.AddCommand(cmpCmd)
}

var rootCmd = &cobra.Command{
	Use:   "patchdiff [old] [new]",
	Short: "Instruction-level diff of two builds of a binary",
	Long: `Patchdiff compares two builds of an executable that share a file layout,
widens every differing byte to the whole instructions it falls in, in both
builds, and reports the old and new instructions side by side.`,
	Example: `
# Review a patch interactively
patchdiff game.exe game-patched.exe

# Emit YAML chunks for a patch file
patchdiff -n -f yaml game.exe game-patched.exe > offsets.yml

# Ask IDA instead of the built-in disassembler
patchdiff --oracle external --config ida.json game.exe game-patched.exe
  `,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ResolveCwd(cmd); err != nil {
			return err
		}
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		log.Setup("", settings.Debug)

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		interactive := !noTUI && term.IsTerminal(os.Stdout.Fd())

		lg := newLogger(settings.Debug, interactive)
		defer lg.Close()

		p, err := newPipeline(settings, args[0], args[1], lg.Logger)
		if err != nil {
			return err
		}
		format, err := report.ParseFormat(settings.Format)
		if err != nil {
			return err
		}
		opts := report.Options{
			OldPath: args[0],
			NewPath: args[1],
			Arch:    settings.Arch,
			Color:   term.IsTerminal(os.Stdout.Fd()) && colorize.Enabled(),
		}
		addrFile, _ := cmd.Flags().GetString("addresses")

		if interactive {
			slog.Debug("Starting viewer", "old", args[0], "new", args[1])
			program := tea.NewProgram(
				newModel(cmd.Context(), p, args[0], args[1], opts),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			)
			final, err := program.Run()
			if err != nil {
				return fmt.Errorf("TUI error: %v", err)
			}
			m := final.(model)
			if m.err != nil && !errors.Is(m.err, align.ErrIdentical) {
				return m.err
			}
			if m.result != nil && addrFile != "" {
				return writeAddresses(addrFile, m.result)
			}
			return nil
		}

		res, err := p.Run(cmd.Context(), args[0], args[1])
		if errors.Is(err, align.ErrIdentical) {
			fmt.Fprintln(cmd.OutOrStdout(), "files are identical")
			return nil
		}
		if err != nil {
			return err
		}
		if addrFile != "" {
			if err := writeAddresses(addrFile, res); err != nil {
				return err
			}
		}
		return report.Write(cmd.OutOrStdout(), format, res, opts)
	},
}

// loadSettings merges the config file with explicitly set flags.
func loadSettings(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("cmp") {
		cfg.Cmp, _ = flags.GetString("cmp")
	}
	if flags.Changed("format") {
		cfg.Format, _ = flags.GetString("format")
	}
	if flags.Changed("oracle") {
		cfg.Oracle, _ = flags.GetString("oracle")
	}
	if flags.Changed("arch") {
		cfg.Arch, _ = flags.GetString("arch")
	}
	if flags.Changed("max-passes") {
		cfg.MaxPasses, _ = flags.GetInt("max-passes")
	}
	return cfg, cfg.Validate()
}

// newLogger returns the pipeline logger. The viewer owns the terminal, so
// interactive runs only log when PATCHDIFF_LOG_TO_FILE is set.
func newLogger(debug, interactive bool) *logging.LoggerCloser {
	var lg *logging.LoggerCloser
	if interactive && os.Getenv("PATCHDIFF_LOG_TO_FILE") != "1" {
		lg = logging.NewLoggerWithWriter(io.Discard)
	} else {
		lg = logging.NewLogger()
	}
	if debug {
		lg.SetLevel(charmlog.DebugLevel)
	}
	return lg
}

func newComparator(cfg config.Config) bytediff.Comparator {
	if cfg.Cmp != "" {
		return bytediff.CmpTool{Path: cfg.Cmp}
	}
	return bytediff.Native{}
}

func newOracle(cfg config.Config, oldPath, newPath string, lg *charmlog.Logger) (oracle.Oracle, error) {
	switch cfg.Oracle {
	case "", "native":
		opts := []native.Option{native.WithLogger(lg)}
		if cfg.Arch != "" {
			arch, err := disasm.ParseArch(cfg.Arch)
			if err != nil {
				return nil, err
			}
			opts = append(opts, native.WithArch(arch))
		}
		return native.New(oldPath, newPath, opts...), nil
	case "external":
		return external.New(cfg.External, nil, lg), nil
	default:
		return nil, fmt.Errorf("unknown oracle %q", cfg.Oracle)
	}
}

func newPipeline(cfg config.Config, oldPath, newPath string, lg *charmlog.Logger) (*align.Pipeline, error) {
	o, err := newOracle(cfg, oldPath, newPath, lg)
	if err != nil {
		return nil, err
	}
	return &align.Pipeline{
		Comparator: newComparator(cfg),
		Oracle:     o,
		MaxPasses:  cfg.MaxPasses,
		Logger:     lg,
	}, nil
}

func writeAddresses(path string, res *align.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create address list: %w", err)
	}
	if err := record.WriteAddressList(f, res.Set.Addrs); err != nil {
		f.Close()
		return fmt.Errorf("failed to write address list: %w", err)
	}
	return f.Close()
}

func Execute() {
	// fang renders help and errors for terminals; plain cobra keeps piped
	// output and --no-tui runs free of styling.
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" {
			noTUI = true
			break
		}
	}
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}
