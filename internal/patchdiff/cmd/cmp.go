package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"patchdiff/internal/bytediff"
	"patchdiff/internal/record"
)

var cmpCmd = &cobra.Command{
	Use:   "cmp [old] [new]",
	Short: "Print the byte differences only",
	Long: `Compare two files byte by byte and print the differences in cmp -l form
(1-based byte number, old and new byte in octal), or grouped into runs of
consecutive offsets with --chunks.`,
	Example: `
# Same output as cmp -l
patchdiff cmp old.exe new.exe

# Runs of consecutive differing bytes
patchdiff cmp --chunks old.exe new.exe
  `,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		diffs, err := newComparator(settings).Compare(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("compare: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(diffs) == 0 {
			fmt.Fprintln(out, "files are identical")
			return nil
		}

		chunks, _ := cmd.Flags().GetBool("chunks")
		if !chunks {
			return bytediff.Format(out, diffs)
		}
		for _, c := range bytediff.Chunks(diffs) {
			fmt.Fprintf(out, "%08X  %s -> %s\n", c.Offset, record.FormatHex(c.Old), record.FormatHex(c.New))
		}
		return nil
	},
}

func init() {
	cmpCmd.Flags().Bool("chunks", false, "Group consecutive differences")
}
