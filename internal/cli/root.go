package cli

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the visiontool CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "visiontool",
		Short: "On-device vision request runtime",
		Long: `visiontool serves face recognition and object detection requests
over a serial line, one newline-delimited JSON request at a time.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return lo.Contains(ValidFormats, format)
}
