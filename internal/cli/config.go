package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/visiontool/internal/config"
)

// ConfigValidation is the JSON payload of config validate.
type ConfigValidation struct {
	Valid bool   `json:"valid"`
	File  string `json:"file"`
	Error string `json:"error,omitempty"`
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate runtime configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML config against the schema",
		Long: `Decode a YAML config over the defaults and check it against the
embedded CUE schema without starting the runtime.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(rootOpts, args[0], cmd)
		},
	}
}

func runConfigValidate(opts *RootOptions, file string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	_, err := config.Load(file)
	if err != nil {
		if formatter.Format == "json" {
			_ = formatter.Error(ErrCodeConfig, err.Error(), ConfigValidation{File: file, Error: err.Error()})
		} else {
			fmt.Fprintln(formatter.Writer, "✗ Config invalid")
			fmt.Fprintf(formatter.Writer, "  %v\n", err)
		}
		return NewExitError(ExitFailure, "config invalid")
	}

	if formatter.Format == "json" {
		return formatter.Success(ConfigValidation{Valid: true, File: file})
	}
	fmt.Fprintln(formatter.Writer, "✓ Config valid")
	return nil
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show [file]",
		Short:         "Print the effective config (defaults merged with file)",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 1 {
				file = args[0]
			}
			return runConfigShow(rootOpts, file, cmd)
		},
	}
}

func runConfigShow(opts *RootOptions, file string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := config.Load(file)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(cfg)
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to render config", err)
	}
	_, err = formatter.Writer.Write(out)
	return err
}
