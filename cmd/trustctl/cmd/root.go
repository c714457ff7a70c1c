// Package cmd implements the trustctl operator CLI.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"trustmint/internal/platform/config"
	"trustmint/internal/platform/logger"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	okFmt   = color.New(color.FgGreen, color.Bold).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	keyFmt  = color.New(color.FgCyan).SprintFunc()
	dimFmt  = color.New(color.Faint).SprintFunc()
	warnFmt = color.New(color.FgYellow).SprintFunc()
)

type rootOptions struct {
	output  string
	verbose bool
}

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "trustctl",
		Short: "Operator tooling for the trustmint pipeline",
		Long: `trustctl talks to the ledger and to a running trustmint server.

It derives issuer addresses from seeds, performs one-off asset issuance,
and replays stored verification webhooks.`,
		Version:      Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, json, yaml")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log pipeline activity to stderr")

	root.AddCommand(
		newAddressCmd(opts),
		newIssueCmd(opts),
		newReplayCallbackCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// render writes data as json or yaml, or calls table for the default format.
func (o *rootOptions) render(w io.Writer, data any, table func(io.Writer)) error {
	switch o.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "table", "":
		table(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}
}

// logger discards below warn unless --verbose is set.
func (o *rootOptions) logger(cmd *cobra.Command, cfg config.LoggingConfig) *slog.Logger {
	cfg.Format = "text"
	if !o.verbose {
		cfg.Level = "warn"
	}
	return logger.NewWithWriter(cfg, cmd.ErrOrStderr())
}

func field(w io.Writer, name string, value any) {
	fmt.Fprintf(w, "%-14s %v\n", keyFmt(name+":"), value)
}
