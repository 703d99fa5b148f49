// Package cli implements the recall command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/recall/internal/app"
	"github.com/harun/recall/internal/config"
	"github.com/harun/recall/internal/logger"
	"github.com/harun/recall/internal/tracing"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

const tracerName = "recall.cli"

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	cfgFile  string
	logLevel string
}

// NewRootCmd builds the command tree. Each call returns an independent tree
// so flag values never leak between invocations.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "recall",
		Short: "Recall - tiered memory store with hybrid search",
		Long: `Recall stores JSON documents across a hierarchy of memory tiers
(in-process, Redis, SQLite) plus a sqlite-vec semantic layer, and answers
queries by fusing keyword and semantic matches into one ranked list.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/.recall/recall.json)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error), overrides the config file")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(
		newPutCmd(opts),
		newGetCmd(opts),
		newUpdateCmd(opts),
		newDeleteCmd(opts),
		newClearCmd(opts),
		newTTLCmd(opts),
		newPromoteCmd(opts),
		newDemoteCmd(opts),
		newSearchCmd(opts),
		newStatsCmd(opts),
		newWatchCmd(opts),
	)

	return rootCmd
}

// Execute runs the command line with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config file and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		if err := config.NewValidator().ValidateLogLevel(o.logLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = o.logLevel
	}
	return cfg, nil
}

// run builds the application, runs fn inside a request context and a span
// named after the command, and closes everything afterwards.
func (o *globalOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	return runWithConfig(cmd, cfg, fn)
}

func runWithConfig(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, a *app.App) error) (err error) {
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	ctx := tracing.NewRequestContext(cmd.Context(), cmd.Name())

	a, err := app.Build(ctx, cfg, log.Zerolog())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx, span := tracing.StartSpan(ctx, tracerName, "cli."+cmd.Name())
	err = fn(ctx, a)
	tracing.EndSpan(span, err)

	if err != nil {
		l := tracing.LoggerFromContext(ctx, log.Zerolog())
		l.Debug().Err(err).Msg("Command failed")
	}
	return err
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
