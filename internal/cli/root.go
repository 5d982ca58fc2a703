// Package cli implements the intelpipe command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"intelpipe/internal/config"
	"intelpipe/internal/pipeline"
	"intelpipe/internal/reportstore"
	"intelpipe/internal/warehouse"
)

// NewRootCmd builds the command tree. Flags can also be set through
// INTELPIPE_-prefixed environment variables.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("INTELPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "intelpipe",
		Short:         "Collect, analyze and report threat intelligence indicators",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "pipeline config file (YAML)")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("log-format", "text", "text or json")
	_ = v.BindPFlags(flags)
	_ = v.BindEnv("log-level", "INTELPIPE_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log-format", "INTELPIPE_LOG_FORMAT", "LOG_FORMAT")
	_ = v.BindEnv("config", "INTELPIPE_CONFIG", "IP_CONFIG")

	root.AddCommand(
		newServeCmd(v),
		newCollectCmd(v),
		newScheduleCmd(v),
		newShowCmd(v),
		newSourcesCmd(v),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(w io.Writer, level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// env bundles what every command that touches the pipeline needs.
type env struct {
	cfg       *config.Config
	store     reportstore.Store
	warehouse warehouse.Writer
}

func loadEnv(ctx context.Context, v *viper.Viper) (*env, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	store, err := reportstore.New(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}
	wh, err := warehouse.New(ctx, cfg.Warehouse)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	return &env{cfg: cfg, store: store, warehouse: wh}, nil
}

func (e *env) runner() (*pipeline.Runner, error) {
	var opts []pipeline.Option
	if e.warehouse != nil {
		opts = append(opts, pipeline.WithWarehouse(e.warehouse))
	}
	return pipeline.New(e.cfg, e.store, opts...)
}

func (e *env) Close() {
	if c, ok := e.warehouse.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("closing warehouse", "err", err)
		}
	}
}
