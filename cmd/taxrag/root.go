package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"taxrag/internal/config"
	"taxrag/internal/logging"
	"taxrag/internal/tracing"
)

var version = "dev"

// runtime carries what every subcommand needs after flags are parsed.
type runtime struct {
	cfgPath  string
	logLevel string

	cfg      *config.AppConfig
	log      *slog.Logger
	shutdown tracing.Shutdown

	setupTracing func(context.Context, tracing.Config) (tracing.Shutdown, error)
}

func newRuntime() *runtime {
	return &runtime{setupTracing: tracing.Setup}
}

func rootCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "taxrag",
		Short:        "Answer tax and finance questions from a local document corpus",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.setup(cmd.Context())
		},
	}
	cmd.PersistentFlags().StringVar(&rt.cfgPath, "config", "", "path to YAML config (default ./config.yaml or ~/.config/taxrag/config.yaml)")
	cmd.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	cmd.AddCommand(indexCmd(rt), chatCmd(rt), askCmd(rt))
	return cmd
}

func (rt *runtime) setup(ctx context.Context) error {
	_ = godotenv.Load()

	var err error
	if rt.cfgPath == "" {
		rt.cfg, _, err = config.LoadDefault()
	} else {
		rt.cfg, err = config.Load(rt.cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if rt.logLevel != "" {
		rt.cfg.Log.Level = rt.logLevel
	}
	rt.log, err = logging.New(os.Stderr, logging.Options{Level: rt.cfg.Log.Level, Format: rt.cfg.Log.Format})
	if err != nil {
		return err
	}
	slog.SetDefault(rt.log)

	rt.shutdown, err = rt.setupTracing(ctx, tracing.Config{
		Endpoint:    rt.cfg.Tracing.Endpoint,
		Insecure:    rt.cfg.Tracing.Insecure,
		ServiceName: rt.cfg.Tracing.ServiceName,
		Version:     version,
	})
	return err
}

// execute runs cmd and then flushes the trace exporter, also when the
// command failed.
func (rt *runtime) execute(cmd *cobra.Command) error {
	err := cmd.Execute()
	if rt.shutdown != nil {
		if serr := rt.shutdown(context.Background()); serr != nil && rt.log != nil {
			rt.log.Warn("tracing shutdown failed", "error", serr)
		}
		rt.shutdown = nil
	}
	return err
}

// corpusDir returns the flag value when set, else the configured corpus.
func (rt *runtime) corpusDir(flag string) string {
	if flag != "" {
		return flag
	}
	return rt.cfg.Corpus.Dir
}
