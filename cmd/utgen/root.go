package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/martinemde/utgen/agentloop"
	"github.com/martinemde/utgen/config"
	"github.com/martinemde/utgen/knowledge"
)

// app carries what every command shares once the config is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// newModel builds the language model for a run. Tests replace it.
	newModel func(cfg *config.Config, logger *slog.Logger) (agentloop.Model, modelInfo, error)
}

func newApp() *app {
	return &app{
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		newModel: newLLMModel,
	}
}

func newRootCmd(a *app) *cobra.Command {
	var (
		cfgPath   string
		logLevel  string
		logFormat string
	)
	cmd := &cobra.Command{
		Use:           "utgen",
		Short:         "Generate firmware C unit tests with a tool-calling agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath, config.WithLogger(slog.New(slog.DiscardHandler)))
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if logFormat != "" {
				cfg.Log.Format = logFormat
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(cfg.Log, a.stderr)
			slog.SetDefault(a.logger)
			a.logger.Debug("utgen config loaded", slog.String("path", cfgPath))
			return nil
		},
	}
	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("UTGEN_CONFIG"), "config file (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json")

	cmd.AddCommand(
		runCmd(a),
		toolsCmd(a),
		treeCmd(a),
		symbolCmd(a),
		modelsCmd(a),
	)
	return cmd
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) loadStore() (*knowledge.Store, error) {
	k := a.cfg.Knowledge
	store, err := knowledge.Load(knowledge.Paths{
		BasePath:   k.BasePath,
		SourceFile: k.SourceFile,
		CTemplate:  k.CTemplate,
		HTemplate:  k.HTemplate,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("load knowledge: %w", err)
	}
	return store, nil
}
