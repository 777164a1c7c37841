package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alextanhongpin/mab/config"
	"github.com/alextanhongpin/mab/internal/logging"
)

type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mab",
		Short:         "Multi-armed bandit experiments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./config.yaml)")

	cmd.AddCommand(
		newServeCmd(a),
		newSimulateCmd(a),
		newInspectCmd(a),
	)

	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.New(cfg.Log, a.stderr)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.closeLog = closeLog
	slog.SetDefault(logger)

	return nil
}

func (a *app) close() {
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}
