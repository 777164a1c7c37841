package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alextanhongpin/mab/ab/banditapi"
	"github.com/alextanhongpin/mab/ab/experiment"
	"github.com/alextanhongpin/mab/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured experiments over http",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	store, closeStore, err := openStore(ctx, a.cfg.Storage, a.logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry, err := experiment.New(ctx, store,
		experiment.WithLogger(a.logger),
		experiment.WithMetrics(experiment.NewMetrics(reg)),
		experiment.WithAutosave(a.cfg.Policies()...),
	)
	if err != nil {
		return err
	}

	if err := a.addExperiments(registry); err != nil {
		return errors.Join(err, registry.Close(context.WithoutCancel(ctx)))
	}

	mux := http.NewServeMux()
	if path := a.cfg.Server.MetricsPath; path != "" {
		mux.Handle("GET "+path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	mux.Handle("/", banditapi.New(registry, a.logger))

	var opts []server.Option
	if t := a.cfg.Server.WriteTimeout; t > 0 {
		opts = append(opts, server.WriteTimeout(t))
	}
	if n := a.cfg.Server.MaxBytes; n > 0 {
		opts = append(opts, server.MaxBytes(n))
	}

	a.logger.InfoContext(ctx, "serving experiments",
		slog.String("storage", a.cfg.Storage.Driver),
		slog.Any("experiments", registry.Names()),
	)

	runErr := server.Run(ctx, a.logger, server.New(a.cfg.Server.Addr, mux, opts...))
	closeErr := registry.Close(context.WithoutCancel(ctx))

	return errors.Join(runErr, closeErr)
}

func (a *app) addExperiments(registry *experiment.Registry) error {
	for _, e := range a.cfg.Experiments {
		b, err := e.Bandit()
		if err != nil {
			return err
		}
		if err := registry.Add(e.Name, b); err != nil {
			return fmt.Errorf("experiment %q: %w", e.Name, err)
		}
	}

	return nil
}
