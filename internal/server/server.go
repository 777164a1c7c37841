// Package server runs http servers until their context is done.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	readTimeout       = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type Option interface {
	Apply(s *http.Server)
}

type WriteTimeout time.Duration

func (r WriteTimeout) Apply(s *http.Server) {
	s.WriteTimeout = time.Duration(r)
}

type ReadTimeout time.Duration

func (r ReadTimeout) Apply(s *http.Server) {
	s.ReadTimeout = time.Duration(r)
}

type MaxBytes int64

func (r MaxBytes) Apply(s *http.Server) {
	s.Handler = http.MaxBytesHandler(s.Handler, int64(r))
}

// New returns a server with the default timeouts.
func New(addr string, handler http.Handler, opts ...Option) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		Handler:           handler,
	}
	for _, o := range opts {
		o.Apply(srv)
	}

	return srv
}

// Run serves until ctx is done or a server fails to start, then shuts every
// server down gracefully. The startup error, if any, is returned.
func Run(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	if logger == nil {
		logger = slog.Default()
	}

	errc := make(chan error, len(servers))

	var wg sync.WaitGroup
	for _, srv := range servers {
		if srv.BaseContext == nil {
			// Requests keep their context while draining.
			base := context.WithoutCancel(ctx)
			srv.BaseContext = func(_ net.Listener) context.Context {
				return base
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			logger.InfoContext(ctx, "server started", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "server failed",
					slog.String("addr", srv.Addr),
					slog.String("err", err.Error()),
				)
				errc <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WarnContext(shutdownCtx, "server shutdown failed",
				slog.String("addr", srv.Addr),
				slog.String("err", err.Error()),
			)
		}
	}
	wg.Wait()

	logger.InfoContext(shutdownCtx, "server stopped")
	return err
}
