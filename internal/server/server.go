package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"verichat/internal/logger"
)

type Options struct {
	Port            int
	TLSCertFile     string
	TLSKeyFile      string
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

func NewHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run serves handler until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, opts Options, handler http.Handler) error {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	log := logger.OrNop(opts.Logger)
	srv := NewHTTPServer(opts.Port, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.Bool("tls", opts.TLSCertFile != ""))
		var err error
		if opts.TLSCertFile != "" && opts.TLSKeyFile != "" {
			err = srv.ListenAndServeTLS(opts.TLSCertFile, opts.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down", zap.String("addr", srv.Addr))
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
