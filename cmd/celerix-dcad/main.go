package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/celerix-dev/celerix-dca/internal/api"
	"github.com/celerix-dev/celerix-dca/internal/config"
	"github.com/celerix-dev/celerix-dca/internal/engine"
	"github.com/celerix-dev/celerix-dca/internal/logging"
	"github.com/celerix-dev/celerix-dca/internal/metrics"
	"github.com/celerix-dev/celerix-dca/internal/server"
	"github.com/celerix-dev/celerix-dca/internal/vault"
	"github.com/celerix-dev/celerix-dca/pkg/sdk"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewRecorder()
	opts := append(cfg.EngineOptions(), engine.WithLogger(logger), engine.WithMetricsRecorder(recorder))

	if cfg.Store.Persist {
		persister, err := engine.NewPersistence(cfg.Store.DataDir, cfg.Store.Key)
		if err != nil {
			return fmt.Errorf("initialize persistence: %w", err)
		}
		snap, err := persister.Load()
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		opts = append(opts, engine.WithSnapshot(snap), engine.WithPersistence(persister))
		logger.Info("snapshot loaded", "path", persister.Path(), "revision", snap.Revision,
			"cases", len(snap.Cases), "audit_entries", len(snap.Audit), "encrypted", cfg.Store.Key != nil)
	}

	portfolio := sdk.WrapEngine(engine.New(opts...))

	router := server.NewRouter(portfolio, server.WithLogger(logger), server.WithMaxConns(cfg.Server.MaxConns))
	if !cfg.Server.DisableTLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			return fmt.Errorf("generate TLS certificate: %w", err)
		}
		router.SetCertificate(cert)
	} else {
		logger.Warn("TLS disabled for the TCP listener (CELERIX_DISABLE_TLS=true)")
	}

	gin.SetMode(gin.ReleaseMode)
	h := &api.Handler{Portfolio: portfolio, Metrics: recorder, Logger: logger}
	httpServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort)),
		Handler: api.NewRouter(h, cfg.Server.CORSOrigins),
	}
	tcpAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.TCPPort))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listener started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := router.Listen(tcpAddr); err != nil {
			return fmt.Errorf("tcp server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down, finalizing disk writes")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if stopErr := router.Stop(); err == nil {
			err = stopErr
		}
		return err
	})

	err := g.Wait()
	portfolio.Close() // flush pending snapshot writes
	logger.Info("persistence complete, exiting")
	return err
}
