package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/swarm-governor/internal/console/server"
	"github.com/xela07ax/swarm-governor/internal/console/service"
	"github.com/xela07ax/swarm-governor/internal/engine"
	"github.com/xela07ax/swarm-governor/internal/infra"
	"github.com/xela07ax/swarm-governor/internal/infra/auth"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the console API, heartbeat loop and document watchers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, func(a *app) error { return serve(ctx, a) })
	},
}

func serve(ctx context.Context, a *app) error {
	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		return fmt.Errorf("console auth: %w", err)
	}
	gov := service.NewGovernorService(a.gov, logger)
	authSvc := service.NewAuthService(service.NewStaticOperators(cfg.Auth.Operators), privateKey, cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.NewConsoleServer(logger, authSvc, gov),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("console listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		msrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return msrv.Shutdown(shutdownCtx)
		})
	}

	if interval := cfg.Engine.HeartbeatInterval; interval > 0 {
		g.Go(func() error {
			runHeartbeatLoop(gctx, a.gov.Heartbeat, interval)
			return nil
		})
	}

	docs := map[string]infra.ReloadFunc{
		filepath.Base(a.gov.Autonomy.Path()): a.gov.Autonomy.Reload,
		filepath.Base(a.gov.Router.Path()):   a.gov.Router.Reload,
	}
	if a.rdb != nil {
		reload := engine.ReloadHandler(docs, logger.Named("reload"))
		g.Go(func() error {
			engine.ListenResilient(gctx, a.rdb, logger, infra.RedisChanDocumentsReload,
				func() error { reload("all"); return nil },
				reload)
			return nil
		})
	}
	if cfg.Workspace.Watch {
		g.Go(func() error {
			if err := infra.WatchDocuments(gctx, cfg.Workspace.Path, docs, logger); err != nil {
				// без наблюдателя правила перечитываются по сигналу Redis
				logger.Warn("document watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	err = g.Wait()
	logger.Info("governor stopped")
	return err
}

func runHeartbeatLoop(ctx context.Context, hb *engine.Heartbeat, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp := hb.RunPeriodicCheck(ctx)
			if !resp.Success {
				logger.Warn("heartbeat run failed", zap.String("error", resp.Error))
			}
		}
	}
}
