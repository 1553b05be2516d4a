package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/betterseqta/settings-go/internal/api"
	"github.com/betterseqta/settings-go/internal/auth"
	"github.com/betterseqta/settings-go/internal/events"
	"github.com/betterseqta/settings-go/internal/identity"
	"github.com/betterseqta/settings-go/internal/maintenance"
	"github.com/betterseqta/settings-go/internal/settings"
	"github.com/betterseqta/settings-go/internal/zeroconf"
)

const (
	shutdownTimeout  = 15 * time.Second
	rehydrateBackoff = 5 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the settings daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	store, err := a.openStore(ctx, true)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	unregister, err := bus.Attach(store.Store)
	if err != nil {
		return errors.Join(err, store.Close(context.Background()))
	}

	var authSvc *auth.Service
	if cfg.Auth.Enabled {
		authSvc, err = auth.NewService(cfg.DataDir)
		if err != nil {
			return errors.Join(fmt.Errorf("auth service: %w", err), store.Close(context.Background()))
		}
		defer authSvc.Close()
	}

	// Snapshot backups
	maint := maintenance.New(store, cfg.BackupDir(), cfg.Backup.Interval, cfg.Backup.Retain)

	router := api.NewRouter(store, authSvc, bus, maint, api.Info{Version: identity.Version(version), Backend: cfg.Backend})
	srv := &http.Server{
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
		// WriteTimeout stays 0 for SSE.
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen: %w", err), store.Close(context.Background()))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("settingsd listening", "addr", ln.Addr().String(), "backend", cfg.Backend, "data", cfg.DataDir)
		if a.onListen != nil {
			a.onListen(ln.Addr().String())
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return rehydrate(gctx, store.Store)
	})

	g.Go(func() error {
		maint.Start(gctx)
		return nil
	})

	if cfg.Zeroconf.Enabled {
		name := identity.InstanceName(cfg.Zeroconf.Name)
		zc := zeroconf.New(name, ln.Addr().(*net.TCPAddr).Port, identity.Version(version), cfg.Backend)
		g.Go(func() error {
			if err := zc.Start(gctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Closing the bus ends SSE streams so Shutdown does not wait on them.
		bus.Close()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("server shutdown error", "err", err)
		}
		return nil
	})

	runErr := g.Wait()
	unregister()

	// Flush pending writes
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	closeErr := store.Close(closeCtx)
	if closeErr != nil {
		slog.Warn("failed to flush settings", "err", closeErr)
	}

	slog.Info("shutdown complete")
	return errors.Join(runErr, closeErr)
}

// rehydrate retries the initial load until the store is ready.
func rehydrate(ctx context.Context, store *settings.Store) error {
	ticker := time.NewTicker(rehydrateBackoff)
	defer ticker.Stop()
	for {
		select {
		case <-store.Ready():
			slog.Info("settings loaded", "keys", store.Len())
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := store.Rehydrate(ctx); err != nil {
				slog.Debug("settings: rehydrate attempt failed", "err", err)
			}
		}
	}
}
