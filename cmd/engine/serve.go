package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/tradesim/internal/api"
	"github.com/evetabi/tradesim/internal/backoffice"
	rediscache "github.com/evetabi/tradesim/internal/cache/redis"
	"github.com/evetabi/tradesim/internal/scheduler"
	"github.com/evetabi/tradesim/internal/ws"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var withBackoffice bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tick loops, dashboard API and WebSocket hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx, withBackoffice)
		},
	}
	cmd.Flags().BoolVar(&withBackoffice, "backoffice", true, "also serve the admin API on the backoffice port")
	return cmd
}

// serve runs every long-lived component until ctx is cancelled or one of
// them fails.
func (a *app) serve(ctx context.Context, withBackoffice bool) error {
	cfg := a.cfg
	a.logger.Info("starting engine", "env", cfg.Server.Env, "port", cfg.Server.Port)

	hub := ws.NewHub(a.auth, cfg.Server.AllowedOrigins, a.logger)
	a.notifier.AddSender(hub)
	a.posSvc.SetBroadcaster(hub)

	sched := scheduler.NewScheduler(a.posSvc, a.targetSvc, cfg.Engine, a.logger)
	if a.redis != nil {
		sched.SetLockManager(rediscache.NewLockManager(a.redis))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return a.notifier.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })

	router := api.SetupRouter(api.RouterDeps{
		AuthSvc:     a.auth,
		PositionSvc: a.posSvc,
		TargetSvc:   a.targetSvc,
		AccountRepo: a.accounts,
		HistoryRepo: a.history,
		Hub:         hub,
		Cfg:         cfg,
	})
	a.runHTTP(ctx, g, "api", cfg.Server.Port, router)

	if withBackoffice {
		admin := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
			AuthSvc:     a.auth,
			PositionSvc: a.posSvc,
			TargetSvc:   a.targetSvc,
			Ledger:      a.ledger,
			PriceSrc:    a.prices,
			AccountRepo: a.accounts,
			HistoryRepo: a.history,
			Hub:         hub,
			Notifier:    a.notifier,
			Cfg:         cfg,
		})
		a.runHTTP(ctx, g, "backoffice", cfg.Server.BackofficePort, admin)
	}

	err := g.Wait()
	a.logger.Info("engine stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runHTTP serves h on port inside g and shuts it down gracefully once ctx
// is done.
func (a *app) runHTTP(ctx context.Context, g *errgroup.Group, name, port string, h http.Handler) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("http server listening", "server", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down http server", "server", name)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
