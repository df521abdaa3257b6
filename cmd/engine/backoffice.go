package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/evetabi/tradesim/internal/backoffice"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newBackofficeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backoffice",
		Short: "Run only the admin API",
		Long: `backoffice serves the admin API without the tick loops. Closes and
adjustments still go through the ledger writer and are announced through the
configured notification senders.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.notifier.Run(gctx) })

			admin := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
				AuthSvc:     a.auth,
				PositionSvc: a.posSvc,
				TargetSvc:   a.targetSvc,
				Ledger:      a.ledger,
				PriceSrc:    a.prices,
				AccountRepo: a.accounts,
				HistoryRepo: a.history,
				Notifier:    a.notifier,
				Cfg:         a.cfg,
			})
			a.runHTTP(gctx, g, "backoffice", a.cfg.Server.BackofficePort, admin)

			if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
