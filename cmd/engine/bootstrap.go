package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	rediscache "github.com/evetabi/tradesim/internal/cache/redis"
	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/notify"
	"github.com/evetabi/tradesim/internal/repository"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/jmoiron/sqlx"
)

// app holds everything the subcommands share.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sqlx.DB
	redis  *rediscache.Client // nil unless enabled

	positions *repository.PositionRepository
	accounts  *repository.AccountRepository
	history   *repository.HistoryRepository
	targets   *repository.DailyTargetRepository

	prices    *service.PriceSource
	ledger    *service.LedgerWriter
	posSvc    *service.PositionService
	targetSvc *service.DailyTargetService
	auth      *service.AuthService
	notifier  *notify.Notifier
}

// newLogger builds the process logger: JSON at the configured level in
// production, debug-level text otherwise.
func newLogger(cfg *config.Config) *slog.Logger {
	if !cfg.IsProd() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// bootstrap loads config, connects the stores and wires the services.
// migrate applies pending migrations before anything touches the schema.
func bootstrap(ctx context.Context, migrate bool) (*app, error) {
	cfg, err := config.LoadValidated(cfgFile)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	db, err := repository.Open(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	logger.Info("database connected", "driver", cfg.DB.Driver)

	if migrate {
		if err = repository.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		positions: repository.NewPositionRepository(db),
		accounts:  repository.NewAccountRepository(db),
		history:   repository.NewHistoryRepository(db),
		targets:   repository.NewDailyTargetRepository(db),
		auth:      service.NewAuthService(cfg.JWT),
	}

	feed := service.NewHTTPQuoteFeed(cfg.Price.FeedURL, cfg.Price.FetchTimeout)
	a.prices = service.NewPriceSource(cfg.Price, feed, logger)

	if cfg.Redis.Enabled {
		rc, rerr := rediscache.New(ctx, cfg.Redis)
		if rerr != nil {
			a.Close()
			return nil, fmt.Errorf("bootstrap: %w", rerr)
		}
		a.redis = rc
		a.prices.SetQuoteStore(rediscache.NewQuoteStore(rc))
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	a.ledger = service.NewLedgerWriter(db, a.positions, a.accounts, a.history, a.targets, cfg.Engine, logger)
	a.posSvc = service.NewPositionService(db, a.positions, a.ledger, a.prices, cfg.Engine, logger)
	a.targetSvc = service.NewDailyTargetService(a.targets, a.accounts, a.ledger, cfg.Payout, logger)

	a.notifier = notify.NewNotifier(cfg.Notify, logger)
	if cfg.Notify.TelegramToken != "" {
		a.notifier.AddSender(notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramAPIURL))
	}
	a.ledger.SetPublisher(a.notifier)

	return a, nil
}

// Close releases the store connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close", "err", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close", "err", err)
	}
}
