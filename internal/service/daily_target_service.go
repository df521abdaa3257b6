package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DailyTargetService drips scheduled payouts into balances.
type DailyTargetService struct {
	targets  *repository.DailyTargetRepository
	accounts *repository.AccountRepository
	ledger   *LedgerWriter
	minStep  decimal.Decimal
	logger   *slog.Logger
	now      func() time.Time
}

// NewDailyTargetService wires a DailyTargetService.
func NewDailyTargetService(
	targets *repository.DailyTargetRepository,
	accounts *repository.AccountRepository,
	ledger *LedgerWriter,
	cfg config.PayoutConfig,
	logger *slog.Logger,
) *DailyTargetService {
	minStep := decimal.NewFromFloat(cfg.MinStep)
	if !minStep.IsPositive() {
		minStep = domain.DefaultMinPayoutStep
	}
	return &DailyTargetService{
		targets:  targets,
		accounts: accounts,
		ledger:   ledger,
		minStep:  minStep,
		logger:   logger.With("component", "daily_target_service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the wall clock.
func (s *DailyTargetService) SetClock(fn func() time.Time) { s.now = fn }

// Tick runs one pass over active targets. Each target is paid in its own
// transaction; a failure on one is logged and retried next tick.
func (s *DailyTargetService) Tick(ctx context.Context) (TickReport, error) {
	start := time.Now()
	var report TickReport

	active, err := s.targets.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("daily_target_service.Tick: %w", err)
	}
	report.Scanned = len(active)

	now := s.now()
	for _, t := range active {
		out, err := s.payOne(ctx, t, now)
		switch {
		case err != nil:
			report.Failed++
			s.logger.Error("payout step failed, will retry next tick", "target_id", t.ID, "err", err)
		case out == nil:
			// nothing due
		case out.Applied:
			report.Applied++
		default:
			report.Skipped++
		}
	}

	report.Duration = time.Since(start)
	s.logger.Debug("daily target tick",
		"scanned", report.Scanned,
		"paid", report.Applied,
		"failed", report.Failed,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (s *DailyTargetService) payOne(ctx context.Context, t *domain.DailyTarget, now time.Time) (out *PayoutOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	step, due := t.NextStep(now, s.minStep)
	if !due {
		return nil, nil
	}
	return s.ledger.ApplyPayoutStep(ctx, t, step, now)
}

// Schedule creates an active target for userID starting now.
func (s *DailyTargetService) Schedule(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, duration time.Duration) (*domain.DailyTarget, error) {
	amount = amount.Round(domain.PnLPlaces)
	secs := int64(duration / time.Second)
	if amount.IsZero() || secs <= 0 {
		return nil, domain.ErrInvalidTarget
	}
	if _, err := s.accounts.GetByUserID(ctx, userID); err != nil {
		return nil, fmt.Errorf("daily_target_service.Schedule: %w", err)
	}

	now := s.now()
	t := &domain.DailyTarget{
		ID:              uuid.New(),
		UserID:          userID,
		TargetAmount:    amount,
		DurationSeconds: secs,
		PaidOut:         decimal.Zero,
		StartedAt:       now,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.targets.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("daily_target_service.Schedule: %w", err)
	}

	s.logger.Info("daily target scheduled",
		"target_id", t.ID,
		"user_id", userID,
		"amount", amount.String(),
		"duration_s", secs,
	)
	return t, nil
}

// ListActive returns every active target.
func (s *DailyTargetService) ListActive(ctx context.Context) ([]*domain.DailyTarget, error) {
	return s.targets.ListActive(ctx)
}

// ListActiveByUser returns the active targets of one user.
func (s *DailyTargetService) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.DailyTarget, error) {
	return s.targets.ListActiveByUser(ctx, userID)
}
