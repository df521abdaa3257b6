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
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Publisher receives events after their unit of work has committed.
// Implementations must not block.
type Publisher interface {
	Publish(ev domain.Event)
}

// ──────────────────────────────────────────────────────────────────────────────
// Request / outcome types
// ──────────────────────────────────────────────────────────────────────────────

// CloseRequest asks the writer to close one position at ExitPrice.
type CloseRequest struct {
	Position  *domain.Position
	ExitPrice decimal.Decimal
	Reason    domain.CloseReason
	At        time.Time
}

// CloseOutcome reports what a close did. Applied is false when the position
// had already been closed by someone else; nothing was written in that case.
type CloseOutcome struct {
	Applied      bool
	PnL          decimal.Decimal
	BalanceAfter decimal.Decimal // zero unless Applied
	History      *domain.TradeHistory
}

// PayoutOutcome reports what a daily-target step did. Applied is false when
// the target changed since it was read.
type PayoutOutcome struct {
	Applied      bool
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Final        bool
}

// ──────────────────────────────────────────────────────────────────────────────
// LedgerWriter
// ──────────────────────────────────────────────────────────────────────────────

// LedgerWriter is the single write path for every balance-affecting action.
// Each method runs as one transaction: either every row lands or none does.
type LedgerWriter struct {
	db        *sqlx.DB
	positions *repository.PositionRepository
	accounts  *repository.AccountRepository
	history   *repository.HistoryRepository
	targets   *repository.DailyTargetRepository
	engine    config.EngineConfig
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewLedgerWriter builds a LedgerWriter.
func NewLedgerWriter(
	db *sqlx.DB,
	positions *repository.PositionRepository,
	accounts *repository.AccountRepository,
	history *repository.HistoryRepository,
	targets *repository.DailyTargetRepository,
	engine config.EngineConfig,
	logger *slog.Logger,
) *LedgerWriter {
	return &LedgerWriter{
		db:        db,
		positions: positions,
		accounts:  accounts,
		history:   history,
		targets:   targets,
		engine:    engine,
		logger:    logger.With("component", "ledger_writer"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetPublisher wires the notifier. Safe to leave unset.
func (w *LedgerWriter) SetPublisher(p Publisher) { w.publisher = p }

// SetClock replaces the wall clock used for adjustments.
func (w *LedgerWriter) SetClock(fn func() time.Time) { w.now = fn }

// ──────────────────────────────────────────────────────────────────────────────
// ApplyClose
// ──────────────────────────────────────────────────────────────────────────────

// ApplyClose closes a position and books its realized pnl.
//
// The pnl is recomputed here from entry, exit, direction and size; the value
// stored on the position is ignored. The status flip is guarded on
// status = 'open', so closing an already-closed position is a no-op that
// returns Applied=false and a nil error.
func (w *LedgerWriter) ApplyClose(ctx context.Context, req CloseRequest) (*CloseOutcome, error) {
	p := req.Position
	if !req.Reason.IsValid() {
		return nil, domain.ErrInvalidCloseReason
	}
	if !req.ExitPrice.IsPositive() {
		return nil, fmt.Errorf("ledger_writer.ApplyClose %s: %w", p.ID, domain.ErrNoPrice)
	}

	at := req.At
	if at.IsZero() {
		at = w.now()
	}
	pnl := p.Valuate(req.ExitPrice, w.engine.MultiplierFor(p.Symbol))
	wins, losses := domain.SplitPnL(pnl)

	tx, txErr := w.db.BeginTxx(ctx, nil)
	if txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyClose: begin tx: %w", txErr)
	}
	defer func() {
		if txErr != nil {
			_ = tx.Rollback()
		}
	}()

	// ── Step 1: guarded status flip ──────────────────────────────────────────
	applied, txErr := w.positions.MarkClosed(ctx, tx, p.ID, req.ExitPrice, pnl, req.Reason, at)
	if txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyClose %s: %w", p.ID, txErr)
	}
	if !applied {
		_ = tx.Rollback()
		w.logger.Debug("close skipped, position no longer open", "position_id", p.ID)
		return &CloseOutcome{Applied: false}, nil
	}

	// ── Step 2: balance + wins/losses ────────────────────────────────────────
	change, txErr := w.accounts.ApplyDelta(ctx, tx, p.UserID, pnl, wins, losses, at)
	if txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyClose %s: %w", p.ID, txErr)
	}

	// ── Step 3: audit record ─────────────────────────────────────────────────
	posID := p.ID
	op := &domain.Operation{
		ID:           uuid.New(),
		UserID:       p.UserID,
		Type:         domain.OpPnL,
		Amount:       pnl,
		BalanceAfter: change.BalanceAfter,
		RefID:        &posID,
		Note: fmt.Sprintf("close %s %s %s @ %s (%s)",
			p.Direction, p.Size.String(), p.Symbol, req.ExitPrice.String(), req.Reason),
		CreatedAt: at,
	}
	if txErr = w.accounts.LogOperation(ctx, tx, op); txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyClose %s: %w", p.ID, txErr)
	}

	// ── Step 4: archive ──────────────────────────────────────────────────────
	h := &domain.TradeHistory{
		ID:             uuid.New(),
		PositionID:     p.ID,
		UserID:         p.UserID,
		Symbol:         p.Symbol,
		Direction:      p.Direction,
		EntryPrice:     p.EntryPrice,
		ExitPrice:      req.ExitPrice,
		Size:           p.Size,
		PnL:            pnl,
		ElapsedSeconds: p.Elapsed(at),
		OpenedAt:       p.OpenedAt,
		ClosedAt:       at,
		CloseReason:    req.Reason,
	}
	if txErr = w.history.Insert(ctx, tx, h); txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyClose %s: %w", p.ID, txErr)
	}

	if txErr = tx.Commit(); txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyClose %s: commit: %w", p.ID, txErr)
	}

	w.logger.Info("position closed",
		"position_id", p.ID,
		"user_id", p.UserID,
		"reason", req.Reason,
		"pnl", pnl.StringFixed(domain.PnLPlaces),
		"balance_after", change.BalanceAfter.String(),
	)
	w.publish(domain.Event{
		Kind:           domain.EventPositionClosed,
		UserID:         p.UserID,
		PositionID:     &posID,
		Symbol:         p.Symbol,
		Amount:         pnl,
		Reason:         string(req.Reason),
		BalanceAfter:   change.BalanceAfter,
		TelegramChatID: change.TelegramChatID,
		At:             at,
	})

	return &CloseOutcome{
		Applied:      true,
		PnL:          pnl,
		BalanceAfter: change.BalanceAfter,
		History:      h,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ApplyPayoutStep
// ──────────────────────────────────────────────────────────────────────────────

// ApplyPayoutStep pays one daily-target step. The target row is only advanced
// if it is still active with the paid_out value the step was computed from;
// otherwise nothing is written and Applied=false.
func (w *LedgerWriter) ApplyPayoutStep(ctx context.Context, target *domain.DailyTarget, step domain.PayoutStep, at time.Time) (*PayoutOutcome, error) {
	if at.IsZero() {
		at = w.now()
	}

	tx, txErr := w.db.BeginTxx(ctx, nil)
	if txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyPayoutStep: begin tx: %w", txErr)
	}
	defer func() {
		if txErr != nil {
			_ = tx.Rollback()
		}
	}()

	applied, txErr := w.targets.Advance(ctx, tx, target.ID, target.PaidOut, step.NewPaid, step.Final, at)
	if txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyPayoutStep %s: %w", target.ID, txErr)
	}
	if !applied {
		_ = tx.Rollback()
		w.logger.Debug("payout skipped, target changed", "target_id", target.ID)
		return &PayoutOutcome{Applied: false}, nil
	}

	change, txErr := w.accounts.ApplyDelta(ctx, tx, target.UserID, step.Amount, decimal.Zero, decimal.Zero, at)
	if txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyPayoutStep %s: %w", target.ID, txErr)
	}

	targetID := target.ID
	note := fmt.Sprintf("daily target %s/%s",
		step.NewPaid.StringFixed(domain.PnLPlaces), target.TargetAmount.StringFixed(domain.PnLPlaces))
	if step.Final {
		note += " (final)"
	}
	op := &domain.Operation{
		ID:           uuid.New(),
		UserID:       target.UserID,
		Type:         domain.OpPayout,
		Amount:       step.Amount,
		BalanceAfter: change.BalanceAfter,
		RefID:        &targetID,
		Note:         note,
		CreatedAt:    at,
	}
	if txErr = w.accounts.LogOperation(ctx, tx, op); txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyPayoutStep %s: %w", target.ID, txErr)
	}

	if txErr = tx.Commit(); txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyPayoutStep %s: commit: %w", target.ID, txErr)
	}

	w.logger.Debug("payout step applied",
		"target_id", target.ID,
		"amount", step.Amount.String(),
		"paid_out", step.NewPaid.String(),
		"final", step.Final,
	)
	w.publish(domain.Event{
		Kind:           domain.EventPayout,
		UserID:         target.UserID,
		TargetID:       &targetID,
		Amount:         step.Amount,
		Reason:         note,
		BalanceAfter:   change.BalanceAfter,
		TelegramChatID: change.TelegramChatID,
		At:             at,
	})

	return &PayoutOutcome{
		Applied:      true,
		Amount:       step.Amount,
		BalanceAfter: change.BalanceAfter,
		Final:        step.Final,
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ApplyAdjustment
// ──────────────────────────────────────────────────────────────────────────────

// ApplyAdjustment books an operator balance correction with its audit record.
func (w *LedgerWriter) ApplyAdjustment(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, note string) (*domain.Operation, error) {
	if amount.IsZero() {
		return nil, domain.ErrInvalidAmount
	}
	at := w.now()

	tx, txErr := w.db.BeginTxx(ctx, nil)
	if txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyAdjustment: begin tx: %w", txErr)
	}
	defer func() {
		if txErr != nil {
			_ = tx.Rollback()
		}
	}()

	change, txErr := w.accounts.ApplyDelta(ctx, tx, userID, amount, decimal.Zero, decimal.Zero, at)
	if txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyAdjustment %s: %w", userID, txErr)
	}

	op := &domain.Operation{
		ID:           uuid.New(),
		UserID:       userID,
		Type:         domain.OpAdminAdjustment,
		Amount:       amount,
		BalanceAfter: change.BalanceAfter,
		Note:         note,
		CreatedAt:    at,
	}
	if txErr = w.accounts.LogOperation(ctx, tx, op); txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyAdjustment %s: %w", userID, txErr)
	}

	if txErr = tx.Commit(); txErr != nil {
		return nil, fmt.Errorf("ledger_writer.ApplyAdjustment %s: commit: %w", userID, txErr)
	}

	w.logger.Info("balance adjusted", "user_id", userID, "amount", amount.String(), "note", note)
	w.publish(domain.Event{
		Kind:           domain.EventAdjustment,
		UserID:         userID,
		Amount:         amount,
		Reason:         note,
		BalanceAfter:   change.BalanceAfter,
		TelegramChatID: change.TelegramChatID,
		At:             at,
	})
	return op, nil
}

func (w *LedgerWriter) publish(ev domain.Event) {
	if w.publisher != nil {
		w.publisher.Publish(ev)
	}
}
