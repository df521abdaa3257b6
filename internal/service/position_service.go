package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/repository"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// Pricer supplies the next mark price for a symbol. Implementations never
// fail; a zero result means no price is known.
type Pricer interface {
	PriceFor(ctx context.Context, symbol string, previous decimal.Decimal) decimal.Decimal
}

// ValuationBroadcaster pushes fresh valuations to connected dashboards.
type ValuationBroadcaster interface {
	BroadcastValuations(vals []domain.Valuation)
}

// TickReport summarises one scheduler pass.
type TickReport struct {
	Scanned  int
	Marked   int
	Applied  int // closes or payout steps committed
	Skipped  int // already closed by another path
	Failed   int
	Duration time.Duration
}

// PositionService runs the position tick and serves position reads and
// manual/admin closes. Every close goes through the LedgerWriter.
type PositionService struct {
	db          *sqlx.DB
	positions   *repository.PositionRepository
	ledger      *LedgerWriter
	prices      Pricer
	engine      config.EngineConfig
	broadcaster ValuationBroadcaster
	logger      *slog.Logger
	now         func() time.Time
}

// NewPositionService wires a PositionService.
func NewPositionService(
	db *sqlx.DB,
	positions *repository.PositionRepository,
	ledger *LedgerWriter,
	prices Pricer,
	engine config.EngineConfig,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		db:        db,
		positions: positions,
		ledger:    ledger,
		prices:    prices,
		engine:    engine,
		logger:    logger.With("component", "position_service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetBroadcaster wires the dashboard push channel.
func (s *PositionService) SetBroadcaster(b ValuationBroadcaster) { s.broadcaster = b }

// SetClock replaces the wall clock.
func (s *PositionService) SetClock(fn func() time.Time) { s.now = fn }

// ──────────────────────────────────────────────────────────────────────────────
// Tick
// ──────────────────────────────────────────────────────────────────────────────

// marked is one successfully valuated position within a tick.
type marked struct {
	position *domain.Position
	price    decimal.Decimal
	pnl      decimal.Decimal
	elapsed  int64
}

// Tick runs one pass over every open position, one page of BatchSize at a
// time in (opened_at, id) order. For each page it will:
//
//  1. price and valuate each position
//  2. persist every mark in one transaction
//  3. close those whose rules fired, one ledger transaction each
//  4. push the valuations of what is still open
//
// A failure on one position is logged and counted; it never aborts the pass.
// Only a failure to load a page is returned. When ctx expires between pages
// the pass stops early and the remaining positions wait for the next tick.
func (s *PositionService) Tick(ctx context.Context) (TickReport, error) {
	start := time.Now()
	var report TickReport

	var cursor *repository.OpenCursor
	for {
		page, err := s.positions.ListOpenAfter(ctx, cursor, s.engine.BatchSize)
		if err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("position_service.Tick: %w", err)
		}
		if len(page) == 0 {
			break
		}
		cursor = repository.CursorOf(page[len(page)-1])

		s.tickPage(ctx, page, &report)

		if len(page) < s.engine.BatchSize {
			break
		}
		if ctx.Err() != nil {
			s.logger.Warn("position tick cut short", "scanned", report.Scanned, "err", ctx.Err())
			break
		}
	}

	report.Duration = time.Since(start)
	s.logger.Debug("position tick",
		"scanned", report.Scanned,
		"closed", report.Applied,
		"failed", report.Failed,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// tickPage valuates, persists and closes one page of open positions.
func (s *PositionService) tickPage(ctx context.Context, open []*domain.Position, report *TickReport) {
	report.Scanned += len(open)
	now := s.now()

	batch := make([]marked, 0, len(open))
	for _, p := range open {
		m, ok := s.valuate(ctx, p, now)
		if !ok {
			report.Failed++
			continue
		}
		batch = append(batch, m)
	}

	if err := s.persistMarks(ctx, batch, now); err != nil {
		// closes below still use the fresh values
		s.logger.Error("persist marks failed", "count", len(batch), "err", err)
	} else {
		report.Marked += len(batch)
	}

	vals := make([]domain.Valuation, 0, len(batch))
	for _, m := range batch {
		reason, shouldClose := m.position.EvaluateClose(m.pnl, m.price, m.elapsed)
		if !shouldClose {
			vals = append(vals, m.position.ToValuation(now))
			continue
		}

		out, err := s.closeOne(ctx, m, reason, now)
		switch {
		case err != nil:
			report.Failed++
			s.logger.Error("close failed, will retry next tick",
				"position_id", m.position.ID, "reason", reason, "err", err)
			vals = append(vals, m.position.ToValuation(now))
		case out.Applied:
			report.Applied++
		default:
			report.Skipped++
		}
	}

	if s.broadcaster != nil && len(vals) > 0 {
		s.broadcaster.BroadcastValuations(vals)
	}
}

// valuate prices one position. A panic or a missing price marks it failed for
// this tick only.
func (s *PositionService) valuate(ctx context.Context, p *domain.Position, now time.Time) (m marked, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic valuating position", "position_id", p.ID, "panic", r)
			ok = false
		}
	}()

	price := s.prices.PriceFor(ctx, p.Symbol, p.CurrentPrice)
	if !price.IsPositive() {
		s.logger.Warn("no price, position skipped", "position_id", p.ID, "symbol", p.Symbol)
		return marked{}, false
	}

	pnl := p.Valuate(price, s.engine.MultiplierFor(p.Symbol))
	p.CurrentPrice = price
	p.PnL = pnl
	return marked{position: p, price: price, pnl: pnl, elapsed: p.Elapsed(now)}, true
}

func (s *PositionService) persistMarks(ctx context.Context, batch []marked, now time.Time) (txErr error) {
	if len(batch) == 0 {
		return nil
	}
	marks := make([]repository.Mark, len(batch))
	for i, m := range batch {
		marks[i] = repository.Mark{ID: m.position.ID, Price: m.price, PnL: m.pnl}
	}

	tx, txErr := s.db.BeginTxx(ctx, nil)
	if txErr != nil {
		return fmt.Errorf("begin tx: %w", txErr)
	}
	defer func() {
		if txErr != nil {
			_ = tx.Rollback()
		}
	}()

	if txErr = s.positions.UpdateMarks(ctx, tx, marks, now); txErr != nil {
		return txErr
	}
	if txErr = tx.Commit(); txErr != nil {
		return fmt.Errorf("commit: %w", txErr)
	}
	return nil
}

func (s *PositionService) closeOne(ctx context.Context, m marked, reason domain.CloseReason, now time.Time) (out *CloseOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.ledger.ApplyClose(ctx, CloseRequest{
		Position:  m.position,
		ExitPrice: m.price,
		Reason:    reason,
		At:        now,
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Manual / admin close
// ──────────────────────────────────────────────────────────────────────────────

// ClosePosition closes a position on request at the current mark price.
// With ReasonManual the actor must own the position; ReasonAdmin skips the
// ownership check. Closing an already-closed position returns an outcome
// with Applied=false and no error.
func (s *PositionService) ClosePosition(ctx context.Context, positionID, actor uuid.UUID, reason domain.CloseReason) (*CloseOutcome, error) {
	if reason != domain.ReasonManual && reason != domain.ReasonAdmin {
		return nil, domain.ErrInvalidCloseReason
	}

	p, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("position_service.ClosePosition: %w", err)
	}
	if reason == domain.ReasonManual && p.UserID != actor {
		return nil, domain.ErrForbidden
	}
	if !p.IsOpen() {
		return &CloseOutcome{Applied: false, PnL: p.PnL}, nil
	}

	price := s.prices.PriceFor(ctx, p.Symbol, p.CurrentPrice)
	if !price.IsPositive() {
		price = p.CurrentPrice
	}

	out, err := s.ledger.ApplyClose(ctx, CloseRequest{
		Position:  p,
		ExitPrice: price,
		Reason:    reason,
		At:        s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("position_service.ClosePosition: %w", err)
	}
	if out.Applied {
		s.logger.Info("position closed on request", "position_id", p.ID, "actor", actor, "reason", reason)
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Open
// ──────────────────────────────────────────────────────────────────────────────

// OpenPosition validates req and inserts an open position at the current
// price of its symbol.
func (s *PositionService) OpenPosition(ctx context.Context, req domain.OpenPositionRequest) (*domain.Position, error) {
	if !req.Direction.IsValid() {
		return nil, domain.ErrInvalidDirection
	}
	if !req.Size.IsPositive() {
		return nil, domain.ErrInvalidSize
	}
	if req.DurationSeconds < 0 {
		return nil, domain.ErrInvalidDuration
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, domain.ErrInvalidSymbol
	}

	price := s.prices.PriceFor(ctx, symbol, decimal.Zero)
	if !price.IsPositive() {
		return nil, fmt.Errorf("position_service.OpenPosition %s: %w", symbol, domain.ErrNoPrice)
	}

	now := s.now()
	p := &domain.Position{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Symbol:          symbol,
		Direction:       req.Direction,
		EntryPrice:      price,
		CurrentPrice:    price,
		Size:            req.Size,
		OpenedAt:        now,
		DurationSeconds: req.DurationSeconds,
		TargetPnL:       req.TargetPnL.Round(domain.PnLPlaces),
		TakeProfit:      req.TakeProfit,
		StopLoss:        req.StopLoss,
		Status:          domain.PositionOpen,
		PnL:             decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.positions.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("position_service.OpenPosition: %w", err)
	}

	s.logger.Info("position opened",
		"position_id", p.ID,
		"user_id", p.UserID,
		"symbol", symbol,
		"direction", p.Direction,
		"entry", price.String(),
	)
	return p, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// Get returns one position.
func (s *PositionService) Get(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	return s.positions.GetByID(ctx, id)
}

// ListOpen returns up to limit open positions, oldest first.
func (s *PositionService) ListOpen(ctx context.Context, limit int) ([]*domain.Position, error) {
	if limit <= 0 || limit > s.engine.BatchSize {
		limit = s.engine.BatchSize
	}
	return s.positions.ListOpen(ctx, limit)
}

// ListOpenByUser returns the open positions of one user.
func (s *PositionService) ListOpenByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Position, error) {
	return s.positions.ListOpenByUser(ctx, userID)
}

// List returns positions by status for operators. An empty status lists all.
func (s *PositionService) List(ctx context.Context, status domain.PositionStatus, limit, offset int) ([]*domain.Position, error) {
	return s.positions.List(ctx, status, limit, offset)
}

// Valuations returns the live valuation of each position at the current time.
func (s *PositionService) Valuations(ps []*domain.Position) []domain.Valuation {
	now := s.now()
	out := make([]domain.Valuation, len(ps))
	for i, p := range ps {
		out[i] = p.ToValuation(now)
	}
	return out
}
