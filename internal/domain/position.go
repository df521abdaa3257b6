// Package domain defines the core business entities and types for the
// simulated leveraged-position engine.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// PnLPlaces is the number of fractional digits profit/loss is rounded to
// before it is persisted or compared against a threshold.
const PnLPlaces = 2

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// IsValid returns true if the direction is long or short.
func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// PositionStatus represents the lifecycle state of a position.
// The only legal transition is open → closed.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// CloseReason classifies why a position stopped being open.
type CloseReason string

const (
	ReasonTarget     CloseReason = "target"
	ReasonDuration   CloseReason = "duration"
	ReasonTakeProfit CloseReason = "take_profit"
	ReasonStopLoss   CloseReason = "stop_loss"
	ReasonManual     CloseReason = "manual" // owner asked to close
	ReasonAdmin      CloseReason = "admin"  // back-office close
)

// IsValid returns true for every recognised close reason.
func (r CloseReason) IsValid() bool {
	switch r {
	case ReasonTarget, ReasonDuration, ReasonTakeProfit, ReasonStopLoss, ReasonManual, ReasonAdmin:
		return true
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Position
// ──────────────────────────────────────────────────────────────────────────────

// Position is a synthetic leveraged bet on a symbol.
type Position struct {
	ID              uuid.UUID        `json:"id"               db:"id"`
	UserID          uuid.UUID        `json:"user_id"          db:"user_id"`
	Symbol          string           `json:"symbol"           db:"symbol"`
	Direction       Direction        `json:"direction"        db:"direction"`
	EntryPrice      decimal.Decimal  `json:"entry_price"      db:"entry_price"`
	CurrentPrice    decimal.Decimal  `json:"current_price"    db:"current_price"`
	Size            decimal.Decimal  `json:"size"             db:"size"`
	OpenedAt        time.Time        `json:"opened_at"        db:"opened_at"`
	DurationSeconds int64            `json:"duration_seconds" db:"duration_seconds"` // 0 = no expiry
	TargetPnL       decimal.Decimal  `json:"target_pnl"       db:"target_pnl"`       // 0 = no target
	TakeProfit      *decimal.Decimal `json:"take_profit"      db:"take_profit"`
	StopLoss        *decimal.Decimal `json:"stop_loss"        db:"stop_loss"`
	Status          PositionStatus   `json:"status"           db:"status"`
	ClosedAt        *time.Time       `json:"closed_at"        db:"closed_at"`
	CloseReason     *CloseReason     `json:"close_reason"     db:"close_reason"`
	PnL             decimal.Decimal  `json:"pnl"              db:"pnl"`
	CreatedAt       time.Time        `json:"created_at"       db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"       db:"updated_at"`
}

// IsOpen returns true while the position is still being re-priced.
func (p *Position) IsOpen() bool {
	return p.Status == PositionOpen
}

// Valuate computes the unrealized profit/loss at currentPrice.
//
//	long:  (current − entry) × size × multiplier
//	short: (entry − current) × size × multiplier
//
// The result is rounded to PnLPlaces exactly once, here, so every caller
// compares and persists the same value.
func (p *Position) Valuate(currentPrice, multiplier decimal.Decimal) decimal.Decimal {
	move := currentPrice.Sub(p.EntryPrice)
	if p.Direction == DirectionShort {
		move = p.EntryPrice.Sub(currentPrice)
	}
	return move.Mul(p.Size).Mul(multiplier).Round(PnLPlaces)
}

// Elapsed returns the whole seconds since the position was opened.
// Never negative, even if the clock moved backwards.
func (p *Position) Elapsed(now time.Time) int64 {
	secs := int64(now.Sub(p.OpenedAt) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// EvaluateClose decides whether the position must close and why. Rules are
// checked in a fixed priority order and the first match wins:
//
//  1. target reached
//  2. duration expired
//  3. take-profit touched
//  4. stop-loss touched
func (p *Position) EvaluateClose(pnl, currentPrice decimal.Decimal, elapsed int64) (CloseReason, bool) {
	switch {
	case p.TargetPnL.IsPositive() && pnl.GreaterThanOrEqual(p.TargetPnL):
		return ReasonTarget, true
	case p.TargetPnL.IsNegative() && pnl.LessThanOrEqual(p.TargetPnL):
		return ReasonTarget, true
	}

	if p.DurationSeconds > 0 && elapsed >= p.DurationSeconds {
		return ReasonDuration, true
	}

	if p.TakeProfit != nil {
		if (p.Direction == DirectionLong && currentPrice.GreaterThanOrEqual(*p.TakeProfit)) ||
			(p.Direction == DirectionShort && currentPrice.LessThanOrEqual(*p.TakeProfit)) {
			return ReasonTakeProfit, true
		}
	}

	if p.StopLoss != nil {
		if (p.Direction == DirectionLong && currentPrice.LessThanOrEqual(*p.StopLoss)) ||
			(p.Direction == DirectionShort && currentPrice.GreaterThanOrEqual(*p.StopLoss)) {
			return ReasonStopLoss, true
		}
	}

	return "", false
}

// ToValuation builds the dashboard read model for the position at a given mark.
func (p *Position) ToValuation(now time.Time) Valuation {
	return Valuation{
		PositionID:     p.ID,
		UserID:         p.UserID,
		Symbol:         p.Symbol,
		Direction:      p.Direction,
		EntryPrice:     p.EntryPrice,
		CurrentPrice:   p.CurrentPrice,
		Size:           p.Size,
		PnL:            p.PnL,
		TargetPnL:      p.TargetPnL,
		ElapsedSeconds: p.Elapsed(now),
		At:             now,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Valuation: lightweight read model for dashboards and WS pushes
// ──────────────────────────────────────────────────────────────────────────────

// Valuation is a derived, read-only view of an open position.
type Valuation struct {
	PositionID     uuid.UUID       `json:"position_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Symbol         string          `json:"symbol"`
	Direction      Direction       `json:"direction"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	Size           decimal.Decimal `json:"size"`
	PnL            decimal.Decimal `json:"pnl"`
	TargetPnL      decimal.Decimal `json:"target_pnl"`
	ElapsedSeconds int64           `json:"elapsed_seconds"`
	At             time.Time       `json:"at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// OpenPositionRequest: value object used by PositionService
// ──────────────────────────────────────────────────────────────────────────────

// OpenPositionRequest carries the validated inputs for opening a position.
type OpenPositionRequest struct {
	UserID          uuid.UUID
	Symbol          string
	Direction       Direction
	Size            decimal.Decimal
	DurationSeconds int64
	TargetPnL       decimal.Decimal
	TakeProfit      *decimal.Decimal
	StopLoss        *decimal.Decimal
}

// ──────────────────────────────────────────────────────────────────────────────
// TradeHistory
// ──────────────────────────────────────────────────────────────────────────────

// TradeHistory is the immutable archival copy of a closed position.
type TradeHistory struct {
	ID             uuid.UUID       `json:"id"              db:"id"`
	PositionID     uuid.UUID       `json:"position_id"     db:"position_id"`
	UserID         uuid.UUID       `json:"user_id"         db:"user_id"`
	Symbol         string          `json:"symbol"          db:"symbol"`
	Direction      Direction       `json:"direction"       db:"direction"`
	EntryPrice     decimal.Decimal `json:"entry_price"     db:"entry_price"`
	ExitPrice      decimal.Decimal `json:"exit_price"      db:"exit_price"`
	Size           decimal.Decimal `json:"size"            db:"size"`
	PnL            decimal.Decimal `json:"pnl"             db:"pnl"`
	ElapsedSeconds int64           `json:"elapsed_seconds" db:"elapsed_seconds"`
	OpenedAt       time.Time       `json:"opened_at"       db:"opened_at"`
	ClosedAt       time.Time       `json:"closed_at"       db:"closed_at"`
	CloseReason    CloseReason     `json:"close_reason"    db:"close_reason"`
}
