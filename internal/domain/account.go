package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Account
// ──────────────────────────────────────────────────────────────────────────────

// Account holds a user's ledger state.
//
// Frozen is reserved against pending withdrawals and belongs to the wallet
// subsystem; the engine reads it but never writes it.
type Account struct {
	UserID         uuid.UUID       `json:"user_id"          db:"user_id"`
	Balance        decimal.Decimal `json:"balance"          db:"balance"`
	Frozen         decimal.Decimal `json:"frozen"           db:"frozen"`
	Wins           decimal.Decimal `json:"wins"             db:"wins"`
	Losses         decimal.Decimal `json:"losses"           db:"losses"`
	TelegramChatID *int64          `json:"-"                db:"telegram_chat_id"`
	CreatedAt      time.Time       `json:"created_at"       db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"       db:"updated_at"`
}

// SplitPnL returns the (wins, losses) increments for a realized pnl.
// Exactly one of them is non-zero unless pnl is zero, which counts as a win
// of zero.
func SplitPnL(pnl decimal.Decimal) (wins, losses decimal.Decimal) {
	if pnl.IsNegative() {
		return decimal.Zero, pnl.Abs()
	}
	return pnl, decimal.Zero
}

// ──────────────────────────────────────────────────────────────────────────────
// Operation
// ──────────────────────────────────────────────────────────────────────────────

// OperationType tags ledger entries for auditing.
type OperationType string

const (
	OpPnL             OperationType = "pnl"
	OpAdminAdjustment OperationType = "admin_adjustment"
	OpPayout          OperationType = "payout"
)

// Operation is an append-only audit record for every balance change made by
// the engine.
type Operation struct {
	ID           uuid.UUID       `json:"id"            db:"id"`
	UserID       uuid.UUID       `json:"user_id"       db:"user_id"`
	Type         OperationType   `json:"type"          db:"type"`
	Amount       decimal.Decimal `json:"amount"        db:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	RefID        *uuid.UUID      `json:"ref_id"        db:"ref_id"` // position or daily target
	Note         string          `json:"note"          db:"note"`
	CreatedAt    time.Time       `json:"created_at"    db:"created_at"`
}

// BalanceChange is what the store reports back after an atomic balance update.
type BalanceChange struct {
	BalanceAfter   decimal.Decimal `db:"balance"`
	TelegramChatID *int64          `db:"telegram_chat_id"`
}
