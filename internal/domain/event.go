package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind identifies what happened to an account.
type EventKind string

const (
	EventPositionClosed EventKind = "position_closed"
	EventPayout         EventKind = "payout"
	EventAdjustment     EventKind = "adjustment"
)

// Event is the outbound notification emitted after a committed
// balance-affecting action. Delivery is best effort.
type Event struct {
	Kind           EventKind       `json:"kind"`
	UserID         uuid.UUID       `json:"user_id"`
	PositionID     *uuid.UUID      `json:"position_id,omitempty"`
	TargetID       *uuid.UUID      `json:"target_id,omitempty"`
	Symbol         string          `json:"symbol,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason,omitempty"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	TelegramChatID *int64          `json:"-"`
	At             time.Time       `json:"at"`
}
