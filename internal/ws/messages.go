// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines every message pushed to connected dashboards.
package ws

import (
	"time"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeValuations     MsgType = "valuations"
	MsgTypePositionClosed MsgType = "position_closed"
	MsgTypePayout         MsgType = "payout"
	MsgTypeAdjustment     MsgType = "adjustment"
	MsgTypeError          MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// ValuationsMessage: sent to the owner after every position tick.
// ──────────────────────────────────────────────────────────────────────────────

// ValuationsMessage carries the live mark of each of the user's open positions.
type ValuationsMessage struct {
	Type      MsgType            `json:"type"`
	Positions []domain.Valuation `json:"positions"`
	Timestamp time.Time          `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// EventMessage: one committed balance change.
// ──────────────────────────────────────────────────────────────────────────────

// EventMessage reports a close, payout step or adjustment to its owner.
type EventMessage struct {
	Type         MsgType         `json:"type"`
	PositionID   *uuid.UUID      `json:"position_id,omitempty"`
	TargetID     *uuid.UUID      `json:"target_id,omitempty"`
	Symbol       string          `json:"symbol,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason,omitempty"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Timestamp    time.Time       `json:"timestamp"`
}

// NewEventMessage maps a ledger event to its wire form.
func NewEventMessage(ev domain.Event) EventMessage {
	t := MsgType(ev.Kind)
	switch ev.Kind {
	case domain.EventPositionClosed:
		t = MsgTypePositionClosed
	case domain.EventPayout:
		t = MsgTypePayout
	case domain.EventAdjustment:
		t = MsgTypeAdjustment
	}
	return EventMessage{
		Type:         t,
		PositionID:   ev.PositionID,
		TargetID:     ev.TargetID,
		Symbol:       ev.Symbol,
		Amount:       ev.Amount,
		Reason:       ev.Reason,
		BalanceAfter: ev.BalanceAfter,
		Timestamp:    ev.At,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage: sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
