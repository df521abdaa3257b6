package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMinPayoutStep is the smallest intermediate payout worth a ledger row.
var DefaultMinPayoutStep = decimal.NewFromFloat(0.01)

// DailyTarget is a scheduled linear payout: TargetAmount is dripped into the
// owner's balance over DurationSeconds starting at StartedAt.
type DailyTarget struct {
	ID              uuid.UUID       `json:"id"               db:"id"`
	UserID          uuid.UUID       `json:"user_id"          db:"user_id"`
	TargetAmount    decimal.Decimal `json:"target_amount"    db:"target_amount"`
	DurationSeconds int64           `json:"duration_seconds" db:"duration_seconds"`
	PaidOut         decimal.Decimal `json:"paid_out"         db:"paid_out"`
	StartedAt       time.Time       `json:"started_at"       db:"started_at"`
	Active          bool            `json:"active"           db:"active"`
	CreatedAt       time.Time       `json:"created_at"       db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"       db:"updated_at"`
}

// PayoutStep is one increment of a daily target's drip.
type PayoutStep struct {
	Amount  decimal.Decimal // signed balance delta
	NewPaid decimal.Decimal // paid_out after the step
	Final   bool            // deactivates the target
}

// Elapsed returns whole seconds since StartedAt, never negative.
func (d *DailyTarget) Elapsed(now time.Time) int64 {
	secs := int64(now.Sub(d.StartedAt) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// Expired reports whether the full duration has passed.
func (d *DailyTarget) Expired(now time.Time) bool {
	return d.Elapsed(now) >= d.DurationSeconds
}

// ExpectedPaid is the linear interpolation target × elapsed / duration,
// rounded to PnLPlaces. Once expired it is exactly the target.
func (d *DailyTarget) ExpectedPaid(now time.Time) decimal.Decimal {
	if d.DurationSeconds <= 0 || d.Expired(now) {
		return d.TargetAmount
	}
	elapsed := decimal.NewFromInt(d.Elapsed(now))
	duration := decimal.NewFromInt(d.DurationSeconds)
	return d.TargetAmount.Mul(elapsed).Div(duration).Round(PnLPlaces)
}

// NextStep decides what, if anything, to pay on this tick.
//
// After expiry the remainder target − paid is paid in one final step, even
// when it is zero, so the target is always deactivated. Before expiry a step
// is only returned when it moves paid_out towards the target by at least
// minStep; paid_out therefore never moves away from the target.
func (d *DailyTarget) NextStep(now time.Time, minStep decimal.Decimal) (PayoutStep, bool) {
	if !d.Active {
		return PayoutStep{}, false
	}

	if d.Expired(now) {
		return PayoutStep{
			Amount:  d.TargetAmount.Sub(d.PaidOut),
			NewPaid: d.TargetAmount,
			Final:   true,
		}, true
	}

	step := d.ExpectedPaid(now).Sub(d.PaidOut)
	if step.Abs().LessThan(minStep) || step.Sign() != d.TargetAmount.Sign() {
		return PayoutStep{}, false
	}
	return PayoutStep{
		Amount:  step,
		NewPaid: d.PaidOut.Add(step),
	}, true
}
