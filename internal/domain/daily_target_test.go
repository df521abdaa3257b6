package domain_test

import (
	"testing"
	"time"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTarget(amount string, duration int64) *domain.DailyTarget {
	return &domain.DailyTarget{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		TargetAmount:    dec(amount),
		DurationSeconds: duration,
		PaidOut:         decimal.Zero,
		StartedAt:       time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Active:          true,
	}
}

// 100.00 over 1800s sampled at 900s → 50.00
func TestDailyTarget_ExpectedPaid_Halfway(t *testing.T) {
	d := newTarget("100.00", 1800)
	got := d.ExpectedPaid(d.StartedAt.Add(900 * time.Second))
	if got.StringFixed(2) != "50.00" {
		t.Errorf("ExpectedPaid = %s, want 50.00", got.StringFixed(2))
	}
}

func TestDailyTarget_NextStep_Intermediate(t *testing.T) {
	d := newTarget("100.00", 1800)
	d.PaidOut = dec("20.00")

	step, ok := d.NextStep(d.StartedAt.Add(900*time.Second), domain.DefaultMinPayoutStep)
	if !ok {
		t.Fatal("expected a step")
	}
	if step.Final {
		t.Error("intermediate step marked final")
	}
	if step.Amount.StringFixed(2) != "30.00" || step.NewPaid.StringFixed(2) != "50.00" {
		t.Errorf("step = %s → %s, want 30.00 → 50.00", step.Amount, step.NewPaid)
	}
}

func TestDailyTarget_NextStep_BelowMinimum(t *testing.T) {
	d := newTarget("1.00", 86400)
	// 1 × 60/86400 ≈ 0.0007 → rounds to 0.00
	if step, ok := d.NextStep(d.StartedAt.Add(time.Minute), domain.DefaultMinPayoutStep); ok {
		t.Errorf("unexpected step %s", step.Amount)
	}
}

func TestDailyTarget_NextStep_NeverMovesBackwards(t *testing.T) {
	d := newTarget("100.00", 1800)
	d.PaidOut = dec("60.00") // already ahead of the 50.00 interpolation
	if step, ok := d.NextStep(d.StartedAt.Add(900*time.Second), domain.DefaultMinPayoutStep); ok {
		t.Errorf("step %s would decrease paid_out", step.Amount)
	}
}

func TestDailyTarget_NegativeTarget(t *testing.T) {
	d := newTarget("-30.00", 300)
	step, ok := d.NextStep(d.StartedAt.Add(100*time.Second), domain.DefaultMinPayoutStep)
	if !ok || step.Amount.StringFixed(2) != "-10.00" {
		t.Fatalf("step = (%s, %v), want -10.00", step.Amount, ok)
	}
}

func TestDailyTarget_FinalStepConverges(t *testing.T) {
	d := newTarget("100.00", 7)
	now := d.StartedAt

	// Drive every second; 100/7 never divides evenly so intermediate
	// rounding drifts until the final step.
	for i := 0; i <= 8 && d.Active; i++ {
		step, ok := d.NextStep(now, domain.DefaultMinPayoutStep)
		if ok {
			if step.NewPaid.LessThan(d.PaidOut) {
				t.Fatalf("paid_out decreased %s → %s", d.PaidOut, step.NewPaid)
			}
			d.PaidOut = step.NewPaid
			if step.Final {
				d.Active = false
			}
		}
		now = now.Add(time.Second)
	}

	if d.Active {
		t.Fatal("target still active after expiry")
	}
	if !d.PaidOut.Equal(d.TargetAmount) {
		t.Errorf("paid_out = %s, want exactly %s", d.PaidOut, d.TargetAmount)
	}
}

func TestDailyTarget_FinalStepWhenAlreadyPaid(t *testing.T) {
	d := newTarget("10.00", 60)
	d.PaidOut = dec("10.00")
	step, ok := d.NextStep(d.StartedAt.Add(time.Hour), domain.DefaultMinPayoutStep)
	if !ok || !step.Final || !step.Amount.IsZero() {
		t.Errorf("step = %+v ok=%v, want zero final step", step, ok)
	}
}

func TestDailyTarget_Inactive(t *testing.T) {
	d := newTarget("10.00", 60)
	d.Active = false
	if _, ok := d.NextStep(d.StartedAt.Add(time.Hour), domain.DefaultMinPayoutStep); ok {
		t.Error("inactive target produced a step")
	}
}
