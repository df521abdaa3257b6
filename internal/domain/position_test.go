package domain_test

import (
	"testing"
	"time"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newPosition(dir domain.Direction) *domain.Position {
	return &domain.Position{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		Symbol:     "XAUUSD",
		Direction:  dir,
		EntryPrice: dec("2650.00"),
		Size:       dec("0.01"),
		OpenedAt:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Status:     domain.PositionOpen,
	}
}

// ── Valuation ─────────────────────────────────────────────────────────────────

// long:  (2660 − 2650) × 0.01 × 100 = 10.00
// short: (2650 − 2645) × 0.01 × 100 =  5.00
func TestPosition_Valuate(t *testing.T) {
	cases := []struct {
		name  string
		dir   domain.Direction
		price string
		want  string
	}{
		{"long in profit", domain.DirectionLong, "2660.00", "10.00"},
		{"long in loss", domain.DirectionLong, "2640.00", "-10.00"},
		{"short in profit", domain.DirectionShort, "2645.00", "5.00"},
		{"short in loss", domain.DirectionShort, "2655.50", "-5.50"},
		{"flat", domain.DirectionLong, "2650.00", "0.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPosition(tc.dir)
			got := p.Valuate(dec(tc.price), hundred)
			if got.StringFixed(2) != tc.want {
				t.Errorf("Valuate(%s) = %s, want %s", tc.price, got.StringFixed(2), tc.want)
			}
		})
	}
}

func TestPosition_Valuate_RoundsOnce(t *testing.T) {
	p := newPosition(domain.DirectionLong)
	// 0.004 × 0.01 × 100 = 0.004 → 0.00
	got := p.Valuate(dec("2650.004"), hundred)
	if !got.Equal(decimal.Zero) {
		t.Errorf("Valuate = %s, want 0", got)
	}
	if got.Exponent() < -domain.PnLPlaces {
		t.Errorf("Valuate returned %d fractional digits", -got.Exponent())
	}
}

func TestPosition_Elapsed_NeverNegative(t *testing.T) {
	p := newPosition(domain.DirectionLong)
	if got := p.Elapsed(p.OpenedAt.Add(-time.Minute)); got != 0 {
		t.Errorf("Elapsed before open = %d, want 0", got)
	}
	if got := p.Elapsed(p.OpenedAt.Add(90*time.Second + 500*time.Millisecond)); got != 90 {
		t.Errorf("Elapsed = %d, want 90", got)
	}
}

// ── Close conditions ──────────────────────────────────────────────────────────

func TestEvaluateClose_DurationExpired(t *testing.T) {
	p := newPosition(domain.DirectionLong)
	p.DurationSeconds = 3600

	price := dec("2651.00")
	pnl := p.Valuate(price, hundred)

	reason, ok := p.EvaluateClose(pnl, price, 3601)
	if !ok || reason != domain.ReasonDuration {
		t.Fatalf("EvaluateClose = (%q, %v), want (duration, true)", reason, ok)
	}

	if _, ok := p.EvaluateClose(pnl, price, 3599); ok {
		t.Error("position should stay open before its duration elapses")
	}
}

func TestEvaluateClose_TargetBeatsStopLoss(t *testing.T) {
	p := newPosition(domain.DirectionShort)
	// Short in loss: price moved up through the stop-loss while a negative
	// target was also hit.
	p.TargetPnL = dec("-10.00")
	p.StopLoss = decPtr("2655.00")

	price := dec("2662.00")
	pnl := p.Valuate(price, hundred) // -12.00

	reason, ok := p.EvaluateClose(pnl, price, 10)
	if !ok || reason != domain.ReasonTarget {
		t.Errorf("EvaluateClose = (%q, %v), want (target, true)", reason, ok)
	}
}

func TestEvaluateClose_PositiveTarget(t *testing.T) {
	p := newPosition(domain.DirectionLong)
	p.TargetPnL = dec("10.00")

	if r, ok := p.EvaluateClose(dec("9.99"), dec("2659.99"), 1); ok {
		t.Errorf("closed early with %q", r)
	}
	if r, ok := p.EvaluateClose(dec("10.00"), dec("2660.00"), 1); !ok || r != domain.ReasonTarget {
		t.Errorf("EvaluateClose = (%q, %v), want target", r, ok)
	}
}

func TestEvaluateClose_TakeProfitAndStopLoss(t *testing.T) {
	cases := []struct {
		name  string
		dir   domain.Direction
		tp    string
		sl    string
		price string
		want  domain.CloseReason
		close bool
	}{
		{"long tp", domain.DirectionLong, "2660", "2640", "2660.00", domain.ReasonTakeProfit, true},
		{"long sl", domain.DirectionLong, "2660", "2640", "2639.50", domain.ReasonStopLoss, true},
		{"long inside", domain.DirectionLong, "2660", "2640", "2655.00", "", false},
		{"short tp", domain.DirectionShort, "2640", "2660", "2640.00", domain.ReasonTakeProfit, true},
		{"short sl", domain.DirectionShort, "2640", "2660", "2661.00", domain.ReasonStopLoss, true},
		{"short inside", domain.DirectionShort, "2640", "2660", "2648.00", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPosition(tc.dir)
			p.TakeProfit = decPtr(tc.tp)
			p.StopLoss = decPtr(tc.sl)

			price := dec(tc.price)
			reason, ok := p.EvaluateClose(p.Valuate(price, hundred), price, 5)
			if ok != tc.close || reason != tc.want {
				t.Errorf("EvaluateClose = (%q, %v), want (%q, %v)", reason, ok, tc.want, tc.close)
			}
		})
	}
}

func TestEvaluateClose_NoRulesConfigured(t *testing.T) {
	p := newPosition(domain.DirectionLong)
	price := dec("9999")
	if r, ok := p.EvaluateClose(p.Valuate(price, hundred), price, 1_000_000); ok {
		t.Errorf("position without target/duration/tp/sl closed with %q", r)
	}
}

func TestCloseReason_IsValid(t *testing.T) {
	for _, r := range []domain.CloseReason{
		domain.ReasonTarget, domain.ReasonDuration, domain.ReasonTakeProfit,
		domain.ReasonStopLoss, domain.ReasonManual, domain.ReasonAdmin,
	} {
		if !r.IsValid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if domain.CloseReason("liquidated").IsValid() {
		t.Error("unknown reason reported valid")
	}
}

func TestSplitPnL(t *testing.T) {
	w, l := domain.SplitPnL(dec("-4.25"))
	if !w.IsZero() || l.StringFixed(2) != "4.25" {
		t.Errorf("loss split = (%s, %s)", w, l)
	}
	w, l = domain.SplitPnL(decimal.Zero)
	if !w.IsZero() || !l.IsZero() {
		t.Errorf("zero split = (%s, %s)", w, l)
	}
	w, l = domain.SplitPnL(dec("7"))
	if w.StringFixed(2) != "7.00" || !l.IsZero() {
		t.Errorf("win split = (%s, %s)", w, l)
	}
}
