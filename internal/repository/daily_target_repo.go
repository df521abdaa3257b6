package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// DailyTargetRepository handles all database operations for DailyTargets.
type DailyTargetRepository struct {
	db *sqlx.DB
}

// NewDailyTargetRepository creates a new DailyTargetRepository.
func NewDailyTargetRepository(db *sqlx.DB) *DailyTargetRepository {
	return &DailyTargetRepository{db: db}
}

// Create inserts a new daily target.
func (r *DailyTargetRepository) Create(ctx context.Context, d *domain.DailyTarget) error {
	query := `
		INSERT INTO daily_targets
			(id, user_id, target_amount, duration_seconds, paid_out, started_at, active, created_at, updated_at)
		VALUES
			(:id, :user_id, :target_amount, :duration_seconds, :paid_out, :started_at, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("daily_target_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a daily target by its primary key.
func (r *DailyTargetRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.DailyTarget, error) {
	var d domain.DailyTarget
	err := r.db.GetContext(ctx, &d, r.db.Rebind(`SELECT * FROM daily_targets WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTargetNotFound
		}
		return nil, fmt.Errorf("daily_target_repo.GetByID: %w", err)
	}
	return &d, nil
}

// ListActive returns every active target, oldest first.
func (r *DailyTargetRepository) ListActive(ctx context.Context) ([]*domain.DailyTarget, error) {
	var ds []*domain.DailyTarget
	err := r.db.SelectContext(ctx, &ds, `
		SELECT * FROM daily_targets
		WHERE active = TRUE
		ORDER BY started_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("daily_target_repo.ListActive: %w", err)
	}
	return ds, nil
}

// ListActiveByUser returns the active targets of one user.
func (r *DailyTargetRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.DailyTarget, error) {
	var ds []*domain.DailyTarget
	err := r.db.SelectContext(ctx, &ds, r.db.Rebind(`
		SELECT * FROM daily_targets
		WHERE user_id = ? AND active = TRUE
		ORDER BY started_at ASC`), userID)
	if err != nil {
		return nil, fmt.Errorf("daily_target_repo.ListActiveByUser: %w", err)
	}
	return ds, nil
}

// Advance moves paid_out from prevPaid to newPaid inside tx and clears active
// when final is set. The update only applies if the row is still active and
// paid_out still equals prevPaid, so a step computed from a stale read is
// rejected. It reports whether the row was updated.
func (r *DailyTargetRepository) Advance(
	ctx context.Context,
	tx *sqlx.Tx,
	id uuid.UUID,
	prevPaid, newPaid decimal.Decimal,
	final bool,
	at time.Time,
) (bool, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE daily_targets
		SET paid_out   = ?,
		    active     = ?,
		    updated_at = ?
		WHERE id = ? AND active = TRUE AND paid_out = ?`),
		newPaid, !final, at, id, prevPaid)
	if err != nil {
		return false, fmt.Errorf("daily_target_repo.Advance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("daily_target_repo.Advance rows: %w", err)
	}
	return n == 1, nil
}
