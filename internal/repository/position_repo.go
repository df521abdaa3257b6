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

// PositionRepository handles all database operations for Positions.
type PositionRepository struct {
	db *sqlx.DB
}

// NewPositionRepository creates a new PositionRepository.
func NewPositionRepository(db *sqlx.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Mark is a fresh valuation to persist for an open position.
type Mark struct {
	ID    uuid.UUID
	Price decimal.Decimal
	PnL   decimal.Decimal
}

// Create inserts a new position row.
func (r *PositionRepository) Create(ctx context.Context, p *domain.Position) error {
	query := `
		INSERT INTO positions
			(id, user_id, symbol, direction, entry_price, current_price, size, opened_at,
			 duration_seconds, target_pnl, take_profit, stop_loss, status, pnl, created_at, updated_at)
		VALUES
			(:id, :user_id, :symbol, :direction, :entry_price, :current_price, :size, :opened_at,
			 :duration_seconds, :target_pnl, :take_profit, :stop_loss, :status, :pnl, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("position_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a position by its primary key.
func (r *PositionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Position, error) {
	var p domain.Position
	err := r.db.GetContext(ctx, &p, r.db.Rebind(`SELECT * FROM positions WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("position_repo.GetByID: %w", err)
	}
	return &p, nil
}

// ListOpen returns up to limit open positions, oldest first.
func (r *PositionRepository) ListOpen(ctx context.Context, limit int) ([]*domain.Position, error) {
	var ps []*domain.Position
	err := r.db.SelectContext(ctx, &ps, r.db.Rebind(`
		SELECT * FROM positions
		WHERE status = 'open'
		ORDER BY opened_at ASC, id ASC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("position_repo.ListOpen: %w", err)
	}
	return ps, nil
}

// OpenCursor is the keyset position of the last row of a ListOpenAfter page.
type OpenCursor struct {
	OpenedAt time.Time
	ID       uuid.UUID
}

// CursorOf returns the cursor just past p.
func CursorOf(p *domain.Position) *OpenCursor {
	return &OpenCursor{OpenedAt: p.OpenedAt, ID: p.ID}
}

// ListOpenAfter returns up to limit open positions ordered by (opened_at, id)
// that sort strictly after cursor. A nil cursor starts from the oldest.
func (r *PositionRepository) ListOpenAfter(ctx context.Context, cursor *OpenCursor, limit int) ([]*domain.Position, error) {
	if cursor == nil {
		return r.ListOpen(ctx, limit)
	}
	var ps []*domain.Position
	err := r.db.SelectContext(ctx, &ps, r.db.Rebind(`
		SELECT * FROM positions
		WHERE status = 'open'
		  AND (opened_at > ? OR (opened_at = ? AND id > ?))
		ORDER BY opened_at ASC, id ASC
		LIMIT ?`), cursor.OpenedAt, cursor.OpenedAt, cursor.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("position_repo.ListOpenAfter: %w", err)
	}
	return ps, nil
}

// ListOpenByUser returns every open position of one user, newest first.
func (r *PositionRepository) ListOpenByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Position, error) {
	var ps []*domain.Position
	err := r.db.SelectContext(ctx, &ps, r.db.Rebind(`
		SELECT * FROM positions
		WHERE user_id = ? AND status = 'open'
		ORDER BY opened_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("position_repo.ListOpenByUser: %w", err)
	}
	return ps, nil
}

// List returns positions filtered by status for the back-office.
// status="" means all statuses.
func (r *PositionRepository) List(ctx context.Context, status domain.PositionStatus, limit, offset int) ([]*domain.Position, error) {
	var ps []*domain.Position
	var err error
	if status != "" {
		err = r.db.SelectContext(ctx, &ps, r.db.Rebind(`
			SELECT * FROM positions
			WHERE status = ?
			ORDER BY opened_at DESC
			LIMIT ? OFFSET ?`), string(status), limit, offset)
	} else {
		err = r.db.SelectContext(ctx, &ps, r.db.Rebind(`
			SELECT * FROM positions
			ORDER BY opened_at DESC
			LIMIT ? OFFSET ?`), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("position_repo.List: %w", err)
	}
	return ps, nil
}

// UpdateMarks persists the latest price and pnl of many positions inside tx.
// Rows that are no longer open are left untouched.
func (r *PositionRepository) UpdateMarks(ctx context.Context, tx *sqlx.Tx, marks []Mark, at time.Time) error {
	if len(marks) == 0 {
		return nil
	}
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		UPDATE positions
		SET current_price = ?, pnl = ?, updated_at = ?
		WHERE id = ? AND status = 'open'`))
	if err != nil {
		return fmt.Errorf("position_repo.UpdateMarks prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range marks {
		if _, err := stmt.ExecContext(ctx, m.Price, m.PnL, at, m.ID); err != nil {
			return fmt.Errorf("position_repo.UpdateMarks %s: %w", m.ID, err)
		}
	}
	return nil
}

// MarkClosed flips an open position to closed and freezes its exit price,
// pnl and reason. It reports false when the position was not open, which is
// the de-duplication guard for concurrent closes.
func (r *PositionRepository) MarkClosed(
	ctx context.Context,
	tx *sqlx.Tx,
	id uuid.UUID,
	exitPrice, pnl decimal.Decimal,
	reason domain.CloseReason,
	at time.Time,
) (bool, error) {
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE positions
		SET status        = 'closed',
		    current_price = ?,
		    pnl           = ?,
		    close_reason  = ?,
		    closed_at     = ?,
		    updated_at    = ?
		WHERE id = ? AND status = 'open'`),
		exitPrice, pnl, string(reason), at, at, id)
	if err != nil {
		return false, fmt.Errorf("position_repo.MarkClosed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("position_repo.MarkClosed rows: %w", err)
	}
	return n == 1, nil
}
