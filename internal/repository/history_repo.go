package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// HistoryRepository stores the archival copy of closed positions.
// Rows are insert-only.
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Insert archives a closed position inside tx.
func (r *HistoryRepository) Insert(ctx context.Context, tx *sqlx.Tx, h *domain.TradeHistory) error {
	query := `
		INSERT INTO trade_history
			(id, position_id, user_id, symbol, direction, entry_price, exit_price, size, pnl,
			 elapsed_seconds, opened_at, closed_at, close_reason)
		VALUES
			(:id, :position_id, :user_id, :symbol, :direction, :entry_price, :exit_price, :size, :pnl,
			 :elapsed_seconds, :opened_at, :closed_at, :close_reason)`
	if _, err := tx.NamedExecContext(ctx, query, h); err != nil {
		return fmt.Errorf("history_repo.Insert: %w", err)
	}
	return nil
}

// GetByPositionID fetches the archive row of a closed position.
func (r *HistoryRepository) GetByPositionID(ctx context.Context, positionID uuid.UUID) (*domain.TradeHistory, error) {
	var h domain.TradeHistory
	err := r.db.GetContext(ctx, &h, r.db.Rebind(`SELECT * FROM trade_history WHERE position_id = ?`), positionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("history_repo.GetByPositionID: %w", err)
	}
	return &h, nil
}

// ListByUser returns paginated closed trades for a user, newest first.
func (r *HistoryRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.TradeHistory, error) {
	var hs []*domain.TradeHistory
	err := r.db.SelectContext(ctx, &hs, r.db.Rebind(`
		SELECT * FROM trade_history
		WHERE user_id = ?
		ORDER BY closed_at DESC
		LIMIT ? OFFSET ?`), userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("history_repo.ListByUser: %w", err)
	}
	return hs, nil
}
