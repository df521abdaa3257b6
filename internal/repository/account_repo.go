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

// AccountRepository handles ledger state and the operation audit trail.
// The frozen column is never written here.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a ledger row for a user.
func (r *AccountRepository) Create(ctx context.Context, a *domain.Account) error {
	query := `
		INSERT INTO accounts
			(user_id, balance, frozen, wins, losses, telegram_chat_id, created_at, updated_at)
		VALUES
			(:user_id, :balance, :frozen, :wins, :losses, :telegram_chat_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("account_repo.Create: %w", err)
	}
	return nil
}

// GetByUserID fetches the ledger state of a user.
func (r *AccountRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	var a domain.Account
	err := r.db.GetContext(ctx, &a, r.db.Rebind(`SELECT * FROM accounts WHERE user_id = ?`), userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account_repo.GetByUserID: %w", err)
	}
	return &a, nil
}

// ApplyDelta adds amount to the available balance and wins/losses to the
// running totals in a single statement inside tx, returning the resulting
// balance. The update is relative so concurrent writers never lose updates.
func (r *AccountRepository) ApplyDelta(
	ctx context.Context,
	tx *sqlx.Tx,
	userID uuid.UUID,
	amount, wins, losses decimal.Decimal,
	at time.Time,
) (*domain.BalanceChange, error) {
	var out domain.BalanceChange
	err := tx.GetContext(ctx, &out, tx.Rebind(`
		UPDATE accounts
		SET balance    = balance + ?,
		    wins       = wins + ?,
		    losses     = losses + ?,
		    updated_at = ?
		WHERE user_id = ?
		RETURNING balance, telegram_chat_id`),
		amount, wins, losses, at, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account_repo.ApplyDelta: %w", err)
	}
	return &out, nil
}

// LogOperation inserts an audit record inside tx.
func (r *AccountRepository) LogOperation(ctx context.Context, tx *sqlx.Tx, op *domain.Operation) error {
	query := `
		INSERT INTO operations
			(id, user_id, type, amount, balance_after, ref_id, note, created_at)
		VALUES
			(:id, :user_id, :type, :amount, :balance_after, :ref_id, :note, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, op); err != nil {
		return fmt.Errorf("account_repo.LogOperation: %w", err)
	}
	return nil
}

// ListOperations returns paginated audit history for a user, newest first.
func (r *AccountRepository) ListOperations(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Operation, error) {
	var ops []*domain.Operation
	err := r.db.SelectContext(ctx, &ops, r.db.Rebind(`
		SELECT * FROM operations
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`), userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("account_repo.ListOperations: %w", err)
	}
	return ops, nil
}

// CountOperationsByRef returns how many audit records reference refID.
func (r *AccountRepository) CountOperationsByRef(ctx context.Context, refID uuid.UUID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM operations WHERE ref_id = ?`), refID)
	if err != nil {
		return 0, fmt.Errorf("account_repo.CountOperationsByRef: %w", err)
	}
	return n, nil
}
