package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/domain"
)

const accountColumns = `id, email, full_name, password_hash, balance, tier, role, created_at`

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create registers a new account with a zero balance. Email is stored
// lowercased; uniqueness is enforced by the database constraint.
func (r *AccountRepository) Create(ctx context.Context, email, passwordHash, fullName string) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (email, full_name, password_hash, balance)
		VALUES ($1, $2, $3, 0)
		RETURNING ` + accountColumns
	row := r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email)), fullName, passwordHash)
	acc, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	acc, err := scanAccount(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// FindByEmail matches case-insensitively; stored emails are already
// lowercase, so the incoming value is folded to match.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = lower($1)`
	acc, err := scanAccount(r.db.QueryRow(ctx, query, strings.TrimSpace(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (r *AccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *acc)
	}
	return out, rows.Err()
}

// Adjust applies a signed administrative delta under the same row-lock
// discipline as transfers and records an adjustment row. The resulting
// balance must stay non-negative.
func (r *AccountRepository) Adjust(ctx context.Context, id uuid.UUID, delta int64, description string) (*domain.Account, error) {
	if delta == 0 {
		return nil, domain.ErrInvalidInput
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin adjustment: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return nil, domain.ErrInsufficientBalance
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $1 WHERE id = $2`, newBalance, id); err != nil {
		return nil, err
	}

	amount := delta
	if amount < 0 {
		amount = -amount
	}
	if description == "" {
		description = "Balance adjustment"
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (account_id, amount, type, status, description, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, amount, domain.TypeAdjustment, domain.StatusCompleted, description, newBalance)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}
	return r.FindByID(ctx, id)
}

// Delete removes an account and its owned transaction history in one
// transaction. Counterparty references on other accounts' rows are nulled by
// the schema, not deleted; the other side of a transfer keeps its record.
func (r *AccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM transactions WHERE account_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete transactions: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return tx.Commit(ctx)
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	err := row.Scan(&acc.ID, &acc.Email, &acc.FullName, &acc.PasswordHash,
		&acc.Balance, &acc.Tier, &acc.Role, &acc.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}
