package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/domain"
)

type LedgerRepository struct {
	db *pgxpool.Pool

	// WebhookURL, when set, gets a notification job enqueued inside every
	// transfer transaction for the background worker to deliver.
	WebhookURL string
}

func NewLedgerRepository(db *pgxpool.Pool, webhookURL string) *LedgerRepository {
	return &LedgerRepository{db: db, WebhookURL: webhookURL}
}

// CommitTransfer applies one validated transfer as a single transaction:
// both account rows are locked in deterministic order, the balance invariant
// is re-checked against the locked rows, both balances move, and the
// withdrawal/deposit pair is appended. Any failure rolls the whole unit back.
func (r *LedgerRepository) CommitTransfer(ctx context.Context, p domain.TransferParams) (*domain.TransferResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock both rows in id order so two opposing transfers cannot deadlock.
	lockOrder := []uuid.UUID{p.SenderID, p.ReceiverID}
	if lockOrder[1].String() < lockOrder[0].String() {
		lockOrder[0], lockOrder[1] = lockOrder[1], lockOrder[0]
	}
	var senderBalance int64
	for _, id := range lockOrder {
		var balance int64
		err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		if err != nil {
			return nil, err
		}
		if id == p.SenderID {
			senderBalance = balance
		}
	}

	// Fresh-read recheck: a concurrent transfer may have drained the sender
	// between validation and this lock.
	total := p.Amount + p.Fee
	if senderBalance < total {
		return nil, domain.ErrInsufficientBalance
	}
	newBalance := senderBalance - total

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1 WHERE id = $2`, total, p.SenderID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1 WHERE id = $2`, p.Amount, p.ReceiverID); err != nil {
		return nil, err
	}

	withdrawalDesc := p.Description
	if withdrawalDesc == "" {
		withdrawalDesc = fmt.Sprintf("Transfer to %s", p.ReceiverEmail)
	}
	depositDesc := p.Description
	if depositDesc == "" {
		depositDesc = fmt.Sprintf("Transfer from %s", p.SenderEmail)
	}

	withdrawal := domain.Transaction{
		AccountID:      p.SenderID,
		CounterpartyID: &p.ReceiverID,
		Amount:         p.Amount,
		Type:           domain.TypeWithdrawal,
		Status:         domain.StatusCompleted,
		Description:    withdrawalDesc,
		IdempotencyKey: p.IdempotencyKey,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO transactions (account_id, counterparty_id, amount, type, status, description, idempotency_key, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		withdrawal.AccountID, withdrawal.CounterpartyID, withdrawal.Amount, withdrawal.Type,
		withdrawal.Status, withdrawal.Description, withdrawal.IdempotencyKey, newBalance,
	).Scan(&withdrawal.ID, &withdrawal.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateTransfer
		}
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO transactions (account_id, counterparty_id, amount, type, status, description)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ReceiverID, p.SenderID, p.Amount, domain.TypeDeposit, domain.StatusCompleted, depositDesc)
	if err != nil {
		return nil, err
	}

	if p.Fee > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO transactions (account_id, amount, type, status, description)
			VALUES ($1, $2, $3, $4, 'Transfer fee')`,
			p.SenderID, p.Fee, domain.TypeAdjustment, domain.StatusCompleted)
		if err != nil {
			return nil, err
		}
	}

	// Transactional outbox: the notification commits with the transfer or
	// not at all.
	if r.WebhookURL != "" {
		payload := map[string]interface{}{
			"event": "transfer.completed",
			"data": map[string]interface{}{
				"transaction_id": withdrawal.ID,
				"sender_id":      p.SenderID,
				"receiver_id":    p.ReceiverID,
				"amount":         p.Amount,
				"timestamp":      time.Now(),
			},
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO notification_jobs (url, payload) VALUES ($1, $2)`,
			r.WebhookURL, payload); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return &domain.TransferResult{Transaction: withdrawal, NewBalance: newBalance}, nil
}

// FindTransferByKey returns the stored result for a previously committed
// idempotency key, or nil when the key is unused.
func (r *LedgerRepository) FindTransferByKey(ctx context.Context, key string) (*domain.TransferResult, error) {
	query := `
		SELECT id, account_id, counterparty_id, amount, type, status, description, balance_after, created_at
		FROM transactions
		WHERE idempotency_key = $1`
	var tx domain.Transaction
	var balanceAfter int64
	err := r.db.QueryRow(ctx, query, key).Scan(
		&tx.ID, &tx.AccountID, &tx.CounterpartyID, &tx.Amount, &tx.Type,
		&tx.Status, &tx.Description, &balanceAfter, &tx.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx.IdempotencyKey = key
	return &domain.TransferResult{Transaction: tx, NewBalance: balanceAfter}, nil
}

// History fetches the account's ledger rows newest first with counterparty
// display fields joined in.
func (r *LedgerRepository) History(ctx context.Context, accountID uuid.UUID) ([]domain.HistoryEntry, error) {
	query := `
		SELECT t.id, t.account_id, t.counterparty_id, t.amount, t.type, t.status, t.description, t.created_at,
			c.full_name, c.email
		FROM transactions t
		LEFT JOIN accounts c ON c.id = t.counterparty_id
		WHERE t.account_id = $1
		ORDER BY t.created_at DESC
		LIMIT 100`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		var name, email *string
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.CounterpartyID,
			&entry.Amount, &entry.Type, &entry.Status, &entry.Description,
			&entry.CreatedAt, &name, &email); err != nil {
			return nil, err
		}
		if name != nil {
			entry.CounterpartyName = *name
		}
		if email != nil {
			entry.CounterpartyEmail = *email
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}
