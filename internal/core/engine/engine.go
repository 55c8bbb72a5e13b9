// Package engine implements the peer-to-peer transfer operation: validation,
// fee calculation, idempotent replay, and delegation of the atomic commit to
// the ledger store. All balance mutation happens inside the store's single
// transaction; the engine itself never partially applies anything.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/domain"
)

// Caller is the verified identity supplied by the auth gate. It is never
// taken from the request body.
type Caller struct {
	ID    uuid.UUID
	Email string
}

// TransferRequest is the validated client intent for one transfer.
type TransferRequest struct {
	RecipientEmail string
	Amount         int64
	Description    string
	IdempotencyKey string
}

// AccountReader resolves accounts for validation. Not-found is reported as
// domain.ErrAccountNotFound.
type AccountReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
}

// Ledger is the atomic commit boundary. CommitTransfer must re-read both
// balances inside its transaction, re-check the sufficient-balance invariant,
// and either apply all writes or none of them.
type Ledger interface {
	CommitTransfer(ctx context.Context, p domain.TransferParams) (*domain.TransferResult, error)
	FindTransferByKey(ctx context.Context, key string) (*domain.TransferResult, error)
	History(ctx context.Context, accountID uuid.UUID) ([]domain.HistoryEntry, error)
}

type Service struct {
	accounts AccountReader
	ledger   Ledger
	fee      domain.FeePolicy
}

func NewService(accounts AccountReader, ledger Ledger, fee domain.FeePolicy) *Service {
	if fee == nil {
		fee = domain.NoFee
	}
	return &Service{accounts: accounts, ledger: ledger, fee: fee}
}

// Transfer moves amount from the caller to the account behind recipientEmail.
// Validation fails fast in a fixed order; a replayed idempotency key returns
// the stored result without touching any balance.
func (s *Service) Transfer(ctx context.Context, caller Caller, req TransferRequest) (*domain.TransferResult, error) {
	// 1. Caller identity must be present.
	if caller.ID == uuid.Nil || caller.Email == "" {
		return nil, domain.ErrAuthentication
	}

	// 2. Required fields; amount must be a positive integer.
	recipient := normalizeEmail(req.RecipientEmail)
	if recipient == "" || req.IdempotencyKey == "" || req.Amount <= 0 {
		return nil, domain.ErrInvalidInput
	}

	// Replay before account validation: a retried request must return its
	// original result even though the balance has since changed. A stored
	// result belongs to the account that committed it; any other caller
	// presenting the same key gets a conflict, never the stored result.
	if prior, err := s.ledger.FindTransferByKey(ctx, req.IdempotencyKey); err != nil {
		slog.Error("Idempotency lookup failed", "error", err, "key", req.IdempotencyKey)
		return nil, domain.ErrTransferFailed
	} else if prior != nil {
		if prior.Transaction.AccountID != caller.ID {
			slog.Warn("Idempotency key reused across accounts",
				"key", req.IdempotencyKey, "caller_id", caller.ID)
			return nil, domain.ErrIdempotencyConflict
		}
		slog.Info("Transfer replayed from ledger", "key", req.IdempotencyKey)
		return prior, nil
	}

	// 3. No transfers to yourself.
	if recipient == normalizeEmail(caller.Email) {
		return nil, domain.ErrSelfTransfer
	}

	// 4. Sender must exist. Defensive: auth already resolved this identity.
	sender, err := s.accounts.FindByID(ctx, caller.ID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrSenderNotFound
		}
		slog.Error("Sender lookup failed", "error", err, "sender_id", caller.ID)
		return nil, domain.ErrTransferFailed
	}

	// 5. Recipient must exist.
	receiver, err := s.accounts.FindByEmail(ctx, recipient)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrReceiverNotFound
		}
		slog.Error("Recipient lookup failed", "error", err, "email", recipient)
		return nil, domain.ErrTransferFailed
	}

	// 6. Sufficient balance for amount plus fee. This is a fast pre-check;
	// the ledger re-validates inside the transaction to close the race
	// between validation and commit.
	fee := s.fee(sender)
	if sender.Balance < req.Amount+fee {
		return nil, domain.ErrInsufficientBalance
	}

	// An empty description is defaulted per-row by the ledger, so the
	// withdrawal reads "Transfer to X" and the deposit "Transfer from Y".
	result, err := s.ledger.CommitTransfer(ctx, domain.TransferParams{
		SenderID:       sender.ID,
		ReceiverID:     receiver.ID,
		SenderEmail:    sender.Email,
		ReceiverEmail:  receiver.Email,
		Amount:         req.Amount,
		Fee:            fee,
		Description:    strings.TrimSpace(req.Description),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientBalance):
			return nil, domain.ErrInsufficientBalance
		case errors.Is(err, domain.ErrDuplicateTransfer):
			// Lost the unique-key race to a concurrent duplicate; the
			// winner's result is the result.
			prior, lookupErr := s.ledger.FindTransferByKey(ctx, req.IdempotencyKey)
			if lookupErr != nil || prior == nil {
				slog.Error("Replay after key conflict failed", "error", lookupErr, "key", req.IdempotencyKey)
				return nil, domain.ErrTransferFailed
			}
			if prior.Transaction.AccountID != caller.ID {
				return nil, domain.ErrIdempotencyConflict
			}
			return prior, nil
		default:
			slog.Error("Transfer commit aborted", "error", err,
				"sender_id", sender.ID, "receiver_id", receiver.ID, "amount", req.Amount)
			return nil, domain.ErrTransferFailed
		}
	}

	slog.Info("Transfer completed",
		"sender_id", sender.ID, "receiver_id", receiver.ID,
		"amount", req.Amount, "fee", fee)
	return result, nil
}

// History returns the caller's ledger rows, newest first, with counterparty
// display fields populated.
func (s *Service) History(ctx context.Context, caller Caller) ([]domain.HistoryEntry, error) {
	if caller.ID == uuid.Nil {
		return nil, domain.ErrAuthentication
	}
	entries, err := s.ledger.History(ctx, caller.ID)
	if err != nil {
		slog.Error("History lookup failed", "error", err, "account_id", caller.ID)
		return nil, domain.ErrTransferFailed
	}
	return entries, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
