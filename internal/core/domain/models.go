package domain

import (
	"time"

	"github.com/google/uuid"
)

type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeAdjustment TransactionType = "adjustment"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Account is a user's balance-bearing record. Balance is stored in minor
// currency units (cents) and never goes negative.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Balance      int64     `json:"balance"`
	Tier         Tier      `json:"tier"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Transaction is one append-only ledger row. Direction is encoded by Type,
// never by the sign of Amount, which is always positive.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	AccountID      uuid.UUID         `json:"account_id"`
	CounterpartyID *uuid.UUID        `json:"counterparty_id,omitempty"`
	Amount         int64             `json:"amount"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	Description    string            `json:"description"`
	IdempotencyKey string            `json:"-"`
	CreatedAt      time.Time         `json:"created_at"`
}

// HistoryEntry is a Transaction with the counterparty's display fields
// joined in for statement views.
type HistoryEntry struct {
	Transaction
	CounterpartyName  string `json:"counterparty_name,omitempty"`
	CounterpartyEmail string `json:"counterparty_email,omitempty"`
}

// TransferParams carries one fully validated transfer into the ledger's
// atomic commit. Fee, when non-zero, is debited from the sender on top of
// Amount.
type TransferParams struct {
	SenderID       uuid.UUID
	ReceiverID     uuid.UUID
	SenderEmail    string
	ReceiverEmail  string
	Amount         int64
	Fee            int64
	Description    string
	IdempotencyKey string
}

// TransferResult is what a completed (or replayed) transfer returns to the
// caller: the sender's withdrawal row and the sender's post-transfer balance.
type TransferResult struct {
	Transaction Transaction `json:"transaction"`
	NewBalance  int64       `json:"new_balance"`
}
