package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rhenofebrian/fullstack-bank-app-sub000/internal/core/domain"
)

// memStore is an in-memory stand-in for the Postgres ledger. A single mutex
// serializes commits the way row locks do, so the concurrency tests exercise
// the same check-inside-the-critical-section discipline as the real store.
type memStore struct {
	mu         sync.Mutex
	accounts   map[uuid.UUID]*domain.Account
	byEmail    map[string]uuid.UUID
	txs        []domain.Transaction
	results    map[string]*domain.TransferResult
	failCommit error
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[uuid.UUID]*domain.Account),
		byEmail:  make(map[string]uuid.UUID),
		results:  make(map[string]*domain.TransferResult),
	}
}

func (m *memStore) addAccount(email string, balance int64, tier domain.Tier) *domain.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc := &domain.Account{
		ID:        uuid.New(),
		Email:     email,
		Balance:   balance,
		Tier:      tier,
		Role:      domain.RoleUser,
		CreatedAt: time.Now(),
	}
	m.accounts[acc.ID] = acc
	m.byEmail[email] = acc.ID
	return acc
}

func (m *memStore) FindByID(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (m *memStore) FindByEmail(_ context.Context, email string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *m.accounts[id]
	return &cp, nil
}

func (m *memStore) FindTransferByKey(_ context.Context, key string) (*domain.TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.results[key]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

func (m *memStore) CommitTransfer(_ context.Context, p domain.TransferParams) (*domain.TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Simulated infrastructure failure: nothing may be applied.
	if m.failCommit != nil {
		return nil, m.failCommit
	}
	if _, ok := m.results[p.IdempotencyKey]; ok {
		return nil, domain.ErrDuplicateTransfer
	}

	sender, ok := m.accounts[p.SenderID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	receiver, ok := m.accounts[p.ReceiverID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	// In-scope recheck, same as the FOR UPDATE path in Postgres.
	total := p.Amount + p.Fee
	if sender.Balance < total {
		return nil, domain.ErrInsufficientBalance
	}

	sender.Balance -= total
	receiver.Balance += p.Amount

	wdDesc := p.Description
	if wdDesc == "" {
		wdDesc = fmt.Sprintf("Transfer to %s", p.ReceiverEmail)
	}
	depDesc := p.Description
	if depDesc == "" {
		depDesc = fmt.Sprintf("Transfer from %s", p.SenderEmail)
	}

	receiverID := p.ReceiverID
	senderID := p.SenderID
	withdrawal := domain.Transaction{
		ID:             uuid.New(),
		AccountID:      p.SenderID,
		CounterpartyID: &receiverID,
		Amount:         p.Amount,
		Type:           domain.TypeWithdrawal,
		Status:         domain.StatusCompleted,
		Description:    wdDesc,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      time.Now(),
	}
	deposit := domain.Transaction{
		ID:             uuid.New(),
		AccountID:      p.ReceiverID,
		CounterpartyID: &senderID,
		Amount:         p.Amount,
		Type:           domain.TypeDeposit,
		Status:         domain.StatusCompleted,
		Description:    depDesc,
		CreatedAt:      time.Now(),
	}
	m.txs = append(m.txs, withdrawal, deposit)

	if p.Fee > 0 {
		m.txs = append(m.txs, domain.Transaction{
			ID:          uuid.New(),
			AccountID:   p.SenderID,
			Amount:      p.Fee,
			Type:        domain.TypeAdjustment,
			Status:      domain.StatusCompleted,
			Description: "Transfer fee",
			CreatedAt:   time.Now(),
		})
	}

	result := &domain.TransferResult{Transaction: withdrawal, NewBalance: sender.Balance}
	m.results[p.IdempotencyKey] = result
	cp := *result
	return &cp, nil
}

func (m *memStore) History(_ context.Context, accountID uuid.UUID) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryEntry
	for i := len(m.txs) - 1; i >= 0; i-- {
		tx := m.txs[i]
		if tx.AccountID != accountID {
			continue
		}
		entry := domain.HistoryEntry{Transaction: tx}
		if tx.CounterpartyID != nil {
			if cp, ok := m.accounts[*tx.CounterpartyID]; ok {
				entry.CounterpartyName = cp.FullName
				entry.CounterpartyEmail = cp.Email
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (m *memStore) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		t.Fatalf("account %s missing", id)
	}
	return acc.Balance
}

func (m *memStore) txCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

func asCaller(acc *domain.Account) Caller {
	return Caller{ID: acc.ID, Email: acc.Email}
}

func TestTransferHappyPath(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, nil)
	a := store.addAccount("a@bank.test", 100_000, domain.TierStandard)
	b := store.addAccount("b@bank.test", 0, domain.TierStandard)

	res, err := svc.Transfer(context.Background(), asCaller(a), TransferRequest{
		RecipientEmail: "b@bank.test",
		Amount:         40_000,
		Description:    "rent",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewBalance != 60_000 {
		t.Fatalf("new balance=%d want=60000", res.NewBalance)
	}
	if store.balance(t, a.ID) != 60_000 || store.balance(t, b.ID) != 40_000 {
		t.Fatalf("balances a=%d b=%d want 60000/40000", store.balance(t, a.ID), store.balance(t, b.ID))
	}

	// Exactly one withdrawal on the sender and one deposit on the receiver,
	// same amount, cross-referenced counterparties.
	if store.txCount() != 2 {
		t.Fatalf("tx count=%d want=2", store.txCount())
	}
	wd := store.txs[0]
	dep := store.txs[1]
	if wd.Type != domain.TypeWithdrawal || dep.Type != domain.TypeDeposit {
		t.Fatalf("types=%s/%s want withdrawal/deposit", wd.Type, dep.Type)
	}
	if wd.Amount != 40_000 || dep.Amount != 40_000 {
		t.Fatalf("amounts=%d/%d want 40000 both", wd.Amount, dep.Amount)
	}
	if wd.Status != domain.StatusCompleted || dep.Status != domain.StatusCompleted {
		t.Fatalf("statuses=%s/%s want completed", wd.Status, dep.Status)
	}
	if wd.AccountID != a.ID || *wd.CounterpartyID != b.ID {
		t.Fatal("withdrawal owner/counterparty pairing wrong")
	}
	if dep.AccountID != b.ID || *dep.CounterpartyID != a.ID {
		t.Fatal("deposit owner/counterparty pairing wrong")
	}
	if wd.Description != "rent" {
		t.Fatalf("description=%q want=%q", wd.Description, "rent")
	}
	if res.Transaction.ID != wd.ID {
		t.Fatal("result must carry the sender's withdrawal row")
	}
}

func TestConservation(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, nil)
	a := store.addAccount("a@bank.test", 70_000, domain.TierStandard)
	b := store.addAccount("b@bank.test", 30_000, domain.TierStandard)

	before := store.balance(t, a.ID) + store.balance(t, b.ID)
	if _, err := svc.Transfer(context.Background(), asCaller(a), TransferRequest{
		RecipientEmail: "b@bank.test",
		Amount:         12_345,
		IdempotencyKey: "key-1",
	}); err != nil {
		t.Fatal(err)
	}
	after := store.balance(t, a.ID) + store.balance(t, b.ID)
	if before != after {
		t.Fatalf("money not conserved: before=%d after=%d", before, after)
	}
}

func TestDefaultDescriptions(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, nil)
	a := store.addAccount("a@bank.test", 10_000, domain.TierStandard)
	store.addAccount("b@bank.test", 0, domain.TierStandard)

	if _, err := svc.Transfer(context.Background(), asCaller(a), TransferRequest{
		RecipientEmail: "b@bank.test",
		Amount:         1000,
		IdempotencyKey: "key-1",
	}); err != nil {
		t.Fatal(err)
	}
	if got := store.txs[0].Description; got != "Transfer to b@bank.test" {
		t.Fatalf("withdrawal description=%q", got)
	}
	if got := store.txs[1].Description; got != "Transfer from a@bank.test" {
		t.Fatalf("deposit description=%q", got)
	}
}

func TestValidationFailures(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, nil)
	a := store.addAccount("a@bank.test", 10_000, domain.TierStandard)
	store.addAccount("b@bank.test", 0, domain.TierStandard)

	cases := []struct {
		name   string
		caller Caller
		req    TransferRequest
		want   error
	}{
		{"no caller", Caller{}, TransferRequest{RecipientEmail: "b@bank.test", Amount: 1, IdempotencyKey: "k"}, domain.ErrAuthentication},
		{"missing recipient", asCaller(a), TransferRequest{Amount: 1, IdempotencyKey: "k"}, domain.ErrInvalidInput},
		{"missing key", asCaller(a), TransferRequest{RecipientEmail: "b@bank.test", Amount: 1}, domain.ErrInvalidInput},
		{"zero amount", asCaller(a), TransferRequest{RecipientEmail: "b@bank.test", Amount: 0, IdempotencyKey: "k"}, domain.ErrInvalidInput},
		{"negative amount", asCaller(a), TransferRequest{RecipientEmail: "b@bank.test", Amount: -5, IdempotencyKey: "k"}, domain.ErrInvalidInput},
		{"self transfer", asCaller(a), TransferRequest{RecipientEmail: "A@Bank.Test", Amount: 1, IdempotencyKey: "k"}, domain.ErrSelfTransfer},
		{"unknown recipient", asCaller(a), TransferRequest{RecipientEmail: "ghost@bank.test", Amount: 1, IdempotencyKey: "k"}, domain.ErrReceiverNotFound},
		{"unknown sender", Caller{ID: uuid.New(), Email: "x@bank.test"}, TransferRequest{RecipientEmail: "b@bank.test", Amount: 1, IdempotencyKey: "k"}, domain.ErrSenderNotFound},
		{"insufficient", asCaller(a), TransferRequest{RecipientEmail: "b@bank.test", Amount: 10_001, IdempotencyKey: "k"}, domain.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(context.Background(), tc.caller, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("want %v, got %v", tc.want, err)
			}
		})
	}

	// None of the failures above may have written anything.
	if store.txCount() != 0 {
		t.Fatalf("tx count=%d want=0 after failed validations", store.txCount())
	}
	if store.balance(t, a.ID) != 10_000 {
		t.Fatalf("sender balance mutated by failed validation")
	}
}

func TestAtomicityOnCommitFailure(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, nil)
	a := store.addAccount("a@bank.test", 10_000, domain.TierStandard)
	b := store.addAccount("b@bank.test", 0, domain.TierStandard)

	store.failCommit = errors.New("storage unavailable")
	_, err := svc.Transfer(context.Background(), asCaller(a), TransferRequest{
		RecipientEmail: "b@bank.test",
		Amount:         1000,
		IdempotencyKey: "key-1",
	})
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("want ErrTransferFailed, got %v", err)
	}
	if store.balance(t, a.ID) != 10_000 || store.balance(t, b.ID) != 0 {
		t.Fatal("aborted commit mutated a balance")
	}
	if store.txCount() != 0 {
		t.Fatal("aborted commit left ledger rows behind")
	}
}

func TestIdempotentReplay(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, nil)
	a := store.addAccount("a@bank.test", 10_000, domain.TierStandard)
	b := store.addAccount("b@bank.test", 0, domain.TierStandard)

	req := TransferRequest{
		RecipientEmail: "b@bank.test",
		Amount:         4000,
		IdempotencyKey: "retry-safe-key",
	}
	first, err := svc.Transfer(context.Background(), asCaller(a), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Transfer(context.Background(), asCaller(a), req)
	if err != nil {
		t.Fatal(err)
	}
	if second.Transaction.ID != first.Transaction.ID || second.NewBalance != first.NewBalance {
		t.Fatalf("replay result differs: first=%+v second=%+v", first, second)
	}
	if store.balance(t, a.ID) != 6000 || store.balance(t, b.ID) != 4000 {
		t.Fatal("replay applied the transfer twice")
	}
	if store.txCount() != 2 {
		t.Fatalf("tx count=%d want=2 (single pair)", store.txCount())
	}
}

func TestReplayScopedToOwner(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, nil)
	a := store.addAccount("a@bank.test", 10_000, domain.TierStandard)
	b := store.addAccount("b@bank.test", 10_000, domain.TierStandard)
	store.addAccount("c@bank.test", 0, domain.TierStandard)

	if _, err := svc.Transfer(context.Background(), asCaller(a), TransferRequest{
		RecipientEmail: "c@bank.test",
		Amount:         4000,
		IdempotencyKey: "shared-key",
	}); err != nil {
		t.Fatal(err)
	}

	// A different caller presenting A's key must get a conflict, never A's
	// withdrawal row or A's balance, and no transfer of their own.
	_, err := svc.Transfer(context.Background(), asCaller(b), TransferRequest{
		RecipientEmail: "c@bank.test",
		Amount:         1000,
		IdempotencyKey: "shared-key",
	})
	if !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("want ErrIdempotencyConflict, got %v", err)
	}
	if store.balance(t, b.ID) != 10_000 {
		t.Fatalf("b balance=%d want=10000 (untouched)", store.balance(t, b.ID))
	}
	if store.txCount() != 2 {
		t.Fatalf("tx count=%d want=2 (only A's pair)", store.txCount())
	}
}

// blindStore hides stored results from the replay pre-check for a number of
// lookups, forcing the engine down the ErrDuplicateTransfer recovery path.
type blindStore struct {
	*memStore
	blind int
}

func (b *blindStore) FindTransferByKey(ctx context.Context, key string) (*domain.TransferResult, error) {
	if b.blind > 0 {
		b.blind--
		return nil, nil
	}
	return b.memStore.FindTransferByKey(ctx, key)
}

func TestDuplicateKeyRaceRecovers(t *testing.T) {
	inner := newMemStore()
	a := inner.addAccount("a@bank.test", 10_000, domain.TierStandard)
	inner.addAccount("b@bank.test", 0, domain.TierStandard)

	req := TransferRequest{
		RecipientEmail: "b@bank.test",
		Amount:         1000,
		IdempotencyKey: "contended-key",
	}
	first, err := NewService(inner, inner, nil).Transfer(context.Background(), asCaller(a), req)
	if err != nil {
		t.Fatal(err)
	}

	// Second request misses the pre-check, hits the unique-key conflict in
	// commit, then recovers by reading the winner's result.
	store := &blindStore{memStore: inner, blind: 1}
	second, err := NewService(store, store, nil).Transfer(context.Background(), asCaller(a), req)
	if err != nil {
		t.Fatal(err)
	}
	if second.Transaction.ID != first.Transaction.ID {
		t.Fatal("conflict recovery returned a different transaction")
	}
	if inner.balance(t, a.ID) != 9000 {
		t.Fatal("conflict recovery double-applied the transfer")
	}
}

func TestDuplicateKeyRaceFromOtherAccountConflicts(t *testing.T) {
	inner := newMemStore()
	a := inner.addAccount("a@bank.test", 10_000, domain.TierStandard)
	b := inner.addAccount("b@bank.test", 10_000, domain.TierStandard)
	inner.addAccount("c@bank.test", 0, domain.TierStandard)

	if _, err := NewService(inner, inner, nil).Transfer(context.Background(), asCaller(a), TransferRequest{
		RecipientEmail: "c@bank.test",
		Amount:         1000,
		IdempotencyKey: "contended-key",
	}); err != nil {
		t.Fatal(err)
	}

	// B misses the pre-check, loses the unique-key race in commit, and the
	// recovery path must refuse to hand B the winner's (A's) result.
	store := &blindStore{memStore: inner, blind: 1}
	_, err := NewService(store, store, nil).Transfer(context.Background(), asCaller(b), TransferRequest{
		RecipientEmail: "c@bank.test",
		Amount:         1000,
		IdempotencyKey: "contended-key",
	})
	if !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("want ErrIdempotencyConflict, got %v", err)
	}
	if inner.balance(t, b.ID) != 10_000 {
		t.Fatalf("b balance=%d want=10000 (untouched)", inner.balance(t, b.ID))
	}
}

func TestConcurrentDrainRace(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, nil)
	a := store.addAccount("a@bank.test", 150, domain.TierStandard)
	store.addAccount("b@bank.test", 0, domain.TierStandard)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Transfer(context.Background(), asCaller(a), TransferRequest{
				RecipientEmail: "b@bank.test",
				Amount:         100,
				IdempotencyKey: fmt.Sprintf("race-key-%d", i),
			})
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("ok=%d insufficient=%d want 1/1", ok, insufficient)
	}
	if got := store.balance(t, a.ID); got != 50 {
		t.Fatalf("final balance=%d want=50 (never negative, never double-debited)", got)
	}
}

func TestFlatFeeDebitsSender(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, domain.FlatFeeForStandard(500))
	a := store.addAccount("a@bank.test", 10_000, domain.TierStandard)
	b := store.addAccount("b@bank.test", 0, domain.TierStandard)

	// Amount alone fits, amount+fee does not.
	if _, err := svc.Transfer(context.Background(), asCaller(a), TransferRequest{
		RecipientEmail: "b@bank.test", Amount: 9800, IdempotencyKey: "k1",
	}); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}

	res, err := svc.Transfer(context.Background(), asCaller(a), TransferRequest{
		RecipientEmail: "b@bank.test", Amount: 9000, IdempotencyKey: "k2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewBalance != 500 {
		t.Fatalf("new balance=%d want=500", res.NewBalance)
	}
	if store.balance(t, b.ID) != 9000 {
		t.Fatalf("receiver=%d want=9000 (fee must not reach receiver)", store.balance(t, b.ID))
	}
	// Pair plus one fee adjustment row on the sender.
	if store.txCount() != 3 {
		t.Fatalf("tx count=%d want=3", store.txCount())
	}
	feeRow := store.txs[2]
	if feeRow.Type != domain.TypeAdjustment || feeRow.Amount != 500 || feeRow.AccountID != a.ID {
		t.Fatalf("fee row=%+v", feeRow)
	}
}

func TestPremiumSkipsFee(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, domain.FlatFeeForStandard(500))
	a := store.addAccount("a@bank.test", 10_000, domain.TierPremium)
	store.addAccount("b@bank.test", 0, domain.TierStandard)

	res, err := svc.Transfer(context.Background(), asCaller(a), TransferRequest{
		RecipientEmail: "b@bank.test", Amount: 10_000, IdempotencyKey: "k1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NewBalance != 0 {
		t.Fatalf("new balance=%d want=0", res.NewBalance)
	}
	if store.txCount() != 2 {
		t.Fatalf("tx count=%d want=2 (no fee row)", store.txCount())
	}
}

func TestHistory(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, store, nil)
	a := store.addAccount("a@bank.test", 10_000, domain.TierStandard)
	b := store.addAccount("b@bank.test", 5000, domain.TierStandard)

	for i, key := range []string{"k1", "k2"} {
		if _, err := svc.Transfer(context.Background(), asCaller(a), TransferRequest{
			RecipientEmail: "b@bank.test",
			Amount:         int64(1000 * (i + 1)),
			IdempotencyKey: key,
		}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := svc.History(context.Background(), asCaller(a))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries=%d want=2", len(entries))
	}
	// Newest first.
	if entries[0].Amount != 2000 || entries[1].Amount != 1000 {
		t.Fatalf("order wrong: %d then %d", entries[0].Amount, entries[1].Amount)
	}
	if entries[0].CounterpartyEmail != b.Email {
		t.Fatalf("counterparty email=%q want=%q", entries[0].CounterpartyEmail, b.Email)
	}

	if _, err := svc.History(context.Background(), Caller{}); !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("want ErrAuthentication, got %v", err)
	}
}
