package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is a concurrency-safe in-memory Store useful for unit tests and
// local development. Units of work are serialized and staged until commit.
type MemoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	transactions map[string]Transaction
	order        []string

	// failInsert lets tests break a unit of work midway.
	failInsert func(Transaction) error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[string]Wallet),
		transactions: make(map[string]Transaction),
	}
}

func (s *MemoryStore) CreateWallet(_ context.Context, w Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[w.ID]; exists {
		return fmt.Errorf("%w: wallet %s exists", ErrConflict, w.ID)
	}
	for _, other := range s.wallets {
		if w.Address != "" && other.Address == w.Address {
			return ErrAddressInUse
		}
		if other.UserID == w.UserID && other.CurrencyCode == w.CurrencyCode {
			return fmt.Errorf("%w: %s", ErrWalletExists, w.CurrencyCode)
		}
	}
	s.wallets[w.ID] = w
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *MemoryStore) ListUserWallets(_ context.Context, userID string) ([]Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Wallet
	for _, w := range s.wallets {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sortWallets(out)
	return out, nil
}

func (s *MemoryStore) ListAddressedWallets(_ context.Context) ([]Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Wallet
	for _, w := range s.wallets {
		if w.Address != "" {
			out = append(out, w)
		}
	}
	sortWallets(out)
	return out, nil
}

func (s *MemoryStore) DeleteWallet(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return ErrWalletNotFound
	}
	if !w.Balance.IsZero() {
		return ErrWalletNotEmpty
	}
	for _, t := range s.transactions {
		if t.WalletID == id {
			return ErrWalletNotEmpty
		}
	}
	delete(s.wallets, id)
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, nil
}

func (s *MemoryStore) ListWalletTransactions(_ context.Context, walletID string, page Page) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(page, func(t Transaction) bool { return t.WalletID == walletID }), nil
}

func (s *MemoryStore) ListUserTransactions(_ context.Context, userID string, page Page) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newestFirst(page, func(t Transaction) bool {
		return s.wallets[t.WalletID].UserID == userID
	}), nil
}

func (s *MemoryStore) ListOutstanding(_ context.Context) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, id := range s.order {
		if t := s.transactions[id]; t.Outstanding() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemoryStore) HasOutstandingSend(_ context.Context, walletID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.transactions {
		if t.WalletID == walletID && t.Outstanding() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:   s,
		wallets: make(map[string]Wallet),
		txs:     make(map[string]Transaction),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, w := range tx.wallets {
		s.wallets[id] = w
	}
	for id, t := range tx.txs {
		s.transactions[id] = t
	}
	s.order = append(s.order, tx.inserted...)
	return nil
}

func (s *MemoryStore) newestFirst(page Page, match func(Transaction) bool) []Transaction {
	page = page.normalize()
	var out []Transaction
	skipped := 0
	for i := len(s.order) - 1; i >= 0 && len(out) < page.Limit; i-- {
		t := s.transactions[s.order[i]]
		if !match(t) {
			continue
		}
		if skipped < page.Offset {
			skipped++
			continue
		}
		out = append(out, t)
	}
	return out
}

func sortWallets(ws []Wallet) {
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].CreatedAt.Equal(ws[j].CreatedAt) {
			return ws[i].ID < ws[j].ID
		}
		return ws[i].CreatedAt.Before(ws[j].CreatedAt)
	})
}

// memoryTx stages writes; the owning store's lock is held for its lifetime.
type memoryTx struct {
	store    *MemoryStore
	wallets  map[string]Wallet
	txs      map[string]Transaction
	inserted []string
}

func (t *memoryTx) wallet(id string) (Wallet, bool) {
	if w, ok := t.wallets[id]; ok {
		return w, true
	}
	w, ok := t.store.wallets[id]
	return w, ok
}

func (t *memoryTx) transaction(id string) (Transaction, bool) {
	if tr, ok := t.txs[id]; ok {
		return tr, true
	}
	tr, ok := t.store.transactions[id]
	return tr, ok
}

// each visits committed rows with staged overrides, then staged inserts.
func (t *memoryTx) each(fn func(Transaction)) {
	for id, tr := range t.store.transactions {
		if staged, ok := t.txs[id]; ok {
			tr = staged
		}
		fn(tr)
	}
	for _, id := range t.inserted {
		fn(t.txs[id])
	}
}

func (t *memoryTx) LockWallet(_ context.Context, id string) (Wallet, error) {
	w, ok := t.wallet(id)
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (t *memoryTx) SetBalance(_ context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	w, ok := t.wallet(walletID)
	if !ok {
		return ErrWalletNotFound
	}
	if balance.IsNegative() {
		return fmt.Errorf("%w: balance would become %s", ErrInsufficientBalance, balance)
	}
	w.Balance = balance
	w.UpdatedAt = at.UTC()
	t.wallets[walletID] = w
	return nil
}

func (t *memoryTx) SetSigningKeyRef(_ context.Context, walletID, ref string, at time.Time) error {
	w, ok := t.wallet(walletID)
	if !ok {
		return ErrWalletNotFound
	}
	w.SigningKeyRef = ref
	w.UpdatedAt = at.UTC()
	t.wallets[walletID] = w
	return nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, tr Transaction) error {
	if _, ok := t.wallet(tr.WalletID); !ok {
		return ErrWalletNotFound
	}
	if _, exists := t.transaction(tr.ID); exists {
		return fmt.Errorf("%w: transaction %s exists", ErrConflict, tr.ID)
	}
	if tr.TxHash != "" {
		dup := false
		t.each(func(other Transaction) {
			if other.WalletID == tr.WalletID && other.TxHash == tr.TxHash {
				dup = true
			}
		})
		if dup {
			return ErrDuplicateHash
		}
	}
	if t.store.failInsert != nil {
		if err := t.store.failInsert(tr); err != nil {
			return err
		}
	}
	t.txs[tr.ID] = tr
	t.inserted = append(t.inserted, tr.ID)
	return nil
}

func (t *memoryTx) LockTransaction(_ context.Context, id string) (Transaction, error) {
	tr, ok := t.transaction(id)
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tr, nil
}

func (t *memoryTx) UpdateTransactionStatus(_ context.Context, tr Transaction) error {
	current, ok := t.transaction(tr.ID)
	if !ok {
		return ErrTransactionNotFound
	}
	current.Status = tr.Status
	current.TxHash = tr.TxHash
	current.CompletedAt = tr.CompletedAt
	t.txs[tr.ID] = current
	return nil
}

func (t *memoryTx) HasOutstandingSend(_ context.Context, walletID string) (bool, error) {
	found := false
	t.each(func(tr Transaction) {
		if tr.WalletID == walletID && tr.Outstanding() {
			found = true
		}
	})
	return found, nil
}

func (t *memoryTx) Totals(_ context.Context, walletID string) (Totals, error) {
	totals := Totals{Deposits: decimal.Zero, Withdrawals: decimal.Zero}
	t.each(func(tr Transaction) {
		if tr.WalletID != walletID || tr.Status != StatusCompleted {
			return
		}
		switch tr.Type {
		case TypeDeposit:
			totals.Deposits = totals.Deposits.Add(tr.Amount)
		case TypeWithdrawal:
			totals.Withdrawals = totals.Withdrawals.Add(tr.Amount).Add(tr.Fee)
		}
	})
	return totals, nil
}
