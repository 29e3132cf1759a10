package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SeedWallet is a test helper that stores a wallet in the in-memory store
// without going through ledger operations. Missing id and timestamps are filled.
func SeedWallet(s *MemoryStore, w Wallet) Wallet {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = w.CreatedAt
	}
	if w.Type == "" {
		w.Type = WalletTypeFiat
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.ID] = w
	return w
}

// SeedTransaction is a test helper that stores a transaction row as is.
func SeedTransaction(s *MemoryStore, t Transaction) Transaction {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Fee.IsZero() {
		t.Fee = decimal.Zero
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[t.ID] = t
	s.order = append(s.order, t.ID)
	return t
}
