package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletType distinguishes custodial fiat balances from on-chain wallets.
type WalletType string

const (
	WalletTypeFiat   WalletType = "fiat"
	WalletTypeCrypto WalletType = "crypto"
)

// Valid reports whether t is a known wallet type.
func (t WalletType) Valid() bool {
	return t == WalletTypeFiat || t == WalletTypeCrypto
}

// Wallet is a user balance in one currency, optionally bound to a chain address.
type Wallet struct {
	ID            string
	UserID        string
	CurrencyCode  string
	Type          WalletType
	Balance       decimal.Decimal
	Address       string
	SigningKeyRef string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Sendable reports whether the wallet can originate on-chain sends.
func (w Wallet) Sendable() bool {
	return w.Address != "" && w.SigningKeyRef != ""
}

// ChainBacked reports whether the wallet's balance mirrors an on-chain address.
func (w Wallet) ChainBacked() bool {
	return w.Address != ""
}

// TransactionType classifies a transaction row.
type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeTransfer   TransactionType = "transfer"
	TypeFee        TransactionType = "fee"
)

// Direction tells whether a row credits or debits its wallet.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Transaction is one balance movement on one wallet.
type Transaction struct {
	ID          string
	WalletID    string
	Type        TransactionType
	Direction   Direction
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Status      Status
	TxHash      string
	Network     string
	Description string
	ReferenceID string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Outstanding reports whether the row is an on-chain send awaiting settlement.
func (t Transaction) Outstanding() bool {
	return t.TxHash != "" && (t.Status == StatusPending || t.Status == StatusProcessing)
}

// Effect is the signed balance change the row causes once completed.
func (t Transaction) Effect() decimal.Decimal {
	if t.Direction == DirectionIn {
		return t.Amount
	}
	return t.Amount.Add(t.Fee).Neg()
}

// Totals aggregates a wallet's completed on-chain relevant history.
type Totals struct {
	Deposits    decimal.Decimal
	Withdrawals decimal.Decimal
}

// Expected is the balance the chain should show if every movement was recorded.
func (t Totals) Expected() decimal.Decimal {
	return t.Deposits.Sub(t.Withdrawals)
}

// Page bounds list queries.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
