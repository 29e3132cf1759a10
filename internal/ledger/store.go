package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists wallets and transactions. Reads outside WithTx see committed
// state only.
type Store interface {
	CreateWallet(ctx context.Context, w Wallet) error
	GetWallet(ctx context.Context, id string) (Wallet, error)
	ListUserWallets(ctx context.Context, userID string) ([]Wallet, error)
	// ListAddressedWallets returns every wallet bound to a chain address.
	ListAddressedWallets(ctx context.Context) ([]Wallet, error)
	// DeleteWallet removes a wallet with zero balance and no transactions.
	DeleteWallet(ctx context.Context, id string) error

	GetTransaction(ctx context.Context, id string) (Transaction, error)
	ListWalletTransactions(ctx context.Context, walletID string, page Page) ([]Transaction, error)
	ListUserTransactions(ctx context.Context, userID string, page Page) ([]Transaction, error)
	// ListOutstanding returns pending or processing transactions with a hash.
	ListOutstanding(ctx context.Context) ([]Transaction, error)
	HasOutstandingSend(ctx context.Context, walletID string) (bool, error)

	// WithTx runs fn in one unit of work. Writes become visible together when
	// fn returns nil and are discarded otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the write side of a unit of work. Rows returned by the Lock methods
// stay locked against other units of work until the unit ends.
type Tx interface {
	LockWallet(ctx context.Context, id string) (Wallet, error)
	SetBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error
	SetSigningKeyRef(ctx context.Context, walletID, ref string, at time.Time) error
	InsertTransaction(ctx context.Context, t Transaction) error
	LockTransaction(ctx context.Context, id string) (Transaction, error)
	// UpdateTransactionStatus persists Status, TxHash and CompletedAt of t.
	UpdateTransactionStatus(ctx context.Context, t Transaction) error
	HasOutstandingSend(ctx context.Context, walletID string) (bool, error)
	// Totals sums the wallet's completed deposits and withdrawals (amount plus fee).
	Totals(ctx context.Context, walletID string) (Totals, error)
}
