package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/custody-gateway/internal/chain"
	"github.com/congo-pay/custody-gateway/internal/lock"
)

// Chains resolves gateways for networks and currencies.
type Chains interface {
	ForNetwork(name string) (chain.Gateway, chain.Network, error)
	ForCurrency(currency string) (chain.Gateway, chain.Network, error)
}

// KeyVault opens encrypted signing key references.
type KeyVault interface {
	Decrypt(blob string) (string, error)
}

// Options tunes request-path behaviour.
type Options struct {
	// CallTimeout bounds every chain call made on behalf of a request.
	CallTimeout time.Duration
	// SendLockTTL bounds how long a wallet's send lock may be held.
	SendLockTTL time.Duration
}

const (
	defaultCallTimeout = 15 * time.Second
	defaultSendLockTTL = 2 * time.Minute
)

// Ledger applies balance mutations together with their transaction rows.
type Ledger struct {
	store  Store
	chains Chains
	vault  KeyVault
	locker lock.Locker
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// New wires a ledger. chains, vault and locker are only needed by SendExternal.
func New(store Store, chains Chains, vault KeyVault, locker lock.Locker, logger *slog.Logger, opts Options) *Ledger {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.SendLockTTL <= 0 {
		opts.SendLockTTL = defaultSendLockTTL
	}
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &Ledger{
		store:  store,
		chains: chains,
		vault:  vault,
		locker: locker,
		logger: logger.With("component", "ledger"),
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DepositOptions carries optional deposit metadata.
type DepositOptions struct {
	Description string
	ReferenceID string
}

// Deposit credits a wallet and records a completed deposit.
func (l *Ledger) Deposit(ctx context.Context, walletID string, amount decimal.Decimal, opts DepositOptions) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}

	var out Transaction
	err := l.store.WithTx(ctx, func(tx Tx) error {
		w, err := tx.LockWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if w.ChainBacked() {
			return fmt.Errorf("%w: %s", ErrChainBacked, w.ID)
		}
		now := l.now()
		out = Transaction{
			ID:          uuid.NewString(),
			WalletID:    w.ID,
			Type:        TypeDeposit,
			Direction:   DirectionIn,
			Amount:      amount,
			Fee:         decimal.Zero,
			Status:      StatusCompleted,
			Description: describe(opts.Description, "Deposit to %s wallet", w.CurrencyCode),
			ReferenceID: opts.ReferenceID,
			CreatedAt:   now,
			CompletedAt: &now,
		}
		if err := tx.InsertTransaction(ctx, out); err != nil {
			return err
		}
		return tx.SetBalance(ctx, w.ID, w.Balance.Add(amount), now)
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("deposit: %w", err)
	}

	l.logger.Info("deposit completed", "wallet_id", walletID, "transaction_id", out.ID, "amount", amount.String())
	return out, nil
}

// Withdraw debits amount plus fee from a wallet and records a completed withdrawal.
func (l *Ledger) Withdraw(ctx context.Context, walletID string, amount, fee decimal.Decimal, description string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if fee.IsNegative() {
		return Transaction{}, ErrInvalidFee
	}

	var out Transaction
	err := l.store.WithTx(ctx, func(tx Tx) error {
		w, err := tx.LockWallet(ctx, walletID)
		if err != nil {
			return err
		}
		if w.ChainBacked() {
			return fmt.Errorf("%w: %s", ErrChainBacked, w.ID)
		}
		total := amount.Add(fee)
		if w.Balance.LessThan(total) {
			return fmt.Errorf("%w: available %s, required %s", ErrInsufficientBalance, w.Balance, total)
		}
		now := l.now()
		out = Transaction{
			ID:          uuid.NewString(),
			WalletID:    w.ID,
			Type:        TypeWithdrawal,
			Direction:   DirectionOut,
			Amount:      amount,
			Fee:         fee,
			Status:      StatusCompleted,
			Description: describe(description, "Withdrawal from %s wallet", w.CurrencyCode),
			CreatedAt:   now,
			CompletedAt: &now,
		}
		if err := tx.InsertTransaction(ctx, out); err != nil {
			return err
		}
		return tx.SetBalance(ctx, w.ID, w.Balance.Sub(total), now)
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("withdraw: %w", err)
	}

	l.logger.Info("withdrawal completed", "wallet_id", walletID, "transaction_id", out.ID, "amount", amount.String(), "fee", fee.String())
	return out, nil
}

// Transfer moves amount between two wallets of the same currency. The source
// also pays fee. Both legs share a reference id and commit together.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount, fee decimal.Decimal, description string) (Transaction, Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, Transaction{}, ErrInvalidAmount
	}
	if fee.IsNegative() {
		return Transaction{}, Transaction{}, ErrInvalidFee
	}
	if fromID == toID {
		return Transaction{}, Transaction{}, ErrSameWallet
	}

	var out, in Transaction
	err := l.store.WithTx(ctx, func(tx Tx) error {
		// Lock in id order so concurrent opposite transfers cannot deadlock.
		first, second := fromID, toID
		if second < first {
			first, second = second, first
		}
		locked := make(map[string]Wallet, 2)
		for _, id := range []string{first, second} {
			w, err := tx.LockWallet(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = w
		}
		from, to := locked[fromID], locked[toID]
		for _, w := range []Wallet{from, to} {
			if w.ChainBacked() {
				return fmt.Errorf("%w: %s", ErrChainBacked, w.ID)
			}
		}

		if from.CurrencyCode != to.CurrencyCode {
			return fmt.Errorf("%w: %s -> %s", ErrCurrencyMismatch, from.CurrencyCode, to.CurrencyCode)
		}
		total := amount.Add(fee)
		if from.Balance.LessThan(total) {
			return fmt.Errorf("%w: available %s, required %s", ErrInsufficientBalance, from.Balance, total)
		}

		now := l.now()
		reference := uuid.NewString()
		out = Transaction{
			ID:          uuid.NewString(),
			WalletID:    from.ID,
			Type:        TypeTransfer,
			Direction:   DirectionOut,
			Amount:      amount,
			Fee:         fee,
			Status:      StatusCompleted,
			Description: describe(description, "Transfer to %s wallet", to.CurrencyCode),
			ReferenceID: reference,
			CreatedAt:   now,
			CompletedAt: &now,
		}
		in = Transaction{
			ID:          uuid.NewString(),
			WalletID:    to.ID,
			Type:        TypeTransfer,
			Direction:   DirectionIn,
			Amount:      amount,
			Fee:         decimal.Zero,
			Status:      StatusCompleted,
			Description: describe(description, "Transfer from %s wallet", from.CurrencyCode),
			ReferenceID: reference,
			CreatedAt:   now,
			CompletedAt: &now,
		}

		if err := tx.InsertTransaction(ctx, out); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, from.ID, from.Balance.Sub(total), now); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, in); err != nil {
			return err
		}
		return tx.SetBalance(ctx, to.ID, to.Balance.Add(amount), now)
	})
	if err != nil {
		return Transaction{}, Transaction{}, fmt.Errorf("transfer: %w", err)
	}

	l.logger.Info("transfer completed", "from_wallet_id", fromID, "to_wallet_id", toID, "reference_id", out.ReferenceID, "amount", amount.String())
	return out, in, nil
}

// Cancel moves a never-broadcast pending transaction to cancelled.
func (l *Ledger) Cancel(ctx context.Context, txID string) (Transaction, error) {
	var out Transaction
	err := l.store.WithTx(ctx, func(tx Tx) error {
		t, err := tx.LockTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if t.TxHash != "" {
			return fmt.Errorf("%w: transaction %s was broadcast as %s", ErrConflict, t.ID, t.TxHash)
		}
		if err := Transition(&t, StatusCancelled, l.now()); err != nil {
			return err
		}
		out = t
		return tx.UpdateTransactionStatus(ctx, t)
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("cancel: %w", err)
	}
	return out, nil
}

// Wallet returns a wallet by id.
func (l *Ledger) Wallet(ctx context.Context, id string) (Wallet, error) {
	return l.store.GetWallet(ctx, id)
}

// Transaction returns a transaction by id.
func (l *Ledger) Transaction(ctx context.Context, id string) (Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// WalletTransactions lists a wallet's transactions, newest first.
func (l *Ledger) WalletTransactions(ctx context.Context, walletID string, page Page) ([]Transaction, error) {
	if _, err := l.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return l.store.ListWalletTransactions(ctx, walletID, page.normalize())
}

// UserTransactions lists transactions across all of a user's wallets, newest first.
func (l *Ledger) UserTransactions(ctx context.Context, userID string, page Page) ([]Transaction, error) {
	return l.store.ListUserTransactions(ctx, userID, page.normalize())
}

// WithdrawalFee is the default fee charged on a withdrawal: 0.5% for crypto
// wallets, nothing for fiat.
func WithdrawalFee(w Wallet, amount decimal.Decimal) decimal.Decimal {
	if w.Type != WalletTypeCrypto {
		return decimal.Zero
	}
	return amount.Mul(decimal.RequireFromString("0.005"))
}

func describe(given, format, arg string) string {
	if given != "" {
		return given
	}
	return fmt.Sprintf(format, arg)
}
