package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/custody-gateway/internal/chain"
	"github.com/congo-pay/custody-gateway/internal/lock"
)

// SendInput describes an outbound on-chain send.
type SendInput struct {
	WalletID  string
	ToAddress string
	Amount    decimal.Decimal
	// Network defaults to the wallet currency's default network.
	Network     string
	Description string
}

// SendResult is the recorded pending transaction and its explorer link.
type SendResult struct {
	Transaction Transaction
	ExplorerURL string
}

// SendExternal signs and broadcasts a transfer from the wallet's address and
// records it as pending. Spendable funds are checked against the live chain
// balance. Only one unsettled send per wallet is allowed at a time.
func (l *Ledger) SendExternal(ctx context.Context, in SendInput) (SendResult, error) {
	if !in.Amount.IsPositive() {
		return SendResult{}, ErrInvalidAmount
	}
	w, err := l.store.GetWallet(ctx, in.WalletID)
	if err != nil {
		return SendResult{}, err
	}
	if !w.Sendable() {
		return SendResult{}, ErrNotSendable
	}
	gw, network, err := l.resolve(w, in.Network)
	if err != nil {
		return SendResult{}, err
	}

	release, err := l.locker.TryLock(ctx, "send:"+w.ID, l.opts.SendLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return SendResult{}, ErrSendCooldown
		}
		return SendResult{}, fmt.Errorf("send lock: %w", err)
	}
	defer release()

	outstanding, err := l.store.HasOutstandingSend(ctx, w.ID)
	if err != nil {
		return SendResult{}, err
	}
	if outstanding {
		return SendResult{}, ErrSendCooldown
	}

	if !gw.IsValidAddress(in.ToAddress) {
		return SendResult{}, fmt.Errorf("%w: %s", ErrInvalidAddress, in.ToAddress)
	}

	fee, err := callChain(ctx, l.opts.CallTimeout, func(ctx context.Context) (chain.FeeEstimate, error) {
		return gw.EstimateFee(ctx, w.Address, in.ToAddress, in.Amount)
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: estimate fee: %w", ErrBlockchainTransient, err)
	}
	chainBalance, err := callChain(ctx, l.opts.CallTimeout, func(ctx context.Context) (decimal.Decimal, error) {
		return gw.Balance(ctx, w.Address)
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: chain balance: %w", ErrBlockchainTransient, err)
	}
	total := in.Amount.Add(fee.Amount)
	if chainBalance.LessThan(total) {
		return SendResult{}, fmt.Errorf("%w: chain balance %s, required %s", ErrInsufficientBalance, chainBalance, total)
	}

	if l.vault == nil {
		return SendResult{}, fmt.Errorf("%w: no key vault configured", ErrDecryption)
	}
	signingKey, err := l.vault.Decrypt(w.SigningKeyRef)
	if err != nil {
		l.logger.Error("signing key unavailable", "wallet_id", w.ID, "error", err)
		return SendResult{}, fmt.Errorf("%w: %w", ErrDecryption, err)
	}

	sent, err := callChain(ctx, l.opts.CallTimeout, func(ctx context.Context) (chain.SendResult, error) {
		return gw.Send(ctx, chain.SendRequest{
			SigningKey: signingKey,
			From:       w.Address,
			To:         in.ToAddress,
			Amount:     in.Amount,
		})
	})
	if err != nil || sent.TxHash == "" {
		// Nothing is recorded: without a hash the monitor could never settle the row.
		l.logger.Warn("send outcome unknown", "wallet_id", w.ID, "network", network.Name, "to", in.ToAddress, "amount", in.Amount.String(), "error", err)
		if err == nil {
			err = errors.New("node returned no transaction hash")
		}
		return SendResult{}, fmt.Errorf("%w: %w", ErrSendOutcomeUnknown, err)
	}

	now := l.now()
	record := Transaction{
		ID:          uuid.NewString(),
		WalletID:    w.ID,
		Type:        TypeWithdrawal,
		Direction:   DirectionOut,
		Amount:      in.Amount,
		Fee:         fee.Amount,
		Status:      StatusPending,
		TxHash:      sent.TxHash,
		Network:     network.Name,
		Description: describe(in.Description, "Send to %s", in.ToAddress),
		CreatedAt:   now,
	}
	err = l.store.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.LockWallet(ctx, w.ID); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, record); err != nil {
			return err
		}
		return tx.SetBalance(ctx, w.ID, chainBalance.Sub(total), now)
	})
	if err != nil {
		l.logger.Error("broadcast transaction not recorded", "wallet_id", w.ID, "tx_hash", sent.TxHash, "network", network.Name, "error", err)
		return SendResult{}, fmt.Errorf("record send %s: %w", sent.TxHash, err)
	}

	explorer := sent.ExplorerURL
	if explorer == "" {
		explorer = network.TxURL(sent.TxHash)
	}
	l.logger.Info("send broadcast", "wallet_id", w.ID, "transaction_id", record.ID, "tx_hash", sent.TxHash, "network", network.Name, "amount", in.Amount.String(), "fee", fee.Amount.String())
	return SendResult{Transaction: record, ExplorerURL: explorer}, nil
}

func (l *Ledger) resolve(w Wallet, networkName string) (chain.Gateway, chain.Network, error) {
	if l.chains == nil {
		return nil, chain.Network{}, fmt.Errorf("%w: no chains configured", ErrUnknownNetwork)
	}
	var (
		gw      chain.Gateway
		network chain.Network
		err     error
	)
	if networkName == "" {
		gw, network, err = l.chains.ForCurrency(w.CurrencyCode)
	} else {
		gw, network, err = l.chains.ForNetwork(networkName)
	}
	if err != nil {
		if errors.Is(err, chain.ErrUnknownNetwork) {
			return nil, chain.Network{}, fmt.Errorf("%w: %w", ErrUnknownNetwork, err)
		}
		return nil, chain.Network{}, err
	}
	if network.Currency != w.CurrencyCode {
		return nil, chain.Network{}, fmt.Errorf("%w: %s carries %s, wallet holds %s", ErrNetworkMismatch, network.Name, network.Currency, w.CurrencyCode)
	}
	if networkName != "" {
		// Balances are reconciled against the currency's default network only.
		_, home, err := l.chains.ForCurrency(w.CurrencyCode)
		if err != nil {
			return nil, chain.Network{}, fmt.Errorf("%w: %w", ErrUnknownNetwork, err)
		}
		if home.Name != network.Name {
			return nil, chain.Network{}, fmt.Errorf("%w: wallet is reconciled on %s, not %s", ErrNetworkMismatch, home.Name, network.Name)
		}
	}
	return gw, network, nil
}

func callChain[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}
