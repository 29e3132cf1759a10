package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/congo-pay/custody-gateway/internal/chain"
	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/notification"
)

func (m *Monitor) checkOutstanding(ctx context.Context, t *tally) {
	txs, err := m.store.ListOutstanding(ctx)
	if err != nil {
		m.logger.Error("store.ListOutstanding", "err", err)
		t.record(unchanged, err)
		return
	}
	t.add(func(r *CycleResult) { r.Checked = len(txs) })

	m.fanOut(len(txs), func(i int) {
		tx := txs[i]
		o, err := m.settle(ctx, tx)
		if err != nil {
			m.logger.Error("settle transaction", "transaction_id", tx.ID, "tx_hash", tx.TxHash, "network", tx.Network, "err", err)
		}
		t.record(o, err)
	})
}

// settle moves one outstanding send along its lifecycle according to the
// chain receipt. The row is re-read under lock so a concurrent change wins.
func (m *Monitor) settle(ctx context.Context, tx ledger.Transaction) (outcome, error) {
	w, err := m.store.GetWallet(ctx, tx.WalletID)
	if err != nil {
		return unchanged, err
	}
	var gw chain.Gateway
	if tx.Network != "" {
		gw, _, err = m.chains.ForNetwork(tx.Network)
	} else {
		gw, _, err = m.chains.ForCurrency(w.CurrencyCode)
	}
	if err != nil {
		return unchanged, err
	}

	receipt, err := callChain(ctx, m.cfg.CallTimeout, func(ctx context.Context) (chain.Receipt, error) {
		return gw.TransactionStatus(ctx, tx.TxHash)
	})
	if errors.Is(err, chain.ErrTransactionNotFound) {
		// Not yet seen by the node.
		m.logger.Debug("transaction not found on chain", "transaction_id", tx.ID, "tx_hash", tx.TxHash)
		return unchanged, nil
	}
	if err != nil {
		return unchanged, fmt.Errorf("%w: %w", ledger.ErrBlockchainTransient, err)
	}

	var next ledger.Status
	switch receipt.Status {
	case chain.StatusConfirmed:
		next = ledger.StatusCompleted
	case chain.StatusFailed:
		next = ledger.StatusFailed
	case chain.StatusPending:
		if receipt.BlockNumber == nil || tx.Status != ledger.StatusPending {
			return unchanged, nil
		}
		next = ledger.StatusProcessing
	default:
		return unchanged, nil
	}

	var (
		settled ledger.Transaction
		applied bool
	)
	err = m.store.WithTx(ctx, func(utx ledger.Tx) error {
		current, err := utx.LockTransaction(ctx, tx.ID)
		if err != nil {
			return err
		}
		if !current.Outstanding() || current.Status == next {
			return nil
		}
		if err := ledger.Transition(&current, next, m.now()); err != nil {
			return err
		}
		if err := utx.UpdateTransactionStatus(ctx, current); err != nil {
			return err
		}
		settled, applied = current, true
		return nil
	})
	if err != nil {
		return unchanged, err
	}
	if !applied {
		return unchanged, nil
	}

	logger := m.logger.With("transaction_id", tx.ID, "tx_hash", tx.TxHash, "wallet_id", tx.WalletID)
	switch settled.Status {
	case ledger.StatusCompleted:
		logger.Info("send confirmed", "confirmations", receipt.Confirmations)
		m.notify(ctx, notification.KindSendConfirmed, w, fmt.Sprintf("Your send of %s %s was confirmed", tx.Amount, w.CurrencyCode))
		return completed, nil
	case ledger.StatusFailed:
		logger.Warn("send failed on chain")
		m.notify(ctx, notification.KindSendFailed, w, fmt.Sprintf("Your send of %s %s failed on chain", tx.Amount, w.CurrencyCode))
		return failed, nil
	default:
		logger.Info("send included in block", "block", *receipt.BlockNumber)
		return processing, nil
	}
}
