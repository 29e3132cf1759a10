package monitor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/notification"
)

func (m *Monitor) detectDeposits(ctx context.Context, t *tally) {
	wallets, err := m.store.ListAddressedWallets(ctx)
	if err != nil {
		m.logger.Error("store.ListAddressedWallets", "err", err)
		t.record(unchanged, err)
		return
	}
	t.add(func(r *CycleResult) { r.Wallets = len(wallets) })

	m.fanOut(len(wallets), func(i int) {
		w := wallets[i]
		o, err := m.reconcileWallet(ctx, w)
		if err != nil {
			m.logger.Error("reconcile wallet", "wallet_id", w.ID, "address", w.Address, "err", err)
		}
		t.record(o, err)
	})
}

// reconcileWallet compares the chain balance with the balance implied by the
// wallet's completed deposits and withdrawals. A surplus above dust becomes a
// completed deposit; otherwise the cached balance just follows the chain.
// Wallets with an unsettled send keep their provisional balance.
func (m *Monitor) reconcileWallet(ctx context.Context, w ledger.Wallet) (outcome, error) {
	gw, network, err := m.chains.ForCurrency(w.CurrencyCode)
	if err != nil {
		return unchanged, err
	}
	onChain, err := callChain(ctx, m.cfg.CallTimeout, func(ctx context.Context) (decimal.Decimal, error) {
		return gw.Balance(ctx, w.Address)
	})
	if err != nil {
		return unchanged, fmt.Errorf("%w: %w", ledger.ErrBlockchainTransient, err)
	}

	var (
		result = unchanged
		credit decimal.Decimal
	)
	err = m.store.WithTx(ctx, func(tx ledger.Tx) error {
		locked, err := tx.LockWallet(ctx, w.ID)
		if err != nil {
			return err
		}
		busy, err := tx.HasOutstandingSend(ctx, w.ID)
		if err != nil {
			return err
		}
		if busy {
			result = skipped
			return nil
		}
		totals, err := tx.Totals(ctx, w.ID)
		if err != nil {
			return err
		}

		now := m.now()
		surplus := onChain.Sub(totals.Expected())
		if surplus.GreaterThan(m.cfg.Dust) {
			deposit := ledger.Transaction{
				ID:          uuid.NewString(),
				WalletID:    w.ID,
				Type:        ledger.TypeDeposit,
				Direction:   ledger.DirectionIn,
				Amount:      surplus,
				Fee:         decimal.Zero,
				Status:      ledger.StatusCompleted,
				Network:     network.Name,
				Description: fmt.Sprintf("Deposit detected on %s", network.Name),
				CreatedAt:   now,
				CompletedAt: &now,
			}
			if err := tx.InsertTransaction(ctx, deposit); err != nil {
				return err
			}
			if err := tx.SetBalance(ctx, w.ID, onChain, now); err != nil {
				return err
			}
			result, credit = deposited, surplus
			return nil
		}

		if !locked.Balance.Equal(onChain) {
			if err := tx.SetBalance(ctx, w.ID, onChain, now); err != nil {
				return err
			}
			result = synced
		}
		return nil
	})
	if err != nil {
		return unchanged, err
	}

	switch result {
	case deposited:
		m.logger.Info("deposit detected", "wallet_id", w.ID, "network", network.Name, "amount", credit.String(), "balance", onChain.String())
		m.notify(ctx, notification.KindDepositDetected, w, fmt.Sprintf("Received %s %s on %s", credit, w.CurrencyCode, network.Name))
	case synced:
		m.logger.Info("balance synced", "wallet_id", w.ID, "network", network.Name, "balance", onChain.String())
	case skipped:
		m.logger.Debug("wallet has outstanding send", "wallet_id", w.ID)
	}
	return result, nil
}
