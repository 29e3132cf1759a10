package wallet

import (
	"context"
	"log/slog"
	"time"

	"github.com/congo-pay/custody-gateway/internal/ledger"
)

// Resealer re-encrypts a signing key reference under a new master key.
type Resealer func(ref string) (string, error)

// RotationResult counts the outcome of a key rotation.
type RotationResult struct {
	Rotated int `json:"rotated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RotateSigningKeys reseals the signing key reference of every addressed
// wallet. Each wallet is rewritten in its own unit of work so a failure only
// affects that wallet; the first error is returned after all wallets were tried.
func RotateSigningKeys(ctx context.Context, store ledger.Store, reseal Resealer, logger *slog.Logger) (RotationResult, error) {
	wallets, err := store.ListAddressedWallets(ctx)
	if err != nil {
		return RotationResult{}, err
	}

	var (
		res      RotationResult
		firstErr error
	)
	for _, w := range wallets {
		if w.SigningKeyRef == "" {
			res.Skipped++
			continue
		}
		err := store.WithTx(ctx, func(tx ledger.Tx) error {
			locked, err := tx.LockWallet(ctx, w.ID)
			if err != nil {
				return err
			}
			ref, err := reseal(locked.SigningKeyRef)
			if err != nil {
				return err
			}
			return tx.SetSigningKeyRef(ctx, locked.ID, ref, time.Now().UTC())
		})
		if err != nil {
			logger.Error("rotate signing key", "wallet_id", w.ID, "error", err)
			res.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Rotated++
	}

	logger.Info("signing keys rotated", "rotated", res.Rotated, "skipped", res.Skipped, "failed", res.Failed)
	return res, firstErr
}
