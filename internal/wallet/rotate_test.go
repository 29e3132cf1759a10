package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/congo-pay/custody-gateway/internal/keyvault"
	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/logging"
)

const rawKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestRotateSigningKeys(t *testing.T) {
	ctx := context.Background()
	oldVault := mustVault(t)
	newVault := mustVault(t)

	store := ledger.NewMemoryStore()
	ref, err := oldVault.Encrypt(rawKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	signer := ledger.SeedWallet(store, ledger.Wallet{UserID: "u1", CurrencyCode: "ETH", Type: ledger.WalletTypeCrypto, Address: testAddress, SigningKeyRef: ref})
	ledger.SeedWallet(store, ledger.Wallet{UserID: "u2", CurrencyCode: "ETH", Type: ledger.WalletTypeCrypto, Address: "0x00000000000000000000000000000000000000aa"})
	ledger.SeedWallet(store, ledger.Wallet{UserID: "u3", CurrencyCode: "USD"})

	res, err := RotateSigningKeys(ctx, store, func(blob string) (string, error) {
		return newVault.Rotate(blob, oldVault)
	}, logging.Discard())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if res.Rotated != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	w, err := store.GetWallet(ctx, signer.ID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	if w.SigningKeyRef == ref {
		t.Fatalf("expected reference to change")
	}
	raw, err := newVault.Decrypt(w.SigningKeyRef)
	if err != nil || raw != rawKey {
		t.Fatalf("new vault must open rotated key, got %q, %v", raw, err)
	}
	if _, err := oldVault.Decrypt(w.SigningKeyRef); !errors.Is(err, keyvault.ErrDecryption) {
		t.Fatalf("old vault must no longer open the key, got %v", err)
	}
}

func TestRotateSigningKeysKeepsRefOnFailure(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	w := ledger.SeedWallet(store, ledger.Wallet{UserID: "u1", CurrencyCode: "ETH", Type: ledger.WalletTypeCrypto, Address: testAddress, SigningKeyRef: "sealed"})

	boom := errors.New("wrong master key")
	res, err := RotateSigningKeys(ctx, store, func(string) (string, error) { return "", boom }, logging.Discard())
	if !errors.Is(err, boom) {
		t.Fatalf("expected rotation error, got %v", err)
	}
	if res.Failed != 1 || res.Rotated != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	got, _ := store.GetWallet(ctx, w.ID)
	if got.SigningKeyRef != "sealed" {
		t.Fatalf("reference must be untouched, got %q", got.SigningKeyRef)
	}
}

func mustVault(t *testing.T) *keyvault.Vault {
	t.Helper()
	key, err := keyvault.GenerateMasterKey()
	if err != nil {
		t.Fatalf("master key: %v", err)
	}
	v, err := keyvault.New(key)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	return v
}
