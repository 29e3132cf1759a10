package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/logging"
	"github.com/congo-pay/custody-gateway/internal/notification"
)

func newTestService() (*Service, *ledger.MemoryStore, *notification.Recorder) {
	store := ledger.NewMemoryStore()
	l := ledger.New(store, nil, nil, nil, logging.Discard(), ledger.Options{})
	notes := &notification.Recorder{}
	return NewService(l, notes, logging.Discard()), store, notes
}

func TestTransferSuccess(t *testing.T) {
	svc, store, notes := newTestService()
	ctx := context.Background()
	from := ledger.SeedWallet(store, ledger.Wallet{UserID: "alice", CurrencyCode: "XAF"})
	to := ledger.SeedWallet(store, ledger.Wallet{UserID: "bob", CurrencyCode: "XAF"})

	if _, err := svc.Deposit(ctx, DepositInput{WalletID: from.ID, Amount: decimal.NewFromInt(10_000)}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	res, err := svc.Transfer(ctx, TransferInput{FromWalletID: from.ID, ToWalletID: to.ID, Amount: decimal.NewFromInt(2_000), RequestorUserID: "alice"})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if res.Debit.ReferenceID != res.Credit.ReferenceID {
		t.Fatalf("legs are not linked")
	}

	fromW, _ := store.GetWallet(ctx, from.ID)
	toW, _ := store.GetWallet(ctx, to.ID)
	if !fromW.Balance.Equal(decimal.NewFromInt(8_000)) || !toW.Balance.Equal(decimal.NewFromInt(2_000)) {
		t.Fatalf("unexpected balances: %s / %s", fromW.Balance, toW.Balance)
	}

	got := notes.Messages(notification.KindTransferReceived)
	if len(got) != 1 || got[0].Destination != "bob" {
		t.Fatalf("expected notification to bob, got %+v", got)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	svc, store, notes := newTestService()
	ctx := context.Background()
	from := ledger.SeedWallet(store, ledger.Wallet{UserID: "alice", CurrencyCode: "XAF"})
	to := ledger.SeedWallet(store, ledger.Wallet{UserID: "bob", CurrencyCode: "XAF"})

	_, err := svc.Transfer(ctx, TransferInput{FromWalletID: from.ID, ToWalletID: to.ID, Amount: decimal.NewFromInt(1_000)})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if len(notes.Messages("")) != 0 {
		t.Fatalf("no notification expected on failure")
	}
}

func TestTransferRequiresOwnership(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	from := ledger.SeedWallet(store, ledger.Wallet{UserID: "alice", CurrencyCode: "XAF"})
	to := ledger.SeedWallet(store, ledger.Wallet{UserID: "bob", CurrencyCode: "XAF"})

	_, err := svc.Transfer(ctx, TransferInput{FromWalletID: from.ID, ToWalletID: to.ID, Amount: decimal.NewFromInt(1), RequestorUserID: "mallory"})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
}

func TestWithdrawAppliesDefaultFee(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()
	crypto := ledger.SeedWallet(store, ledger.Wallet{UserID: "alice", CurrencyCode: "ETH", Type: ledger.WalletTypeCrypto})
	fiat := ledger.SeedWallet(store, ledger.Wallet{UserID: "alice", CurrencyCode: "USD", Type: ledger.WalletTypeFiat})
	for _, id := range []string{crypto.ID, fiat.ID} {
		if _, err := svc.Deposit(ctx, DepositInput{WalletID: id, Amount: decimal.NewFromInt(10)}); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	tx, err := svc.Withdraw(ctx, WithdrawInput{WalletID: crypto.ID, Amount: decimal.NewFromInt(2)})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !tx.Fee.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected 0.5%% fee, got %s", tx.Fee)
	}

	tx, err = svc.Withdraw(ctx, WithdrawInput{WalletID: fiat.ID, Amount: decimal.NewFromInt(2)})
	if err != nil || !tx.Fee.IsZero() {
		t.Fatalf("expected free fiat withdrawal, got %s (%v)", tx.Fee, err)
	}

	explicit := decimal.RequireFromString("0.25")
	tx, err = svc.Withdraw(ctx, WithdrawInput{WalletID: fiat.ID, Amount: decimal.NewFromInt(1), Fee: &explicit})
	if err != nil || !tx.Fee.Equal(explicit) {
		t.Fatalf("expected explicit fee, got %s (%v)", tx.Fee, err)
	}

	w, _ := store.GetWallet(ctx, fiat.ID)
	if !w.Balance.Equal(decimal.RequireFromString("6.75")) {
		t.Fatalf("expected 6.75, got %s", w.Balance)
	}
}
