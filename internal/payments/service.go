package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/notification"
)

// Ledger is the subset of ledger operations payments are built on.
type Ledger interface {
	Wallet(ctx context.Context, id string) (ledger.Wallet, error)
	Transaction(ctx context.Context, id string) (ledger.Transaction, error)
	Deposit(ctx context.Context, walletID string, amount decimal.Decimal, opts ledger.DepositOptions) (ledger.Transaction, error)
	Withdraw(ctx context.Context, walletID string, amount, fee decimal.Decimal, description string) (ledger.Transaction, error)
	Transfer(ctx context.Context, fromID, toID string, amount, fee decimal.Decimal, description string) (ledger.Transaction, ledger.Transaction, error)
	SendExternal(ctx context.Context, in ledger.SendInput) (ledger.SendResult, error)
	Cancel(ctx context.Context, txID string) (ledger.Transaction, error)
	WalletTransactions(ctx context.Context, walletID string, page ledger.Page) ([]ledger.Transaction, error)
	UserTransactions(ctx context.Context, userID string, page ledger.Page) ([]ledger.Transaction, error)
}

// ErrNotOwner indicates the caller does not own the source wallet.
var ErrNotOwner = errors.New("not owner of source wallet")

// Service applies fee policy and ownership checks on top of the ledger and
// notifies wallet owners.
type Service struct {
	ledger   Ledger
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a payment service.
func NewService(l Ledger, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{ledger: l, notifier: notifier, logger: logger.With("component", "payments")}
}

// DepositInput credits a wallet from an external funding source.
type DepositInput struct {
	WalletID    string
	Amount      decimal.Decimal
	Description string
	ReferenceID string
}

func (s *Service) Deposit(ctx context.Context, in DepositInput) (ledger.Transaction, error) {
	return s.ledger.Deposit(ctx, in.WalletID, in.Amount, ledger.DepositOptions{
		Description: in.Description,
		ReferenceID: in.ReferenceID,
	})
}

// WithdrawInput debits a wallet. A nil Fee applies the default withdrawal fee.
type WithdrawInput struct {
	WalletID    string
	Amount      decimal.Decimal
	Fee         *decimal.Decimal
	Description string
	// RequestorUserID, when set, must own the wallet.
	RequestorUserID string
}

func (s *Service) Withdraw(ctx context.Context, in WithdrawInput) (ledger.Transaction, error) {
	w, err := s.owned(ctx, in.WalletID, in.RequestorUserID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	fee := ledger.WithdrawalFee(w, in.Amount)
	if in.Fee != nil {
		fee = *in.Fee
	}
	return s.ledger.Withdraw(ctx, in.WalletID, in.Amount, fee, in.Description)
}

// TransferInput captures the data needed to move funds between wallets.
// Internal transfers are free unless a fee is given.
type TransferInput struct {
	FromWalletID    string
	ToWalletID      string
	Amount          decimal.Decimal
	Fee             decimal.Decimal
	Description     string
	RequestorUserID string
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Debit  ledger.Transaction
	Credit ledger.Transaction
}

// Transfer moves funds between two wallets of the same currency.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if _, err := s.owned(ctx, in.FromWalletID, in.RequestorUserID); err != nil {
		return TransferResult{}, err
	}
	debit, credit, err := s.ledger.Transfer(ctx, in.FromWalletID, in.ToWalletID, in.Amount, in.Fee, in.Description)
	if err != nil {
		return TransferResult{}, err
	}

	if to, err := s.ledger.Wallet(ctx, in.ToWalletID); err == nil {
		s.notify(ctx, notification.KindTransferReceived, to, fmt.Sprintf("You received %s %s from wallet %s", in.Amount, to.CurrencyCode, in.FromWalletID))
	}
	return TransferResult{Debit: debit, Credit: credit}, nil
}

// SendInput is an outbound on-chain send request.
type SendInput struct {
	WalletID        string
	ToAddress       string
	Amount          decimal.Decimal
	Network         string
	Description     string
	RequestorUserID string
}

// Send broadcasts an on-chain send and returns the pending record.
func (s *Service) Send(ctx context.Context, in SendInput) (ledger.SendResult, error) {
	w, err := s.owned(ctx, in.WalletID, in.RequestorUserID)
	if err != nil {
		return ledger.SendResult{}, err
	}
	res, err := s.ledger.SendExternal(ctx, ledger.SendInput{
		WalletID:    in.WalletID,
		ToAddress:   in.ToAddress,
		Amount:      in.Amount,
		Network:     in.Network,
		Description: in.Description,
	})
	if err != nil {
		return ledger.SendResult{}, err
	}
	s.notify(ctx, notification.KindSendBroadcast, w, fmt.Sprintf("Sending %s %s to %s: %s", in.Amount, w.CurrencyCode, in.ToAddress, res.ExplorerURL))
	return res, nil
}

func (s *Service) Cancel(ctx context.Context, txID string) (ledger.Transaction, error) {
	return s.ledger.Cancel(ctx, txID)
}

func (s *Service) Transaction(ctx context.Context, id string) (ledger.Transaction, error) {
	return s.ledger.Transaction(ctx, id)
}

func (s *Service) WalletTransactions(ctx context.Context, walletID string, page ledger.Page) ([]ledger.Transaction, error) {
	return s.ledger.WalletTransactions(ctx, walletID, page)
}

func (s *Service) UserTransactions(ctx context.Context, userID string, page ledger.Page) ([]ledger.Transaction, error) {
	return s.ledger.UserTransactions(ctx, userID, page)
}

func (s *Service) owned(ctx context.Context, walletID, userID string) (ledger.Wallet, error) {
	w, err := s.ledger.Wallet(ctx, walletID)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if userID != "" && w.UserID != userID {
		return ledger.Wallet{}, ErrNotOwner
	}
	return w, nil
}

func (s *Service) notify(ctx context.Context, kind string, w ledger.Wallet, body string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: w.UserID, WalletID: w.ID, Body: body}); err != nil {
		s.logger.Warn("notification failed", "kind", kind, "wallet_id", w.ID, "error", err)
	}
}
