package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable marks a transient failure talking to a chain node (timeout,
	// connection refused, rate limit). Callers may retry later.
	ErrUnavailable = errors.New("chain unavailable")

	// ErrTransactionNotFound is returned when the node does not know a hash yet.
	ErrTransactionNotFound = errors.New("transaction not found on chain")
)

// TxStatus is the settlement state a node reports for a broadcast transaction.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusFailed    TxStatus = "failed"
)

// Receipt describes the chain's view of a transaction.
type Receipt struct {
	Status        TxStatus
	Confirmations uint64
	// BlockNumber is nil until the transaction has been included in a block.
	BlockNumber *uint64
}

// FeeEstimate is the expected cost of a transfer, expressed both as gas terms
// and as an amount of the native asset.
type FeeEstimate struct {
	GasLimit uint64
	GasPrice decimal.Decimal
	Amount   decimal.Decimal
}

// SendRequest carries everything needed to sign and broadcast a transfer.
type SendRequest struct {
	SigningKey string
	From       string
	To         string
	Amount     decimal.Decimal
}

// SendResult is returned once a node accepted a broadcast.
type SendResult struct {
	TxHash      string
	ExplorerURL string
}

// Account is a freshly generated key pair. PrivateKey is hex encoded and must
// be sealed before it is stored.
type Account struct {
	Address    string
	PrivateKey string
}

// Gateway is the capability set the ledger and the reconciliation monitor
// need from a chain node.
type Gateway interface {
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	EstimateFee(ctx context.Context, from, to string, amount decimal.Decimal) (FeeEstimate, error)
	Send(ctx context.Context, req SendRequest) (SendResult, error)
	TransactionStatus(ctx context.Context, txHash string) (Receipt, error)
	IsValidAddress(address string) bool
	NewAccount(ctx context.Context) (Account, error)
}
