package chain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

const addressPattern = "^0x[0-9a-fA-F]{40}$"

// SimulatedGateway is an in-process chain used for local development and
// tests. Balances, fees and receipts are driven through the Simulate* helpers.
type SimulatedGateway struct {
	network Network

	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	receipts map[string]Receipt
	fee      decimal.Decimal
	sent     []SendRequest
	failures map[string]error
}

// NewSimulatedGateway returns a gateway for the given network with a flat
// fee of 0.00021 (21000 gas at 10 gwei).
func NewSimulatedGateway(n Network) *SimulatedGateway {
	return &SimulatedGateway{
		network:  n,
		balances: make(map[string]decimal.Decimal),
		receipts: make(map[string]Receipt),
		fee:      decimal.RequireFromString("0.00021"),
		failures: make(map[string]error),
	}
}

// SimulatedFactory is a Factory producing simulated gateways.
func SimulatedFactory(n Network) (Gateway, error) {
	return NewSimulatedGateway(n), nil
}

// IsValidAddress accepts 0x-prefixed 20-byte hex addresses.
func (g *SimulatedGateway) IsValidAddress(address string) bool {
	return govalidator.Matches(address, addressPattern)
}

// Balance returns the simulated balance of an address.
func (g *SimulatedGateway) Balance(_ context.Context, address string) (decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.failures["balance"]; err != nil {
		return decimal.Zero, err
	}
	return g.balances[strings.ToLower(address)], nil
}

// EstimateFee returns the configured flat fee.
func (g *SimulatedGateway) EstimateFee(_ context.Context, _, _ string, _ decimal.Decimal) (FeeEstimate, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.failures["fee"]; err != nil {
		return FeeEstimate{}, err
	}
	return FeeEstimate{
		GasLimit: 21000,
		GasPrice: g.fee.Div(decimal.NewFromInt(21000)),
		Amount:   g.fee,
	}, nil
}

// Send records the request, debits the sender by amount plus fee, credits the
// recipient and registers a pending receipt.
func (g *SimulatedGateway) Send(_ context.Context, req SendRequest) (SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failures["send"]; err != nil {
		return SendResult{}, err
	}
	if req.SigningKey == "" {
		return SendResult{}, fmt.Errorf("missing signing key")
	}
	from := strings.ToLower(req.From)
	total := req.Amount.Add(g.fee)
	if g.balances[from].LessThan(total) {
		return SendResult{}, fmt.Errorf("insufficient funds for gas * price + value")
	}
	g.balances[from] = g.balances[from].Sub(total)
	to := strings.ToLower(req.To)
	g.balances[to] = g.balances[to].Add(req.Amount)

	hash := "0x" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	g.receipts[hash] = Receipt{Status: StatusPending}
	g.sent = append(g.sent, req)
	return SendResult{TxHash: hash, ExplorerURL: g.network.TxURL(hash)}, nil
}

// TransactionStatus returns the simulated receipt for a hash.
func (g *SimulatedGateway) TransactionStatus(_ context.Context, txHash string) (Receipt, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.failures["status"]; err != nil {
		return Receipt{}, err
	}
	r, ok := g.receipts[txHash]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, txHash)
	}
	return r, nil
}

// NewAccount generates a random 32-byte key. The address is the last 20 bytes
// of its Keccak-256 digest, so it has the shape of a real account without
// secp256k1 derivation.
func (g *SimulatedGateway) NewAccount(_ context.Context) (Account, error) {
	g.mu.RLock()
	failure := g.failures["account"]
	g.mu.RUnlock()
	if failure != nil {
		return Account{}, failure
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return Account{}, fmt.Errorf("generate key: %w", err)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(key)
	digest := h.Sum(nil)
	return Account{
		Address:    "0x" + hex.EncodeToString(digest[12:]),
		PrivateKey: "0x" + hex.EncodeToString(key),
	}, nil
}

// SimulateBalance sets the on-chain balance of an address.
func (g *SimulatedGateway) SimulateBalance(address string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[strings.ToLower(address)] = amount
}

// SimulateFee changes the flat fee returned by EstimateFee and charged by Send.
func (g *SimulatedGateway) SimulateFee(amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fee = amount
}

// SimulateReceipt sets the receipt reported for a hash.
func (g *SimulatedGateway) SimulateReceipt(txHash string, r Receipt) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.receipts[txHash] = r
}

// SimulateConfirmation marks a hash as confirmed in the given block.
func (g *SimulatedGateway) SimulateConfirmation(txHash string, block uint64) {
	g.SimulateReceipt(txHash, Receipt{Status: StatusConfirmed, Confirmations: g.network.Confirmations, BlockNumber: &block})
}

// SimulateFailure makes the named call ("balance", "fee", "send", "status",
// "account")
// return err until cleared with a nil error.
func (g *SimulatedGateway) SimulateFailure(call string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, call)
		return
	}
	g.failures[call] = err
}

// Sent returns the broadcast requests seen so far.
func (g *SimulatedGateway) Sent() []SendRequest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]SendRequest(nil), g.sent...)
}
