package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/custody-gateway/internal/chain"
	"github.com/congo-pay/custody-gateway/internal/config"
	"github.com/congo-pay/custody-gateway/internal/keyvault"
	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/lock"
	"github.com/congo-pay/custody-gateway/internal/logging"
	"github.com/congo-pay/custody-gateway/internal/monitor"
	"github.com/congo-pay/custody-gateway/internal/notification"
	"github.com/congo-pay/custody-gateway/internal/routes"
)

const (
	signerAddress    = "0x3333333333333333333333333333333333333333"
	recipientAddress = "0x4444444444444444444444444444444444444444"
)

type testServer struct {
	app      *fiber.App
	gw       *chain.SimulatedGateway
	monitor  *monitor.Monitor
	notifier *notification.Recorder
	keys     int
}

type walletBody struct {
	ID      string          `json:"id"`
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	CanSend bool            `json:"can_send"`
}

type txBody struct {
	ID        string          `json:"id"`
	WalletID  string          `json:"wallet_id"`
	Type      string          `json:"type"`
	Direction string          `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Status    string          `json:"status"`
	TxHash    string          `json:"tx_hash"`
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	networks := chain.DefaultNetworks()
	gw := chain.NewSimulatedGateway(networks[0])
	registry, err := chain.NewRegistry(networks, func(n chain.Network) (chain.Gateway, error) {
		if n.Name == "sepolia" {
			return gw, nil
		}
		return chain.NewSimulatedGateway(n), nil
	})
	require.NoError(t, err)

	key, err := keyvault.GenerateMasterKey()
	require.NoError(t, err)
	vault, err := keyvault.New(key)
	require.NoError(t, err)

	logger := logging.Discard()
	store := ledger.NewMemoryStore()
	notifier := &notification.Recorder{}
	led := ledger.New(store, registry, vault, lock.NewRedisLocker(cache), logger, ledger.Options{CallTimeout: time.Second})
	mon := monitor.New(store, registry, notifier, logger, monitor.Config{Concurrency: 2, CallTimeout: time.Second})

	srv, err := New(routes.Deps{
		Cfg: config.Config{
			AppName:          "test",
			AppEnv:           "development",
			Port:             "0",
			IdempotencyTTL:   time.Minute,
			ChainCallTimeout: time.Second,
		},
		Cache:    cache,
		Logger:   logger,
		Store:    store,
		Ledger:   led,
		Chains:   registry,
		Vault:    vault,
		Notifier: notifier,
		Monitor:  mon,
	})
	require.NoError(t, err)

	return &testServer{app: srv.App(), gw: gw, monitor: mon, notifier: notifier}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

// post sends a money-moving request under a fresh idempotency key.
func (s *testServer) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	s.keys++
	return s.do(t, fiber.MethodPost, path, body, "Idempotency-Key", fmt.Sprintf("key-%d", s.keys))
}

func (s *testServer) createWallet(t *testing.T, body string) walletBody {
	t.Helper()
	resp, raw := s.do(t, fiber.MethodPost, "/api/v1/wallets", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var w walletBody
	require.NoError(t, json.Unmarshal(raw, &w))
	return w
}

func (s *testServer) wallet(t *testing.T, id string) walletBody {
	t.Helper()
	resp, raw := s.do(t, fiber.MethodGet, "/api/v1/wallets/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var w walletBody
	require.NoError(t, json.Unmarshal(raw, &w))
	return w
}

func errorOf(t *testing.T, raw []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	return body.Error
}

func TestFiatFlow(t *testing.T) {
	s := newTestServer(t)

	alice := s.createWallet(t, `{"user_id":"alice","currency_code":"usd"}`)
	bob := s.createWallet(t, `{"user_id":"bob","currency_code":"USD"}`)

	depositPath := "/api/v1/wallets/" + alice.ID + "/deposit"
	resp, first := s.do(t, fiber.MethodPost, depositPath, `{"amount":"100"}`, "Idempotency-Key", "dep-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(first))

	resp, replayed := s.do(t, fiber.MethodPost, depositPath, `{"amount":"100"}`, "Idempotency-Key", "dep-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("Idempotent-Replayed"))
	assert.JSONEq(t, string(first), string(replayed))
	assert.True(t, s.wallet(t, alice.ID).Balance.Equal(decimal.NewFromInt(100)), "replay must not credit twice")

	resp, raw := s.post(t, "/api/v1/transfers",
		fmt.Sprintf(`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"30","user_id":"alice"}`, alice.ID, bob.ID))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var transfer struct {
		ReferenceID string `json:"reference_id"`
		Debit       txBody `json:"debit"`
		Credit      txBody `json:"credit"`
	}
	require.NoError(t, json.Unmarshal(raw, &transfer))
	assert.NotEmpty(t, transfer.ReferenceID)
	assert.Equal(t, "out", transfer.Debit.Direction)
	assert.Equal(t, "in", transfer.Credit.Direction)
	assert.Equal(t, "completed", transfer.Credit.Status)

	assert.True(t, s.wallet(t, alice.ID).Balance.Equal(decimal.NewFromInt(70)))
	assert.True(t, s.wallet(t, bob.ID).Balance.Equal(decimal.NewFromInt(30)))
	assert.Len(t, s.notifier.Messages(notification.KindTransferReceived), 1)

	resp, raw = s.post(t, "/api/v1/wallets/"+alice.ID+"/withdraw", `{"amount":"80","fee":"0"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, string(raw))
	assert.True(t, s.wallet(t, alice.ID).Balance.Equal(decimal.NewFromInt(70)))

	resp, raw = s.post(t, "/api/v1/transfers",
		fmt.Sprintf(`{"from_wallet_id":%q,"to_wallet_id":%q,"amount":"5","user_id":"mallory"}`, alice.ID, bob.ID))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, string(raw))

	resp, raw = s.do(t, fiber.MethodGet, "/api/v1/wallets/"+alice.ID+"/transactions?limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Transactions []txBody `json:"transactions"`
		Limit        int      `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Equal(t, 10, list.Limit)
	require.Len(t, list.Transactions, 2)
	assert.Equal(t, "transfer", list.Transactions[0].Type, "newest first")
	assert.Equal(t, "deposit", list.Transactions[1].Type)

	resp, raw = s.do(t, fiber.MethodGet, "/api/v1/users/bob/transactions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Len(t, list.Transactions, 1)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	w := s.createWallet(t, `{"user_id":"alice","currency_code":"USD"}`)

	cases := []struct {
		name    string
		method  string
		path    string
		body    string
		headers []string
		status  int
	}{
		{"unknown wallet", fiber.MethodGet, "/api/v1/wallets/" + "00000000-0000-0000-0000-000000000000", "", nil, http.StatusNotFound},
		{"unknown transaction", fiber.MethodGet, "/api/v1/transactions/nope", "", nil, http.StatusNotFound},
		{"missing idempotency key", fiber.MethodPost, "/api/v1/wallets/" + w.ID + "/deposit", `{"amount":"1"}`, nil, http.StatusBadRequest},
		{"negative deposit", fiber.MethodPost, "/api/v1/wallets/" + w.ID + "/deposit", `{"amount":"-1"}`, []string{"Idempotency-Key", "neg"}, http.StatusBadRequest},
		{"malformed body", fiber.MethodPost, "/api/v1/wallets/" + w.ID + "/deposit", `{"amount":`, []string{"Idempotency-Key", "bad"}, http.StatusBadRequest},
		{"invalid wallet type", fiber.MethodPost, "/api/v1/wallets", `{"user_id":"a","currency_code":"USD","wallet_type":"gold"}`, nil, http.StatusBadRequest},
		{"second wallet in currency", fiber.MethodPost, "/api/v1/wallets", `{"user_id":"alice","currency_code":"usd"}`, nil, http.StatusConflict},
		{"send from fiat", fiber.MethodPost, "/api/v1/wallets/" + w.ID + "/send", `{"to_address":"` + recipientAddress + `","amount":"1"}`, []string{"Idempotency-Key", "fiat-send"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := s.do(t, tc.method, tc.path, tc.body, tc.headers...)
			assert.Equal(t, tc.status, resp.StatusCode, string(raw))
			assert.NotEmpty(t, errorOf(t, raw))
		})
	}
}

func TestCryptoSendSettledByMonitor(t *testing.T) {
	s := newTestServer(t)
	s.gw.SimulateBalance(signerAddress, decimal.NewFromInt(1))

	w := s.createWallet(t, fmt.Sprintf(`{"user_id":"carol","currency_code":"ETH","address":%q,"private_key":"0xfeedface"}`, signerAddress))
	assert.True(t, w.CanSend)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(1)), "imported wallet opens at its chain balance")

	resp, raw := s.do(t, fiber.MethodGet, "/api/v1/wallets/"+w.ID+"/balance", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Contains(t, string(raw), `"network":"sepolia"`)

	// Chain-backed wallets only move funds on chain.
	resp, raw = s.post(t, "/api/v1/wallets/"+w.ID+"/deposit", `{"amount":"5"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))
	assert.Contains(t, errorOf(t, raw), "on-chain address")

	sendPath := "/api/v1/wallets/" + w.ID + "/send"
	resp, raw = s.post(t, sendPath, fmt.Sprintf(`{"to_address":%q,"amount":"0.5","user_id":"carol"}`, recipientAddress))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	var sent struct {
		Transaction txBody `json:"transaction"`
		ExplorerURL string `json:"explorer_url"`
	}
	require.NoError(t, json.Unmarshal(raw, &sent))
	assert.Equal(t, "pending", sent.Transaction.Status)
	assert.True(t, strings.HasPrefix(sent.ExplorerURL, "https://sepolia.etherscan.io/tx/"))
	assert.True(t, s.wallet(t, w.ID).Balance.Equal(decimal.RequireFromString("0.49979")))

	resp, raw = s.post(t, sendPath, fmt.Sprintf(`{"to_address":%q,"amount":"0.1"}`, recipientAddress))
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(raw))
	assert.Equal(t, "10", resp.Header.Get(fiber.HeaderRetryAfter))

	resp, raw = s.do(t, fiber.MethodPost, "/api/v1/wallets/"+w.ID+"/sync", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(raw))

	s.gw.SimulateConfirmation(sent.Transaction.TxHash, 42)
	res := s.monitor.RunCycle(context.Background())
	assert.Equal(t, 1, res.Confirmed)
	assert.Zero(t, res.Deposits)
	assert.Zero(t, res.Errors)

	resp, raw = s.do(t, fiber.MethodGet, "/api/v1/transactions/"+sent.Transaction.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var settled txBody
	require.NoError(t, json.Unmarshal(raw, &settled))
	assert.Equal(t, "completed", settled.Status)
	assert.Len(t, s.notifier.Messages(notification.KindSendConfirmed), 1)

	resp, raw = s.do(t, fiber.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Contains(t, string(raw), `"confirmed":1`)
}

func TestChainOutageReturnsRetryAfter(t *testing.T) {
	s := newTestServer(t)
	s.gw.SimulateBalance(signerAddress, decimal.NewFromInt(1))
	w := s.createWallet(t, fmt.Sprintf(`{"user_id":"carol","currency_code":"ETH","address":%q,"private_key":"0xfeedface"}`, signerAddress))

	s.gw.SimulateFailure("fee", errors.New("rpc unavailable"))
	resp, raw := s.post(t, "/api/v1/wallets/"+w.ID+"/send", fmt.Sprintf(`{"to_address":%q,"amount":"0.1"}`, recipientAddress))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, string(raw))
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))
	assert.True(t, s.wallet(t, w.ID).Balance.Equal(decimal.NewFromInt(1)))
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	resp, raw := s.do(t, fiber.MethodGet, "/api/v1/ping", "", "X-Request-ID", "req-123")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
	assert.Contains(t, string(raw), `"request_id":"req-123"`)
}
