package wallet

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pandodao/generic"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/custody-gateway/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	UserID     string `json:"user_id"`
	Currency   string `json:"currency_code"`
	Type       string `json:"wallet_type"`
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// WalletResponse is the public view of a wallet. The signing key reference
// never leaves the service.
type WalletResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Currency  string          `json:"currency_code"`
	Type      string          `json:"wallet_type"`
	Balance   decimal.Decimal `json:"balance"`
	Address   string          `json:"address,omitempty"`
	CanSend   bool            `json:"can_send"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ViewWallet renders a wallet for API responses.
func ViewWallet(w ledger.Wallet) WalletResponse {
	return WalletResponse{
		ID:        w.ID,
		UserID:    w.UserID,
		Currency:  w.CurrencyCode,
		Type:      string(w.Type),
		Balance:   w.Balance,
		Address:   w.Address,
		CanSend:   w.Sendable(),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

// Create provisions or imports a wallet.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Create(c.UserContext(), CreateInput{
		UserID:     req.UserID,
		Currency:   req.Currency,
		Type:       ledger.WalletType(req.Type),
		Address:    req.Address,
		PrivateKey: req.PrivateKey,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(ViewWallet(w))
}

// Get returns one wallet.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return err
	}
	return c.JSON(ViewWallet(w))
}

// ListByUser returns the wallets of a user.
func (h *Handler) ListByUser(c *fiber.Ctx) error {
	wallets, err := h.service.ListByUser(c.UserContext(), c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"wallets": generic.MapSlice(wallets, ViewWallet),
	})
}

// Balance returns the ledger balance next to the live chain balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.LiveBalance(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return err
	}
	body := fiber.Map{
		"wallet_id":      balance.WalletID,
		"currency_code":  balance.Currency,
		"ledger_balance": balance.Ledger,
		"timestamp":      balance.AsOf,
	}
	if balance.Chain != nil {
		body["chain_balance"] = *balance.Chain
		body["network"] = balance.Network
		body["drift"] = balance.Drift()
	}
	return c.JSON(body)
}

// Sync pulls the chain balance into the ledger.
func (h *Handler) Sync(c *fiber.Ctx) error {
	w, err := h.service.Sync(c.UserContext(), c.Params("walletId"))
	if err != nil {
		return err
	}
	return c.JSON(ViewWallet(w))
}

// Delete removes an empty wallet.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), c.Params("walletId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}
