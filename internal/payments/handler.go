package payments

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pandodao/generic"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/custody-gateway/internal/ledger"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// TransactionResponse is the public view of a transaction row.
type TransactionResponse struct {
	ID          string          `json:"id"`
	WalletID    string          `json:"wallet_id"`
	Type        string          `json:"type"`
	Direction   string          `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Status      string          `json:"status"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Network     string          `json:"network,omitempty"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func viewTransaction(t ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:          t.ID,
		WalletID:    t.WalletID,
		Type:        string(t.Type),
		Direction:   string(t.Direction),
		Amount:      t.Amount,
		Fee:         t.Fee,
		Status:      string(t.Status),
		TxHash:      t.TxHash,
		Network:     t.Network,
		Description: t.Description,
		ReferenceID: t.ReferenceID,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}

type depositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id"`
}

type withdrawRequest struct {
	Amount      decimal.Decimal  `json:"amount"`
	Fee         *decimal.Decimal `json:"fee"`
	Description string           `json:"description"`
	UserID      string           `json:"user_id"`
}

type transferRequest struct {
	FromWalletID string          `json:"from_wallet_id"`
	ToWalletID   string          `json:"to_wallet_id"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	Description  string          `json:"description"`
	UserID       string          `json:"user_id"`
}

type sendRequest struct {
	ToAddress   string          `json:"to_address"`
	Amount      decimal.Decimal `json:"amount"`
	Network     string          `json:"network"`
	Description string          `json:"description"`
	UserID      string          `json:"user_id"`
}

// Deposit credits a wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.Deposit(c.UserContext(), DepositInput{
		WalletID:    c.Params("walletId"),
		Amount:      req.Amount,
		Description: req.Description,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(viewTransaction(tx))
}

// Withdraw debits a wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.Withdraw(c.UserContext(), WithdrawInput{
		WalletID:        c.Params("walletId"),
		Amount:          req.Amount,
		Fee:             req.Fee,
		Description:     req.Description,
		RequestorUserID: req.UserID,
	})
	if err != nil {
		return ownerError(err)
	}
	return c.Status(http.StatusCreated).JSON(viewTransaction(tx))
}

// Transfer moves funds between two wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Transfer(c.UserContext(), TransferInput{
		FromWalletID:    req.FromWalletID,
		ToWalletID:      req.ToWalletID,
		Amount:          req.Amount,
		Fee:             req.Fee,
		Description:     req.Description,
		RequestorUserID: req.UserID,
	})
	if err != nil {
		return ownerError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"reference_id": res.Debit.ReferenceID,
		"debit":        viewTransaction(res.Debit),
		"credit":       viewTransaction(res.Credit),
	})
}

// Send broadcasts an on-chain send. The response is 202: the record stays
// pending until the chain confirms it.
func (h *Handler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Send(c.UserContext(), SendInput{
		WalletID:        c.Params("walletId"),
		ToAddress:       req.ToAddress,
		Amount:          req.Amount,
		Network:         req.Network,
		Description:     req.Description,
		RequestorUserID: req.UserID,
	})
	if err != nil {
		return ownerError(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"transaction":  viewTransaction(res.Transaction),
		"explorer_url": res.ExplorerURL,
	})
}

// Cancel cancels a never-broadcast pending transaction.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	tx, err := h.service.Cancel(c.UserContext(), c.Params("txId"))
	if err != nil {
		return err
	}
	return c.JSON(viewTransaction(tx))
}

// Transaction returns a single transaction.
func (h *Handler) Transaction(c *fiber.Ctx) error {
	tx, err := h.service.Transaction(c.UserContext(), c.Params("txId"))
	if err != nil {
		return err
	}
	return c.JSON(viewTransaction(tx))
}

// WalletTransactions lists a wallet's transactions, newest first.
func (h *Handler) WalletTransactions(c *fiber.Ctx) error {
	page := pageOf(c)
	txs, err := h.service.WalletTransactions(c.UserContext(), c.Params("walletId"), page)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"transactions": generic.MapSlice(txs, viewTransaction),
		"limit":        page.Limit,
		"offset":       page.Offset,
	})
}

// UserTransactions lists transactions across a user's wallets, newest first.
func (h *Handler) UserTransactions(c *fiber.Ctx) error {
	page := pageOf(c)
	txs, err := h.service.UserTransactions(c.UserContext(), c.Params("userId"), page)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"transactions": generic.MapSlice(txs, viewTransaction),
		"limit":        page.Limit,
		"offset":       page.Offset,
	})
}

func pageOf(c *fiber.Ctx) ledger.Page {
	return ledger.Page{Limit: c.QueryInt("limit", 50), Offset: c.QueryInt("offset", 0)}
}

func ownerError(err error) error {
	if errors.Is(err, ErrNotOwner) {
		return fiber.NewError(http.StatusForbidden, err.Error())
	}
	return err
}
