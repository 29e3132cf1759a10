package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody-gateway/internal/payments"
)

// RegisterPaymentRoutes wires money-moving and transaction endpoints.
// Money-moving POSTs go through the idempotency middleware.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, idempotent fiber.Handler) {
	r.Post("/wallets/:walletId/deposit", idempotent, h.Deposit)
	r.Post("/wallets/:walletId/withdraw", idempotent, h.Withdraw)
	r.Post("/wallets/:walletId/send", idempotent, h.Send)
	r.Post("/transfers", idempotent, h.Transfer)

	r.Get("/wallets/:walletId/transactions", h.WalletTransactions)
	r.Get("/users/:userId/transactions", h.UserTransactions)
	r.Get("/transactions/:txId", h.Transaction)
	r.Post("/transactions/:txId/cancel", h.Cancel)
}
