package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody-gateway/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletId", h.Get)
	r.Delete("/wallets/:walletId", h.Delete)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Post("/wallets/:walletId/sync", h.Sync)
	r.Get("/users/:userId/wallets", h.ListByUser)
}
