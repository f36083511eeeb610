package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/upi_settle/internal/codec"
	"github.com/congo-pay/upi_settle/internal/ledger"
	"github.com/congo-pay/upi_settle/internal/settlement"
)

// RegisterSettlementRoutes wires the point-of-sale flow: terminal scans,
// settlements and the read-only ledger views. Guards run in order before the
// settlement handler.
func RegisterSettlementRoutes(r fiber.Router, h *settlement.Handler, terminal *codec.Handler, led *ledger.Handler, guards ...fiber.Handler) {
	r.Post("/terminal/scan", terminal.Scan)

	settle := append(append([]fiber.Handler{}, guards...), h.Settle)
	r.Post("/settlements", settle...)

	r.Get("/transactions", led.Transactions)
	r.Get("/transactions/:id", led.Transaction)
	r.Get("/ledger/blocks", led.Blocks)
	r.Get("/ledger/verify", led.Verify)
}
