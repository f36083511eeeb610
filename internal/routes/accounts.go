package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/codec"
	"github.com/congo-pay/upi_settle/internal/middleware"
)

// RegisterAccountRoutes wires user and merchant registry endpoints. Reads and
// updates require the account's own access token.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler, qr *codec.Handler, jwt fiber.Handler) {
	self := middleware.RequireSelf("id")

	users := r.Group("/users")
	users.Post("", h.CreateUser)
	users.Get("/:id", jwt, self, h.Get(account.KindUser))
	users.Put("/:id", jwt, self, h.Update(account.KindUser))

	merchants := r.Group("/merchants")
	merchants.Post("", h.CreateMerchant)
	merchants.Get("/:id", jwt, self, h.Get(account.KindMerchant))
	merchants.Put("/:id", jwt, self, h.Update(account.KindMerchant))
	merchants.Get("/:id/qr", jwt, self, qr.MerchantQR)
}
