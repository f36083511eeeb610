package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/upi_settle/internal/auth"
)

// RegisterAuthRoutes wires the account login endpoints. loginGuards run
// before the password check.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, loginGuards ...fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/login", append(append([]fiber.Handler{}, loginGuards...), h.Login)...)
	group.Post("/refresh", h.Refresh)
}
