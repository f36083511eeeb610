package codec

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/upi_settle/internal/account"
)

const qrSize = 256

// MerchantLookup confirms a merchant exists before its QR code is issued.
type MerchantLookup interface {
	GetKind(ctx context.Context, id string, kind account.Kind) (account.Account, error)
}

// Handler issues merchant QR codes and decodes terminal scans.
type Handler struct {
	codec     *Sealed
	merchants MerchantLookup
}

// NewHandler constructs a codec handler.
func NewHandler(codec *Sealed, merchants MerchantLookup) *Handler {
	return &Handler{codec: codec, merchants: merchants}
}

// MerchantQR returns a fresh sealed payload for merchant :id and its QR image.
func (h *Handler) MerchantQR(c *fiber.Ctx) error {
	m, err := h.merchants.GetKind(c.UserContext(), c.Params("id"), account.KindMerchant)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "merchant not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	payload, err := h.codec.Encode(m.ID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	png, err := QR(payload, qrSize)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"mid":           m.ID,
		"payload":       payload,
		"qr_base64_png": base64.StdEncoding.EncodeToString(png),
	})
}

type scanRequest struct {
	Payload string `json:"payload"`
}

// Scan decodes the payload read by a point-of-sale terminal.
func (h *Handler) Scan(c *fiber.Ctx) error {
	var req scanRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	mid, err := h.codec.Decode(req.Payload)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid merchant payload")
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"merchant_id": mid})
}
