package settlement

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/codec"
	"github.com/congo-pay/upi_settle/internal/identity"
	"github.com/congo-pay/upi_settle/internal/ids"
)

// MerchantDecoder opens the payload scanned from a merchant QR code.
type MerchantDecoder interface {
	Decode(payload string) (string, error)
}

// Handler exposes the settlement endpoint.
type Handler struct {
	service *Service
	decoder MerchantDecoder
}

// NewHandler constructs a settlement handler.
func NewHandler(service *Service, decoder MerchantDecoder) *Handler {
	return &Handler{service: service, decoder: decoder}
}

type settleRequest struct {
	MMID       string          `json:"mmid"`
	PIN        string          `json:"pin"`
	Amount     decimal.Decimal `json:"amount"`
	Payload    string          `json:"payload"`
	MerchantID string          `json:"merchant_id"`
}

type settleResponse struct {
	TransactionID string          `json:"transaction_id"`
	BlockID       string          `json:"block_id"`
	PrevBlockID   string          `json:"prev_block_id"`
	BlockHeight   uint64          `json:"block_height"`
	PayerID       string          `json:"payer_id"`
	PayeeID       string          `json:"payee_id"`
	Amount        decimal.Decimal `json:"amount"`
	PayerBalance  decimal.Decimal `json:"payer_balance"`
	SettledAt     time.Time       `json:"settled_at"`
}

// Settle processes a point-of-sale payment. The payee comes from the sealed
// QR payload when present, otherwise from merchant_id.
func (h *Handler) Settle(c *fiber.Ctx) error {
	var req settleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	payeeID := req.MerchantID
	if req.Payload != "" {
		mid, err := h.decoder.Decode(req.Payload)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid merchant payload")
		}
		payeeID = mid
	}
	if payeeID == "" {
		return fiber.NewError(http.StatusBadRequest, "payload or merchant_id is required")
	}

	res, err := h.service.Settle(c.UserContext(), Request{
		MMID:    req.MMID,
		PIN:     req.PIN,
		PayeeID: payeeID,
		Amount:  req.Amount,
	})
	if err != nil {
		return httpError(err)
	}

	return c.Status(http.StatusCreated).JSON(settleResponse{
		TransactionID: res.TransactionID,
		BlockID:       res.BlockID,
		PrevBlockID:   res.PrevBlockID,
		BlockHeight:   res.BlockHeight,
		PayerID:       res.PayerID,
		PayeeID:       res.PayeeID,
		Amount:        res.Amount,
		PayerBalance:  res.PayerBalance,
		SettledAt:     res.SettledAt,
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSamePayerPayee),
		errors.Is(err, identity.ErrMalformedMMID),
		errors.Is(err, codec.ErrInvalidPayload):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		return fiber.NewError(http.StatusBadRequest, "insufficient funds")
	case errors.Is(err, identity.ErrInvalidPIN):
		return fiber.NewError(http.StatusUnauthorized, "invalid PIN")
	case errors.Is(err, account.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, ids.ErrCollision):
		return fiber.NewError(http.StatusConflict, "transaction id collision, retry")
	case errors.Is(err, ErrLedgerHalted):
		return fiber.NewError(http.StatusLocked, "settlements halted pending ledger review")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
