package ledger

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes read-only ledger endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a ledger handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type blockResponse struct {
	Height        uint64    `json:"height"`
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	PrevID        string    `json:"prev_id"`
	Timestamp     time.Time `json:"timestamp"`
}

type transactionResponse struct {
	ID        string          `json:"id"`
	PayerID   string          `json:"payer_id"`
	PayeeID   string          `json:"payee_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

type verifyResponse struct {
	Valid    bool   `json:"valid"`
	Examined int    `json:"examined"`
	Position int    `json:"position,omitempty"`
	BlockID  string `json:"block_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Halted   bool   `json:"halted"`
}

// Blocks lists the chain in append order.
func (h *Handler) Blocks(c *fiber.Ctx) error {
	blocks, err := h.service.Blocks(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]blockResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, blockResponse{Height: b.Height, ID: b.ID, TransactionID: b.TransactionID, PrevID: b.PrevID, Timestamp: b.Timestamp})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"blocks": out, "count": len(out)})
}

// Verify runs an integrity check over the whole chain. A broken chain is a
// successful check with valid=false, not an HTTP error.
func (h *Handler) Verify(c *fiber.Ctx) error {
	res, err := h.service.Verify(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(verifyResponse{
		Valid:    res.Valid,
		Examined: res.Examined,
		Position: res.Position,
		BlockID:  res.BlockID,
		Reason:   res.Reason,
		Halted:   h.service.Halted(),
	})
}

// Transactions lists transaction records oldest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	txs, err := h.service.Transactions(c.UserContext())
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out, "count": len(out)})
}

// Transaction returns the record named by :id.
func (h *Handler) Transaction(c *fiber.Ctx) error {
	t, err := h.service.Transaction(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return fiber.NewError(http.StatusNotFound, "transaction not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(toTransactionResponse(t))
}

func toTransactionResponse(t Transaction) transactionResponse {
	return transactionResponse{ID: t.ID, PayerID: t.PayerID, PayeeID: t.PayeeID, Amount: t.Amount, Timestamp: t.Timestamp}
}
