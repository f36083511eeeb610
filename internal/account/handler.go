package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/upi_settle/internal/ids"
)

// Handler exposes user and merchant registry endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createUserRequest struct {
	Name     string          `json:"name"`
	IFSC     string          `json:"ifsc"`
	Balance  decimal.Decimal `json:"balance"`
	Mobile   string          `json:"mobile"`
	Password string          `json:"password"`
	PIN      string          `json:"pin"`
}

type createMerchantRequest struct {
	Name     string          `json:"name"`
	IFSC     string          `json:"ifsc"`
	Balance  decimal.Decimal `json:"balance"`
	Password string          `json:"password"`
}

// updateRequest is the self-service patch. Balance is decoded only so it can
// be refused; balances change through settlements or `ledgerctl set-balance`.
type updateRequest struct {
	Name     *string          `json:"name"`
	IFSC     *string          `json:"ifsc"`
	Balance  *decimal.Decimal `json:"balance"`
	Mobile   *string          `json:"mobile"`
	Password *string          `json:"password"`
	PIN      *string          `json:"pin"`
}

type accountResponse struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Name      string          `json:"name"`
	IFSC      string          `json:"ifsc"`
	Balance   decimal.Decimal `json:"balance"`
	Mobile    string          `json:"mobile,omitempty"`
	MMID      string          `json:"mmid,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func toResponse(a Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Kind:      a.Kind,
		Name:      a.Name,
		IFSC:      a.IFSC,
		Balance:   a.Balance,
		Mobile:    a.Mobile,
		MMID:      a.MMID,
		CreatedAt: a.CreatedAt,
	}
}

// CreateUser registers a payer account.
func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var req createUserRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.RegisterUser(c.UserContext(), UserInput{
		Name:     req.Name,
		IFSC:     req.IFSC,
		Balance:  req.Balance,
		Mobile:   req.Mobile,
		Password: req.Password,
		PIN:      req.PIN,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(acct))
}

// CreateMerchant registers a payee account.
func (h *Handler) CreateMerchant(c *fiber.Ctx) error {
	var req createMerchantRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.RegisterMerchant(c.UserContext(), MerchantInput{
		Name:     req.Name,
		IFSC:     req.IFSC,
		Balance:  req.Balance,
		Password: req.Password,
	})
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(acct))
}

// Get returns the account of the given kind named by :id.
func (h *Handler) Get(kind Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		acct, err := h.service.GetKind(c.UserContext(), c.Params("id"), kind)
		if err != nil {
			return httpError(err)
		}
		return c.Status(http.StatusOK).JSON(toResponse(acct))
	}
}

// Update patches the profile and secrets of the account of the given kind
// named by :id.
func (h *Handler) Update(kind Kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req updateRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if req.Balance != nil {
			return fiber.NewError(http.StatusForbidden, "balance cannot be changed through this endpoint")
		}
		acct, err := h.service.Update(c.UserContext(), c.Params("id"), kind, Patch{
			Name:     req.Name,
			IFSC:     req.IFSC,
			Mobile:   req.Mobile,
			Password: req.Password,
			PIN:      req.PIN,
		})
		if err != nil {
			return httpError(err)
		}
		return c.Status(http.StatusOK).JSON(toResponse(acct))
	}
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, ErrMobileTaken):
		return fiber.NewError(http.StatusConflict, "mobile number already registered")
	case errors.Is(err, ids.ErrCollision):
		return fiber.NewError(http.StatusConflict, "could not allocate an account id, retry")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
