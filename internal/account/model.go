package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes payer accounts from payee accounts.
type Kind string

const (
	KindUser     Kind = "user"
	KindMerchant Kind = "merchant"
)

// Account is a balance holder. Users pay with their MMID and PIN; merchants
// are paid through the identifier sealed in their QR payload.
type Account struct {
	ID           string
	Kind         Kind
	Name         string
	IFSC         string
	Balance      decimal.Decimal
	PasswordHash []byte
	PINHash      []byte
	Mobile       string
	MMID         string
	CreatedAt    time.Time
}

// UserInput captures the data required to register a payer.
type UserInput struct {
	Name     string
	IFSC     string
	Balance  decimal.Decimal
	Mobile   string
	Password string
	PIN      string
}

// MerchantInput captures the data required to register a payee.
type MerchantInput struct {
	Name     string
	IFSC     string
	Balance  decimal.Decimal
	Password string
}

// Patch lists the fields an update may change. Nil fields are left untouched.
type Patch struct {
	Name     *string
	IFSC     *string
	// Balance is an operator correction; the HTTP surface never sets it.
	Balance  *decimal.Decimal
	Mobile   *string
	Password *string
	PIN      *string
}
