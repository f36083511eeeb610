package account

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates no account has the requested identifier.
	ErrNotFound = errors.New("account not found")
	// ErrIDTaken indicates the derived identifier already belongs to another account.
	ErrIDTaken = errors.New("account id already in use")
	// ErrMobileTaken indicates the mobile number is registered to another user.
	ErrMobileTaken = errors.New("mobile number already registered")
	// ErrInvalidInput wraps registration and update validation failures.
	ErrInvalidInput = errors.New("invalid account input")
)

// Repository persists accounts. Implementations keep the MMID index in step
// with every write that changes an account's id or mobile number.
type Repository interface {
	Create(ctx context.Context, acct Account) error
	Get(ctx context.Context, id string) (Account, error)
	FindByMMID(ctx context.Context, mmid string) (Account, error)
	// Update applies fn to the current row while holding its write lock and
	// persists the result, so concurrent balance changes are never lost.
	Update(ctx context.Context, id string, fn func(*Account) error) (Account, error)
}
