package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/ids"
	"github.com/congo-pay/upi_settle/internal/secret"
)

var (
	// ErrInvalidPIN indicates the presented PIN does not match the payer's digest.
	ErrInvalidPIN = errors.New("invalid PIN")
	// ErrMalformedMMID indicates the presented alias is not 12 lower-case hex characters.
	ErrMalformedMMID = errors.New("malformed MMID")
)

// Finder looks up payers through the MMID index.
type Finder interface {
	FindByMMID(ctx context.Context, mmid string) (account.Account, error)
}

// Resolver maps a presented MMID to its payer and authenticates the PIN.
type Resolver struct {
	accounts Finder
	hasher   secret.Hasher
	// dummy is compared against on unknown aliases.
	dummy []byte
}

// NewResolver creates a resolver backed by the given index.
func NewResolver(accounts Finder, hasher secret.Hasher) (*Resolver, error) {
	dummy, err := hasher.Hash("unknown-mmid")
	if err != nil {
		return nil, fmt.Errorf("digest placeholder pin: %w", err)
	}
	return &Resolver{accounts: accounts, hasher: hasher, dummy: dummy}, nil
}

// Resolve returns the payer owning mmid once pin matches its stored digest.
// Unknown aliases still pay for one digest comparison so response time does
// not reveal which aliases exist.
func (r *Resolver) Resolve(ctx context.Context, mmid, pin string) (account.Account, error) {
	if !ids.ValidMMID(mmid) {
		return account.Account{}, ErrMalformedMMID
	}

	acct, err := r.accounts.FindByMMID(ctx, mmid)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			_ = r.hasher.Compare(r.dummy, pin)
		}
		return account.Account{}, err
	}
	if acct.Kind != account.KindUser {
		return account.Account{}, account.ErrNotFound
	}

	if err := r.hasher.Compare(acct.PINHash, pin); err != nil {
		if errors.Is(err, secret.ErrMismatch) {
			return account.Account{}, ErrInvalidPIN
		}
		return account.Account{}, fmt.Errorf("compare pin: %w", err)
	}
	return acct, nil
}
