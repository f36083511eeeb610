package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/upi_settle/internal/ids"
	"github.com/congo-pay/upi_settle/internal/secret"
)

const (
	minPINLength      = 4
	minPasswordLength = 6
	createAttempts    = 5
)

// Service manages the account lifecycle outside the settlement path.
type Service struct {
	repo   Repository
	hasher secret.Hasher
	ids    *ids.Generator
}

// NewService creates an account service.
func NewService(repo Repository, hasher secret.Hasher, gen *ids.Generator) *Service {
	if gen == nil {
		gen = ids.New(nil)
	}
	return &Service{repo: repo, hasher: hasher, ids: gen}
}

// RegisterUser creates a payer account and indexes its MMID.
func (s *Service) RegisterUser(ctx context.Context, in UserInput) (Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Mobile = strings.TrimSpace(in.Mobile)
	if err := validateCommon(in.Name, in.IFSC, in.Password); err != nil {
		return Account{}, err
	}
	if err := validateMobile(in.Mobile); err != nil {
		return Account{}, err
	}
	if err := validatePIN(in.PIN); err != nil {
		return Account{}, err
	}
	if err := validateBalance(in.Balance); err != nil {
		return Account{}, err
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}
	pinHash, err := s.hasher.Hash(in.PIN)
	if err != nil {
		return Account{}, fmt.Errorf("hash pin: %w", err)
	}

	acct := Account{
		Kind:         KindUser,
		Name:         in.Name,
		IFSC:         in.IFSC,
		Balance:      in.Balance,
		PasswordHash: passwordHash,
		PINHash:      pinHash,
		Mobile:       in.Mobile,
	}
	return s.create(ctx, acct)
}

// RegisterMerchant creates a payee account.
func (s *Service) RegisterMerchant(ctx context.Context, in MerchantInput) (Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateCommon(in.Name, in.IFSC, in.Password); err != nil {
		return Account{}, err
	}
	if err := validateBalance(in.Balance); err != nil {
		return Account{}, err
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	return s.create(ctx, Account{
		Kind:         KindMerchant,
		Name:         in.Name,
		IFSC:         in.IFSC,
		Balance:      in.Balance,
		PasswordHash: passwordHash,
	})
}

// create derives a fresh id per attempt and retries when the store reports a collision.
func (s *Service) create(ctx context.Context, acct Account) (Account, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		acct.ID = s.ids.Derive([]string{string(acct.Kind), acct.Name, acct.IFSC}, true)
		acct.CreatedAt = s.ids.Now()
		if acct.Kind == KindUser {
			acct.MMID = ids.MMID(acct.ID, acct.Mobile)
		}

		err := s.repo.Create(ctx, acct)
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, ErrIDTaken) {
			return Account{}, err
		}
	}
	return Account{}, fmt.Errorf("create %s: %w", acct.Kind, ids.ErrCollision)
}

// Get retrieves an account by primary identifier.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	if !ids.Valid(id) {
		return Account{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// GetKind retrieves an account and checks that it is of the expected kind.
func (s *Service) GetKind(ctx context.Context, id string, kind Kind) (Account, error) {
	acct, err := s.Get(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if acct.Kind != kind {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

// Update applies a patch to an account of the given kind. Secrets are
// re-digested before the store lock is taken.
func (s *Service) Update(ctx context.Context, id string, kind Kind, p Patch) (Account, error) {
	if !ids.Valid(id) {
		return Account{}, ErrNotFound
	}
	if p.Balance != nil {
		if err := validateBalance(*p.Balance); err != nil {
			return Account{}, err
		}
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return Account{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if p.IFSC != nil {
		if err := validateIFSC(*p.IFSC); err != nil {
			return Account{}, err
		}
	}
	if kind == KindMerchant && (p.Mobile != nil || p.PIN != nil) {
		return Account{}, fmt.Errorf("%w: merchants have no mobile number or pin", ErrInvalidInput)
	}

	var passwordHash, pinHash []byte
	var err error
	if p.Password != nil {
		if len(*p.Password) < minPasswordLength {
			return Account{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
		}
		if passwordHash, err = s.hasher.Hash(*p.Password); err != nil {
			return Account{}, fmt.Errorf("hash password: %w", err)
		}
	}
	if p.PIN != nil {
		if err := validatePIN(*p.PIN); err != nil {
			return Account{}, err
		}
		if pinHash, err = s.hasher.Hash(*p.PIN); err != nil {
			return Account{}, fmt.Errorf("hash pin: %w", err)
		}
	}
	if p.Mobile != nil {
		if err := validateMobile(strings.TrimSpace(*p.Mobile)); err != nil {
			return Account{}, err
		}
	}

	return s.repo.Update(ctx, id, func(a *Account) error {
		if a.Kind != kind {
			return ErrNotFound
		}
		if p.Name != nil {
			a.Name = strings.TrimSpace(*p.Name)
		}
		if p.IFSC != nil {
			a.IFSC = *p.IFSC
		}
		if p.Balance != nil {
			a.Balance = *p.Balance
		}
		if p.Mobile != nil {
			a.Mobile = strings.TrimSpace(*p.Mobile)
			a.MMID = ids.MMID(a.ID, a.Mobile)
		}
		if passwordHash != nil {
			a.PasswordHash = passwordHash
		}
		if pinHash != nil {
			a.PINHash = pinHash
		}
		return nil
	})
}

func validateCommon(name, ifsc, password string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := validateIFSC(ifsc); err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}

// validateIFSC checks the 11 character routing code: four letters, a zero, six alphanumerics.
func validateIFSC(ifsc string) error {
	if len(ifsc) != 11 || ifsc[4] != '0' {
		return fmt.Errorf("%w: ifsc must be 11 characters with a 0 in position 5", ErrInvalidInput)
	}
	for i, r := range ifsc {
		upper := r >= 'A' && r <= 'Z'
		digit := r >= '0' && r <= '9'
		if i < 4 && !upper {
			return fmt.Errorf("%w: ifsc must start with four letters", ErrInvalidInput)
		}
		if !upper && !digit {
			return fmt.Errorf("%w: ifsc must be upper case alphanumeric", ErrInvalidInput)
		}
	}
	return nil
}

func validateBalance(b decimal.Decimal) error {
	if b.IsNegative() {
		return fmt.Errorf("%w: balance must not be negative", ErrInvalidInput)
	}
	if !b.Equal(b.Truncate(2)) {
		return fmt.Errorf("%w: balance has more than two decimal places", ErrInvalidInput)
	}
	return nil
}

func validateMobile(mobile string) error {
	digits := strings.TrimPrefix(mobile, "+")
	if len(digits) < 10 || len(digits) > 15 {
		return fmt.Errorf("%w: mobile number must have 10 to 15 digits", ErrInvalidInput)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: mobile number must be numeric", ErrInvalidInput)
		}
	}
	return nil
}

func validatePIN(pin string) error {
	if len(pin) < minPINLength || len(pin) > 6 {
		return fmt.Errorf("%w: PIN must be 4 to 6 digits", ErrInvalidInput)
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: PIN must be numeric", ErrInvalidInput)
		}
	}
	return nil
}
