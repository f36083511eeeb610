package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/secret"
)

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// ErrInvalidCredentials covers unknown accounts, wrong passwords and bad tokens alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AccountFinder loads accounts by primary id.
type AccountFinder interface {
	Get(ctx context.Context, id string) (account.Account, error)
}

// Claims is the verified content of an access token.
type Claims struct {
	AccountID string
	Kind      account.Kind
	ExpiresAt time.Time
}

// TokenPair is issued on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Service issues and verifies HS256 tokens for account maintenance.
type Service struct {
	accounts   AccountFinder
	hasher     secret.Hasher
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	dummyOnce sync.Once
	dummy     []byte
}

// NewService constructs a token service.
func NewService(accounts AccountFinder, hasher secret.Hasher, signingKey string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		accounts:   accounts,
		hasher:     hasher,
		secret:     []byte(signingKey),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// Login checks the account password and issues a token pair.
func (s *Service) Login(ctx context.Context, accountID, password string) (TokenPair, account.Account, error) {
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			s.dummyOnce.Do(func() { s.dummy, _ = s.hasher.Hash("unknown-account") })
			_ = s.hasher.Compare(s.dummy, password)
			return TokenPair{}, account.Account{}, ErrInvalidCredentials
		}
		return TokenPair{}, account.Account{}, err
	}
	if err := s.hasher.Compare(acct.PasswordHash, password); err != nil {
		if errors.Is(err, secret.ErrMismatch) {
			return TokenPair{}, account.Account{}, ErrInvalidCredentials
		}
		return TokenPair{}, account.Account{}, fmt.Errorf("compare password: %w", err)
	}

	access, err := s.sign(acct.ID, acct.Kind, tokenUseAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, account.Account{}, err
	}
	refresh, err := s.sign(acct.ID, acct.Kind, tokenUseRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, account.Account{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.accessTTL.Seconds())}, acct, nil
}

// Refresh verifies a refresh token and returns a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	claims, err := s.verify(refreshToken, tokenUseRefresh)
	if err != nil {
		return "", 0, err
	}
	// The account must still exist.
	acct, err := s.accounts.Get(ctx, claims.AccountID)
	if err != nil {
		return "", 0, ErrInvalidCredentials
	}
	access, err := s.sign(acct.ID, acct.Kind, tokenUseAccess, s.accessTTL)
	if err != nil {
		return "", 0, err
	}
	return access, int64(s.accessTTL.Seconds()), nil
}

// ParseAccess verifies an access token.
func (s *Service) ParseAccess(token string) (Claims, error) {
	return s.verify(token, tokenUseAccess)
}

func (s *Service) sign(accountID string, kind account.Kind, use string, ttl time.Duration) (string, error) {
	now := s.now()
	return SignHS256(map[string]any{
		"sub":  accountID,
		"kind": string(kind),
		"use":  use,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}, s.secret)
}

func (s *Service) verify(token, use string) (Claims, error) {
	raw, err := ParseAndVerifyHS256(token, s.secret, s.now())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	sub, _ := raw["sub"].(string)
	kind, _ := raw["kind"].(string)
	got, _ := raw["use"].(string)
	exp, _ := raw["exp"].(float64)
	if sub == "" || got != use {
		return Claims{}, ErrInvalidCredentials
	}
	return Claims{AccountID: sub, Kind: account.Kind(kind), ExpiresAt: time.Unix(int64(exp), 0).UTC()}, nil
}
