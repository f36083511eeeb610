package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/upi_settle/internal/account"
	"github.com/congo-pay/upi_settle/internal/ids"
	"github.com/congo-pay/upi_settle/internal/secret"
	"github.com/congo-pay/upi_settle/internal/store"
)

func runDerive(t *testing.T, args ...string) string {
	t.Helper()
	cmd := deriveCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("derive %v: %v", args, err)
	}
	return strings.TrimSpace(out.String())
}

func TestDeriveIsDeterministicWithoutTime(t *testing.T) {
	got := runDerive(t, "user", "Asha", "SBIN0001234")
	if got != ids.Derive([]string{"user", "Asha", "SBIN0001234"}, false) {
		t.Fatalf("unexpected id %q", got)
	}
	if again := runDerive(t, "user", "Asha", "SBIN0001234"); again != got {
		t.Fatalf("expected stable output, got %q and %q", got, again)
	}
}

func TestDeriveWithTimeProducesValidID(t *testing.T) {
	got := runDerive(t, "--time", "merchant", "Shop")
	if !ids.Valid(got) {
		t.Fatalf("expected 16 hex characters, got %q", got)
	}
}

func TestDeriveRequiresParts(t *testing.T) {
	cmd := deriveCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error without seed parts")
	}
}

func TestSetBalanceCorrectsAnyAccountKind(t *testing.T) {
	ctx := context.Background()
	accounts := account.NewService(store.NewMemory(), secret.NewBcrypt(bcrypt.MinCost), nil)
	m, err := accounts.RegisterMerchant(ctx, account.MerchantInput{Name: "Shop", IFSC: "HDFC0004321", Password: "merchant-pass"})
	if err != nil {
		t.Fatalf("register merchant: %v", err)
	}

	got, err := setBalance(ctx, accounts, m.ID, decimal.RequireFromString("42.50"))
	if err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if !got.Balance.Equal(decimal.RequireFromString("42.5")) || got.Kind != account.KindMerchant {
		t.Fatalf("unexpected account %+v", got)
	}

	if _, err := setBalance(ctx, accounts, m.ID, decimal.NewFromInt(-1)); !errors.Is(err, account.ErrInvalidInput) {
		t.Fatalf("expected invalid input for a negative balance, got %v", err)
	}
	if _, err := setBalance(ctx, accounts, "ffffffffffffffff", decimal.NewFromInt(1)); !errors.Is(err, account.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
