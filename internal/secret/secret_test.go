package secret

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptRoundTrip(t *testing.T) {
	h := NewBcrypt(bcrypt.MinCost)
	digest, err := h.Hash("4321")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(digest) == "4321" {
		t.Fatal("digest must not equal the secret")
	}
	if err := h.Compare(digest, "4321"); err != nil {
		t.Fatalf("compare: %v", err)
	}
	if err := h.Compare(digest, "1234"); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestBcryptCostFallback(t *testing.T) {
	if h := NewBcrypt(0); h.cost != bcrypt.DefaultCost {
		t.Fatalf("expected default cost, got %d", h.cost)
	}
}
