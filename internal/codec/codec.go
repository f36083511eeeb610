// Package codec seals merchant identifiers into the opaque payloads carried
// by point-of-sale QR codes.
package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/congo-pay/upi_settle/internal/ids"
)

// ErrInvalidPayload indicates a payload that is malformed, tampered with,
// sealed under another key, or does not carry a merchant id.
var ErrInvalidPayload = errors.New("invalid merchant payload")

// additionalData binds sealed payloads to their purpose.
var additionalData = []byte("upi_settle/merchant-id/v1")

// Sealed encrypts merchant ids with XChaCha20-Poly1305 and a random nonce.
type Sealed struct {
	aead cipher.AEAD
}

// NewSealed builds a codec from a 32 byte key.
func NewSealed(key []byte) (*Sealed, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("merchant codec key: %w", err)
	}
	return &Sealed{aead: aead}, nil
}

// Encode seals mid and returns it base64url encoded without padding.
func (s *Sealed) Encode(mid string) (string, error) {
	if !ids.Valid(mid) {
		return "", fmt.Errorf("%w: not a merchant id", ErrInvalidPayload)
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(mid)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(mid), additionalData)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a payload produced by Encode.
func (s *Sealed) Decode(payload string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: not base64url", ErrInvalidPayload)
	}
	if len(raw) < s.aead.NonceSize()+s.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidPayload)
	}
	nonce, sealed := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrInvalidPayload)
	}
	mid := string(plain)
	if !ids.Valid(mid) {
		return "", fmt.Errorf("%w: not a merchant id", ErrInvalidPayload)
	}
	return mid, nil
}

// QR renders payload as a PNG of size by size pixels.
func QR(payload string, size int) ([]byte, error) {
	png, err := qrcode.Encode(payload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}
