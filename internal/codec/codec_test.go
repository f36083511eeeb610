package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func mustCodec(t *testing.T, key []byte) *Sealed {
	t.Helper()
	c, err := NewSealed(key)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := mustCodec(t, testKey(7))
	const mid = "0123456789abcdef"

	first, err := c.Encode(mid)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, _ := c.Encode(mid)
	if first == second {
		t.Fatalf("payloads should differ per nonce")
	}

	got, err := c.Decode(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != mid {
		t.Fatalf("expected %s, got %s", mid, got)
	}
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	c := mustCodec(t, testKey(7))
	other := mustCodec(t, testKey(8))
	payload, err := c.Encode("0123456789abcdef")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	flipped := []byte(payload)
	mid := len(flipped) / 2
	if flipped[mid] == 'A' {
		flipped[mid] = 'B'
	} else {
		flipped[mid] = 'A'
	}

	cases := map[string]struct {
		codec   *Sealed
		payload string
	}{
		"not base64": {c, "***"},
		"too short":  {c, "AAAA"},
		"tampered":   {c, string(flipped)},
		"wrong key":  {other, payload},
		"empty":      {c, ""},
	}
	for name, tc := range cases {
		if _, err := tc.codec.Decode(tc.payload); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s: expected invalid payload, got %v", name, err)
		}
	}
}

func TestEncodeRejectsNonMerchantID(t *testing.T) {
	c := mustCodec(t, testKey(7))
	if _, err := c.Encode("not-an-id"); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestNewSealedRejectsShortKey(t *testing.T) {
	if _, err := NewSealed([]byte("short")); err == nil {
		t.Fatalf("expected key length error")
	}
}

func TestQRProducesPNG(t *testing.T) {
	png, err := QR("payload", 128)
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	if !strings.HasPrefix(string(png), "\x89PNG") {
		t.Fatalf("expected PNG signature")
	}
}
