// Package ids derives the short hexadecimal identifiers used for accounts,
// transactions and payer aliases.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Length is the number of hex characters in account and transaction identifiers.
	Length = 16
	// MMIDLength is the number of hex characters in a payer alias.
	MMIDLength = 12
)

// ErrCollision is returned once every attempt to find an unused identifier failed.
var ErrCollision = errors.New("identifier collision: retries exhausted")

// Clock supplies the time used for time-seeded identifiers.
type Clock func() time.Time

// Generator derives identifiers. The zero value is not usable; call New.
type Generator struct {
	now Clock
}

// New returns a Generator reading time from now, or time.Now when nil.
func New(now Clock) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Now returns the generator's current time truncated to microseconds, the
// resolution that survives a round trip through timestamptz.
func (g *Generator) Now() time.Time {
	return g.now().UTC().Truncate(time.Microsecond)
}

// Derive hashes the concatenated parts, appending the current nanosecond
// timestamp when useTime is set, and keeps the first Length hex characters.
func (g *Generator) Derive(parts []string, useTime bool) string {
	seed := strings.Join(parts, "")
	if useTime {
		seed += strconv.FormatInt(g.now().UnixNano(), 10)
	}
	return digest(seed, Length)
}

// Derive is Generator.Derive on the wall clock.
func Derive(parts []string, useTime bool) string {
	return New(nil).Derive(parts, useTime)
}

// TransactionID derives a transaction identifier from its payer, payee,
// amount and settlement time.
func TransactionID(payerID, payeeID string, amount decimal.Decimal, at time.Time) string {
	return digest(payerID+payeeID+amount.String()+strconv.FormatInt(at.UnixMicro(), 10), Length)
}

// MMID derives the payer alias from an account id and mobile number.
func MMID(accountID, mobile string) string {
	return digest(accountID+mobile, MMIDLength)
}

// Valid reports whether s is a well-formed 16 character identifier.
func Valid(s string) bool {
	return isHex(s, Length)
}

// ValidMMID reports whether s is a well-formed payer alias.
func ValidMMID(s string) bool {
	return isHex(s, MMIDLength)
}

// Unique calls next with successive candidates until taken reports false,
// giving up with ErrCollision after attempts tries.
func Unique(attempts int, next func(attempt int) string, taken func(id string) (bool, error)) (string, error) {
	for i := 0; i < attempts; i++ {
		id := next(i)
		used, err := taken(id)
		if err != nil {
			return "", err
		}
		if !used {
			return id, nil
		}
	}
	return "", ErrCollision
}

func digest(seed string, n int) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:n]
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
