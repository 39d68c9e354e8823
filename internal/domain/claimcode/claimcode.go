// Package claimcode issues the opaque tokens customers present at pickup.
package claimcode

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// DefaultMaxAttempts bounds regeneration after uniqueness conflicts.
const DefaultMaxAttempts = 3

// ErrConflict must be returned by the persist callback when storage rejects a
// code because another order already holds it.
var ErrConflict = errors.New("claim code already in use")

// ErrExhausted is returned when every attempt hit a conflict.
var ErrExhausted = errors.New("claim code attempts exhausted")

// New returns a fresh claim code: a random 128-bit v4 UUID as 32 uppercase
// hex characters.
func New() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

// Issuer binds new claim codes to orders.
type Issuer struct {
	maxAttempts int
	generate    func() string
}

// NewIssuer creates an Issuer that tries at most maxAttempts codes. A
// non-positive value selects DefaultMaxAttempts.
func NewIssuer(maxAttempts int) *Issuer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Issuer{maxAttempts: maxAttempts, generate: New}
}

// Issue generates a code and hands it to persist. When persist reports
// ErrConflict a new code is generated and persist is called again. Any other
// error stops immediately. Issue returns the code that was persisted.
func (i *Issuer) Issue(ctx context.Context, persist func(ctx context.Context, code string) error) (string, error) {
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code := i.generate()
		err := persist(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", err
		}
	}
	return "", errors.Wrapf(ErrExhausted, "after %d attempts", i.maxAttempts)
}
