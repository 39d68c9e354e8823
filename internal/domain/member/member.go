// Package member holds the membership identity presented at pickup.
package member

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no member matches the requested id.
var ErrNotFound = errors.New("member not found")

// Member is a registered customer. MembershipID is assigned once at
// registration and is the second factor checked alongside a claim code.
type Member struct {
	ID           int64
	Name         string
	Email        string
	MembershipID uuid.UUID
}

// Matches reports whether the submitted membership id belongs to m. The
// comparison is a plain string match against the canonical form.
func (m Member) Matches(submitted string) bool {
	return submitted == m.MembershipID.String()
}

// Repository provides member lookups.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Member, error)
}
