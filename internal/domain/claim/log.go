// Package claim confirms pickups at the counter and keeps the audit trail of
// every attempt.
package claim

import (
	"context"
	"time"
)

// Action names the operation recorded in a log entry.
type Action string

const (
	ActionProcessClaim    Action = "ProcessClaim"
	ActionVerifyClaimCode Action = "VerifyClaimCode"
)

// LogEntry is one immutable processing log row. OrderID is nil when the claim
// code did not resolve. MembershipIDProvided is nil for verification.
type LogEntry struct {
	ID                   int64
	OrderID              *int64
	Action               Action
	Success              bool
	ResultMessage        string
	ClaimCodeUsed        string
	MembershipIDProvided *string
	Timestamp            time.Time
}

// LogRepository persists processing log rows. It is append-only.
type LogRepository interface {
	// Append inserts e and assigns its ID. Inside a transaction carried by
	// ctx the row commits or rolls back with it.
	Append(ctx context.Context, e *LogEntry) error
	// ListByOrder returns the order's rows, newest first.
	ListByOrder(ctx context.Context, orderID int64) ([]LogEntry, error)
}
