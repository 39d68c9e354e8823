package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore-pickup/internal/domain/claim"
)

const (
	logColumns = `id, order_id, action, success, result_message, claim_code_used, membership_id_provided, timestamp`

	appendLogSQL = `INSERT INTO order_processing_logs
		(order_id, action, success, result_message, claim_code_used, membership_id_provided, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	listLogsByOrderSQL = `SELECT ` + logColumns + `
		FROM order_processing_logs WHERE order_id = $1 ORDER BY id DESC`

	listAllLogsSQL = `SELECT ` + logColumns + ` FROM order_processing_logs ORDER BY id`
)

var _ claim.LogRepository = (*ProcessingLogRepository)(nil)

// ProcessingLogRepository stores the claim audit trail. Rows are never
// updated or deleted.
type ProcessingLogRepository struct {
	pool *pgxpool.Pool
}

// NewProcessingLogRepository returns a ProcessingLogRepository that uses the given pool.
func NewProcessingLogRepository(pool *pgxpool.Pool) *ProcessingLogRepository {
	return &ProcessingLogRepository{pool: pool}
}

// Append inserts e and sets e.ID.
func (r *ProcessingLogRepository) Append(ctx context.Context, e *claim.LogEntry) error {
	err := conn(ctx, r.pool).QueryRow(ctx, appendLogSQL,
		e.OrderID, string(e.Action), e.Success, e.ResultMessage,
		e.ClaimCodeUsed, e.MembershipIDProvided, e.Timestamp,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("appending %s log for claim code %q: %w", e.Action, e.ClaimCodeUsed, err)
	}
	return nil
}

// ListByOrder returns the rows of orderID, newest first.
func (r *ProcessingLogRepository) ListByOrder(ctx context.Context, orderID int64) ([]claim.LogEntry, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, listLogsByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing logs of order %d: %w", orderID, err)
	}
	entries, err := pgx.CollectRows(rows, scanLogEntry)
	if err != nil {
		return nil, fmt.Errorf("listing logs of order %d: %w", orderID, err)
	}
	return entries, nil
}

// Each streams every row in insertion order.
func (r *ProcessingLogRepository) Each(ctx context.Context, fn func(e claim.LogEntry) error) error {
	rows, err := conn(ctx, r.pool).Query(ctx, listAllLogsSQL)
	if err != nil {
		return fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return fmt.Errorf("scanning log: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing logs: %w", err)
	}
	return nil
}

func scanLogEntry(row pgx.CollectableRow) (claim.LogEntry, error) {
	var (
		e      claim.LogEntry
		action string
	)
	err := row.Scan(
		&e.ID, &e.OrderID, &action, &e.Success, &e.ResultMessage,
		&e.ClaimCodeUsed, &e.MembershipIDProvided, &e.Timestamp,
	)
	e.Action = claim.Action(action)
	return e, err
}
