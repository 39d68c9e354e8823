package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Position locates an existing order in a member's history.
type Position struct {
	OrderDate time.Time
	OrderID   int64
}

// History reads the order history the loyalty rule depends on.
type History interface {
	// CountPriorOrders counts the member's non-cancelled orders placed before
	// pos, ordered by (order date, id). A nil pos counts all of them.
	CountPriorOrders(ctx context.Context, userID int64, pos *Position) (int, error)
}

// Engine evaluates discounts against a member's stored order history. The
// same counting rule is used before an order is saved and after, so a
// preview and a later recomputation agree for the same order.
type Engine struct {
	history History
}

// NewEngine creates an Engine backed by the given History.
func NewEngine(history History) *Engine {
	return &Engine{history: history}
}

// Preview prices an order that has not been persisted yet.
func (e *Engine) Preview(ctx context.Context, userID int64, books int, total decimal.Decimal) (Result, error) {
	prior, err := e.history.CountPriorOrders(ctx, userID, nil)
	if err != nil {
		return Result{}, errors.Wrap(err, "count prior orders")
	}
	return Evaluate(Input{Books: books, PriorOrders: prior, Total: &total}), nil
}

// ForOrder recomputes the discount of a persisted order.
func (e *Engine) ForOrder(ctx context.Context, userID int64, pos Position, books int, total decimal.Decimal) (Result, error) {
	prior, err := e.history.CountPriorOrders(ctx, userID, &pos)
	if err != nil {
		return Result{}, errors.Wrap(err, "count prior orders")
	}
	return Evaluate(Input{Books: books, PriorOrders: prior, Total: &total}), nil
}
