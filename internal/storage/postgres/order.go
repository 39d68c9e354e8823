package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore-pickup/internal/domain/claimcode"
	"github.com/xenking/bookstore-pickup/internal/domain/discount"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
)

const (
	orderColumns = `id, user_id, total_amount, order_date, claim_code, is_confirmed, confirmed_at, is_cancelled`

	insertOrderSQL = `INSERT INTO orders (user_id, total_amount, order_date, claim_code)
		VALUES ($1, $2, $3, $4) RETURNING id`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, book_id, quantity, price)
		VALUES ($1, $2, $3, $4) RETURNING id`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByClaimCodeSQL = `SELECT ` + orderColumns + ` FROM orders WHERE claim_code = $1`

	lockOrderByClaimCodeSQL = getOrderByClaimCodeSQL + ` FOR UPDATE`

	listOrderItemsSQL = `SELECT id, order_id, book_id, quantity, price
		FROM order_items WHERE order_id = $1 ORDER BY id`

	confirmOrderSQL = `UPDATE orders SET is_confirmed = TRUE, confirmed_at = $2
		WHERE id = $1 AND NOT is_confirmed AND NOT is_cancelled`

	cancelOrderSQL = `UPDATE orders SET is_cancelled = TRUE
		WHERE id = $1 AND NOT is_confirmed AND NOT is_cancelled
		AND ($2::BIGINT = 0 OR user_id = $2)`

	listClaimCodesSQL = `SELECT claim_code FROM orders ORDER BY id`

	claimCodeConstraint = "orders_claim_code_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order row and its items. It must run inside a
// transaction so that a failing item insert leaves no order behind.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	q := conn(ctx, r.pool)

	err := q.QueryRow(ctx, insertOrderSQL, o.UserID, o.TotalAmount, o.OrderDate, o.ClaimCode).Scan(&o.ID)
	if err != nil {
		if isUniqueViolation(err, claimCodeConstraint) {
			return claimcode.ErrConflict
		}
		return fmt.Errorf("creating order: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		batch.Queue(insertOrderItemSQL, o.ID, it.BookID, it.Quantity, it.Price).
			QueryRow(func(row pgx.Row) error {
				return row.Scan(&it.ID)
			})
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("creating items of order %d: %w", o.ID, err)
	}
	return nil
}

// GetByID returns order.ErrNotFound when no order has the given id.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByClaimCode matches the claim code exactly.
func (r *OrderRepository) GetByClaimCode(ctx context.Context, code string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByClaimCodeSQL, code)
}

// GetByClaimCodeForUpdate locks the order row until the surrounding
// transaction ends. Concurrent claimers of the same code queue here.
func (r *OrderRepository) GetByClaimCodeForUpdate(ctx context.Context, code string) (*order.Order, error) {
	return r.getOne(ctx, lockOrderByClaimCodeSQL, code)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg any) (*order.Order, error) {
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}

	rows, err = q.Query(ctx, listOrderItemsSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %d: %w", o.ID, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %d: %w", o.ID, err)
	}
	return &o, nil
}

// Confirm returns order.ErrNotPending when the update matched no pending row.
func (r *OrderRepository) Confirm(ctx context.Context, id int64, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, confirmOrderSQL, id, at)
	if err != nil {
		return fmt.Errorf("confirming order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotPending
	}
	return nil
}

// Cancel is a single conditional update, so two racing cancels or a cancel
// racing a claim cannot both win.
func (r *OrderRepository) Cancel(ctx context.Context, id, ownerID int64) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, cancelOrderSQL, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("cancelling order %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountPriorOrders counts non-cancelled orders of userID placed before pos in
// (order_date, id) order.
func (r *OrderRepository) CountPriorOrders(ctx context.Context, userID int64, pos *discount.Position) (int, error) {
	b := sq.Select("COUNT(*)").
		From("orders").
		Where(sq.Eq{"user_id": userID, "is_cancelled": false})
	if pos != nil {
		b = b.Where(sq.Expr("(order_date, id) < (?, ?)", pos.OrderDate, pos.OrderID))
	}

	query, args, err := b.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building prior orders query: %w", err)
	}

	var n int64
	if err := conn(ctx, r.pool).QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting prior orders of member %d: %w", userID, err)
	}
	return int(n), nil
}

// ListSummaries returns matching orders joined with their buyer, oldest first.
func (r *OrderRepository) ListSummaries(ctx context.Context, f order.Filter) ([]order.Summary, error) {
	b := sq.Select(
		"o.id", "o.user_id", "m.name", "o.claim_code",
		"COALESCE((SELECT SUM(i.quantity) FROM order_items i WHERE i.order_id = o.id), 0)",
		"o.total_amount", "o.order_date", "o.is_confirmed", "o.confirmed_at", "o.is_cancelled",
	).
		From("orders o").
		Join("members m ON m.id = o.user_id")

	switch f.Status {
	case order.StatusPending:
		b = b.Where(sq.Eq{"o.is_confirmed": false, "o.is_cancelled": false})
	case order.StatusConfirmed:
		b = b.Where(sq.Eq{"o.is_confirmed": true})
	case order.StatusCancelled:
		b = b.Where(sq.Eq{"o.is_cancelled": true})
	}
	if f.From != nil {
		b = b.Where(sq.GtOrEq{"o.order_date": *f.From})
	}
	if f.To != nil {
		b = b.Where(sq.LtOrEq{"o.order_date": *f.To})
	}

	query, args, err := b.OrderBy("o.order_date", "o.id").PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building order list query: %w", err)
	}

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanSummary)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return list, nil
}

// EachClaimCode streams every claim code in insertion order.
func (r *OrderRepository) EachClaimCode(ctx context.Context, fn func(code string) error) error {
	rows, err := conn(ctx, r.pool).Query(ctx, listClaimCodesSQL)
	if err != nil {
		return fmt.Errorf("listing claim codes: %w", err)
	}
	defer rows.Close()

	var code string
	_, err = pgx.ForEachRow(rows, []any{&code}, func() error {
		return fn(code)
	})
	if err != nil {
		return fmt.Errorf("listing claim codes: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.TotalAmount, &o.OrderDate, &o.ClaimCode,
		&o.IsConfirmed, &o.ConfirmedAt, &o.IsCancelled,
	)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it       order.Item
		quantity int32
		price    decimal.Decimal
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.BookID, &quantity, &price)
	it.Quantity = int(quantity)
	it.Price = price
	return it, err
}

func scanSummary(row pgx.CollectableRow) (order.Summary, error) {
	var (
		s     order.Summary
		count int64
	)
	err := row.Scan(
		&s.OrderID, &s.UserID, &s.BuyerName, &s.ClaimCode, &count,
		&s.TotalAmount, &s.OrderDate, &s.IsConfirmed, &s.ConfirmedAt, &s.IsCancelled,
	)
	s.BookCount = int(count)
	return s, err
}
