package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookstore-pickup/internal/domain/catalog"
	"github.com/xenking/bookstore-pickup/internal/domain/discount"
	"github.com/xenking/bookstore-pickup/internal/domain/member"
)

// Dashboard aggregates the pending and processed order sets.
type Dashboard struct {
	PendingCount    int
	PendingAmount   decimal.Decimal
	ProcessedCount  int
	ProcessedAmount decimal.Decimal
}

// Queries is the read side used by staff.
type Queries struct {
	orders    Repository
	books     catalog.Repository
	members   member.Repository
	discounts *discount.Engine
}

// NewQueries creates the staff query surface.
func NewQueries(
	orders Repository,
	books catalog.Repository,
	members member.Repository,
	discounts *discount.Engine,
) *Queries {
	return &Queries{
		orders:    orders,
		books:     books,
		members:   members,
		discounts: discounts,
	}
}

// Pending lists orders that are neither confirmed nor cancelled.
func (q *Queries) Pending(ctx context.Context) ([]Summary, error) {
	return q.list(ctx, Filter{Status: StatusPending})
}

// Processed lists confirmed orders.
func (q *Queries) Processed(ctx context.Context) ([]Summary, error) {
	return q.list(ctx, Filter{Status: StatusConfirmed})
}

// ByDateRange lists orders placed within [from, to].
func (q *Queries) ByDateRange(ctx context.Context, from, to time.Time) ([]Summary, error) {
	if from.After(to) {
		return nil, ErrInvalidDateRange
	}
	return q.list(ctx, Filter{From: &from, To: &to})
}

func (q *Queries) list(ctx context.Context, f Filter) ([]Summary, error) {
	res, err := q.orders.ListSummaries(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return res, nil
}

// Dashboard loads the pending and processed sets concurrently and reduces
// them to counts and summed gross amounts.
func (q *Queries) Dashboard(ctx context.Context) (Dashboard, error) {
	var pending, processed []Summary

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		pending, err = q.Pending(gctx)
		return err
	})
	g.Go(func() (err error) {
		processed, err = q.Processed(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}

	return Dashboard{
		PendingCount:    len(pending),
		PendingAmount:   sumAmounts(pending),
		ProcessedCount:  len(processed),
		ProcessedAmount: sumAmounts(processed),
	}, nil
}

func sumAmounts(list []Summary) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range list {
		sum = sum.Add(s.TotalAmount)
	}
	return sum.Round(2)
}

// Details loads an order by id with its buyer, books and recomputed discount.
func (q *Queries) Details(ctx context.Context, id int64) (*Details, error) {
	o, err := q.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return q.Describe(ctx, o)
}

// Describe builds the details projection of an already loaded order. Related
// rows are fetched explicitly with the same context, so inside a transaction
// they are read from that transaction.
func (q *Queries) Describe(ctx context.Context, o *Order) (*Details, error) {
	buyer, err := q.members.GetByID(ctx, o.UserID)
	if err != nil {
		return nil, errors.Wrapf(err, "get buyer %d", o.UserID)
	}

	ids := make([]int64, len(o.Items))
	for i, it := range o.Items {
		ids[i] = it.BookID
	}
	books, err := q.books.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get books")
	}
	byID := make(map[int64]catalog.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}

	lines := make([]Line, len(o.Items))
	for i, it := range o.Items {
		b := byID[it.BookID]
		lines[i] = Line{
			BookID:   it.BookID,
			Title:    b.Title,
			Author:   b.Author,
			Quantity: it.Quantity,
			Price:    it.Price,
		}
	}

	d, err := q.discounts.ForOrder(ctx, o.UserID, o.Position(), o.BookCount(), o.TotalAmount)
	if err != nil {
		return nil, errors.Wrap(err, "compute discount")
	}

	return &Details{
		Order:    *o,
		Buyer:    *buyer,
		Lines:    lines,
		Discount: d,
	}, nil
}
