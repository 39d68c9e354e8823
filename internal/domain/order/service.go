package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-pickup/internal/domain/catalog"
	"github.com/xenking/bookstore-pickup/internal/domain/claimcode"
	"github.com/xenking/bookstore-pickup/internal/domain/discount"
	"github.com/xenking/bookstore-pickup/internal/domain/member"
)

// PlaceOrderRequest holds the input for placing an order. BookIDs may repeat;
// each repetition is one more copy.
type PlaceOrderRequest struct {
	UserID  int64
	BookIDs []int64
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order    *Order
	Buyer    *member.Member
	Books    []catalog.Book
	Discount discount.Result
}

// CancelRequest identifies the order to cancel. OwnerID restricts the
// cancellation to the owner's own order; zero is used by staff.
type CancelRequest struct {
	OrderID int64
	OwnerID int64
}

// Service encapsulates order placement and cancellation.
type Service struct {
	books     catalog.Repository
	members   member.Repository
	orders    Repository
	tx        Transactor
	discounts *discount.Engine
	issuer    *claimcode.Issuer
	notifier  Notifier
	now       func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	books catalog.Repository,
	members member.Repository,
	orders Repository,
	tx Transactor,
	discounts *discount.Engine,
	issuer *claimcode.Issuer,
	notifier Notifier,
) *Service {
	return &Service{
		books:     books,
		members:   members,
		orders:    orders,
		tx:        tx,
		discounts: discounts,
		issuer:    issuer,
		notifier:  notifier,
		now:       time.Now,
	}
}

// PlaceOrder resolves the requested books, freezes the gross total, previews
// the discount, and persists the order with a fresh claim code. Book ids that
// do not resolve are dropped. Notifications are sent after the order is
// committed and cannot fail the call.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	if len(req.BookIDs) == 0 {
		return nil, ErrEmptyOrder
	}

	buyer, err := s.members.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, member.ErrNotFound) {
			return nil, ErrUnknownMember
		}
		return nil, errors.Wrap(err, "get member")
	}

	fetched, err := s.books.GetByIDs(ctx, req.BookIDs)
	if err != nil {
		return nil, errors.Wrap(err, "get books")
	}

	// Postgres keeps microseconds; the returned order must match a later read.
	now := s.now().UTC().Truncate(time.Microsecond)
	items, books := collectItems(req.BookIDs, fetched, now)
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	o := &Order{
		UserID:      req.UserID,
		Items:       items,
		TotalAmount: total.Round(2),
		OrderDate:   now,
	}

	preview, err := s.discounts.Preview(ctx, req.UserID, o.BookCount(), o.TotalAmount)
	if err != nil {
		return nil, errors.Wrap(err, "preview discount")
	}

	_, err = s.issuer.Issue(ctx, func(ctx context.Context, code string) error {
		o.ClaimCode = code
		return s.tx.WithTx(ctx, func(ctx context.Context) error {
			return s.orders.Create(ctx, o)
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.notifyPlaced(ctx, o, buyer, books, preview)

	return &PlaceOrderResult{
		Order:    o,
		Buyer:    buyer,
		Books:    books,
		Discount: preview,
	}, nil
}

// Cancel marks a pending order cancelled. It returns false without error
// when the order does not exist, is not the owner's, or is no longer pending.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (bool, error) {
	ok, err := s.orders.Cancel(ctx, req.OrderID, req.OwnerID)
	if err != nil {
		return false, errors.Wrapf(err, "cancel order %d", req.OrderID)
	}
	return ok, nil
}

// collectItems aggregates requested ids into one item per book in request
// order, priced at now. It also returns the resolved books in the same order.
func collectItems(ids []int64, fetched []catalog.Book, now time.Time) ([]Item, []catalog.Book) {
	byID := make(map[int64]catalog.Book, len(fetched))
	for _, b := range fetched {
		byID[b.ID] = b
	}

	var (
		items []Item
		books []catalog.Book
		index = make(map[int64]int, len(ids))
	)
	for _, id := range ids {
		b, ok := byID[id]
		if !ok {
			continue
		}
		if i, seen := index[id]; seen {
			items[i].Quantity++
			continue
		}
		index[id] = len(items)
		items = append(items, Item{BookID: id, Quantity: 1, Price: b.CurrentPrice(now)})
		books = append(books, b)
	}
	return items, books
}

func (s *Service) notifyPlaced(ctx context.Context, o *Order, buyer *member.Member, books []catalog.Book, preview discount.Result) {
	lg := zctx.From(ctx).With(zap.Int64("order_id", o.ID))

	titles := make([]string, 0, o.BookCount())
	for i, b := range books {
		for range o.Items[i].Quantity {
			titles = append(titles, b.Title)
		}
	}

	err := s.notifier.OrderPlaced(ctx, Placed{
		Email:               buyer.Email,
		UserName:            buyer.Name,
		UserID:              buyer.ID,
		MembershipID:        buyer.MembershipID.String(),
		BookTitles:          titles,
		ClaimCode:           o.ClaimCode,
		TotalBeforeDiscount: o.TotalAmount,
		DiscountPercent:     preview.Percent,
		TotalAfterDiscount:  preview.FinalAmount,
	})
	if err != nil {
		lg.Warn("Order confirmation email failed", zap.Error(err))
	}

	if err := s.notifier.Broadcast(ctx, Event{Type: EventPlaced, Summary: Summarize(o, buyer.Name)}); err != nil {
		lg.Warn("Order broadcast failed", zap.Error(err))
	}
}

// Summarize builds the list projection of o.
func Summarize(o *Order, buyerName string) Summary {
	return Summary{
		OrderID:     o.ID,
		UserID:      o.UserID,
		BuyerName:   buyerName,
		ClaimCode:   o.ClaimCode,
		BookCount:   o.BookCount(),
		TotalAmount: o.TotalAmount,
		OrderDate:   o.OrderDate,
		IsConfirmed: o.IsConfirmed,
		ConfirmedAt: o.ConfirmedAt,
		IsCancelled: o.IsCancelled,
	}
}
