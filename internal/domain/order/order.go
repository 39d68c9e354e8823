package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore-pickup/internal/domain/discount"
	"github.com/xenking/bookstore-pickup/internal/domain/failure"
	"github.com/xenking/bookstore-pickup/internal/domain/member"
)

// Sentinel failures of the order workflow.
var (
	ErrEmptyOrder       = failure.Validation("Order must contain at least one available book.")
	ErrInvalidDateRange = failure.Validation("Start date must not be after end date.")
	ErrNotFound         = failure.NotFound("Order not found.")
	ErrUnknownMember    = failure.NotFound("Member not found.")
	// ErrNotPending is returned by Repository.Confirm when the row left the
	// pending state between the lock and the update.
	ErrNotPending = failure.Conflict("Order is no longer pending.")
)

// Status is the lifecycle state derived from the confirmation and
// cancellation flags. Confirmed and cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Order is a customer's pickup order. TotalAmount is the gross amount frozen
// at creation; discounts are computed on read and never stored.
type Order struct {
	ID          int64
	UserID      int64
	Items       []Item
	TotalAmount decimal.Decimal
	OrderDate   time.Time
	ClaimCode   string
	IsConfirmed bool
	ConfirmedAt *time.Time
	IsCancelled bool
}

// Item is one book line of an order. Price is the unit price captured when
// the order was placed.
type Item struct {
	ID       int64
	OrderID  int64
	BookID   int64
	Quantity int
	Price    decimal.Decimal
}

// Status returns the order's lifecycle state.
func (o Order) Status() Status {
	switch {
	case o.IsCancelled:
		return StatusCancelled
	case o.IsConfirmed:
		return StatusConfirmed
	default:
		return StatusPending
	}
}

// BookCount returns the number of books in the order, duplicates included.
func (o Order) BookCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// Position locates the order in its owner's history for the loyalty rule.
func (o Order) Position() discount.Position {
	return discount.Position{OrderDate: o.OrderDate, OrderID: o.ID}
}

// Summary is the staff list projection of an order.
type Summary struct {
	OrderID     int64
	UserID      int64
	BuyerName   string
	ClaimCode   string
	BookCount   int
	TotalAmount decimal.Decimal
	OrderDate   time.Time
	IsConfirmed bool
	ConfirmedAt *time.Time
	IsCancelled bool
}

// Line is an order item joined with its book.
type Line struct {
	BookID   int64
	Title    string
	Author   string
	Quantity int
	Price    decimal.Decimal
}

// Subtotal returns price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Details is the full projection shown to staff at pickup. Discount is
// recomputed against the buyer's history each time it is built.
type Details struct {
	Order    Order
	Buyer    member.Member
	Lines    []Line
	Discount discount.Result
}

// Filter narrows ListSummaries. Zero fields do not filter. From and To are
// inclusive bounds on the order date.
type Filter struct {
	Status Status
	From   *time.Time
	To     *time.Time
}

// Repository defines persistence operations for orders.
type Repository interface {
	discount.History

	// Create inserts the order and its items and assigns their ids. It
	// returns claimcode.ErrConflict when the claim code is already taken.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByClaimCode(ctx context.Context, code string) (*Order, error)
	// GetByClaimCodeForUpdate loads and row-locks the order. It must run
	// inside a transaction.
	GetByClaimCodeForUpdate(ctx context.Context, code string) (*Order, error)
	// Confirm moves a pending order to confirmed. It returns ErrNotPending
	// when the order is not pending.
	Confirm(ctx context.Context, id int64, at time.Time) error
	// Cancel marks a pending order cancelled and reports whether a row
	// changed. A non-zero ownerID restricts the update to that owner's order.
	Cancel(ctx context.Context, id, ownerID int64) (bool, error)
	ListSummaries(ctx context.Context, f Filter) ([]Summary, error)
}

// Transactor runs fn in a database transaction carried by the context.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Event types broadcast to connected staff screens.
const (
	EventPlaced    = "order.placed"
	EventConfirmed = "order.confirmed"
)

// Event is a real-time broadcast about an order.
type Event struct {
	Type    string
	Summary Summary
}

// Placed carries everything the confirmation email needs.
type Placed struct {
	Email               string
	UserName            string
	UserID              int64
	MembershipID        string
	BookTitles          []string
	ClaimCode           string
	TotalBeforeDiscount decimal.Decimal
	DiscountPercent     int
	TotalAfterDiscount  decimal.Decimal
}

// Notifier delivers order notifications. Both calls are best effort: callers
// log failures and never undo the order because of them.
type Notifier interface {
	OrderPlaced(ctx context.Context, p Placed) error
	Broadcast(ctx context.Context, e Event) error
}
