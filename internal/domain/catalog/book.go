package catalog

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Book is a catalog entry that can be ordered for in-store pickup.
type Book struct {
	ID     int64
	Title  string
	Author string
	Price  decimal.Decimal
	Stock  int

	// Sale window. The book sells at Price reduced by DiscountPercent while
	// the current time is within [DiscountStart, DiscountEnd].
	DiscountPercent int
	DiscountStart   *time.Time
	DiscountEnd     *time.Time
}

// OnSale reports whether the sale window is open at now.
func (b Book) OnSale(now time.Time) bool {
	if b.DiscountPercent <= 0 || b.DiscountStart == nil || b.DiscountEnd == nil {
		return false
	}
	return !now.Before(*b.DiscountStart) && !now.After(*b.DiscountEnd)
}

// CurrentPrice returns the unit price charged at now, rounded to cents.
func (b Book) CurrentPrice(now time.Time) decimal.Decimal {
	if !b.OnSale(now) {
		return b.Price.Round(2)
	}
	pct := decimal.NewFromInt(int64(min(b.DiscountPercent, 100)))
	return b.Price.Mul(hundred.Sub(pct)).Div(hundred).Round(2)
}

// Repository defines read operations for the book catalog.
type Repository interface {
	// GetByIDs returns the books matching ids. Unknown ids are skipped and
	// duplicates are returned once.
	GetByIDs(ctx context.Context, ids []int64) ([]Book, error)
}
