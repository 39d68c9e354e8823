// Package codec writes the JSON shapes shared by the HTTP API and the
// broadcast payloads.
package codec

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore-pickup/internal/domain/claim"
	"github.com/xenking/bookstore-pickup/internal/domain/discount"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
)

// Amount writes d as a JSON number with two decimals.
func Amount(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

// Time writes t as an RFC 3339 string in UTC.
func Time(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// OptTime writes t or null.
func OptTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	Time(e, *t)
}

// Summary writes the list projection of an order.
func Summary(e *jx.Encoder, s order.Summary) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(s.OrderID) })
		e.Field("userId", func(e *jx.Encoder) { e.Int64(s.UserID) })
		e.Field("buyerName", func(e *jx.Encoder) { e.Str(s.BuyerName) })
		e.Field("claimCode", func(e *jx.Encoder) { e.Str(s.ClaimCode) })
		e.Field("bookCount", func(e *jx.Encoder) { e.Int(s.BookCount) })
		e.Field("totalAmount", func(e *jx.Encoder) { Amount(e, s.TotalAmount) })
		e.Field("orderDate", func(e *jx.Encoder) { Time(e, s.OrderDate) })
		e.Field("isConfirmed", func(e *jx.Encoder) { e.Bool(s.IsConfirmed) })
		e.Field("confirmedAt", func(e *jx.Encoder) { OptTime(e, s.ConfirmedAt) })
		e.Field("isCancelled", func(e *jx.Encoder) { e.Bool(s.IsCancelled) })
	})
}

// Summaries writes a JSON array of summaries.
func Summaries(e *jx.Encoder, list []order.Summary) {
	e.Arr(func(e *jx.Encoder) {
		for _, s := range list {
			Summary(e, s)
		}
	})
}

// Details writes the full pickup projection of an order, discount included.
func Details(e *jx.Encoder, d *order.Details) {
	o := d.Order
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("claimCode", func(e *jx.Encoder) { e.Str(o.ClaimCode) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status())) })
		e.Field("orderDate", func(e *jx.Encoder) { Time(e, o.OrderDate) })
		e.Field("isConfirmed", func(e *jx.Encoder) { e.Bool(o.IsConfirmed) })
		e.Field("confirmedAt", func(e *jx.Encoder) { OptTime(e, o.ConfirmedAt) })
		e.Field("isCancelled", func(e *jx.Encoder) { e.Bool(o.IsCancelled) })
		e.Field("buyer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("userId", func(e *jx.Encoder) { e.Int64(d.Buyer.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(d.Buyer.Name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(d.Buyer.Email) })
				e.Field("membershipId", func(e *jx.Encoder) { e.Str(d.Buyer.MembershipID.String()) })
			})
		})
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range d.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("bookId", func(e *jx.Encoder) { e.Int64(l.BookID) })
						e.Field("title", func(e *jx.Encoder) { e.Str(l.Title) })
						e.Field("author", func(e *jx.Encoder) { e.Str(l.Author) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("price", func(e *jx.Encoder) { Amount(e, l.Price) })
						e.Field("subtotal", func(e *jx.Encoder) { Amount(e, l.Subtotal()) })
					})
				}
			})
		})
		e.Field("totalAmount", func(e *jx.Encoder) { Amount(e, o.TotalAmount) })
		e.Field("discountPercent", func(e *jx.Encoder) { e.Int(d.Discount.Percent) })
		e.Field("discountRules", func(e *jx.Encoder) { rules(e, d.Discount.Rules) })
		e.Field("finalAmount", func(e *jx.Encoder) { Amount(e, d.Discount.FinalAmount) })
	})
}

// LogEntry writes a processing log row in its persisted field order.
func LogEntry(e *jx.Encoder, l claim.LogEntry) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(l.ID) })
		e.Field("orderId", func(e *jx.Encoder) {
			if l.OrderID == nil {
				e.Null()
				return
			}
			e.Int64(*l.OrderID)
		})
		e.Field("action", func(e *jx.Encoder) { e.Str(string(l.Action)) })
		e.Field("success", func(e *jx.Encoder) { e.Bool(l.Success) })
		e.Field("resultMessage", func(e *jx.Encoder) { e.Str(l.ResultMessage) })
		e.Field("claimCodeUsed", func(e *jx.Encoder) { e.Str(l.ClaimCodeUsed) })
		e.Field("membershipIdProvided", func(e *jx.Encoder) {
			if l.MembershipIDProvided == nil {
				e.Null()
				return
			}
			e.Str(*l.MembershipIDProvided)
		})
		e.Field("timestamp", func(e *jx.Encoder) { Time(e, l.Timestamp) })
	})
}

// Event writes a broadcast envelope.
func Event(e *jx.Encoder, ev order.Event) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(ev.Type) })
		e.Field("order", func(e *jx.Encoder) { Summary(e, ev.Summary) })
	})
}

// Placed writes the response to a newly placed order: its summary plus the
// informational discount preview.
func Placed(e *jx.Encoder, res *order.PlaceOrderResult) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("order", func(e *jx.Encoder) { Summary(e, order.Summarize(res.Order, res.Buyer.Name)) })
		e.Field("discountPercent", func(e *jx.Encoder) { e.Int(res.Discount.Percent) })
		e.Field("discountRules", func(e *jx.Encoder) { rules(e, res.Discount.Rules) })
		e.Field("finalAmount", func(e *jx.Encoder) { Amount(e, res.Discount.FinalAmount) })
	})
}

// Dashboard writes the staff dashboard counters.
func Dashboard(e *jx.Encoder, d order.Dashboard) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("pendingCount", func(e *jx.Encoder) { e.Int(d.PendingCount) })
		e.Field("pendingAmount", func(e *jx.Encoder) { Amount(e, d.PendingAmount) })
		e.Field("processedCount", func(e *jx.Encoder) { e.Int(d.ProcessedCount) })
		e.Field("processedAmount", func(e *jx.Encoder) { Amount(e, d.ProcessedAmount) })
	})
}

func rules(e *jx.Encoder, list []discount.Rule) {
	e.Arr(func(e *jx.Encoder) {
		for _, r := range list {
			e.Str(string(r))
		}
	})
}
