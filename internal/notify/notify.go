// Package notify delivers order confirmations to customers and order events
// to staff screens.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/bookstore-pickup/internal/codec"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
)

// Mail is a rendered email.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends rendered emails.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// Broadcaster publishes an encoded event. Key groups events of one order.
type Broadcaster interface {
	Publish(ctx context.Context, key string, body []byte) error
	Close() error
}

var _ order.Notifier = (*Dispatcher)(nil)

// Dispatcher implements order.Notifier on top of a Mailer and a Broadcaster.
type Dispatcher struct {
	mailer      Mailer
	broadcaster Broadcaster
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(mailer Mailer, broadcaster Broadcaster) *Dispatcher {
	return &Dispatcher{mailer: mailer, broadcaster: broadcaster}
}

// OrderPlaced sends the order confirmation email.
func (d *Dispatcher) OrderPlaced(ctx context.Context, p order.Placed) error {
	if err := d.mailer.Send(ctx, RenderPlaced(p)); err != nil {
		return errors.Wrapf(err, "send confirmation to %s", p.Email)
	}
	return nil
}

// Broadcast publishes e keyed by order id.
func (d *Dispatcher) Broadcast(ctx context.Context, e order.Event) error {
	key := strconv.FormatInt(e.Summary.OrderID, 10)
	if err := d.broadcaster.Publish(ctx, key, EncodeEvent(e)); err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	return nil
}

// EncodeEvent returns the JSON payload of e.
func EncodeEvent(e order.Event) []byte {
	var enc jx.Encoder
	codec.Event(&enc, e)
	return enc.Bytes()
}

// RenderPlaced renders the confirmation email for a placed order.
func RenderPlaced(p order.Placed) Mail {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", p.UserName)
	b.WriteString("Thank you for your order. Present the claim code below together with your membership ID at the counter.\n\n")
	fmt.Fprintf(&b, "Claim code: %s\n", p.ClaimCode)
	fmt.Fprintf(&b, "Membership ID: %s\n\n", p.MembershipID)
	b.WriteString("Books:\n")
	for _, title := range p.BookTitles {
		fmt.Fprintf(&b, "  - %s\n", title)
	}
	fmt.Fprintf(&b, "\nTotal: %s\n", p.TotalBeforeDiscount.StringFixed(2))
	if p.DiscountPercent > 0 {
		fmt.Fprintf(&b, "Discount: %d%%\n", p.DiscountPercent)
		fmt.Fprintf(&b, "Total after discount: %s\n", p.TotalAfterDiscount.StringFixed(2))
	}

	return Mail{
		To:      p.Email,
		Subject: "Your order is ready for pickup: " + p.ClaimCode,
		Body:    b.String(),
	}
}
