package claim

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-pickup/internal/domain/failure"
	"github.com/xenking/bookstore-pickup/internal/domain/member"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
)

// Outcomes of a claim attempt. Each failure message is shown to staff and
// stored in the processing log verbatim.
var (
	ErrInvalidClaimCode   = failure.NotFound("Invalid claim code. Order not found.")
	ErrAlreadyProcessed   = failure.Conflict("Order already processed.")
	ErrOrderCancelled     = failure.Conflict("Order is cancelled.")
	ErrMembershipMismatch = failure.Conflict("Membership ID mismatch.")
)

const (
	// MessageProcessed is logged for a successful ProcessClaim.
	MessageProcessed = "Order successfully processed!"
	// MessageVerified is logged for a successful VerifyClaimCode.
	MessageVerified = "Claim code verified."
)

// Option configures a Processor.
type Option func(*Processor)

// WithMeterProvider sets the meter provider used for attempt counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(p *Processor) { p.meter = mp }
}

// Processor drives the pending to confirmed transition at pickup.
type Processor struct {
	tx       order.Transactor
	orders   order.Repository
	members  member.Repository
	logs     LogRepository
	queries  *order.Queries
	notifier order.Notifier
	now      func() time.Time

	meter    metric.MeterProvider
	attempts metric.Int64Counter
}

// NewProcessor creates a Processor.
func NewProcessor(
	tx order.Transactor,
	orders order.Repository,
	members member.Repository,
	logs LogRepository,
	queries *order.Queries,
	notifier order.Notifier,
	opts ...Option,
) (*Processor, error) {
	p := &Processor{
		tx:       tx,
		orders:   orders,
		members:  members,
		logs:     logs,
		queries:  queries,
		notifier: notifier,
		now:      time.Now,
		meter:    noop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(p)
	}

	attempts, err := p.meter.Meter("bookstore/claim").Int64Counter("claim.attempts",
		metric.WithDescription("Claim attempts by action and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create attempts counter")
	}
	p.attempts = attempts
	return p, nil
}

// ProcessClaim confirms the order holding code when membershipID matches its
// owner. The order row is locked for the whole check-then-set, so of two
// concurrent calls for the same code only one succeeds. Exactly one log row
// is written per call. Business failures are returned as the sentinel
// errors above; infrastructure faults as a failure.KindInfrastructure error.
func (p *Processor) ProcessClaim(ctx context.Context, code, membershipID string) (*order.Details, error) {
	var (
		details *order.Details
		outcome error
		orderID *int64
	)

	entry := &LogEntry{
		Action:               ActionProcessClaim,
		ClaimCodeUsed:        code,
		MembershipIDProvided: &membershipID,
	}

	err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		o, err := p.orders.GetByClaimCodeForUpdate(ctx, code)
		switch {
		case errors.Is(err, order.ErrNotFound):
			outcome = ErrInvalidClaimCode
		case err != nil:
			return errors.Wrap(err, "lock order")
		default:
			orderID = &o.ID
			if outcome = stateOutcome(o); outcome != nil {
				break
			}
			owner, err := p.members.GetByID(ctx, o.UserID)
			if err != nil {
				return errors.Wrapf(err, "get owner %d", o.UserID)
			}
			if !owner.Matches(membershipID) {
				outcome = ErrMembershipMismatch
			}
		}

		if outcome == nil {
			at := p.now().UTC()
			if err := p.orders.Confirm(ctx, o.ID, at); err != nil {
				return errors.Wrap(err, "confirm order")
			}
			o.IsConfirmed = true
			o.ConfirmedAt = &at

			if details, err = p.queries.Describe(ctx, o); err != nil {
				return errors.Wrap(err, "describe order")
			}
		}

		entry.OrderID = orderID
		p.fill(entry, outcome, MessageProcessed)
		if err := p.logs.Append(ctx, entry); err != nil {
			return errors.Wrap(err, "append log")
		}
		return nil
	})
	if err != nil {
		return nil, p.fail(ctx, entry, orderID, err)
	}

	p.record(ctx, ActionProcessClaim, outcome)
	if outcome != nil {
		return nil, outcome
	}

	s := order.Summarize(&details.Order, details.Buyer.Name)
	if err := p.notifier.Broadcast(ctx, order.Event{Type: order.EventConfirmed, Summary: s}); err != nil {
		zctx.From(ctx).Warn("Claim broadcast failed", zap.Int64("order_id", s.OrderID), zap.Error(err))
	}
	return details, nil
}

// stateOutcome rejects orders that already left the pending state.
func stateOutcome(o *order.Order) error {
	switch o.Status() {
	case order.StatusConfirmed:
		return ErrAlreadyProcessed
	case order.StatusCancelled:
		return ErrOrderCancelled
	default:
		return nil
	}
}

// VerifyClaimCode resolves code to its order details without changing any
// state. One log row is written per call.
func (p *Processor) VerifyClaimCode(ctx context.Context, code string) (*order.Details, error) {
	entry := &LogEntry{
		Action:        ActionVerifyClaimCode,
		ClaimCodeUsed: code,
	}

	o, err := p.orders.GetByClaimCode(ctx, code)
	switch {
	case errors.Is(err, order.ErrNotFound):
		p.fill(entry, ErrInvalidClaimCode, MessageVerified)
		if err := p.logs.Append(ctx, entry); err != nil {
			return nil, p.fail(ctx, nil, nil, errors.Wrap(err, "append log"))
		}
		p.record(ctx, ActionVerifyClaimCode, ErrInvalidClaimCode)
		return nil, ErrInvalidClaimCode
	case err != nil:
		return nil, p.fail(ctx, entry, nil, errors.Wrap(err, "get order"))
	}

	entry.OrderID = &o.ID
	details, err := p.queries.Describe(ctx, o)
	if err != nil {
		return nil, p.fail(ctx, entry, &o.ID, errors.Wrap(err, "describe order"))
	}

	p.fill(entry, nil, MessageVerified)
	if err := p.logs.Append(ctx, entry); err != nil {
		return nil, p.fail(ctx, nil, nil, errors.Wrap(err, "append log"))
	}
	p.record(ctx, ActionVerifyClaimCode, nil)
	return details, nil
}

// Logs lists the processing log of an order, newest first.
func (p *Processor) Logs(ctx context.Context, orderID int64) ([]LogEntry, error) {
	entries, err := p.logs.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "list logs of order %d", orderID)
	}
	return entries, nil
}

func (p *Processor) fill(e *LogEntry, outcome error, okMessage string) {
	e.Timestamp = p.now().UTC()
	if outcome != nil {
		e.Success = false
		e.ResultMessage = failure.Message(outcome)
		return
	}
	e.Success = true
	e.ResultMessage = okMessage
}

// fail handles an infrastructure fault. The transaction, if any, is already
// rolled back, so when entry is set a failure row carrying the fault message
// is appended on its own. Losing that row is logged, not returned.
func (p *Processor) fail(ctx context.Context, entry *LogEntry, orderID *int64, cause error) error {
	lg := zctx.From(ctx)
	lg.Error("Claim attempt failed", zap.Error(cause))

	fe := failure.Infrastructure(cause)
	if entry != nil {
		entry.ID = 0
		entry.OrderID = orderID
		p.fill(entry, fe, "")
		if err := p.logs.Append(ctx, entry); err != nil {
			lg.Error("Append failure log", zap.Error(err))
		}
		p.record(ctx, entry.Action, fe)
	}
	return fe
}

func (p *Processor) record(ctx context.Context, action Action, outcome error) {
	result := "success"
	if outcome != nil {
		result = failure.KindOf(outcome).String()
	}
	p.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("outcome", result),
	))
}
