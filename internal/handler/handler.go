// Package handler exposes the order and pickup workflows over HTTP.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookstore-pickup/internal/domain/claim"
	"github.com/xenking/bookstore-pickup/internal/domain/failure"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
	"github.com/xenking/bookstore-pickup/pkg/httpmiddleware"
)

// maxBodyBytes caps request bodies; every request here is a handful of fields.
const maxBodyBytes = 64 << 10

// OrderService places and cancels orders.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	Cancel(ctx context.Context, req order.CancelRequest) (bool, error)
}

// OrderQueries is the staff read side.
type OrderQueries interface {
	Pending(ctx context.Context) ([]order.Summary, error)
	Processed(ctx context.Context) ([]order.Summary, error)
	ByDateRange(ctx context.Context, from, to time.Time) ([]order.Summary, error)
	Details(ctx context.Context, id int64) (*order.Details, error)
	Dashboard(ctx context.Context) (order.Dashboard, error)
}

// ClaimProcessor verifies and confirms pickups.
type ClaimProcessor interface {
	ProcessClaim(ctx context.Context, code, membershipID string) (*order.Details, error)
	VerifyClaimCode(ctx context.Context, code string) (*order.Details, error)
	Logs(ctx context.Context, orderID int64) ([]claim.LogEntry, error)
}

// Handler implements the HTTP API.
type Handler struct {
	orders  OrderService
	queries OrderQueries
	claims  ClaimProcessor
}

// NewHandler creates a Handler.
func NewHandler(orders OrderService, queries OrderQueries, claims ClaimProcessor) *Handler {
	return &Handler{
		orders:  orders,
		queries: queries,
		claims:  claims,
	}
}

// Mount registers the API under /api. claimLimit guards the claim endpoints
// and runs after authentication, so it can key on the staff identity.
func (h *Handler) Mount(r chi.Router, claimLimit httpmiddleware.Middleware) {
	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate)

		r.Post("/orders", h.placeOrder)
		r.Post("/orders/{id}/cancel", h.cancelOrder)

		r.Route("/staff", func(r chi.Router) {
			r.Use(RequireStaff)

			r.Get("/dashboard", h.dashboard)
			r.Get("/orders", h.ordersByDate)
			r.Get("/orders/pending", h.pendingOrders)
			r.Get("/orders/processed", h.processedOrders)
			r.Get("/orders/{id}", h.orderDetails)
			r.Get("/orders/{id}/logs", h.orderLogs)

			r.Group(func(r chi.Router) {
				r.Use(claimLimit)
				r.Post("/claims/verify", h.verifyClaim)
				r.Post("/claims/process", h.processClaim)
			})
		})
	})
}

var errMalformed = failure.Validation("Malformed request body.")

func decodeBody(r *http.Request, w http.ResponseWriter, fn func(d *jx.Decoder, key string) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 512)
	if err := d.Obj(fn); err != nil {
		return errMalformed
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, failure.Validation("Invalid order id.")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeMessage(w http.ResponseWriter, status int, success bool, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(success) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// writeError maps the failure kind to a status. Infrastructure details are
// logged and never returned to the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch failure.KindOf(err) {
	case failure.KindValidation:
		writeMessage(w, http.StatusBadRequest, false, failure.Message(err))
	case failure.KindNotFound:
		writeMessage(w, http.StatusNotFound, false, failure.Message(err))
	case failure.KindConflict:
		writeMessage(w, http.StatusConflict, false, failure.Message(err))
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeMessage(w, http.StatusInternalServerError, false, "Internal server error.")
	}
}
