package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/bookstore-pickup/internal/codec"
	"github.com/xenking/bookstore-pickup/internal/domain/failure"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
)

func (h *Handler) writeSummaries(w http.ResponseWriter, r *http.Request, list []order.Summary, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { codec.Summaries(e, list) })
}

func (h *Handler) pendingOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.queries.Pending(r.Context())
	h.writeSummaries(w, r, list, err)
}

func (h *Handler) processedOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.queries.Processed(r.Context())
	h.writeSummaries(w, r, list, err)
}

// ordersByDate expects RFC 3339 from and to query parameters.
func (h *Handler) ordersByDate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		writeError(w, r, failure.Validation("Invalid or missing from date."))
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		writeError(w, r, failure.Validation("Invalid or missing to date."))
		return
	}

	list, err := h.queries.ByDateRange(r.Context(), from, to)
	h.writeSummaries(w, r, list, err)
}

func (h *Handler) orderDetails(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	d, err := h.queries.Details(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { codec.Details(e, d) })
}

func (h *Handler) orderLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logs, err := h.claims.Logs(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for _, l := range logs {
				codec.LogEntry(e, l)
			}
		})
	})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.queries.Dashboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { codec.Dashboard(e, d) })
}
