package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/bookstore-pickup/internal/codec"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
)

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())

	var bookIDs []int64
	err := decodeBody(r, w, func(d *jx.Decoder, key string) error {
		switch key {
		case "bookIds":
			return d.Arr(func(d *jx.Decoder) error {
				v, err := d.Int64()
				if err != nil {
					return err
				}
				bookIDs = append(bookIDs, v)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		UserID:  id.UserID,
		BookIDs: bookIDs,
	})
	if err != nil {
		writeError(w, r, errors.Wrap(err, "place order"))
		return
	}

	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { codec.Placed(e, res) })
}

// cancelOrder lets customers cancel their own pending orders and staff
// cancel any pending order.
func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, _ := IdentityFromContext(r.Context())
	req := order.CancelRequest{OrderID: orderID}
	if !id.IsStaff() {
		req.OwnerID = id.UserID
	}

	ok, err := h.orders.Cancel(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("cancelled", func(e *jx.Encoder) { e.Bool(ok) })
		})
	})
}
