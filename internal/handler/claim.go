package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/bookstore-pickup/internal/codec"
	"github.com/xenking/bookstore-pickup/internal/domain/claim"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
)

type claimRequest struct {
	ClaimCode    string
	MembershipID string
}

// decodeClaim only rejects malformed bodies. Empty fields reach the processor
// so the attempt is written to the processing log.
func decodeClaim(w http.ResponseWriter, r *http.Request) (claimRequest, error) {
	var req claimRequest
	err := decodeBody(r, w, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "claimCode":
			req.ClaimCode, err = d.Str()
		case "membershipId":
			req.MembershipID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func writeClaimResult(w http.ResponseWriter, msg string, d *order.Details) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
			e.Field("order", func(e *jx.Encoder) { codec.Details(e, d) })
		})
	})
}

func (h *Handler) verifyClaim(w http.ResponseWriter, r *http.Request) {
	req, err := decodeClaim(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	d, err := h.claims.VerifyClaimCode(r.Context(), req.ClaimCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeClaimResult(w, claim.MessageVerified, d)
}

func (h *Handler) processClaim(w http.ResponseWriter, r *http.Request) {
	req, err := decodeClaim(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	d, err := h.claims.ProcessClaim(r.Context(), req.ClaimCode, req.MembershipID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeClaimResult(w, claim.MessageProcessed, d)
}
