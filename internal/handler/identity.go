package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/xenking/bookstore-pickup/pkg/httpmiddleware"
)

// Identity headers set by the upstream gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Role is the caller's role.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID int64
	Role   Role
}

// IsStaff reports whether the caller may use the staff surface.
func (i Identity) IsStaff() bool {
	return i.Role == RoleStaff || i.Role == RoleAdmin
}

type identityKey struct{}

// IdentityFromContext returns the identity stored by Authenticate.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Authenticate reads the caller identity from the gateway headers. A missing
// role means customer.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err != nil || userID <= 0 {
			writeMessage(w, http.StatusUnauthorized, false, "Missing or invalid user identity.")
			return
		}

		role := Role(r.Header.Get(HeaderUserRole))
		switch role {
		case "":
			role = RoleCustomer
		case RoleCustomer, RoleStaff, RoleAdmin:
		default:
			writeMessage(w, http.StatusUnauthorized, false, "Unknown user role.")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, Identity{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireStaff rejects callers that are neither staff nor admin.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok || !id.IsStaff() {
			writeMessage(w, http.StatusForbidden, false, "Staff access required.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StaffKey keys the claim rate limiter by staff member, falling back to the
// client address for unauthenticated requests.
func StaffKey(r *http.Request) string {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		return httpmiddleware.ClientIP(r)
	}
	return strconv.FormatInt(id.UserID, 10)
}
