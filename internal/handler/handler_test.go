package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookstore-pickup/internal/domain/claim"
	"github.com/xenking/bookstore-pickup/internal/domain/discount"
	"github.com/xenking/bookstore-pickup/internal/domain/member"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
	"github.com/xenking/bookstore-pickup/pkg/httpmiddleware"
)

var (
	placedAt   = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	membership = uuid.MustParse("6f1c2a9e-3b7d-4e0a-9f52-8c1d2e3f4a5b")
	buyer      = member.Member{ID: 7, Name: "Ada", Email: "ada@example.com", MembershipID: membership}
)

type fakeOrders struct {
	placeReq  order.PlaceOrderRequest
	placeErr  error
	cancelReq order.CancelRequest
	cancelled bool
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error) {
	f.placeReq = req
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	o := &order.Order{
		ID:          41,
		UserID:      req.UserID,
		Items:       []order.Item{{BookID: 1, Quantity: len(req.BookIDs), Price: decimal.RequireFromString("12.5")}},
		TotalAmount: decimal.RequireFromString("12.5").Mul(decimal.NewFromInt(int64(len(req.BookIDs)))),
		OrderDate:   placedAt,
		ClaimCode:   "AB12CD34EF",
	}
	return &order.PlaceOrderResult{
		Order:    o,
		Buyer:    &buyer,
		Discount: discount.Result{FinalAmount: o.TotalAmount},
	}, nil
}

func (f *fakeOrders) Cancel(_ context.Context, req order.CancelRequest) (bool, error) {
	f.cancelReq = req
	return f.cancelled, nil
}

type fakeQueries struct {
	from, to   time.Time
	rangeErr   error
	detailsErr error
}

func (f *fakeQueries) Pending(context.Context) ([]order.Summary, error) {
	return []order.Summary{{
		OrderID: 1, UserID: 7, BuyerName: "Ada", ClaimCode: "AAAA1111BB",
		BookCount: 2, TotalAmount: decimal.RequireFromString("20"), OrderDate: placedAt,
	}}, nil
}

func (f *fakeQueries) Processed(context.Context) ([]order.Summary, error) {
	return nil, nil
}

func (f *fakeQueries) ByDateRange(_ context.Context, from, to time.Time) ([]order.Summary, error) {
	f.from, f.to = from, to
	if f.rangeErr != nil {
		return nil, f.rangeErr
	}
	return nil, nil
}

func (f *fakeQueries) Details(_ context.Context, id int64) (*order.Details, error) {
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	return testDetails(id), nil
}

func (f *fakeQueries) Dashboard(context.Context) (order.Dashboard, error) {
	return order.Dashboard{
		PendingCount:    1,
		PendingAmount:   decimal.RequireFromString("20"),
		ProcessedCount:  0,
		ProcessedAmount: decimal.Zero,
	}, nil
}

type fakeClaims struct {
	code, membershipID string
	calls              int
	err                error
}

func (f *fakeClaims) ProcessClaim(_ context.Context, code, membershipID string) (*order.Details, error) {
	f.code, f.membershipID = code, membershipID
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	d := testDetails(41)
	d.Order.IsConfirmed = true
	d.Order.ConfirmedAt = &placedAt
	return d, nil
}

func (f *fakeClaims) VerifyClaimCode(_ context.Context, code string) (*order.Details, error) {
	f.code = code
	if f.err != nil {
		return nil, f.err
	}
	return testDetails(41), nil
}

func (f *fakeClaims) Logs(_ context.Context, orderID int64) ([]claim.LogEntry, error) {
	return []claim.LogEntry{{
		ID: 2, OrderID: &orderID, Action: claim.ActionVerifyClaimCode, Success: true,
		ResultMessage: claim.MessageVerified, ClaimCodeUsed: "AB12CD34EF", Timestamp: placedAt,
	}}, nil
}

func testDetails(id int64) *order.Details {
	return &order.Details{
		Order: order.Order{
			ID:          id,
			UserID:      buyer.ID,
			TotalAmount: decimal.RequireFromString("25"),
			OrderDate:   placedAt,
			ClaimCode:   "AB12CD34EF",
		},
		Buyer: buyer,
		Lines: []order.Line{{
			BookID: 1, Title: "Dune", Author: "Frank Herbert", Quantity: 2,
			Price: decimal.RequireFromString("12.5"),
		}},
		Discount: discount.Result{FinalAmount: decimal.RequireFromString("25")},
	}
}

type fixture struct {
	orders  *fakeOrders
	queries *fakeQueries
	claims  *fakeClaims
	router  chi.Router
}

func newFixture(t *testing.T, claimLimit httpmiddleware.Middleware) *fixture {
	t.Helper()
	if claimLimit == nil {
		claimLimit = func(next http.Handler) http.Handler { return next }
	}
	f := &fixture{
		orders:  &fakeOrders{},
		queries: &fakeQueries{},
		claims:  &fakeClaims{},
		router:  chi.NewRouter(),
	}
	NewHandler(f.orders, f.queries, f.claims).Mount(f.router, claimLimit)
	return f
}

func (f *fixture) do(method, path, body string, userID string, role Role) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, string(role))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAuthentication(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		path   string
		userID string
		role   Role
		want   int
	}{
		{name: "no identity", path: "/api/staff/dashboard", want: http.StatusUnauthorized},
		{name: "bad user id", path: "/api/staff/dashboard", userID: "abc", role: RoleStaff, want: http.StatusUnauthorized},
		{name: "unknown role", path: "/api/staff/dashboard", userID: "3", role: "root", want: http.StatusUnauthorized},
		{name: "customer on staff route", path: "/api/staff/dashboard", userID: "7", role: RoleCustomer, want: http.StatusForbidden},
		{name: "default role is customer", path: "/api/staff/dashboard", userID: "7", want: http.StatusForbidden},
		{name: "staff", path: "/api/staff/dashboard", userID: "3", role: RoleStaff, want: http.StatusOK},
		{name: "admin", path: "/api/staff/dashboard", userID: "1", role: RoleAdmin, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, tt.path, "", tt.userID, tt.role)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/orders", `{"bookIds":[1,1,2],"note":"x"}`, "7", RoleCustomer)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, order.PlaceOrderRequest{UserID: 7, BookIDs: []int64{1, 1, 2}}, f.orders.placeReq)
	assert.JSONEq(t, `{
		"order": {
			"orderId": 41, "userId": 7, "buyerName": "Ada", "claimCode": "AB12CD34EF",
			"bookCount": 3, "totalAmount": 37.50, "orderDate": "2025-06-15T12:00:00Z",
			"isConfirmed": false, "confirmedAt": null, "isCancelled": false
		},
		"discountPercent": 0,
		"discountRules": [],
		"finalAmount": 37.50
	}`, w.Body.String())
}

func TestPlaceOrder_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{name: "malformed", body: `{"bookIds":`, wantCode: http.StatusBadRequest, wantMsg: "Malformed request body."},
		{name: "wrong type", body: `{"bookIds":["a"]}`, wantCode: http.StatusBadRequest, wantMsg: "Malformed request body."},
		{name: "empty", body: `{"bookIds":[]}`, err: order.ErrEmptyOrder, wantCode: http.StatusBadRequest, wantMsg: "Order must contain at least one available book."},
		{name: "unknown member", body: `{"bookIds":[1]}`, err: order.ErrUnknownMember, wantCode: http.StatusNotFound, wantMsg: "Member not found."},
		{name: "database", body: `{"bookIds":[1]}`, err: errors.New("connection reset"), wantCode: http.StatusInternalServerError, wantMsg: "Internal server error."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.orders.placeErr = tt.err

			w := f.do(http.MethodPost, "/api/orders", tt.body, "7", RoleCustomer)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, `{"success":false,"message":"`+tt.wantMsg+`"}`, w.Body.String())
		})
	}
}

func TestCancelOrder(t *testing.T) {
	t.Run("customer cancels own order", func(t *testing.T) {
		f := newFixture(t, nil)
		f.orders.cancelled = true

		w := f.do(http.MethodPost, "/api/orders/12/cancel", "", "7", RoleCustomer)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"cancelled":true}`, w.Body.String())
		assert.Equal(t, order.CancelRequest{OrderID: 12, OwnerID: 7}, f.orders.cancelReq)
	})

	t.Run("staff cancels any order", func(t *testing.T) {
		f := newFixture(t, nil)

		w := f.do(http.MethodPost, "/api/orders/12/cancel", "", "3", RoleStaff)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"cancelled":false}`, w.Body.String())
		assert.Equal(t, order.CancelRequest{OrderID: 12}, f.orders.cancelReq)
	})

	t.Run("invalid id", func(t *testing.T) {
		f := newFixture(t, nil)

		w := f.do(http.MethodPost, "/api/orders/abc/cancel", "", "7", RoleCustomer)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStaffLists(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/staff/orders/pending", "", "3", RoleStaff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{
		"orderId": 1, "userId": 7, "buyerName": "Ada", "claimCode": "AAAA1111BB",
		"bookCount": 2, "totalAmount": 20.00, "orderDate": "2025-06-15T12:00:00Z",
		"isConfirmed": false, "confirmedAt": null, "isCancelled": false
	}]`, w.Body.String())

	w = f.do(http.MethodGet, "/api/staff/orders/processed", "", "3", RoleStaff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(http.MethodGet, "/api/staff/dashboard", "", "3", RoleStaff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"pendingCount":1,"pendingAmount":20.00,"processedCount":0,"processedAmount":0.00}`, w.Body.String())
}

func TestOrdersByDate(t *testing.T) {
	t.Run("passes parsed bounds", func(t *testing.T) {
		f := newFixture(t, nil)

		w := f.do(http.MethodGet, "/api/staff/orders?from=2025-06-01T00:00:00Z&to=2025-06-30T23:59:59Z", "", "3", RoleStaff)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), f.queries.from.UTC())
		assert.Equal(t, time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC), f.queries.to.UTC())
	})

	tests := []struct {
		name  string
		query string
		err   error
	}{
		{name: "missing from", query: "?to=2025-06-30T00:00:00Z"},
		{name: "bad to", query: "?from=2025-06-01T00:00:00Z&to=yesterday"},
		{name: "inverted", query: "?from=2025-07-01T00:00:00Z&to=2025-06-01T00:00:00Z", err: order.ErrInvalidDateRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.queries.rangeErr = tt.err

			w := f.do(http.MethodGet, "/api/staff/orders"+tt.query, "", "3", RoleStaff)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestOrderDetails(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/staff/orders/41", "", "3", RoleStaff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"orderId": 41, "claimCode": "AB12CD34EF", "status": "pending",
		"orderDate": "2025-06-15T12:00:00Z", "isConfirmed": false, "confirmedAt": null, "isCancelled": false,
		"buyer": {"userId": 7, "name": "Ada", "email": "ada@example.com", "membershipId": "6f1c2a9e-3b7d-4e0a-9f52-8c1d2e3f4a5b"},
		"items": [{"bookId": 1, "title": "Dune", "author": "Frank Herbert", "quantity": 2, "price": 12.50, "subtotal": 25.00}],
		"totalAmount": 25.00, "discountPercent": 0, "discountRules": [], "finalAmount": 25.00
	}`, w.Body.String())

	f.queries.detailsErr = order.ErrNotFound
	w = f.do(http.MethodGet, "/api/staff/orders/99", "", "3", RoleStaff)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Order not found."}`, w.Body.String())
}

func TestOrderLogs(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/staff/orders/41/logs", "", "3", RoleStaff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{
		"id": 2, "orderId": 41, "action": "VerifyClaimCode", "success": true,
		"resultMessage": "Claim code verified.", "claimCodeUsed": "AB12CD34EF",
		"membershipIdProvided": null, "timestamp": "2025-06-15T12:00:00Z"
	}]`, w.Body.String())
}

func TestProcessClaim(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t, nil)

		body := `{"claimCode":"AB12CD34EF","membershipId":"` + membership.String() + `"}`
		w := f.do(http.MethodPost, "/api/staff/claims/process", body, "3", RoleStaff)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "AB12CD34EF", f.claims.code)
		assert.Equal(t, membership.String(), f.claims.membershipID)
		assert.Contains(t, w.Body.String(), `"success":true`)
		assert.Contains(t, w.Body.String(), `"message":"Order successfully processed!"`)
		assert.Contains(t, w.Body.String(), `"status":"confirmed"`)
	})

	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{name: "malformed body", body: `{"claimCode":`, wantCode: http.StatusBadRequest},
		{name: "unknown code", body: `{"claimCode":"ZZ","membershipId":"x"}`, err: claim.ErrInvalidClaimCode, wantCode: http.StatusNotFound, wantMsg: "Invalid claim code. Order not found."},
		{name: "mismatch", body: `{"claimCode":"AB","membershipId":"x"}`, err: claim.ErrMembershipMismatch, wantCode: http.StatusConflict, wantMsg: "Membership ID mismatch."},
		{name: "already processed", body: `{"claimCode":"AB","membershipId":"x"}`, err: claim.ErrAlreadyProcessed, wantCode: http.StatusConflict, wantMsg: "Order already processed."},
		{name: "cancelled", body: `{"claimCode":"AB","membershipId":"x"}`, err: claim.ErrOrderCancelled, wantCode: http.StatusConflict, wantMsg: "Order is cancelled."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.claims.err = tt.err

			w := f.do(http.MethodPost, "/api/staff/claims/process", tt.body, "3", RoleStaff)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), `"success":false`)
			if tt.wantMsg != "" {
				assert.JSONEq(t, `{"success":false,"message":"`+tt.wantMsg+`"}`, w.Body.String())
			}
		})
	}
}

// Blank fields are not rejected up front: the processor sees every attempt so
// it can write it to the processing log.
func TestProcessClaim_BlankFieldsReachProcessor(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		err            error
		wantCode       int
		wantMsg        string
		wantClaimCode      string
		wantMembership string
	}{
		{name: "missing membership", body: `{"claimCode":"AB12CD34EF"}`, err: claim.ErrMembershipMismatch,
			wantCode: http.StatusConflict, wantMsg: "Membership ID mismatch.", wantClaimCode: "AB12CD34EF"},
		{name: "empty membership", body: `{"claimCode":"AB12CD34EF","membershipId":""}`, err: claim.ErrMembershipMismatch,
			wantCode: http.StatusConflict, wantMsg: "Membership ID mismatch.", wantClaimCode: "AB12CD34EF"},
		{name: "missing code", body: `{"membershipId":"x"}`, err: claim.ErrInvalidClaimCode,
			wantCode: http.StatusNotFound, wantMsg: "Invalid claim code. Order not found.", wantMembership: "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.claims.err = tt.err

			w := f.do(http.MethodPost, "/api/staff/claims/process", tt.body, "3", RoleStaff)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.JSONEq(t, `{"success":false,"message":"`+tt.wantMsg+`"}`, w.Body.String())
			assert.Equal(t, 1, f.claims.calls)
			assert.Equal(t, tt.wantClaimCode, f.claims.code)
			assert.Equal(t, tt.wantMembership, f.claims.membershipID)
		})
	}
}

func TestVerifyClaim(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/staff/claims/verify", `{"claimCode":"AB12CD34EF"}`, "3", RoleStaff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"message":"Claim code verified."`)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)
}

func TestClaimRateLimitPerStaffMember(t *testing.T) {
	limiter := httpmiddleware.NewLimiter(1, time.Minute)
	f := newFixture(t, httpmiddleware.RateLimit(limiter, StaffKey))

	body := `{"claimCode":"AB12CD34EF"}`
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/staff/claims/verify", body, "3", RoleStaff).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodPost, "/api/staff/claims/verify", body, "3", RoleStaff).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/staff/claims/verify", body, "4", RoleStaff).Code)

	// Staff list endpoints are not limited.
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/staff/dashboard", "", "3", RoleStaff).Code)
}
