package claim

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookstore-pickup/internal/domain/catalog"
	"github.com/xenking/bookstore-pickup/internal/domain/discount"
	"github.com/xenking/bookstore-pickup/internal/domain/failure"
	"github.com/xenking/bookstore-pickup/internal/domain/member"
	"github.com/xenking/bookstore-pickup/internal/domain/order"
)

// memStore is an in-memory database. Transactions are serialized and roll
// back every order and log change when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders  []*order.Order
	logs    []LogEntry
	books   map[int64]catalog.Book
	members map[int64]member.Member

	confirmErr error
	appendErrs []error
}

func newMemStore() *memStore {
	return &memStore{
		books:   map[int64]catalog.Book{},
		members: map[int64]member.Member{},
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	saved := make([]order.Order, len(m.orders))
	for i, o := range m.orders {
		saved[i] = *o
	}
	nlogs := len(m.logs)
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		for i := range saved {
			*m.orders[i] = saved[i]
		}
		m.logs = m.logs[:nlogs]
		m.mu.Unlock()
		return err
	}
	return nil
}

// catalog.Repository

func (m *memStore) GetByIDs(_ context.Context, ids []int64) ([]catalog.Book, error) {
	var out []catalog.Book
	seen := map[int64]bool{}
	for _, id := range ids {
		if b, ok := m.books[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, b)
		}
	}
	return out, nil
}

// member.Repository

func (m *memStore) GetByID(_ context.Context, id int64) (*member.Member, error) {
	mem, ok := m.members[id]
	if !ok {
		return nil, member.ErrNotFound
	}
	return &mem, nil
}

// order.Repository via memOrders, which shares the store.

type memOrders struct{ *memStore }

func (m memOrders) CountPriorOrders(_ context.Context, userID int64, pos *discount.Position) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if o.UserID == userID && !o.IsCancelled && (pos == nil || o.ID < pos.OrderID) {
			n++
		}
	}
	return n, nil
}

func (m memOrders) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = int64(len(m.orders) + 1)
	cp := *o
	m.orders = append(m.orders, &cp)
	return nil
}

func (m memOrders) GetByID(_ context.Context, id int64) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m memOrders) GetByClaimCode(_ context.Context, code string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ClaimCode == code {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m memOrders) GetByClaimCodeForUpdate(ctx context.Context, code string) (*order.Order, error) {
	return m.GetByClaimCode(ctx, code)
}

func (m memOrders) Confirm(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return m.confirmErr
	}
	for _, o := range m.orders {
		if o.ID == id && o.Status() == order.StatusPending {
			o.IsConfirmed = true
			o.ConfirmedAt = &at
			return nil
		}
	}
	return order.ErrNotPending
}

func (m memOrders) Cancel(_ context.Context, id, _ int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id && o.Status() == order.StatusPending {
			o.IsCancelled = true
			return true, nil
		}
	}
	return false, nil
}

func (m memOrders) ListSummaries(context.Context, order.Filter) ([]order.Summary, error) {
	return nil, nil
}

// LogRepository via memLogs.

type memLogs struct{ *memStore }

func (m memLogs) Append(_ context.Context, e *LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.appendErrs) > 0 {
		err := m.appendErrs[0]
		m.appendErrs = m.appendErrs[1:]
		if err != nil {
			return err
		}
	}
	e.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, *e)
	return nil
}

func (m memLogs) ListByOrder(_ context.Context, orderID int64) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LogEntry
	for _, e := range m.logs {
		if e.OrderID != nil && *e.OrderID == orderID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type mockNotifier struct {
	mu     sync.Mutex
	events []order.Event
	err    error
}

func (m *mockNotifier) OrderPlaced(context.Context, order.Placed) error { return nil }

func (m *mockNotifier) Broadcast(_ context.Context, e order.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

// --- Helpers ---

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memStore
	notifier *mockNotifier
	proc     *Processor
	buyer    member.Member
	code     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	buyer := member.Member{ID: 7, Name: "Ada", Email: "ada@example.com", MembershipID: uuid.New()}
	store.members[buyer.ID] = buyer
	store.books[1] = catalog.Book{ID: 1, Title: "Dune", Author: "Herbert", Price: decimal.RequireFromString("10.00")}

	f := &fixture{
		store:    store,
		notifier: &mockNotifier{},
		buyer:    buyer,
		code:     "0123456789ABCDEF0123456789ABCDEF",
	}
	f.placeOrder(f.code)

	orders := memOrders{store}
	queries := order.NewQueries(orders, store, store, discount.NewEngine(orders))
	proc, err := NewProcessor(store, orders, store, memLogs{store}, queries, f.notifier)
	require.NoError(t, err)
	proc.now = func() time.Time { return fixedNow }
	f.proc = proc
	return f
}

func (f *fixture) placeOrder(code string) *order.Order {
	o := &order.Order{
		UserID:      f.buyer.ID,
		Items:       []order.Item{{BookID: 1, Quantity: 2, Price: decimal.RequireFromString("10.00")}},
		TotalAmount: decimal.RequireFromString("20.00"),
		OrderDate:   fixedNow.Add(-time.Hour),
		ClaimCode:   code,
	}
	_ = memOrders{f.store}.Create(context.Background(), o)
	return o
}

func (f *fixture) stored(code string) order.Order {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, o := range f.store.orders {
		if o.ClaimCode == code {
			return *o
		}
	}
	return order.Order{}
}

func (f *fixture) logs() []LogEntry {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return append([]LogEntry(nil), f.store.logs...)
}

// --- Tests ---

func TestProcessClaim_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	membership := f.buyer.MembershipID.String()

	d, err := f.proc.ProcessClaim(ctx, f.code, membership)
	require.NoError(t, err)

	assert.Equal(t, order.StatusConfirmed, d.Order.Status())
	require.NotNil(t, d.Order.ConfirmedAt)
	assert.Equal(t, fixedNow, *d.Order.ConfirmedAt)
	assert.Equal(t, "Ada", d.Buyer.Name)
	require.Len(t, d.Lines, 1)
	assert.Equal(t, "Dune", d.Lines[0].Title)
	assert.True(t, decimal.RequireFromString("20.00").Equal(d.Discount.FinalAmount))

	assert.Equal(t, order.StatusConfirmed, f.stored(f.code).Status())

	logs := f.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, ActionProcessClaim, logs[0].Action)
	assert.True(t, logs[0].Success)
	assert.Equal(t, MessageProcessed, logs[0].ResultMessage)
	assert.Equal(t, f.code, logs[0].ClaimCodeUsed)
	require.NotNil(t, logs[0].MembershipIDProvided)
	assert.Equal(t, membership, *logs[0].MembershipIDProvided)
	require.NotNil(t, logs[0].OrderID)
	assert.Equal(t, d.Order.ID, *logs[0].OrderID)
	assert.Equal(t, fixedNow, logs[0].Timestamp)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, order.EventConfirmed, f.notifier.events[0].Type)
	assert.True(t, f.notifier.events[0].Summary.IsConfirmed)
}

func TestProcessClaim_SecondCallAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	membership := f.buyer.MembershipID.String()

	_, err := f.proc.ProcessClaim(ctx, f.code, membership)
	require.NoError(t, err)
	firstConfirmedAt := *f.stored(f.code).ConfirmedAt

	f.proc.now = func() time.Time { return fixedNow.Add(time.Minute) }
	_, err = f.proc.ProcessClaim(ctx, f.code, membership)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, "Order already processed.", err.Error())
	assert.Equal(t, failure.KindConflict, failure.KindOf(err))

	assert.Equal(t, firstConfirmedAt, *f.stored(f.code).ConfirmedAt)

	logs := f.logs()
	require.Len(t, logs, 2)
	assert.False(t, logs[1].Success)
	assert.Equal(t, "Order already processed.", logs[1].ResultMessage)
	require.NotNil(t, logs[1].OrderID)
}

func TestProcessClaim_MembershipMismatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.ProcessClaim(context.Background(), f.code, uuid.NewString())
	require.ErrorIs(t, err, ErrMembershipMismatch)

	assert.Equal(t, order.StatusPending, f.stored(f.code).Status())
	logs := f.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "Membership ID mismatch.", logs[0].ResultMessage)
	assert.False(t, logs[0].Success)
	assert.Empty(t, f.notifier.events)
}

func TestProcessClaim_BlankMembershipIsLogged(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.ProcessClaim(context.Background(), f.code, "")
	require.ErrorIs(t, err, ErrMembershipMismatch)

	assert.Equal(t, order.StatusPending, f.stored(f.code).Status())
	logs := f.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "Membership ID mismatch.", logs[0].ResultMessage)
	require.NotNil(t, logs[0].MembershipIDProvided)
	assert.Empty(t, *logs[0].MembershipIDProvided)

	_, err = f.proc.ProcessClaim(context.Background(), "", "")
	require.ErrorIs(t, err, ErrInvalidClaimCode)

	logs = f.logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "Invalid claim code. Order not found.", logs[1].ResultMessage)
	assert.Nil(t, logs[1].OrderID)
	assert.Empty(t, f.notifier.events)
}

func TestProcessClaim_MembershipIsExactMatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.ProcessClaim(context.Background(), f.code, strings.ToUpper(f.buyer.MembershipID.String()))
	require.ErrorIs(t, err, ErrMembershipMismatch)
}

func TestProcessClaim_Cancelled(t *testing.T) {
	for _, tc := range []struct {
		name       string
		membership func(f *fixture) string
	}{
		{name: "correct membership", membership: func(f *fixture) string { return f.buyer.MembershipID.String() }},
		{name: "wrong membership", membership: func(*fixture) string { return "nope" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ok, err := memOrders{f.store}.Cancel(context.Background(), 1, 0)
			require.NoError(t, err)
			require.True(t, ok)

			_, err = f.proc.ProcessClaim(context.Background(), f.code, tc.membership(f))
			require.ErrorIs(t, err, ErrOrderCancelled)
			assert.Equal(t, order.StatusCancelled, f.stored(f.code).Status())
			require.Len(t, f.logs(), 1)
			assert.Equal(t, "Order is cancelled.", f.logs()[0].ResultMessage)
		})
	}
}

func TestProcessClaim_UnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.ProcessClaim(context.Background(), "FFFF", f.buyer.MembershipID.String())
	require.ErrorIs(t, err, ErrInvalidClaimCode)
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err))

	logs := f.logs()
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].OrderID)
	assert.Equal(t, "FFFF", logs[0].ClaimCodeUsed)
	assert.Equal(t, "Invalid claim code. Order not found.", logs[0].ResultMessage)
}

func TestProcessClaim_CodeIsExactMatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.ProcessClaim(context.Background(), strings.ToLower(f.code), f.buyer.MembershipID.String())
	require.ErrorIs(t, err, ErrInvalidClaimCode)
	assert.Equal(t, order.StatusPending, f.stored(f.code).Status())
}

func TestProcessClaim_InfrastructureFaultRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.confirmErr = errors.New("connection reset")

	_, err := f.proc.ProcessClaim(context.Background(), f.code, f.buyer.MembershipID.String())
	require.Error(t, err)
	assert.Equal(t, failure.KindInfrastructure, failure.KindOf(err))
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, order.StatusPending, f.stored(f.code).Status())
	logs := f.logs()
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Contains(t, logs[0].ResultMessage, "connection reset")
	require.NotNil(t, logs[0].OrderID)
	assert.Empty(t, f.notifier.events)
}

func TestProcessClaim_LogFailureInsideTxRollsBackConfirm(t *testing.T) {
	f := newFixture(t)
	f.store.appendErrs = []error{errors.New("log table locked")}

	_, err := f.proc.ProcessClaim(context.Background(), f.code, f.buyer.MembershipID.String())
	require.Error(t, err)
	assert.Equal(t, failure.KindInfrastructure, failure.KindOf(err))

	assert.Equal(t, order.StatusPending, f.stored(f.code).Status())
	logs := f.logs()
	require.Len(t, logs, 1, "failure row is appended after rollback")
	assert.False(t, logs[0].Success)
}

func TestProcessClaim_BroadcastFailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")

	d, err := f.proc.ProcessClaim(context.Background(), f.code, f.buyer.MembershipID.String())
	require.NoError(t, err)
	assert.True(t, d.Order.IsConfirmed)
}

func TestProcessClaim_ConcurrentCallsOneWinner(t *testing.T) {
	f := newFixture(t)
	membership := f.buyer.MembershipID.String()

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		processed int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.proc.ProcessClaim(context.Background(), f.code, membership)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyProcessed):
				processed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, processed)
	assert.Len(t, f.logs(), workers)
}

func TestVerifyClaimCode(t *testing.T) {
	f := newFixture(t)

	d, err := f.proc.VerifyClaimCode(context.Background(), f.code)
	require.NoError(t, err)
	assert.Equal(t, f.code, d.Order.ClaimCode)
	assert.Equal(t, order.StatusPending, f.stored(f.code).Status())

	logs := f.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, ActionVerifyClaimCode, logs[0].Action)
	assert.True(t, logs[0].Success)
	assert.Nil(t, logs[0].MembershipIDProvided)
	require.NotNil(t, logs[0].OrderID)
	assert.Equal(t, int64(1), *logs[0].OrderID)
}

func TestVerifyClaimCode_Unknown(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.VerifyClaimCode(context.Background(), "NOPE")
	require.ErrorIs(t, err, ErrInvalidClaimCode)

	logs := f.logs()
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Nil(t, logs[0].OrderID)
	assert.Equal(t, "Invalid claim code. Order not found.", logs[0].ResultMessage)
}

func TestLogs_NewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.proc.VerifyClaimCode(ctx, f.code)
	require.NoError(t, err)
	_, err = f.proc.ProcessClaim(ctx, f.code, "wrong")
	require.Error(t, err)
	_, err = f.proc.ProcessClaim(ctx, f.code, f.buyer.MembershipID.String())
	require.NoError(t, err)

	entries, err := f.proc.Logs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, MessageProcessed, entries[0].ResultMessage)
	assert.Equal(t, "Membership ID mismatch.", entries[1].ResultMessage)
	assert.Equal(t, ActionVerifyClaimCode, entries[2].Action)
}
