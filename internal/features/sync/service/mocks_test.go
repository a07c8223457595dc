package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"robolabs-sync/internal/core/robolabs"
	"robolabs-sync/internal/features/sync/domain"
)

// fakeStore is an in-memory OrderStore for the orchestrator tests.
type fakeStore struct {
	mu           sync.Mutex
	orders       map[int64]*domain.Order
	refunds      map[string]*domain.Refund
	products     map[int64]*domain.Product
	states       map[int64]*domain.SyncState
	productRefs  map[int64]domain.RemoteRef
	customerRefs map[int64]domain.RemoteRef
	notes        map[int64][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:       map[int64]*domain.Order{},
		refunds:      map[string]*domain.Refund{},
		products:     map[int64]*domain.Product{},
		states:       map[int64]*domain.SyncState{},
		productRefs:  map[int64]domain.RemoteRef{},
		customerRefs: map[int64]domain.RemoteRef{},
		notes:        map[int64][]string{},
	}
}

func refundKey(orderID, refundID int64) string {
	return fmt.Sprintf("%d:%d", orderID, refundID)
}

func (s *fakeStore) Order(_ context.Context, orderID int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d not found", orderID)
	}
	return order, nil
}

func (s *fakeStore) Refund(_ context.Context, orderID, refundID int64) (*domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refund, ok := s.refunds[refundKey(orderID, refundID)]
	if !ok {
		return nil, fmt.Errorf("refund %d not found", refundID)
	}
	return refund, nil
}

func (s *fakeStore) Product(_ context.Context, productID int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %d not found", productID)
	}
	return product, nil
}

func (s *fakeStore) SyncState(_ context.Context, orderID int64) (*domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[orderID]; ok {
		copied := *state
		return &copied, nil
	}
	return &domain.SyncState{Status: domain.SyncStatusUnsynced}, nil
}

func (s *fakeStore) SaveSyncState(_ context.Context, orderID int64, state *domain.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.states[orderID] = &copied
	return nil
}

func (s *fakeStore) ProductRef(_ context.Context, productID int64) (*domain.RemoteRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.productRefs[productID]; ok {
		return &ref, nil
	}
	return nil, nil
}

func (s *fakeStore) SaveProductRef(_ context.Context, productID int64, ref domain.RemoteRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productRefs[productID] = ref
	return nil
}

func (s *fakeStore) CustomerRef(_ context.Context, customerID int64) (*domain.RemoteRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.customerRefs[customerID]; ok {
		return &ref, nil
	}
	return nil, nil
}

func (s *fakeStore) SaveCustomerRef(_ context.Context, customerID int64, ref domain.RemoteRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customerRefs[customerID] = ref
	return nil
}

func (s *fakeStore) AddOrderNote(_ context.Context, orderID int64, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[orderID] = append(s.notes[orderID], note)
	return nil
}

func (s *fakeStore) state(orderID int64) *domain.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[orderID]
}

func (s *fakeStore) orderNotes(orderID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes[orderID]
}

// fakeAPI replays canned Results keyed by "METHOD endpoint". Unregistered
// GETs return an empty find envelope; unregistered POSTs fail loudly so a
// test cannot silently exercise a call it did not expect.
type fakeAPI struct {
	mu        sync.Mutex
	responses map[string]robolabs.Result
	calls     []string
	bodies    map[string]any
	queries   map[string][]url.Values
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		responses: map[string]robolabs.Result{},
		bodies:    map[string]any{},
		queries:   map[string][]url.Values{},
	}
}

func (a *fakeAPI) on(method, endpoint string, res robolabs.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[method+" "+endpoint] = res
}

func (a *fakeAPI) Get(_ context.Context, endpoint string, query url.Values) robolabs.Result {
	a.mu.Lock()
	a.queries[endpoint] = append(a.queries[endpoint], query)
	a.mu.Unlock()
	return a.call("GET", endpoint, nil)
}

func (a *fakeAPI) Post(_ context.Context, endpoint string, body any) robolabs.Result {
	return a.call("POST", endpoint, body)
}

func (a *fakeAPI) call(method, endpoint string, body any) robolabs.Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := method + " " + endpoint
	a.calls = append(a.calls, key)
	a.bodies[key] = body

	if res, ok := a.responses[key]; ok {
		return res
	}
	if method == "GET" {
		return success(`{"data":[]}`)
	}
	return robolabs.Result{Kind: robolabs.KindFailure, HTTPCode: 500, Message: "unexpected call: " + key}
}

func (a *fakeAPI) callCount(method, endpoint string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, call := range a.calls {
		if call == method+" "+endpoint {
			count++
		}
	}
	return count
}

func (a *fakeAPI) queriesFor(endpoint string) []url.Values {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.queries[endpoint]
}

func (a *fakeAPI) lastBody(method, endpoint string) any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bodies[method+" "+endpoint]
}

func success(body string) robolabs.Result {
	return robolabs.Result{Kind: robolabs.KindSuccess, HTTPCode: 200, Body: json.RawMessage(body)}
}

func failure(code int, message string) robolabs.Result {
	kind := robolabs.KindFailure
	if code == 429 {
		kind = robolabs.KindRateLimited
	}
	return robolabs.Result{Kind: kind, HTTPCode: code, Message: message}
}

// fakeLocker grants every acquire unless held is set.
type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	acquired []int64
	released []int64
}

func (l *fakeLocker) Acquire(_ context.Context, orderID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.acquired = append(l.acquired, orderID)
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, orderID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = append(l.released, orderID)
	return nil
}

type scheduledOrderSync struct {
	OrderID int64
	Delay   time.Duration
}

type scheduledRefundSync struct {
	OrderID  int64
	RefundID int64
	Delay    time.Duration
}

type scheduledJobPoll struct {
	JobID   string
	OrderID int64
	Delay   time.Duration
}

// fakeTasks records scheduled work instead of executing it.
type fakeTasks struct {
	mu          sync.Mutex
	orderSyncs  []scheduledOrderSync
	refundSyncs []scheduledRefundSync
	jobPolls    []scheduledJobPoll
}

func (t *fakeTasks) ScheduleOrderSync(orderID int64, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orderSyncs = append(t.orderSyncs, scheduledOrderSync{OrderID: orderID, Delay: delay})
}

func (t *fakeTasks) ScheduleRefundSync(orderID, refundID int64, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refundSyncs = append(t.refundSyncs, scheduledRefundSync{OrderID: orderID, RefundID: refundID, Delay: delay})
}

func (t *fakeTasks) ScheduleJobPoll(jobID string, orderID int64, delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobPolls = append(t.jobPolls, scheduledJobPoll{JobID: jobID, OrderID: orderID, Delay: delay})
}

// fakeSettings keeps the shipping product id in memory.
type fakeSettings struct {
	mu sync.Mutex
	id int64
}

func (s *fakeSettings) ShippingProductID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *fakeSettings) SaveShippingProductID(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}
