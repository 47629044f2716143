package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/example/posync/internal/models"
	"github.com/example/posync/internal/store"
)

type fakeSource struct {
	orders []RawOrder
	err    error
	block  chan struct{}

	mu    sync.Mutex
	calls int
	start time.Time
	end   time.Time
}

func (f *fakeSource) GetOrders(_ context.Context, start, end time.Time) ([]RawOrder, error) {
	f.mu.Lock()
	f.calls++
	f.start, f.end = start, end
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	return f.orders, f.err
}

func (f *fakeSource) factory() OrderSourceFactory {
	return func(models.PosIntegration) OrderSource { return f }
}

// failingStore fails item upserts for one order.
type failingStore struct {
	*store.MemoryStore
	failOrderID uuid.UUID
}

func (s *failingStore) UpsertOrderItems(ctx context.Context, items []models.PosOrderItem) error {
	for _, item := range items {
		if item.OrderID == s.failOrderID {
			return errors.New("constraint violation")
		}
	}
	return s.MemoryStore.UpsertOrderItems(ctx, items)
}

func rawOrders(t *testing.T, docs ...string) []RawOrder {
	t.Helper()
	orders := make([]RawOrder, 0, len(docs))
	for _, doc := range docs {
		var raw RawOrder
		if err := json.Unmarshal([]byte(doc), &raw); err != nil {
			t.Fatalf("decode raw order: %v", err)
		}
		orders = append(orders, raw)
	}
	return orders
}

func simpleOrder(guid, email string) string {
	return fmt.Sprintf(`{"guid":%q,"businessDate":20240501,"checks":[{"guid":"c-%s","totalAmount":10,
		"customer":{"email":%q},
		"payments":[{"guid":"p-%s","amount":10}],
		"selections":[{"guid":"s-%s","displayName":"Item","quantity":1,"price":10,
			"modifiers":[{"guid":"m-%s","displayName":"Mod","quantity":1}]}]}]}`,
		guid, guid, email, guid, guid, guid)
}

type orchestratorFixture struct {
	store    *store.MemoryStore
	tenantID uuid.UUID
	now      time.Time
}

func newOrchestratorFixture() *orchestratorFixture {
	f := &orchestratorFixture{
		store:    store.NewMemoryStore(),
		tenantID: uuid.New(),
		now:      time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
	f.store.PutIntegration(models.PosIntegration{
		TenantID:       f.tenantID,
		ClientID:       "client",
		ClientSecret:   "secret",
		RestaurantGUID: "rest-1",
		BaseURL:        "http://toast.invalid",
		IsActive:       true,
	})
	return f
}

func (f *orchestratorFixture) orchestrator(st store.Store, source *fakeSource) *SyncOrchestrator {
	return NewSyncOrchestrator(st, source.factory(), WithOrchestratorClock(func() time.Time { return f.now }))
}

func (f *orchestratorFixture) integration(t *testing.T) *models.PosIntegration {
	t.Helper()
	integration, err := f.store.GetIntegration(context.Background(), f.tenantID)
	if err != nil {
		t.Fatalf("GetIntegration: %v", err)
	}
	return integration
}

func TestRunSync_IsIdempotent(t *testing.T) {
	f := newOrchestratorFixture()
	source := &fakeSource{orders: rawOrders(t, simpleOrder("o1", "a@x.com"), simpleOrder("o2", "b@x.com"))}
	o := f.orchestrator(f.store, source)

	for run := 1; run <= 2; run++ {
		stats, err := o.RunSync(context.Background(), f.tenantID, SyncOptions{})
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if stats.State != SyncStateSuccess || stats.OrdersUpserted != 2 {
			t.Fatalf("run %d: unexpected stats %+v", run, stats)
		}
		if stats.LineItemsUpserted != 4 || stats.PaymentsUpserted != 2 {
			t.Errorf("run %d: expected 4 items and 2 payments, got %d and %d", run, stats.LineItemsUpserted, stats.PaymentsUpserted)
		}

		orders, items, payments := f.store.Counts()
		if orders != 2 || items != 4 || payments != 2 {
			t.Fatalf("run %d: expected 2/4/2 rows, got %d/%d/%d", run, orders, items, payments)
		}
	}

	integration := f.integration(t)
	if integration.LastSyncStatus != models.SyncStatusSuccess {
		t.Errorf("expected success status, got %s", integration.LastSyncStatus)
	}
	if integration.LastSyncAt == nil || !integration.LastSyncAt.Equal(f.now) {
		t.Errorf("expected last sync at %s, got %v", f.now, integration.LastSyncAt)
	}
	if integration.LastError != nil {
		t.Errorf("expected cleared error, got %q", *integration.LastError)
	}
}

func TestRunSync_MalformedOrderIsIsolated(t *testing.T) {
	f := newOrchestratorFixture()
	malformed := `{"guid":"o3","checks":[{"guid":"c","selections":[{"guid":"s","quantity":"two"}]}]}`
	source := &fakeSource{orders: rawOrders(t,
		simpleOrder("o1", ""), simpleOrder("o2", ""), malformed, simpleOrder("o4", ""), simpleOrder("o5", ""),
	)}

	stats, err := f.orchestrator(f.store, source).RunSync(context.Background(), f.tenantID, SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if stats.OrdersProcessed != 5 || stats.OrdersUpserted != 4 || stats.OrdersFailed != 1 {
		t.Errorf("expected 5 processed, 4 upserted, 1 failed, got %+v", stats)
	}
	if len(stats.FailedOrders) != 1 || stats.FailedOrders[0] != "o3" {
		t.Errorf("expected o3 to be reported, got %v", stats.FailedOrders)
	}
	if orders, _, _ := f.store.Counts(); orders != 4 {
		t.Errorf("expected 4 stored orders, got %d", orders)
	}
	if f.integration(t).LastSyncStatus != models.SyncStatusSuccess {
		t.Error("expected run to succeed despite one bad order")
	}
}

func TestRunSync_PersistFailureIsCounted(t *testing.T) {
	f := newOrchestratorFixture()
	st := &failingStore{MemoryStore: f.store, failOrderID: PosOrderID(f.tenantID, "o2")}
	source := &fakeSource{orders: rawOrders(t, simpleOrder("o1", ""), simpleOrder("o2", ""), simpleOrder("o3", ""))}

	stats, err := f.orchestrator(st, source).RunSync(context.Background(), f.tenantID, SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if stats.OrdersUpserted != 2 || stats.OrdersFailed != 1 || stats.FailedOrders[0] != "o2" {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRunSync_NoIntegrationSkipsNetwork(t *testing.T) {
	f := newOrchestratorFixture()
	source := &fakeSource{}
	o := f.orchestrator(f.store, source)

	_, err := o.RunSync(context.Background(), uuid.New(), SyncOptions{})
	if !errors.Is(err, ErrIntegrationNotFound) {
		t.Fatalf("expected ErrIntegrationNotFound, got %v", err)
	}

	inactive := uuid.New()
	f.store.PutIntegration(models.PosIntegration{TenantID: inactive, IsActive: false})
	_, err = o.RunSync(context.Background(), inactive, SyncOptions{})
	if !errors.Is(err, ErrIntegrationNotFound) {
		t.Fatalf("expected ErrIntegrationNotFound for inactive integration, got %v", err)
	}

	if source.calls != 0 {
		t.Errorf("expected no fetches, got %d", source.calls)
	}
}

func TestRunSync_FetchFailureIsRecorded(t *testing.T) {
	f := newOrchestratorFixture()
	fetchErr := &UpstreamFetchError{Page: 2, Status: 500, Body: "boom"}
	source := &fakeSource{err: fetchErr}

	stats, err := f.orchestrator(f.store, source).RunSync(context.Background(), f.tenantID, SyncOptions{})
	var got *UpstreamFetchError
	if !errors.As(err, &got) {
		t.Fatalf("expected UpstreamFetchError, got %v", err)
	}
	if stats == nil || stats.State != SyncStateFailed {
		t.Errorf("expected failed stats, got %+v", stats)
	}

	integration := f.integration(t)
	if integration.LastSyncStatus != models.SyncStatusError {
		t.Errorf("expected error status, got %s", integration.LastSyncStatus)
	}
	if integration.LastError == nil || *integration.LastError != fetchErr.Error() {
		t.Errorf("expected stored error %q, got %v", fetchErr.Error(), integration.LastError)
	}
	if integration.LastSyncAt != nil {
		t.Error("expected last sync time to stay unset after a failure")
	}
}

func TestRunSync_LongErrorIsStoredAsValidUTF8(t *testing.T) {
	f := newOrchestratorFixture()
	source := &fakeSource{err: errors.New("x" + strings.Repeat("é", 600))}

	if _, err := f.orchestrator(f.store, source).RunSync(context.Background(), f.tenantID, SyncOptions{}); err == nil {
		t.Fatal("expected fetch error")
	}

	integration := f.integration(t)
	if integration.LastSyncStatus != models.SyncStatusError {
		t.Errorf("expected error status, got %s", integration.LastSyncStatus)
	}
	if integration.LastError == nil {
		t.Fatal("expected stored error")
	}
	stored := *integration.LastError
	if len(stored) > maxStoredErrorSize {
		t.Errorf("expected at most %d bytes, got %d", maxStoredErrorSize, len(stored))
	}
	if !utf8.ValidString(stored) {
		t.Error("stored error is not valid UTF-8")
	}
	if len(stored) != maxStoredErrorSize-1 {
		t.Errorf("expected cut at the last whole rune (%d bytes), got %d", maxStoredErrorSize-1, len(stored))
	}
}

func TestRunSync_RateLimitIsRecordedDistinctly(t *testing.T) {
	f := newOrchestratorFixture()
	source := &fakeSource{err: &RateLimitedError{RetryAfter: 5 * time.Second}}

	_, err := f.orchestrator(f.store, source).RunSync(context.Background(), f.tenantID, SyncOptions{})
	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}

	integration := f.integration(t)
	if integration.LastSyncStatus != models.SyncStatusRateLimited {
		t.Errorf("expected rate_limited status, got %s", integration.LastSyncStatus)
	}
	if integration.LastError == nil || *integration.LastError != err.Error() {
		t.Errorf("expected stored rate limit message, got %v", integration.LastError)
	}
}

func TestTruncateError(t *testing.T) {
	tests := []struct {
		name  string
		msg   string
		limit int
		want  string
	}{
		{name: "short", msg: "boom", limit: 10, want: "boom"},
		{name: "ascii cut", msg: "abcdef", limit: 3, want: "abc"},
		{name: "rune boundary", msg: "aéé", limit: 4, want: "aé"},
		{name: "invalid input", msg: "a\xffb", limit: 10, want: "a\uFFFDb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateError(tt.msg, tt.limit); got != tt.want {
				t.Errorf("truncateError(%q, %d) = %q, want %q", tt.msg, tt.limit, got, tt.want)
			}
		})
	}
}

func TestRunSync_Window(t *testing.T) {
	f := newOrchestratorFixture()
	source := &fakeSource{}
	o := NewSyncOrchestrator(f.store, source.factory(),
		WithOrchestratorClock(func() time.Time { return f.now }),
		WithLookback(7*24*time.Hour),
	)

	if _, err := o.RunSync(context.Background(), f.tenantID, SyncOptions{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !source.start.Equal(f.now.Add(-7*24*time.Hour)) || !source.end.Equal(f.now) {
		t.Errorf("expected lookback window, got %s - %s", source.start, source.end)
	}

	previous := f.now
	f.now = f.now.Add(time.Hour)
	if _, err := o.RunSync(context.Background(), f.tenantID, SyncOptions{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !source.start.Equal(previous) {
		t.Errorf("expected window to start at last sync %s, got %s", previous, source.start)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	stats, err := o.RunSync(context.Background(), f.tenantID, SyncOptions{StartDate: &start, EndDate: &end})
	if err != nil {
		t.Fatalf("explicit run: %v", err)
	}
	if !source.start.Equal(start) || !source.end.Equal(end) || !stats.StartDate.Equal(start) {
		t.Errorf("expected explicit window, got %s - %s", source.start, source.end)
	}
}

func TestRunSync_MatchesLeadsAndSkipsEmptyOrders(t *testing.T) {
	f := newOrchestratorFixture()
	lead := models.Lead{TenantID: f.tenantID, Name: "A", Email: "a@x.com"}
	lead.ID = uuid.New()
	f.store.AddLead(lead)

	source := &fakeSource{orders: rawOrders(t,
		simpleOrder("o1", "A@X.com"),
		simpleOrder("o2", "unknown@x.com"),
		`{"guid":"o3","checks":[]}`,
	)}

	stats, err := f.orchestrator(f.store, source).RunSync(context.Background(), f.tenantID, SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if stats.LeadsMatched != 1 || stats.OrdersSkipped != 1 || stats.OrdersUpserted != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	order, err := f.store.GetOrder(context.Background(), f.tenantID, PosOrderID(f.tenantID, "o1"))
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.LeadID == nil || *order.LeadID != lead.ID {
		t.Errorf("expected order linked to lead %s, got %v", lead.ID, order.LeadID)
	}
}

func TestRunSync_DedupesByGUID(t *testing.T) {
	f := newOrchestratorFixture()
	later := `{"guid":"o1","checks":[{"guid":"c","totalAmount":99}]}`
	source := &fakeSource{orders: rawOrders(t, simpleOrder("o1", ""), simpleOrder("o2", ""), later)}

	stats, err := f.orchestrator(f.store, source).RunSync(context.Background(), f.tenantID, SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if stats.OrdersProcessed != 2 {
		t.Errorf("expected duplicates to be processed once, got %d", stats.OrdersProcessed)
	}

	order, err := f.store.GetOrder(context.Background(), f.tenantID, PosOrderID(f.tenantID, "o1"))
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.TotalAmount != 99 {
		t.Errorf("expected last copy to win, got total %v", order.TotalAmount)
	}
}

func TestRunSync_RejectsConcurrentRun(t *testing.T) {
	f := newOrchestratorFixture()
	source := &fakeSource{block: make(chan struct{})}
	o := f.orchestrator(f.store, source)

	var finished int32
	done := make(chan error, 1)
	go func() {
		_, err := o.RunSync(context.Background(), f.tenantID, SyncOptions{})
		atomic.StoreInt32(&finished, 1)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for f.integration(t).LastSyncStatus != models.SyncStatusInProgress {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := o.RunSync(context.Background(), f.tenantID, SyncOptions{}); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}

	close(source.block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if atomic.LoadInt32(&finished) != 1 {
		t.Fatal("first run did not finish")
	}

	if _, err := o.RunSync(context.Background(), f.tenantID, SyncOptions{}); err != nil {
		t.Errorf("expected run after release to succeed, got %v", err)
	}
}

func TestDedupeOrders_KeepsFirstPosition(t *testing.T) {
	in := []RawOrder{{GUID: "a", Source: "1"}, {GUID: "b"}, {GUID: "a", Source: "2"}, {GUID: "c"}}
	out := dedupeOrders(in)

	if len(out) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(out))
	}
	if out[0].GUID != "a" || out[0].Source != "2" || out[1].GUID != "b" || out[2].GUID != "c" {
		t.Errorf("unexpected dedupe result %+v", out)
	}
}
