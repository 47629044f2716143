package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/posync/internal/logger"
	"github.com/example/posync/internal/models"
	"github.com/example/posync/internal/store"
)

const (
	defaultLookback    = 30 * 24 * time.Hour
	maxStoredErrorSize = 1024
)

// SyncState is the phase of a single sync run.
type SyncState string

const (
	SyncStatePending    SyncState = "pending"
	SyncStateFetching   SyncState = "fetching"
	SyncStateMatching   SyncState = "matching"
	SyncStatePersisting SyncState = "persisting"
	SyncStateSuccess    SyncState = "success"
	SyncStateFailed     SyncState = "failed"
)

// OrderSource fetches raw orders for a date window.
type OrderSource interface {
	GetOrders(ctx context.Context, start, end time.Time) ([]RawOrder, error)
}

// OrderSourceFactory builds the OrderSource for an integration.
type OrderSourceFactory func(integration models.PosIntegration) OrderSource

// NewToastSourceFactory returns a factory of Toast clients sharing tokens.
func NewToastSourceFactory(tokens *TokenCache, httpClient *http.Client, l *zap.Logger, metrics *SyncMetrics) OrderSourceFactory {
	return func(integration models.PosIntegration) OrderSource {
		opts := []ToastClientOption{WithClientLogger(l), WithClientMetrics(metrics)}
		if httpClient != nil {
			opts = append(opts, WithHTTPClient(httpClient))
		}
		return NewToastClient(CredentialsFromIntegration(integration), tokens, opts...)
	}
}

// SyncOptions overrides the sync window. Nil fields use the defaults.
type SyncOptions struct {
	StartDate *time.Time
	EndDate   *time.Time
}

// SyncRunStats summarises one run. It is not persisted.
type SyncRunStats struct {
	TenantID          uuid.UUID `json:"tenant_id"`
	State             SyncState `json:"state"`
	OrdersProcessed   int       `json:"orders_processed"`
	OrdersUpserted    int       `json:"orders_upserted"`
	OrdersSkipped     int       `json:"orders_skipped"`
	OrdersFailed      int       `json:"orders_failed"`
	LeadsMatched      int       `json:"leads_matched"`
	LineItemsUpserted int       `json:"line_items_upserted"`
	PaymentsUpserted  int       `json:"payments_upserted"`
	StartDate         time.Time `json:"start_date"`
	EndDate           time.Time `json:"end_date"`
	FailedOrders      []string  `json:"failed_orders,omitempty"`
}

// SyncOrchestrator runs full synchronizations for one tenant at a time.
type SyncOrchestrator struct {
	store    store.Store
	sources  OrderSourceFactory
	logger   *zap.Logger
	metrics  *SyncMetrics
	now      func() time.Time
	lookback time.Duration

	mu      sync.Mutex
	running map[uuid.UUID]bool
}

// OrchestratorOption configures a SyncOrchestrator.
type OrchestratorOption func(*SyncOrchestrator)

// WithOrchestratorLogger sets the orchestrator's logger.
func WithOrchestratorLogger(l *zap.Logger) OrchestratorOption {
	return func(o *SyncOrchestrator) { o.logger = l }
}

// WithOrchestratorMetrics records run metrics.
func WithOrchestratorMetrics(m *SyncMetrics) OrchestratorOption {
	return func(o *SyncOrchestrator) { o.metrics = m }
}

// WithOrchestratorClock replaces the time source.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *SyncOrchestrator) { o.now = now }
}

// WithLookback sets the window used when a tenant has never synced.
func WithLookback(d time.Duration) OrchestratorOption {
	return func(o *SyncOrchestrator) {
		if d > 0 {
			o.lookback = d
		}
	}
}

// NewSyncOrchestrator builds an orchestrator over st.
func NewSyncOrchestrator(st store.Store, sources OrderSourceFactory, opts ...OrchestratorOption) *SyncOrchestrator {
	o := &SyncOrchestrator{
		store:    st,
		sources:  sources,
		now:      time.Now,
		lookback: defaultLookback,
		running:  make(map[uuid.UUID]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.OrGlobal(o.logger)
	return o
}

type preparedOrder struct {
	guid       string
	normalized *NormalizedOrder
}

// RunSync fetches the tenant's orders for the window, matches them to leads
// and upserts them. Orders that fail individually are counted and skipped;
// setup and fetch failures fail the run and are recorded on the integration.
func (o *SyncOrchestrator) RunSync(ctx context.Context, tenantID uuid.UUID, opts SyncOptions) (*SyncRunStats, error) {
	if !o.acquire(tenantID) {
		return nil, ErrSyncInProgress
	}
	defer o.release(tenantID)

	started := o.now()
	stats := &SyncRunStats{TenantID: tenantID, State: SyncStatePending}
	log := o.logger.With(zap.String("tenant_id", tenantID.String()))

	integration, err := o.store.GetIntegration(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !integration.IsActive) {
		return nil, ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load integration: %w", err)
	}

	if err := o.store.UpdateIntegrationStatus(ctx, tenantID, store.IntegrationStatus{
		Status:    models.SyncStatusInProgress,
		KeepError: true,
	}); err != nil {
		return nil, fmt.Errorf("mark sync in progress: %w", err)
	}

	stats.StartDate, stats.EndDate = o.window(integration, opts)

	transition := func(next SyncState) {
		log.Debug("sync state", zap.String("from", string(stats.State)), zap.String("to", string(next)))
		stats.State = next
	}

	fail := func(cause error) (*SyncRunStats, error) {
		transition(SyncStateFailed)

		status := models.SyncStatusError
		var rateErr *RateLimitedError
		if errors.As(cause, &rateErr) {
			status = models.SyncStatusRateLimited
			o.metrics.rateLimitHit()
		}
		o.metrics.runFinished(string(SyncStateFailed), o.now().Sub(started))

		msg := truncateError(cause.Error(), maxStoredErrorSize)
		if err := o.store.UpdateIntegrationStatus(context.WithoutCancel(ctx), tenantID, store.IntegrationStatus{
			Status:    status,
			LastError: &msg,
		}); err != nil {
			log.Error("failed to record sync failure", zap.Error(err))
		}

		log.Warn("sync failed", zap.Error(cause))
		return stats, cause
	}

	transition(SyncStateFetching)
	source := o.sources(*integration)
	rawOrders, err := source.GetOrders(ctx, stats.StartDate, stats.EndDate)
	if err != nil {
		return fail(err)
	}

	transition(SyncStateMatching)
	leads, err := o.store.ListLeads(ctx, tenantID)
	if err != nil {
		return fail(fmt.Errorf("load leads: %w", err))
	}
	index := NewLeadIndex(leads)

	syncedAt := o.now()
	var prepared []preparedOrder
	for _, raw := range dedupeOrders(rawOrders) {
		stats.OrdersProcessed++

		normalized, err := NormalizeOrder(raw, tenantID, syncedAt)
		if errors.Is(err, ErrOrderWithoutChecks) {
			stats.OrdersSkipped++
			o.metrics.orderOutcome("skipped")
			continue
		}
		if err != nil {
			o.recordOrderFailure(log, stats, &PerOrderPersistError{OrderGUID: raw.GUID, Stage: "normalize", Err: err})
			continue
		}

		if leadID := index.Match(&normalized.Order); leadID != nil {
			normalized.Order.LeadID = leadID
			stats.LeadsMatched++
		}
		prepared = append(prepared, preparedOrder{guid: raw.GUID, normalized: normalized})
	}

	transition(SyncStatePersisting)
	for _, p := range prepared {
		if err := o.persistOrder(ctx, p.normalized); err != nil {
			o.recordOrderFailure(log, stats, &PerOrderPersistError{OrderGUID: p.guid, Stage: "upsert", Err: err})
			continue
		}
		stats.OrdersUpserted++
		stats.LineItemsUpserted += len(p.normalized.Items)
		stats.PaymentsUpserted += len(p.normalized.Payments)
		o.metrics.orderOutcome("upserted")
	}

	completed := o.now()
	if err := o.store.UpdateIntegrationStatus(context.WithoutCancel(ctx), tenantID, store.IntegrationStatus{
		Status:     models.SyncStatusSuccess,
		LastSyncAt: &completed,
	}); err != nil {
		return fail(fmt.Errorf("record sync success: %w", err))
	}

	transition(SyncStateSuccess)
	o.metrics.runFinished(string(SyncStateSuccess), completed.Sub(started))

	log.Info("sync completed",
		zap.Int("orders_processed", stats.OrdersProcessed),
		zap.Int("orders_upserted", stats.OrdersUpserted),
		zap.Int("orders_failed", stats.OrdersFailed),
		zap.Int("orders_skipped", stats.OrdersSkipped),
		zap.Int("leads_matched", stats.LeadsMatched),
		zap.Duration("elapsed", completed.Sub(started)),
	)
	return stats, nil
}

func (o *SyncOrchestrator) persistOrder(ctx context.Context, n *NormalizedOrder) error {
	if err := o.store.UpsertOrder(ctx, &n.Order); err != nil {
		return fmt.Errorf("order: %w", err)
	}
	if err := o.store.UpsertOrderItems(ctx, n.Items); err != nil {
		return fmt.Errorf("line items: %w", err)
	}
	if err := o.store.UpsertPayments(ctx, n.Payments); err != nil {
		return fmt.Errorf("payments: %w", err)
	}
	return nil
}

func (o *SyncOrchestrator) recordOrderFailure(log *zap.Logger, stats *SyncRunStats, err *PerOrderPersistError) {
	stats.OrdersFailed++
	stats.FailedOrders = append(stats.FailedOrders, err.OrderGUID)
	o.metrics.orderOutcome("failed")
	log.Warn("skipping order", zap.String("order_guid", err.OrderGUID), zap.String("stage", err.Stage), zap.Error(err.Err))
}

// window resolves the sync range: explicit bounds first, then the last
// successful sync, then the default lookback.
func (o *SyncOrchestrator) window(integration *models.PosIntegration, opts SyncOptions) (time.Time, time.Time) {
	end := o.now()
	if opts.EndDate != nil {
		end = *opts.EndDate
	}

	switch {
	case opts.StartDate != nil:
		return *opts.StartDate, end
	case integration.LastSyncAt != nil:
		return *integration.LastSyncAt, end
	default:
		return end.Add(-o.lookback), end
	}
}

func (o *SyncOrchestrator) acquire(tenantID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[tenantID] {
		return false
	}
	o.running[tenantID] = true
	return true
}

func (o *SyncOrchestrator) release(tenantID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, tenantID)
}

// dedupeOrders drops repeated GUIDs. The last copy wins but keeps the
// position of the first.
// truncateError cuts msg to at most limit bytes without splitting a rune,
// since text columns reject invalid UTF-8.
func truncateError(msg string, limit int) string {
	msg = strings.ToValidUTF8(msg, "\uFFFD")
	if len(msg) <= limit {
		return msg
	}
	msg = msg[:limit]
	for len(msg) > 0 && !utf8.ValidString(msg) {
		msg = msg[:len(msg)-1]
	}
	return msg
}

func dedupeOrders(orders []RawOrder) []RawOrder {
	position := make(map[string]int, len(orders))
	out := make([]RawOrder, 0, len(orders))
	for _, order := range orders {
		if i, seen := position[order.GUID]; seen && order.GUID != "" {
			out[i] = order
			continue
		}
		position[order.GUID] = len(out)
		out = append(out, order)
	}
	return out
}
