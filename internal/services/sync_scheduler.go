package services

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/posync/internal/logger"
)

const (
	DefaultSyncInterval = 60 * time.Second

	backoffBase     = time.Second
	backoffCap      = 32 * time.Second
	backoffJitterPc = 0.10
)

// SchedulerState is the scheduler status reported to observers.
type SchedulerState string

const (
	SchedulerIdle        SchedulerState = "idle"
	SchedulerSyncing     SchedulerState = "syncing"
	SchedulerSuccess     SchedulerState = "success"
	SchedulerError       SchedulerState = "error"
	SchedulerRateLimited SchedulerState = "rate-limited"
)

type schedulerMode int

const (
	modeStopped schedulerMode = iota
	modeWaiting
	modeRunning
)

func (m schedulerMode) String() string {
	switch m {
	case modeWaiting:
		return "waiting"
	case modeRunning:
		return "running"
	default:
		return "stopped"
	}
}

// SyncRunner performs one sync for a tenant.
type SyncRunner interface {
	Run(ctx context.Context, tenantID uuid.UUID) error
}

// Timer is a pending AfterFunc call.
type Timer interface {
	Stop() bool
}

// Clock abstracts time for the scheduler.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	State             SchedulerState `json:"state"`
	TenantID          *uuid.UUID     `json:"tenant_id,omitempty"`
	LastSyncAt        *time.Time     `json:"last_sync_at,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
	RateLimitAttempts int            `json:"rate_limit_attempts"`
	NextRunAt         *time.Time     `json:"next_run_at,omitempty"`
}

type eventKind int

const (
	eventSelect eventKind = iota
	eventDeselect
	eventVisibility
	eventTrigger
	eventTimer
	eventResult
)

type schedulerEvent struct {
	kind     eventKind
	tenantID uuid.UUID
	visible  bool
	timerGen uint64
	err      error
}

// SyncScheduler polls a SyncRunner for the selected tenant. All state is
// owned by the goroutine running Run; the public methods only send signals.
type SyncScheduler struct {
	runner   SyncRunner
	clock    Clock
	interval time.Duration
	jitter   func() float64
	logger   *zap.Logger
	onStatus func(SchedulerStatus)

	events chan schedulerEvent
	done   chan struct{}

	statusMu sync.RWMutex
	status   SchedulerStatus

	// loop state
	tenant   *uuid.UUID
	visible  bool
	mode     schedulerMode
	inFlight bool
	timer    Timer
	timerGen uint64
	attempts int
}

// SchedulerOption configures a SyncScheduler.
type SchedulerOption func(*SyncScheduler)

// WithSchedulerClock replaces the wall clock.
func WithSchedulerClock(c Clock) SchedulerOption {
	return func(s *SyncScheduler) { s.clock = c }
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *SyncScheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithJitterSource sets the source of backoff jitter. f must return values in [0, 1).
func WithJitterSource(f func() float64) SchedulerOption {
	return func(s *SyncScheduler) { s.jitter = f }
}

// WithSchedulerLogger sets the scheduler's logger.
func WithSchedulerLogger(l *zap.Logger) SchedulerOption {
	return func(s *SyncScheduler) { s.logger = l }
}

// OnStatus registers an observer called from the scheduler goroutine after
// every status change.
func OnStatus(f func(SchedulerStatus)) SchedulerOption {
	return func(s *SyncScheduler) { s.onStatus = f }
}

// NewSyncScheduler creates a scheduler. It is visible and has no tenant
// selected until SelectTenant is called.
func NewSyncScheduler(runner SyncRunner, opts ...SchedulerOption) *SyncScheduler {
	s := &SyncScheduler{
		runner:   runner,
		clock:    realClock{},
		interval: DefaultSyncInterval,
		jitter:   rand.Float64,
		events:   make(chan schedulerEvent, 16),
		done:     make(chan struct{}),
		visible:  true,
		status:   SchedulerStatus{State: SchedulerIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrGlobal(s.logger)
	return s
}

// SelectTenant makes id the active tenant and syncs it immediately.
func (s *SyncScheduler) SelectTenant(id uuid.UUID) {
	s.send(schedulerEvent{kind: eventSelect, tenantID: id})
}

// DeselectTenant stops polling. A run already in flight still completes.
func (s *SyncScheduler) DeselectTenant() {
	s.send(schedulerEvent{kind: eventDeselect})
}

// SetVisible suspends polling when false and resumes with an immediate sync
// when it becomes true again.
func (s *SyncScheduler) SetVisible(visible bool) {
	s.send(schedulerEvent{kind: eventVisibility, visible: visible})
}

// TriggerNow requests an immediate sync. It is a no-op while a run is in
// flight or a rate limit retry is pending.
func (s *SyncScheduler) TriggerNow() {
	s.send(schedulerEvent{kind: eventTrigger})
}

// Status returns the latest status snapshot.
func (s *SyncScheduler) Status() SchedulerStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Run processes signals until ctx is done.
func (s *SyncScheduler) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			return
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *SyncScheduler) send(ev schedulerEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *SyncScheduler) handle(ctx context.Context, ev schedulerEvent) {
	switch ev.kind {
	case eventSelect:
		id := ev.tenantID
		if s.tenant == nil || *s.tenant != id {
			s.attempts = 0
		}
		s.tenant = &id
		s.updateStatus(func(st *SchedulerStatus) {
			st.TenantID = &id
			st.RateLimitAttempts = s.attempts
		})
		s.start(ctx)

	case eventDeselect:
		s.tenant = nil
		s.halt()

	case eventVisibility:
		wasVisible := s.visible
		s.visible = ev.visible
		if !ev.visible {
			s.halt()
		} else if !wasVisible {
			s.start(ctx)
		}

	case eventTrigger:
		if s.backingOff() {
			s.logger.Debug("manual sync ignored during rate limit backoff")
			return
		}
		s.start(ctx)

	case eventTimer:
		if ev.timerGen != s.timerGen {
			return
		}
		s.timer = nil
		s.start(ctx)

	case eventResult:
		s.finish(ctx, ev.tenantID, ev.err)
	}
}

// backingOff reports whether a rate limit retry timer is pending.
func (s *SyncScheduler) backingOff() bool {
	return s.timer != nil && s.Status().State == SchedulerRateLimited
}

func (s *SyncScheduler) active() bool {
	return s.tenant != nil && s.visible
}

// start begins a run unless one is in flight or polling is inactive.
func (s *SyncScheduler) start(ctx context.Context) {
	if !s.active() || s.inFlight {
		return
	}
	s.stopTimer()

	tenantID := *s.tenant
	s.inFlight = true
	s.mode = modeRunning
	s.updateStatus(func(st *SchedulerStatus) {
		st.State = SchedulerSyncing
		st.NextRunAt = nil
	})
	s.logger.Debug("sync started", zap.String("tenant_id", tenantID.String()), zap.Stringer("mode", s.mode))

	go func() {
		err := s.runner.Run(ctx, tenantID)
		s.send(schedulerEvent{kind: eventResult, tenantID: tenantID, err: err})
	}()
}

func (s *SyncScheduler) finish(ctx context.Context, tenantID uuid.UUID, err error) {
	s.inFlight = false
	now := s.clock.Now()

	var next time.Duration
	var rateErr *RateLimitedError
	switch {
	case err == nil:
		s.attempts = 0
		s.updateStatus(func(st *SchedulerStatus) {
			st.State = SchedulerSuccess
			st.LastSyncAt = &now
			st.LastError = ""
			st.RateLimitAttempts = 0
		})
		next = s.interval

	case errors.As(err, &rateErr):
		next = rateErr.RetryAfter
		if next <= 0 {
			next = s.backoff(s.attempts)
		}
		s.attempts++
		s.updateStatus(func(st *SchedulerStatus) {
			st.State = SchedulerRateLimited
			st.LastError = err.Error()
			st.RateLimitAttempts = s.attempts
		})
		s.logger.Warn("sync rate limited",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("attempt", s.attempts),
			zap.Duration("retry_in", next),
		)

	default:
		s.updateStatus(func(st *SchedulerStatus) {
			st.State = SchedulerError
			st.LastError = err.Error()
		})
		s.logger.Warn("sync failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
		next = s.interval
	}

	if !s.active() || *s.tenant != tenantID {
		s.mode = modeStopped
		s.updateStatus(func(st *SchedulerStatus) { st.NextRunAt = nil })
		if s.active() {
			// Tenant changed while the previous one was running.
			s.start(ctx)
		}
		return
	}
	s.schedule(next)
}

// backoff returns min(base·2^n, cap) plus up to 10% jitter.
func (s *SyncScheduler) backoff(n int) time.Duration {
	delay := backoffCap
	if n < 6 {
		delay = backoffBase << n
		if delay > backoffCap {
			delay = backoffCap
		}
	}
	return delay + time.Duration(float64(delay)*backoffJitterPc*s.jitter())
}

func (s *SyncScheduler) schedule(d time.Duration) {
	s.stopTimer()
	s.timerGen++
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(d, func() {
		s.send(schedulerEvent{kind: eventTimer, timerGen: gen})
	})
	s.mode = modeWaiting

	at := s.clock.Now().Add(d)
	s.updateStatus(func(st *SchedulerStatus) { st.NextRunAt = &at })
}

// halt cancels the pending timer. An in-flight run keeps going.
func (s *SyncScheduler) halt() {
	s.stopTimer()
	if !s.inFlight {
		s.mode = modeStopped
	}
	s.updateStatus(func(st *SchedulerStatus) {
		st.NextRunAt = nil
		if s.tenant == nil {
			st.TenantID = nil
		}
		if !s.inFlight && s.tenant == nil {
			st.State = SchedulerIdle
		}
	})
}

func (s *SyncScheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	// Invalidate any fire already queued by a stopped timer.
	s.timerGen++
}

func (s *SyncScheduler) updateStatus(mutate func(*SchedulerStatus)) {
	s.statusMu.Lock()
	mutate(&s.status)
	snapshot := s.status
	s.statusMu.Unlock()

	if s.onStatus != nil {
		s.onStatus(snapshot)
	}
}
