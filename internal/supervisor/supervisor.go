// Package supervisor keeps the long-lived, DOM-observing process alive
// against a host page that mutates unpredictably. It owns initialization
// retries, the mutation task queue, per-enhancement timeouts, periodic
// health checks with staleness eviction, and full-state recovery.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"caldup/internal/dom"
	appLog "caldup/internal/log"
	"caldup/internal/model"
	"caldup/internal/registry"
)

// Supervisor errors.
var (
	// ErrInitializationTimeout means host-readiness detection exhausted
	// its retries; the feature is disabled for this page load apart from
	// one delayed recovery attempt.
	ErrInitializationTimeout = errors.New("supervisor: host detection timed out")

	// ErrEnhancementTimeout means one element's enhancement overran its
	// deadline. Counts as a failure; never aborts the process.
	ErrEnhancementTimeout = errors.New("supervisor: enhancement timed out")
)

// errorRateTrip is the failure ratio at which the health check declares the
// process unhealthy and triggers recovery.
const errorRateTrip = 0.1

// Built-in candidates for host readiness and enhanceable event cards,
// most specific first.
var (
	DefaultReadySelectors = []string{
		`[role="main"]`,
		`[data-viewfamily]`,
		"body",
	}
	DefaultEventCardSelectors = []string{
		`[data-eventid]`,
		`[data-eventchip]`,
		".event-chip",
	}
)

const (
	defaultQueueSize     = 64
	defaultRecoveryDelay = 30 * time.Second
)

// Options configures a Supervisor instance.
type Options struct {
	Config model.ResilienceConfig

	ReadySelectors     []string
	EventCardSelectors []string

	// Debounce is the mutation coalescing window.
	Debounce time.Duration

	// QueueSize bounds the mutation batch queue; batches beyond the bound
	// are dropped (and logged) rather than blocking the watcher.
	QueueSize int

	// Enhance attaches the duplication affordance to a newly observed
	// element. The visual side lives outside the core; nil means
	// tracking-only enhancement.
	Enhance func(ctx context.Context, el dom.Element) error

	// RecoveryDelay is the wait before the single recovery attempt
	// scheduled after initialization gives up.
	RecoveryDelay time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (o *Options) normalize() {
	o.Config.Normalize()
	if len(o.ReadySelectors) == 0 {
		o.ReadySelectors = DefaultReadySelectors
	}
	if len(o.EventCardSelectors) == 0 {
		o.EventCardSelectors = DefaultEventCardSelectors
	}
	if o.Debounce <= 0 {
		o.Debounce = dom.DefaultDebounce
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.RecoveryDelay <= 0 {
		o.RecoveryDelay = defaultRecoveryDelay
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// Supervisor owns the registry, the health state and every background
// activity. Start and Stop bound its lifecycle; tests construct and tear
// down independent instances.
type Supervisor struct {
	collab dom.Collaborator
	reg    *registry.Registry
	opts   Options

	mu            sync.Mutex
	health        model.HealthState
	watcher       *dom.Watcher
	stopObserve   func()
	sched         *cron.Cron
	queue         chan dom.Batch
	consumerDone  chan struct{}
	recoveryTimer *time.Timer
	runCtx        context.Context
	cancelRun     context.CancelFunc
	started       bool
	stopped       bool
}

// New builds a supervisor over the given collaborator and registry.
func New(collab dom.Collaborator, reg *registry.Registry, opts Options) *Supervisor {
	opts.normalize()
	return &Supervisor{
		collab: collab,
		reg:    reg,
		opts:   opts,
		health: model.Baseline(opts.Clock()),
	}
}

// Registry exposes the supervised registry to the orchestrator wiring.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// Health returns a copy of the current health state.
func (s *Supervisor) Health() model.HealthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// RecordError bumps the process error counter; the orchestrator reports
// workflow failures through this.
func (s *Supervisor) RecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.ErrorCount++
	appLog.Debug("error recorded", "err", err, "error_count", s.health.ErrorCount)
}

// Start detects host readiness (with retries and linear backoff), then
// brings up the mutation pipeline, the health-check schedule and an
// initial document scan. Exhausting the retries disables the feature and
// schedules one delayed recovery attempt before returning
// ErrInitializationTimeout; the caller's process stays up either way.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.runCtx, s.cancelRun = context.WithCancel(ctx)
	runCtx := s.runCtx
	s.mu.Unlock()

	if err := s.awaitHostReady(runCtx); err != nil {
		appLog.Error("initialization failed; feature disabled for this page load", err)
		s.mu.Lock()
		s.recoveryTimer = time.AfterFunc(s.opts.RecoveryDelay, func() {
			if rerr := s.Recover(runCtx); rerr != nil {
				appLog.Error("delayed recovery attempt failed", rerr)
			}
		})
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.health = model.Baseline(s.opts.Clock())
	s.queue = make(chan dom.Batch, s.opts.QueueSize)
	s.consumerDone = make(chan struct{})
	s.mu.Unlock()

	go s.consume(runCtx)

	if err := s.attachWatcher(runCtx); err != nil {
		appLog.Error("mutation watcher attach failed", err)
	}
	s.startHealthSchedule()
	s.rescan(runCtx)

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	appLog.Info("supervisor started",
		"health_check_interval", s.opts.Config.HealthCheckInterval,
		"stale_threshold", s.opts.Config.StaleEventThreshold,
	)
	return nil
}

// Stop tears down every background activity: the health schedule, the
// mutation observer and watcher, the queue consumer and any pending
// recovery timer. Idempotent; no timers survive it.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true

	if s.recoveryTimer != nil {
		s.recoveryTimer.Stop()
		s.recoveryTimer = nil
	}
	sched := s.sched
	s.sched = nil
	stopObserve := s.stopObserve
	s.stopObserve = nil
	watcher := s.watcher
	s.watcher = nil
	cancel := s.cancelRun
	consumerDone := s.consumerDone
	s.mu.Unlock()

	if sched != nil {
		<-sched.Stop().Done()
	}
	if stopObserve != nil {
		stopObserve()
	}
	if watcher != nil {
		watcher.Stop()
	}
	// The consumer exits on context cancellation. The queue is deliberately
	// never closed: a watcher emit racing Stop may still send, and a send
	// on a live channel is harmless while a send on a closed one panics.
	if cancel != nil {
		cancel()
	}
	if consumerDone != nil {
		<-consumerDone
	}
	appLog.Info("supervisor stopped")
}

// awaitHostReady probes the ready selectors up to MaxRetries times with
// backoff RetryDelay × attempt between attempts.
func (s *Supervisor) awaitHostReady(ctx context.Context) error {
	cfg := s.opts.Config
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		matches, err := dom.Resolve(ctx, s.collab, s.opts.ReadySelectors)
		if err == nil && len(matches) > 0 {
			appLog.Debug("host ready", "attempt", attempt)
			return nil
		}
		if err != nil {
			appLog.Debug("readiness probe error", "attempt", attempt, "err", err)
		}
		if attempt == cfg.MaxRetries {
			break
		}
		backoff := cfg.RetryDelay * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrInitializationTimeout, ctx.Err())
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w after %d attempts", ErrInitializationTimeout, cfg.MaxRetries)
}

// attachWatcher wires the DOM observer through the debouncing watcher into
// the bounded batch queue.
func (s *Supervisor) attachWatcher(ctx context.Context) error {
	watcher := dom.NewWatcher(s.opts.Debounce, func(b dom.Batch) {
		s.mu.Lock()
		queue := s.queue
		stopped := s.stopped
		s.mu.Unlock()
		if stopped || queue == nil {
			return
		}
		select {
		case queue <- b:
		default:
			appLog.Error("mutation queue full; dropping batch", nil,
				"added", len(b.Added), "removed", len(b.Removed))
		}
	})

	stop, err := s.collab.Observe(ctx, "", watcher.Notify)
	if err != nil {
		watcher.Stop()
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.stopObserve = stop
	s.mu.Unlock()
	return nil
}

// consume drains mutation batches in arrival order. Within one batch the
// order is fixed: added elements first, removals second, attribute changes
// last.
func (s *Supervisor) consume(ctx context.Context) {
	defer close(s.consumerDone)
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-s.queue:
			if !ok {
				return
			}
			s.processBatch(ctx, batch)
		}
	}
}

func (s *Supervisor) processBatch(ctx context.Context, batch dom.Batch) {
	now := s.opts.Clock()

	for _, m := range batch.Added {
		if m.Ref == "" {
			// Untagged node: a fresh render. A rescan picks it up when it
			// matches the event-card shape.
			continue
		}
		s.enhanceRef(ctx, m.Ref)
	}
	for _, m := range batch.Removed {
		if m.Ref == "" {
			continue
		}
		if id := s.reg.RemoveByRef(m.Ref); id != "" {
			appLog.Debug("record removed with element", "event_id", id)
		}
	}
	for _, m := range batch.Attrs {
		if m.Ref != "" {
			s.reg.TouchByRef(m.Ref, now)
		}
	}

	// New content may carry untagged event cards; one scan per batch
	// keeps them from slipping through.
	if len(batch.Added) > 0 {
		s.rescan(ctx)
	}
}

// enhanceRef re-queries the element behind ref and enhances it if it still
// matches the event-card shape.
func (s *Supervisor) enhanceRef(ctx context.Context, ref string) {
	live, err := s.collab.IsLive(ctx, ref)
	if err != nil || !live {
		return
	}
	matches, err := dom.Resolve(ctx, s.collab, s.opts.EventCardSelectors)
	if err != nil {
		return
	}
	for _, el := range matches {
		if el.Ref == ref {
			s.enhance(ctx, el)
			return
		}
	}
}

// enhance tracks one event card and attaches its affordance, racing the
// work against the enhancement timeout. A timeout or hook failure counts
// against health but never stops the loop.
func (s *Supervisor) enhance(ctx context.Context, el dom.Element) {
	id := el.EventID
	if id == "" {
		id = el.Ref
	}
	now := s.opts.Clock()
	created := s.reg.Track(id, el.Ref, now)

	if !created {
		return
	}

	err := s.runEnhanceHook(ctx, el)
	s.mu.Lock()
	if err != nil {
		s.health.FailedEnhancements++
		s.health.ErrorCount++
		s.mu.Unlock()
		appLog.Error("enhancement failed", err, "event_id", id)
		return
	}
	s.health.TotalEnhanced++
	s.mu.Unlock()

	s.reg.MarkCustomUI(id)
	appLog.Debug("element enhanced", "event_id", id)
}

func (s *Supervisor) runEnhanceHook(ctx context.Context, el dom.Element) error {
	if s.opts.Enhance == nil {
		return nil
	}
	hookCtx, cancel := context.WithTimeout(ctx, s.opts.Config.EnhancementTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.opts.Enhance(hookCtx, el) }()

	select {
	case err := <-done:
		return err
	case <-hookCtx.Done():
		return fmt.Errorf("%w after %v", ErrEnhancementTimeout, s.opts.Config.EnhancementTimeout)
	}
}

// rescan walks the whole document for enhanceable elements. Used at
// startup, after recovery, and when a batch adds untagged content.
func (s *Supervisor) rescan(ctx context.Context) {
	matches, err := dom.Resolve(ctx, s.collab, s.opts.EventCardSelectors)
	if err != nil {
		appLog.Error("document rescan failed", err)
		return
	}
	now := s.opts.Clock()
	for _, el := range matches {
		id := el.EventID
		if id == "" {
			id = el.Ref
		}
		if rec, tracked := s.reg.Get(id); tracked {
			if rec.ElementRef == el.Ref {
				s.reg.Touch(id, now)
				continue
			}
			// Same event behind a new node: the host re-rendered the card
			// and dropped the injected control with it. Re-enhance under
			// the fresh ref.
			s.reg.Remove(id)
		}
		s.enhance(ctx, el)
	}
}

// startHealthSchedule runs the health check every HealthCheckInterval.
func (s *Supervisor) startHealthSchedule() {
	sched := cron.New()
	spec := fmt.Sprintf("@every %s", s.opts.Config.HealthCheckInterval)
	if _, err := sched.AddFunc(spec, func() {
		s.HealthCheck(context.Background())
	}); err != nil {
		appLog.Error("health schedule failed", err, "spec", spec)
		return
	}
	sched.Start()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-sched.Stop().Done()
		return
	}
	s.sched = sched
	s.mu.Unlock()
}

// HealthCheck evicts stale and dead records, recomputes the error rate and
// triggers recovery when the process has tipped past its thresholds.
func (s *Supervisor) HealthCheck(ctx context.Context) {
	now := s.opts.Clock()
	cfg := s.opts.Config

	evicted := s.reg.EvictStale(now, cfg.StaleEventThreshold)
	if len(evicted) > 0 {
		appLog.Info("stale records evicted", "count", len(evicted))
	}

	// Liveness sweep: drop records whose backing element left the
	// document without a removal notification.
	for _, rec := range s.reg.Snapshot() {
		live, err := s.collab.IsLive(ctx, rec.ElementRef)
		if err == nil && !live {
			s.reg.Remove(rec.ID)
		}
	}

	s.mu.Lock()
	s.health.LastHealthCheck = now
	rate := s.health.ErrorRate()
	unhealthy := rate >= errorRateTrip || s.health.ErrorCount >= cfg.MaxErrorCount
	if unhealthy {
		s.health.IsHealthy = false
	}
	s.mu.Unlock()

	appLog.Debug("health check",
		"error_rate", rate,
		"tracked", s.reg.Len(),
		"healthy", !unhealthy,
	)

	if unhealthy {
		if err := s.Recover(ctx); err != nil {
			appLog.Error("recovery failed", err)
		}
	}
}

// Recover resets the process to a clean baseline: counters zeroed, the
// registry cleared, the mutation watcher recreated, and the document
// rescanned. Idempotent and safe to invoke repeatedly.
func (s *Supervisor) Recover(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if s.recoveryTimer != nil {
		s.recoveryTimer.Stop()
		s.recoveryTimer = nil
	}
	stopObserve := s.stopObserve
	s.stopObserve = nil
	watcher := s.watcher
	s.watcher = nil
	s.health = model.Baseline(s.opts.Clock())
	if s.queue == nil {
		s.queue = make(chan dom.Batch, s.opts.QueueSize)
		s.consumerDone = make(chan struct{})
		go s.consume(s.runCtx)
	}
	runCtx := s.runCtx
	s.mu.Unlock()

	appLog.Info("recovery started")

	if stopObserve != nil {
		stopObserve()
	}
	if watcher != nil {
		watcher.Stop()
	}

	s.reg.Clear()

	if runCtx == nil {
		runCtx = ctx
	}
	if err := s.attachWatcher(runCtx); err != nil {
		return fmt.Errorf("supervisor: watcher recreate failed: %w", err)
	}
	s.rescan(runCtx)

	// Recovery after a failed Start is the first time the feature comes
	// up; the health schedule does not exist yet on that path.
	s.mu.Lock()
	needSched := s.sched == nil
	s.started = true
	s.mu.Unlock()
	if needSched {
		s.startHealthSchedule()
	}

	appLog.Info("recovery complete", "tracked", s.reg.Len())
	return nil
}
