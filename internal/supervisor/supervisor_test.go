package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"caldup/internal/dom"
	"caldup/internal/model"
	"caldup/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePage is an in-memory dom.Collaborator with scriptable readiness,
// event cards and liveness.
type fakePage struct {
	mu       sync.Mutex
	ready    bool
	probes   int
	cards    []dom.Element
	dead     map[string]bool
	observer func(dom.Mutation)
}

func newFakePage(cards ...dom.Element) *fakePage {
	return &fakePage{ready: true, cards: cards, dead: map[string]bool{}}
}

func (f *fakePage) QueryAll(_ context.Context, selector string) ([]dom.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch selector {
	case "#ready":
		f.probes++
		if f.ready {
			return []dom.Element{{Ref: "root"}}, nil
		}
	case "#cards":
		out := make([]dom.Element, len(f.cards))
		copy(out, f.cards)
		return out, nil
	}
	return nil, nil
}

func (f *fakePage) SimulateClick(context.Context, string) error { return nil }

func (f *fakePage) IsLive(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[ref], nil
}

func (f *fakePage) BoundingBox(context.Context, string) (dom.Box, error) {
	return dom.Box{}, nil
}

func (f *fakePage) Observe(_ context.Context, _ string, cb func(dom.Mutation)) (func(), error) {
	f.mu.Lock()
	f.observer = cb
	f.mu.Unlock()
	return func() {}, nil
}

func (f *fakePage) mutate(m dom.Mutation) {
	f.mu.Lock()
	cb := f.observer
	f.mu.Unlock()
	if cb != nil {
		cb(m)
	}
}

func (f *fakePage) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes
}

func (f *fakePage) setReady(ready bool) {
	f.mu.Lock()
	f.ready = ready
	f.mu.Unlock()
}

func (f *fakePage) setCards(cards ...dom.Element) {
	f.mu.Lock()
	f.cards = cards
	f.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testOptions(clock *fakeClock) Options {
	return Options{
		Config: model.ResilienceConfig{
			MaxRetries:          3,
			RetryDelay:          time.Millisecond,
			HealthCheckInterval: time.Hour,
			MaxErrorCount:       3,
			StaleEventThreshold: 5 * time.Minute,
			EnhancementTimeout:  time.Second,
		},
		ReadySelectors:     []string{"#ready"},
		EventCardSelectors: []string{"#cards"},
		Debounce:           5 * time.Millisecond,
		RecoveryDelay:      time.Hour,
		Clock:              clock.Now,
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStart_EnhancesExistingCards(t *testing.T) {
	page := newFakePage(
		dom.Element{Ref: "r1", EventID: "ev-1"},
		dom.Element{Ref: "r2", EventID: "ev-2"},
	)
	clock := &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	reg := registry.New()

	var enhanced []string
	var mu sync.Mutex
	opts := testOptions(clock)
	opts.Enhance = func(_ context.Context, el dom.Element) error {
		mu.Lock()
		enhanced = append(enhanced, el.Ref)
		mu.Unlock()
		return nil
	}

	sup := New(page, reg, opts)
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	assert.Equal(t, 2, reg.Len())
	rec, ok := reg.Get("ev-1")
	require.True(t, ok)
	assert.Equal(t, "r1", rec.ElementRef)
	assert.True(t, rec.HasCustomUI)

	h := sup.Health()
	assert.True(t, h.IsHealthy)
	assert.Equal(t, 2, h.TotalEnhanced)
	assert.Zero(t, h.FailedEnhancements)

	mu.Lock()
	assert.ElementsMatch(t, []string{"r1", "r2"}, enhanced)
	mu.Unlock()
}

func TestStart_InitializationTimeoutAfterRetries(t *testing.T) {
	page := newFakePage()
	page.ready = false
	clock := &fakeClock{now: time.Now()}

	sup := New(page, registry.New(), testOptions(clock))
	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitializationTimeout)
	assert.Equal(t, 3, page.probeCount())

	// Stop must cancel the delayed recovery attempt.
	sup.Stop()
}

func TestStart_Idempotent(t *testing.T) {
	page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
	clock := &fakeClock{now: time.Now()}

	sup := New(page, registry.New(), testOptions(clock))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	require.NoError(t, sup.Start(context.Background()))
	assert.Equal(t, 1, sup.Registry().Len())
}

func TestEnhance_HookFailureCountsAgainstHealth(t *testing.T) {
	page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
	clock := &fakeClock{now: time.Now()}

	opts := testOptions(clock)
	opts.Enhance = func(context.Context, dom.Element) error {
		return errors.New("injection rejected")
	}

	reg := registry.New()
	sup := New(page, reg, opts)
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	h := sup.Health()
	assert.Equal(t, 1, h.FailedEnhancements)
	assert.Equal(t, 1, h.ErrorCount)
	assert.Zero(t, h.TotalEnhanced)

	// The record stays tracked so removal and staleness still apply, but
	// it never gets the custom UI flag.
	rec, ok := reg.Get("ev-1")
	require.True(t, ok)
	assert.False(t, rec.HasCustomUI)
}

func TestEnhance_TimeoutCountsAsFailure(t *testing.T) {
	page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
	clock := &fakeClock{now: time.Now()}

	opts := testOptions(clock)
	opts.Config.EnhancementTimeout = 20 * time.Millisecond
	opts.Enhance = func(ctx context.Context, _ dom.Element) error {
		<-ctx.Done()
		return ctx.Err()
	}

	sup := New(page, registry.New(), opts)
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	h := sup.Health()
	assert.Equal(t, 1, h.FailedEnhancements)
	assert.Zero(t, h.TotalEnhanced)
}

func TestMutationBatch_AddRemoveTouch(t *testing.T) {
	page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
	clock := &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	reg := registry.New()

	sup := New(page, reg, testOptions(clock))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()
	require.Equal(t, 1, reg.Len())

	// A removal notification for the tracked element drops its record.
	page.mutate(dom.Mutation{Kind: dom.NodeRemoved, Ref: "r1"})
	waitUntil(t, func() bool { return reg.Len() == 0 })

	// An added notification for a known card re-tracks it.
	page.mutate(dom.Mutation{Kind: dom.NodeAdded, Ref: "r1"})
	waitUntil(t, func() bool { return reg.Len() == 1 })

	// An attribute change refreshes lastSeen without creating anything.
	clock.Advance(time.Minute)
	page.mutate(dom.Mutation{Kind: dom.AttrChanged, Ref: "r1"})
	waitUntil(t, func() bool {
		rec, ok := reg.Get("ev-1")
		return ok && rec.LastSeen.Equal(clock.Now())
	})
	assert.Equal(t, 1, reg.Len())
}

func TestHealthCheck_EvictsStaleRecords(t *testing.T) {
	page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
	clock := &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	reg := registry.New()

	sup := New(page, reg, testOptions(clock))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()
	require.Equal(t, 1, reg.Len())

	clock.Advance(5*time.Minute + time.Second)
	sup.HealthCheck(context.Background())

	assert.Equal(t, 0, reg.Len())
	assert.True(t, sup.Health().LastHealthCheck.Equal(clock.Now()))
}

func TestHealthCheck_SweepsDeadElements(t *testing.T) {
	page := newFakePage(
		dom.Element{Ref: "r1", EventID: "ev-1"},
		dom.Element{Ref: "r2", EventID: "ev-2"},
	)
	clock := &fakeClock{now: time.Now()}
	reg := registry.New()

	sup := New(page, reg, testOptions(clock))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()
	require.Equal(t, 2, reg.Len())

	page.mu.Lock()
	page.dead["r1"] = true
	page.mu.Unlock()

	sup.HealthCheck(context.Background())

	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Get("ev-1")
	assert.False(t, ok)
	_, ok = reg.Get("ev-2")
	assert.True(t, ok)
}

func TestHealthCheck_ErrorCountTripsRecovery(t *testing.T) {
	page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
	clock := &fakeClock{now: time.Now()}
	reg := registry.New()

	sup := New(page, reg, testOptions(clock))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	for i := 0; i < 3; i++ {
		sup.RecordError(errors.New("workflow failure"))
	}
	require.Equal(t, 3, sup.Health().ErrorCount)

	sup.HealthCheck(context.Background())

	// Recovery resets counters to a clean baseline and re-tracks the
	// document's cards from scratch.
	h := sup.Health()
	assert.True(t, h.IsHealthy)
	assert.Zero(t, h.ErrorCount)
	assert.Equal(t, 1, reg.Len())
}

func TestDelayedRecovery_StartsHealthSchedule(t *testing.T) {
	page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
	page.ready = false
	clock := &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	reg := registry.New()

	opts := testOptions(clock)
	opts.RecoveryDelay = 20 * time.Millisecond

	sup := New(page, reg, opts)
	err := sup.Start(context.Background())
	require.ErrorIs(t, err, ErrInitializationTimeout)
	defer sup.Stop()

	// Host comes up after init gave up; the delayed recovery attempt must
	// bring the full feature online, health schedule included.
	page.setReady(true)
	waitUntil(t, func() bool { return reg.Len() == 1 })
	waitUntil(t, func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		return sup.sched != nil
	})

	// The recovered schedule drives eviction like a normal start would.
	clock.Advance(5*time.Minute + time.Second)
	sup.HealthCheck(context.Background())
	assert.Equal(t, 0, reg.Len())
}

func TestStop_DuringMutationBurstsDoesNotPanic(t *testing.T) {
	for i := 0; i < 50; i++ {
		page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
		clock := &fakeClock{now: time.Now()}

		opts := testOptions(clock)
		opts.Debounce = time.Millisecond

		sup := New(page, registry.New(), opts)
		require.NoError(t, sup.Start(context.Background()))

		done := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					page.mutate(dom.Mutation{Kind: dom.NodeAdded, Ref: "r1"})
				}
			}
		}()

		time.Sleep(2 * time.Millisecond)
		sup.Stop()
		close(done)
		wg.Wait()
	}
}

func TestRescan_ReenhancesRerenderedCard(t *testing.T) {
	page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
	clock := &fakeClock{now: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}
	reg := registry.New()

	var enhanced []string
	var mu sync.Mutex
	opts := testOptions(clock)
	opts.Enhance = func(_ context.Context, el dom.Element) error {
		mu.Lock()
		enhanced = append(enhanced, el.Ref)
		mu.Unlock()
		return nil
	}

	sup := New(page, reg, opts)
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	rec, ok := reg.Get("ev-1")
	require.True(t, ok)
	require.Equal(t, "r1", rec.ElementRef)
	require.True(t, rec.HasCustomUI)

	// The host re-renders the card: same event id behind a fresh node, so
	// the injected control is gone. A rescan must re-enhance it.
	page.setCards(dom.Element{Ref: "r2", EventID: "ev-1"})
	page.mutate(dom.Mutation{Kind: dom.NodeAdded, Ref: ""})

	waitUntil(t, func() bool {
		rec, ok := reg.Get("ev-1")
		return ok && rec.ElementRef == "r2" && rec.HasCustomUI
	})

	mu.Lock()
	assert.Equal(t, []string{"r1", "r2"}, enhanced)
	mu.Unlock()
}

func TestRecover_Idempotent(t *testing.T) {
	page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
	clock := &fakeClock{now: time.Now()}
	reg := registry.New()

	sup := New(page, reg, testOptions(clock))
	require.NoError(t, sup.Start(context.Background()))
	defer sup.Stop()

	require.NoError(t, sup.Recover(context.Background()))
	first := sup.Health()
	require.NoError(t, sup.Recover(context.Background()))
	second := sup.Health()

	assert.True(t, first.IsHealthy)
	assert.True(t, second.IsHealthy)
	assert.Zero(t, second.ErrorCount)
	assert.Equal(t, 1, reg.Len())
}

func TestStop_Idempotent(t *testing.T) {
	page := newFakePage(dom.Element{Ref: "r1", EventID: "ev-1"})
	clock := &fakeClock{now: time.Now()}

	sup := New(page, registry.New(), testOptions(clock))
	require.NoError(t, sup.Start(context.Background()))

	sup.Stop()
	sup.Stop()
}
