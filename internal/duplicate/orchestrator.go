// Package duplicate sequences a single "duplicate to tomorrow" workflow:
// open the detail surface, extract, shift dates, create, notify, clean up.
// The workflow short-circuits on the first hard failure; extraction alone
// is allowed to degrade instead of failing.
package duplicate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"caldup/internal/adjust"
	"caldup/internal/create"
	"caldup/internal/dom"
	"caldup/internal/extract"
	appLog "caldup/internal/log"
	"caldup/internal/model"
	"caldup/internal/notify"
	"caldup/internal/registry"
)

// Workflow errors.
var (
	// ErrRecordNotFound means the event id is not tracked.
	ErrRecordNotFound = errors.New("duplicate: record not found")

	// ErrElementDetached means the tracked element is no longer live; the
	// record is evicted as a side effect.
	ErrElementDetached = errors.New("duplicate: element detached")

	// ErrDetailSurfaceTimeout means the detail surface never appeared
	// within the bound after the simulated click.
	ErrDetailSurfaceTimeout = errors.New("duplicate: detail surface timeout")

	// ErrDuplicateInProgress rejects a second request for an id whose
	// workflow is still in flight. Requests are rejected, never queued.
	ErrDuplicateInProgress = errors.New("duplicate: duplication already in progress")
)

// State names a stage of the workflow; used in logs.
type State string

const (
	StateIdle           State = "idle"
	StateOpeningDetail  State = "opening-detail"
	StateExtracting     State = "extracting"
	StateAdjusting      State = "adjusting"
	StateCreating       State = "creating"
	StateNotifying      State = "notifying"
	StateClosingDetail  State = "closing-detail"
	StateRefreshingView State = "refreshing-view"
	StateAborted        State = "aborted"
)

// Defaults for workflow timing.
const (
	DefaultDetailTimeout = 5 * time.Second
	DefaultSettleDelay   = 300 * time.Millisecond
	detailPollInterval   = 100 * time.Millisecond
)

// Built-in selector candidates for the detail surface and its dismiss
// control, most specific first. Config may override both lists.
var (
	DefaultDetailSurfaceSelectors = []string{
		`[role="dialog"][data-eventchip]`,
		`[role="dialog"]`,
		".event-details",
		"#eventdialog",
	}
	DefaultDetailCloseSelectors = []string{
		`[role="dialog"] [aria-label="Close"]`,
		`[aria-label="Close"]`,
		".close-button",
	}
)

// Options tunes one orchestrator instance.
type Options struct {
	// DetailTimeout bounds the wait for the detail surface.
	DetailTimeout time.Duration

	// SettleDelay is the pause after interactions, letting host-page
	// animations finish before the next step reads the DOM.
	SettleDelay time.Duration

	DetailSurfaceSelectors []string
	DetailCloseSelectors   []string

	// FallbackDate infers the record's calendar date when surface text
	// omits it; nil means "today" in Location.
	FallbackDate func(ctx context.Context, rec model.EventRecord) (time.Time, bool)

	// Refresh re-renders the host view after a successful creation; nil
	// skips the step. Failures are logged, never escalated.
	Refresh func(ctx context.Context) error

	// Location is the zone for fallback dates; nil means time.Local.
	Location *time.Location

	// OnError observes workflow failures (the supervisor's error
	// counter); nil is fine.
	OnError func(err error)
}

func (o *Options) normalize() {
	if o.DetailTimeout <= 0 {
		o.DetailTimeout = DefaultDetailTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if len(o.DetailSurfaceSelectors) == 0 {
		o.DetailSurfaceSelectors = DefaultDetailSurfaceSelectors
	}
	if len(o.DetailCloseSelectors) == 0 {
		o.DetailCloseSelectors = DefaultDetailCloseSelectors
	}
	if o.Location == nil {
		o.Location = time.Local
	}
}

// Orchestrator runs duplication workflows. At most one workflow per event
// id is in flight at a time.
type Orchestrator struct {
	dom      dom.Collaborator
	surfaces dom.SurfaceReader
	creator  create.Creator
	sink     notify.Sink
	reg      *registry.Registry
	artifact *create.ArtifactWriter
	opts     Options

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New builds an orchestrator. artifact may be nil.
func New(collab dom.Collaborator, surfaces dom.SurfaceReader, creator create.Creator,
	sink notify.Sink, reg *registry.Registry, artifact *create.ArtifactWriter, opts Options) *Orchestrator {
	opts.normalize()
	return &Orchestrator{
		dom:      collab,
		surfaces: surfaces,
		creator:  creator,
		sink:     sink,
		reg:      reg,
		artifact: artifact,
		opts:     opts,
		inFlight: make(map[string]struct{}),
	}
}

// Duplicate runs the full workflow for the tracked event id. Every call
// ends in exactly one notification: success once creation succeeded,
// error otherwise.
func (o *Orchestrator) Duplicate(ctx context.Context, id string) error {
	if !o.acquire(id) {
		err := fmt.Errorf("%w: %s", ErrDuplicateInProgress, id)
		o.sink.Notify("Duplication already running for this event", notify.Error)
		return err
	}
	defer o.release(id)

	details, err := o.run(ctx, id)
	if err != nil {
		o.logState(id, StateAborted)
		if o.opts.OnError != nil {
			o.opts.OnError(err)
		}
		o.sink.Notify(userMessage(err), notify.Error)
		return err
	}

	o.logState(id, StateNotifying)
	o.sink.Notify(fmt.Sprintf("Duplicated %q to tomorrow", details.Title), notify.Success)

	// Past this point the duplication already succeeded; cleanup failures
	// are logged and swallowed.
	o.closeDetail(ctx, id)
	o.refreshView(ctx, id)
	o.logState(id, StateIdle)
	return nil
}

// run executes the fallible stages and returns the adjusted record that
// was created.
func (o *Orchestrator) run(ctx context.Context, id string) (model.EventDetails, error) {
	var none model.EventDetails

	// OpeningDetail: locate the record and re-validate element liveness
	// before dereferencing the ref.
	o.logState(id, StateOpeningDetail)
	rec, ok := o.reg.Get(id)
	if !ok {
		return none, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	live, err := o.dom.IsLive(ctx, rec.ElementRef)
	if err != nil || !live {
		o.reg.Remove(id)
		return none, fmt.Errorf("%w: %s", ErrElementDetached, id)
	}

	surfaceRef, err := o.openDetail(ctx, rec)
	if err != nil {
		return none, err
	}

	// Extracting: failures degrade, they never abort.
	o.logState(id, StateExtracting)
	fallback := o.fallbackDate(ctx, rec)
	details := o.extractDetails(ctx, id, surfaceRef, fallback)

	// Adjusting: target is the extracted record's own date plus one day.
	o.logState(id, StateAdjusting)
	target, err := adjust.Tomorrow(details, fallback)
	if err != nil {
		return none, err
	}
	adjusted, err := adjust.Adjust(details, target)
	if err != nil {
		return none, err
	}

	o.logState(id, StateCreating)
	if err := o.creator.CreateEvent(ctx, adjusted); err != nil {
		return none, err
	}

	if o.artifact != nil {
		if _, err := o.artifact.Write(ctx, adjusted); err != nil {
			appLog.Error("ics artifact write failed", err, "event_id", id)
		}
	}
	return adjusted, nil
}

// openDetail clicks the tracked element and waits, bounded, for the detail
// surface to appear. Returns the surface's element ref.
func (o *Orchestrator) openDetail(ctx context.Context, rec model.EventRecord) (string, error) {
	if err := o.dom.SimulateClick(ctx, rec.ElementRef); err != nil {
		return "", fmt.Errorf("%w: click failed: %v", ErrElementDetached, err)
	}
	o.settle(ctx)

	deadline := time.Now().Add(o.opts.DetailTimeout)
	for {
		el, found, err := dom.ResolveOne(ctx, o.dom, o.opts.DetailSurfaceSelectors)
		if err == nil && found {
			return el.Ref, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("%w after %v", ErrDetailSurfaceTimeout, o.opts.DetailTimeout)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrDetailSurfaceTimeout, ctx.Err())
		case <-time.After(detailPollInterval):
		}
	}
}

// extractDetails reads the surface snapshot and extracts a structured
// record, degrading to defaults when the snapshot itself cannot be read.
func (o *Orchestrator) extractDetails(ctx context.Context, id, surfaceRef string, fallback time.Time) model.EventDetails {
	surface, err := o.surfaces.ReadSurface(ctx, surfaceRef)
	if err != nil {
		appLog.Error("surface read failed; using degraded defaults", err, "event_id", id)
		start := startOfDay(fallback)
		end := endOfDay(fallback)
		return model.EventDetails{
			ID:     id,
			Title:  extract.DefaultTitle,
			Start:  &start,
			End:    &end,
			AllDay: true,
		}
	}
	return extract.Details(surface, id, fallback)
}

func (o *Orchestrator) fallbackDate(ctx context.Context, rec model.EventRecord) time.Time {
	if o.opts.FallbackDate != nil {
		if d, ok := o.opts.FallbackDate(ctx, rec); ok {
			return d
		}
	}
	now := time.Now().In(o.opts.Location)
	return startOfDay(now)
}

// closeDetail dismisses the detail surface; best effort.
func (o *Orchestrator) closeDetail(ctx context.Context, id string) {
	o.logState(id, StateClosingDetail)
	o.settle(ctx)
	el, found, err := dom.ResolveOne(ctx, o.dom, o.opts.DetailCloseSelectors)
	if err != nil || !found {
		appLog.Debug("no close control found", "event_id", id)
		return
	}
	if err := o.dom.SimulateClick(ctx, el.Ref); err != nil {
		appLog.Error("detail close failed", err, "event_id", id)
	}
}

// refreshView asks the host view to re-render; best effort.
func (o *Orchestrator) refreshView(ctx context.Context, id string) {
	if o.opts.Refresh == nil {
		return
	}
	o.logState(id, StateRefreshingView)
	if err := o.opts.Refresh(ctx); err != nil {
		appLog.Error("view refresh failed", err, "event_id", id)
	}
}

func (o *Orchestrator) acquire(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[id]; busy {
		return false
	}
	o.inFlight[id] = struct{}{}
	return true
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, id)
}

// settle sleeps the settle delay, bailing early on context cancellation.
func (o *Orchestrator) settle(ctx context.Context) {
	if o.opts.SettleDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(o.opts.SettleDelay):
	}
}

func (o *Orchestrator) logState(id string, s State) {
	appLog.Debug("workflow state", "event_id", id, "state", string(s))
}

// userMessage maps workflow errors to the notification text shown to the
// user.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return "Could not find the event to duplicate"
	case errors.Is(err, ErrElementDetached):
		return "The event is no longer on screen"
	case errors.Is(err, ErrDetailSurfaceTimeout):
		return "Timed out opening the event details"
	case errors.Is(err, adjust.ErrInvalidTargetDate):
		return "Could not compute tomorrow's date for this event"
	case errors.Is(err, create.ErrCredentialMissing):
		return "Not signed in; could not create the event"
	default:
		return "Failed to create the duplicated event"
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}
