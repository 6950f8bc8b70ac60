package model

import "time"

// EventRecord tracks a single host calendar element that has been enhanced
// with duplication support. Records are owned exclusively by the registry;
// ElementRef is a weak back-reference into the host document and must be
// re-validated for liveness before every dereference.
type EventRecord struct {
	ID string

	// ElementRef is an opaque handle into the host document (a node
	// identifier understood by the DOM collaborator). It is never assumed
	// to outlive a DOM mutation.
	ElementRef string

	HasCustomUI bool
	LastSeen    time.Time
}

// EventDetails is the structured record recovered from a detail surface.
// It is a value type: the duplication workflow threads copies through each
// stage rather than mutating in place.
//
// Invariants:
//   - AllDay == true: Start/End (when present) sit on day boundaries.
//   - AllDay == false and both present: End >= Start.
type EventDetails struct {
	ID    string
	Title string

	Start *time.Time
	End   *time.Time

	AllDay bool

	Location    string
	Description string

	// RRule carries a recurrence rule recovered from the detail surface
	// ("RRULE:FREQ=WEEKLY;..." or parsed from prose like "Weekly on
	// Monday"). Empty when the event does not recur or the text could not
	// be read.
	RRule string
}

// Clone returns a deep copy; Start/End pointers are duplicated so the copy
// can be adjusted without touching the original.
func (d EventDetails) Clone() EventDetails {
	out := d
	if d.Start != nil {
		s := *d.Start
		out.Start = &s
	}
	if d.End != nil {
		e := *d.End
		out.End = &e
	}
	return out
}

// HealthState is process-wide health bookkeeping, mutated only by the
// supervisor and reset to a clean baseline on recovery.
type HealthState struct {
	IsHealthy       bool
	LastHealthCheck time.Time

	ErrorCount         int
	TotalEnhanced      int
	FailedEnhancements int
}

// Baseline returns the clean post-recovery health state.
func Baseline(now time.Time) HealthState {
	return HealthState{
		IsHealthy:       true,
		LastHealthCheck: now,
	}
}

// ErrorRate reports failed enhancements relative to total work, guarding
// against division by zero when nothing has been enhanced yet.
func (h HealthState) ErrorRate() float64 {
	total := h.TotalEnhanced
	if total < 1 {
		total = 1
	}
	return float64(h.FailedEnhancements) / float64(total)
}

// ResilienceConfig tunes retry, timeout and eviction policy. Immutable once
// the supervisor starts.
type ResilienceConfig struct {
	// MaxRetries bounds host-readiness detection attempts at startup.
	MaxRetries int

	// RetryDelay is the base backoff unit; attempt n waits RetryDelay * n.
	RetryDelay time.Duration

	// HealthCheckInterval is the period of the background health check.
	HealthCheckInterval time.Duration

	// MaxErrorCount trips the health check into recovery.
	MaxErrorCount int

	// StaleEventThreshold is the age past which an unseen record is evicted.
	StaleEventThreshold time.Duration

	// EnhancementTimeout bounds each per-element enhancement.
	EnhancementTimeout time.Duration
}

// DefaultResilienceConfig returns the tuning used when the config file does
// not override it.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxRetries:          10,
		RetryDelay:          500 * time.Millisecond,
		HealthCheckInterval: 30 * time.Second,
		MaxErrorCount:       5,
		StaleEventThreshold: 5 * time.Minute,
		EnhancementTimeout:  5 * time.Second,
	}
}

// Normalize fills zero values with defaults so partially-specified configs
// behave correctly.
func (c *ResilienceConfig) Normalize() {
	def := DefaultResilienceConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = def.HealthCheckInterval
	}
	if c.MaxErrorCount <= 0 {
		c.MaxErrorCount = def.MaxErrorCount
	}
	if c.StaleEventThreshold <= 0 {
		c.StaleEventThreshold = def.StaleEventThreshold
	}
	if c.EnhancementTimeout <= 0 {
		c.EnhancementTimeout = def.EnhancementTimeout
	}
}
