package dom

import (
	"sync"
	"time"
)

// DefaultDebounce is the window over which bursty host-page mutations are
// coalesced into one batch.
const DefaultDebounce = 150 * time.Millisecond

// Watcher coalesces raw mutation notifications into ordered batches. Rapid
// successive notifications reset the timer; when the window elapses the
// accumulated mutations are emitted as a single Batch with added-before-
// removed-before-attrs ordering. Batches are emitted in arrival order.
type Watcher struct {
	mu       sync.Mutex
	timer    *time.Timer
	pending  Batch
	emit     func(Batch)
	debounce time.Duration
	stopped  bool
}

// NewWatcher creates a Watcher emitting debounced batches to emit. A
// non-positive debounce falls back to DefaultDebounce.
func NewWatcher(debounce time.Duration, emit func(Batch)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		emit:     emit,
		debounce: debounce,
	}
}

// Notify records one raw mutation and (re)arms the debounce timer.
func (w *Watcher) Notify(m Mutation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	switch m.Kind {
	case NodeAdded:
		w.pending.Added = append(w.pending.Added, m)
	case NodeRemoved:
		w.pending.Removed = append(w.pending.Removed, m)
	case AttrChanged:
		w.pending.Attrs = append(w.pending.Attrs, m)
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// Flush emits any pending batch immediately, bypassing the timer.
func (w *Watcher) Flush() {
	w.flush()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	batch := w.pending
	w.pending = Batch{}
	stopped := w.stopped
	w.mu.Unlock()

	if stopped || batch.Empty() {
		return
	}
	// Emit outside the lock so the consumer may call back into Notify.
	w.emit(batch)
}

// Stop cancels any pending timer and drops unemitted mutations. The watcher
// accepts no further notifications afterwards. Safe to call repeatedly.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = Batch{}
}
