package dom

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Defaults for browser sessions.
const (
	DefaultNavTimeout   = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// refAttr is the attribute stamped onto host nodes to give them a stable
// handle. Refs survive re-renders only as long as the node itself does;
// callers re-validate with IsLive.
const refAttr = "data-caldup-ref"

// BrowserOptions configures a chromedp-backed browser session.
type BrowserOptions struct {
	// URL is the calendar application to attach to.
	URL string

	// Headless controls the Chromium headless flag.
	Headless bool

	// NavTimeout bounds the initial navigation. Zero means
	// DefaultNavTimeout.
	NavTimeout time.Duration

	// PollInterval is the mutation-queue drain period. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration
}

// Browser drives a headless Chromium tab and implements Collaborator and
// SurfaceReader against it.
type Browser struct {
	ctx          context.Context
	cancelTab    context.CancelFunc
	cancelAlloc  context.CancelFunc
	pollInterval time.Duration
}

// NewBrowser launches Chromium, navigates to opts.URL and waits for the
// document to become ready. Close must be called to tear the session down.
func NewBrowser(parent context.Context, opts BrowserOptions) (*Browser, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("dom: URL is required")
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = DefaultNavTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	b := &Browser{
		ctx:          tabCtx,
		cancelTab:    cancelTab,
		cancelAlloc:  cancelAlloc,
		pollInterval: opts.PollInterval,
	}

	navCtx, cancel := context.WithTimeout(tabCtx, opts.NavTimeout)
	defer cancel()

	if err := chromedp.Run(navCtx,
		chromedp.Navigate(opts.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		b.Close()
		return nil, fmt.Errorf("dom: initial navigation failed: %w", err)
	}

	return b, nil
}

// Close tears the browser session down.
func (b *Browser) Close() {
	if b.cancelTab != nil {
		b.cancelTab()
	}
	if b.cancelAlloc != nil {
		b.cancelAlloc()
	}
}

// Run executes chromedp actions in the attached tab, bounded by ctx.
func (b *Browser) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url in the attached tab and waits for body readiness.
func (b *Browser) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("dom: navigate failed: %w", err)
	}
	return nil
}

func refSelector(ref string) string {
	return `[` + refAttr + `=` + strconv.Quote(ref) + `]`
}

// QueryAll matches selector, stamping each hit with a stable ref attribute
// on first sight.
func (b *Browser) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	script := fmt.Sprintf(`(() => {
		const out = [];
		document.querySelectorAll(%s).forEach((el) => {
			let ref = el.getAttribute(%q);
			if (!ref) {
				window.__caldupSeq = (window.__caldupSeq || 0) + 1;
				ref = 'cd-' + window.__caldupSeq;
				el.setAttribute(%q, ref);
			}
			out.push({
				ref: ref,
				text: el.innerText || el.textContent || '',
				eventId: el.getAttribute('data-eventid') || el.getAttribute('data-event-id') || el.id || '',
				date: el.getAttribute('data-date') || (el.dataset ? (el.dataset.date || '') : ''),
			});
		});
		return out;
	})()`, strconv.Quote(selector), refAttr, refAttr)

	var out []Element
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &out)); err != nil {
		return nil, fmt.Errorf("dom: queryAll %q failed: %w", selector, err)
	}
	return out, nil
}

// SimulateClick dispatches a click on the element behind ref.
func (b *Browser) SimulateClick(ctx context.Context, ref string) error {
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Click(refSelector(ref), chromedp.ByQuery)); err != nil {
		return fmt.Errorf("dom: click on %s failed: %w", ref, err)
	}
	return nil
}

// IsLive reports whether ref still resolves to a connected node.
func (b *Browser) IsLive(ctx context.Context, ref string) (bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el !== null && el.isConnected;
	})()`, strconv.Quote(refSelector(ref)))

	var live bool
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &live)); err != nil {
		return false, fmt.Errorf("dom: liveness probe for %s failed: %w", ref, err)
	}
	return live, nil
}

// BoundingBox returns the page-coordinate box of the element behind ref.
func (b *Browser) BoundingBox(ctx context.Context, ref string) (Box, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return null;
		const r = el.getBoundingClientRect();
		return { x: r.x + window.scrollX, y: r.y + window.scrollY, width: r.width, height: r.height };
	})()`, strconv.Quote(refSelector(ref)))

	var box *Box
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &box)); err != nil {
		return Box{}, fmt.Errorf("dom: bounding box for %s failed: %w", ref, err)
	}
	if box == nil {
		return Box{}, fmt.Errorf("dom: element %s not found", ref)
	}
	return *box, nil
}

type rawMutation struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

// Observe installs a MutationObserver under root ("" for the whole
// document) that queues raw mutations in the page, then drains that queue
// on pollInterval and delivers each mutation to cb in arrival order.
func (b *Browser) Observe(ctx context.Context, root string, cb func(Mutation)) (func(), error) {
	rootExpr := "document.documentElement"
	if root != "" {
		rootExpr = "document.querySelector(" + strconv.Quote(root) + ")"
	}

	install := fmt.Sprintf(`(() => {
		if (window.__caldupObserver) window.__caldupObserver.disconnect();
		window.__caldupQueue = [];
		const refOf = (el) => (el && el.getAttribute) ? (el.getAttribute(%q) || '') : '';
		const obs = new MutationObserver((records) => {
			for (const rec of records) {
				if (rec.type === 'childList') {
					rec.addedNodes.forEach((n) => {
						if (n.nodeType === 1) window.__caldupQueue.push({ kind: 'added', ref: refOf(n) });
					});
					rec.removedNodes.forEach((n) => {
						if (n.nodeType === 1) window.__caldupQueue.push({ kind: 'removed', ref: refOf(n) });
					});
				} else if (rec.type === 'attributes') {
					window.__caldupQueue.push({ kind: 'attrs', ref: refOf(rec.target) });
				}
			}
		});
		const root = %s;
		if (!root) return false;
		obs.observe(root, { childList: true, subtree: true, attributes: true });
		window.__caldupObserver = obs;
		return true;
	})()`, refAttr, rootExpr)

	var ok bool
	installCtx, cancelInstall := b.bound(ctx)
	err := chromedp.Run(installCtx, chromedp.Evaluate(install, &ok))
	cancelInstall()
	if err != nil {
		return nil, fmt.Errorf("dom: observer install failed: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("dom: observer root %q not found", root)
	}

	drainCtx, cancelDrain := context.WithCancel(b.ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-drainCtx.Done():
				return
			case <-ticker.C:
				var queued []rawMutation
				drain := `(() => { const q = window.__caldupQueue || []; window.__caldupQueue = []; return q; })()`
				if err := chromedp.Run(drainCtx, chromedp.Evaluate(drain, &queued)); err != nil {
					continue
				}
				for _, m := range queued {
					switch m.Kind {
					case "added":
						cb(Mutation{Kind: NodeAdded, Ref: m.Ref})
					case "removed":
						cb(Mutation{Kind: NodeRemoved, Ref: m.Ref})
					case "attrs":
						cb(Mutation{Kind: AttrChanged, Ref: m.Ref})
					}
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancelDrain()
			<-done
			// Best effort: disconnect the page-side observer.
			disconnectCtx, cancel := context.WithTimeout(b.ctx, time.Second)
			defer cancel()
			var ignored bool
			_ = chromedp.Run(disconnectCtx, chromedp.Evaluate(
				`(() => { if (window.__caldupObserver) { window.__caldupObserver.disconnect(); window.__caldupObserver = null; } return true; })()`,
				&ignored))
		})
	}
	return stop, nil
}

// Surface-harvest candidate selectors, most specific/modern first.
var (
	headingSelectors     = []string{`[role="heading"]`, "h1", "h2", "h3", ".event-title", "[data-title]"}
	descriptionSelectors = []string{".event-description", `[data-description]`, ".description", "p"}
)

// ReadSurface snapshots the detail surface rooted at ref for the extractor.
func (b *Browser) ReadSurface(ctx context.Context, ref string) (Surface, error) {
	script := fmt.Sprintf(`(() => {
		const root = document.querySelector(%s);
		if (!root) return null;
		const texts = (sels) => {
			const out = [];
			for (const sel of sels) {
				root.querySelectorAll(sel).forEach((el) => {
					const t = (el.innerText || el.textContent || '').trim();
					if (t) out.push(t);
				});
			}
			return out;
		};
		const lines = [];
		const walker = document.createTreeWalker(root, NodeFilter.SHOW_TEXT);
		while (walker.nextNode()) {
			const t = walker.currentNode.textContent.trim();
			if (t) lines.push(t);
		}
		return {
			blob: root.innerText || root.textContent || '',
			headings: texts(%s),
			lines: lines,
			descriptions: texts(%s),
		};
	})()`, strconv.Quote(refSelector(ref)), jsStringArray(headingSelectors), jsStringArray(descriptionSelectors))

	var out *struct {
		Blob         string   `json:"blob"`
		Headings     []string `json:"headings"`
		Lines        []string `json:"lines"`
		Descriptions []string `json:"descriptions"`
	}
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &out)); err != nil {
		return Surface{}, fmt.Errorf("dom: surface read for %s failed: %w", ref, err)
	}
	if out == nil {
		return Surface{}, fmt.Errorf("dom: surface root %s not found", ref)
	}
	return Surface{
		Blob:         out.Blob,
		Headings:     out.Headings,
		Lines:        out.Lines,
		Descriptions: out.Descriptions,
	}, nil
}

// ReadStorage probes localStorage then sessionStorage for key.
func (b *Browser) ReadStorage(ctx context.Context, key string) (string, error) {
	script := fmt.Sprintf(`(() => {
		try {
			return window.localStorage.getItem(%[1]q) || window.sessionStorage.getItem(%[1]q) || '';
		} catch (e) {
			return '';
		}
	})()`, key)

	var val string
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &val)); err != nil {
		return "", fmt.Errorf("dom: storage read %q failed: %w", key, err)
	}
	return val, nil
}

// ReadCookie returns the named cookie's value, or "" when absent.
func (b *Browser) ReadCookie(ctx context.Context, name string) (string, error) {
	script := fmt.Sprintf(`(() => {
		const m = document.cookie.match('(?:^|; )' + %q + '=([^;]*)');
		return m ? decodeURIComponent(m[1]) : '';
	})()`, name)

	var val string
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &val)); err != nil {
		return "", fmt.Errorf("dom: cookie read %q failed: %w", name, err)
	}
	return val, nil
}

// bound ties a caller context to the tab context so either cancellation
// applies.
func (b *Browser) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithCancel(b.ctx)
	}
	runCtx, cancel := context.WithCancel(b.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func jsStringArray(items []string) string {
	out := "["
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += strconv.Quote(s)
	}
	return out + "]"
}
