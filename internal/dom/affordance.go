package dom

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chromedp/chromedp"
)

// InjectAffordance attaches the in-page duplicate control to the element
// behind ref. Clicks are queued in the page and collected by DrainClicks;
// the control itself is plain host-page DOM, so a re-render simply drops it
// and the element is re-enhanced on the next scan.
func (b *Browser) InjectAffordance(ctx context.Context, ref, eventID string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		if (el.querySelector('[data-caldup-btn]')) return true;
		const btn = document.createElement('button');
		btn.setAttribute('data-caldup-btn', '1');
		btn.type = 'button';
		btn.title = 'Duplicate to tomorrow';
		btn.textContent = '⧉';
		btn.style.cssText = 'margin-left:4px;cursor:pointer;border:none;background:transparent;font-size:inherit;';
		btn.addEventListener('click', (ev) => {
			ev.stopPropagation();
			ev.preventDefault();
			window.__caldupClicks = window.__caldupClicks || [];
			window.__caldupClicks.push(%s);
		});
		el.appendChild(btn);
		return true;
	})()`, strconv.Quote(refSelector(ref)), strconv.Quote(eventID))

	var ok bool
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("dom: affordance inject for %s failed: %w", ref, err)
	}
	if !ok {
		return fmt.Errorf("dom: affordance target %s not found", ref)
	}
	return nil
}

// DrainClicks returns and clears the queued affordance clicks (event ids)
// in click order.
func (b *Browser) DrainClicks(ctx context.Context) ([]string, error) {
	var ids []string
	drain := `(() => { const q = window.__caldupClicks || []; window.__caldupClicks = []; return q; })()`
	runCtx, cancel := b.bound(ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(drain, &ids)); err != nil {
		return nil, fmt.Errorf("dom: click drain failed: %w", err)
	}
	return ids, nil
}
