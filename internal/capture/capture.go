// Package capture writes diagnostic screenshots of the attached tab.
// Failed duplication workflows are hard to reconstruct from logs alone;
// a snapshot of the page at abort time usually explains them.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultTimeout bounds one snapshot.
const DefaultTimeout = 10 * time.Second

// Runner runs chromedp actions in an attached tab. Implemented by
// dom.Browser.
type Runner interface {
	Run(ctx context.Context, actions ...chromedp.Action) error
}

// Snapshot captures a full-page PNG into dir, named by tag and timestamp,
// and returns the written path. dir is created if needed.
func Snapshot(ctx context.Context, r Runner, dir, tag string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("capture: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("capture: mkdir failed: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var png []byte
	if err := r.Run(runCtx, chromedp.FullScreenshot(&png, 90)); err != nil {
		return "", fmt.Errorf("capture: screenshot failed: %w", err)
	}

	name := fmt.Sprintf("failure-%s-%s.png", tag, time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return "", fmt.Errorf("capture: write failed: %w", err)
	}
	return path, nil
}
