// internal/steps/executor.go
package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

// Page is the slice of a browser session the executor drives. *browser.Session
// satisfies it.
type Page interface {
	Run(ctx context.Context, actions ...chromedp.Action) error
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expression string, out interface{}) error
}

// StepError ties a failure to the step that raised it. Once one is raised the
// remaining steps of the scenario do not run.
type StepError struct {
	Index int
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Executor runs compiled scenario steps against a page, one at a time, each
// under its own deadline.
type Executor struct {
	logger *zap.Logger
	// navigateSettle runs after a navigate step's document becomes ready,
	// giving late subresources and paint work a window to land.
	navigateSettle time.Duration
}

func NewExecutor(logger *zap.Logger, navigateSettle time.Duration) *Executor {
	return &Executor{
		logger:         logger.Named("steps"),
		navigateSettle: navigateSettle,
	}
}

// ExecuteAll runs the steps in order and stops at the first failure. A failure
// is always reported as a *StepError naming the offender.
func (e *Executor) ExecuteAll(ctx context.Context, page Page, steps []schemas.Step) error {
	for i, step := range steps {
		e.logger.Debug("Executing step.",
			zap.Int("index", i),
			zap.String("step", step.String()),
			zap.Duration("timeout", step.Timeout()))

		start := time.Now()
		if err := e.execute(ctx, page, step); err != nil {
			return &StepError{Index: i, Step: step.String(), Err: err}
		}
		e.logger.Debug("Step complete.",
			zap.Int("index", i),
			zap.Duration("took", time.Since(start)))
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, page Page, step schemas.Step) error {
	// A selectorless wait is a plain pause for the step's own duration; a
	// deadline equal to the pause would race it, so it runs on the parent
	// context directly.
	if w, ok := step.(schemas.WaitStep); ok && w.Selector == "" {
		return sleepCtx(ctx, w.Timeout())
	}

	opCtx, cancel := context.WithTimeout(ctx, step.Timeout())
	defer cancel()

	var err error
	switch s := step.(type) {
	case schemas.NavigateStep:
		// The settle sleeps on the parent context: the step deadline covers
		// the navigation itself, not the fixed pause after it.
		if err = page.Navigate(opCtx, s.URL); err == nil {
			err = sleepCtx(ctx, e.navigateSettle)
		}
	case schemas.ClickStep:
		err = page.Run(opCtx,
			chromedp.WaitVisible(s.Selector, chromedp.ByQuery),
			chromedp.Click(s.Selector, chromedp.ByQuery),
		)
	case schemas.TypeStep:
		err = page.Run(opCtx,
			chromedp.WaitVisible(s.Selector, chromedp.ByQuery),
			chromedp.Focus(s.Selector, chromedp.ByQuery),
			chromedp.SendKeys(s.Selector, s.Text, chromedp.ByQuery),
		)
	case schemas.WaitStep:
		err = page.Run(opCtx, chromedp.WaitVisible(s.Selector, chromedp.ByQuery))
	case schemas.ScrollStep:
		err = page.Evaluate(opCtx, scrollToEndScript, nil)
	case schemas.HoverStep:
		err = e.hover(opCtx, page, s.Selector)
	default:
		// Compile seals the variant set; reaching this is a programming error.
		return fmt.Errorf("unhandled step kind %q", step.Kind())
	}

	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("timed out after %v: %w", step.Timeout(), opCtx.Err())
	}
	return err
}

// elementCenter holds the viewport coordinates hover dispatches to.
type elementCenter struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// centerScript resolves the center of the selector's first match. It returns
// null when the element is missing or has no layout box.
const centerScript = `(() => {
	const node = document.querySelector(%s);
	if (!node) return null;
	const rect = node.getBoundingClientRect();
	if (rect.width <= 0 || rect.height <= 0) return null;
	return { x: rect.left + rect.width / 2, y: rect.top + rect.height / 2 };
})()`

// hover waits for the element, measures its center and moves the pointer
// there with a raw CDP mouse event, which fires the page's hover handlers
// the way a real pointer would.
func (e *Executor) hover(ctx context.Context, page Page, selector string) error {
	if err := page.Run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return err
	}

	var center *elementCenter
	script := fmt.Sprintf(centerScript, jsonEncode(selector))
	if err := page.Evaluate(ctx, script, &center); err != nil {
		return fmt.Errorf("resolving center of %q: %w", selector, err)
	}
	if center == nil {
		// Visible a moment ago; the DOM moved underneath us.
		return fmt.Errorf("element %q has no layout box", selector)
	}

	return page.Run(ctx, input.DispatchMouseEvent(input.MouseMoved, center.X, center.Y))
}

// scrollToEndScript jumps to the document end and resolves after two
// animation frames so lazily loaded content gets a chance to start.
const scrollToEndScript = `(() => {
	window.scrollTo(0, document.documentElement.scrollHeight);
	return new Promise((resolve) => {
		requestAnimationFrame(() => requestAnimationFrame(resolve));
	});
})()`

// jsonEncode safely embeds a value, usually a selector, into a script.
func jsonEncode(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
