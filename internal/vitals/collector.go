// internal/vitals/collector.go
package vitals

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
	"github.com/xkilldash9x/caliper-cli/internal/config"
)

// pollInterval paces the bounded wait for a first paint metric.
const pollInterval = 250 * time.Millisecond

// Injector registers a script to run on every new document of a session.
type Injector interface {
	InjectOnNewDocument(ctx context.Context, script string) error
}

// Evaluator runs a script in the session's page and unmarshals its settled
// result.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, out interface{}) error
}

// Install registers the observer hooks with the session. It must run before
// the first navigation: paint signals can fire as early as the initial
// document load.
func Install(ctx context.Context, sess Injector) error {
	return sess.InjectOnNewDocument(ctx, InstallScript)
}

// pageState mirrors the page-side measurement session.
type pageState struct {
	FP     *float64          `json:"fp"`
	FCP    *float64          `json:"fcp"`
	LCP    *float64          `json:"lcp"`
	CLS    *float64          `json:"cls"`
	INP    *float64          `json:"inp"`
	Errors map[string]string `json:"errors"`
}

// hasPaint reports whether any paint-class metric has been observed yet.
func (s *pageState) hasPaint() bool {
	return s != nil && (s.FP != nil || s.FCP != nil || s.LCP != nil)
}

type navigationTiming struct {
	ResponseStart    float64 `json:"responseStart"`
	DOMContentLoaded float64 `json:"domContentLoaded"`
	LoadTime         float64 `json:"loadTime"`
	FirstPaint       float64 `json:"firstPaint"`
}

// Collector snapshots the measurement session a scenario's install left in
// the page.
type Collector struct {
	logger *zap.Logger
	cfg    config.VitalsConfig
}

func NewCollector(cfg config.VitalsConfig, logger *zap.Logger) *Collector {
	return &Collector{
		cfg:    cfg,
		logger: logger.Named("vitals"),
	}
}

// Collect waits out the settle delay, polls for observer output within the
// configured bound, then finalizes the page-side session and computes TTFB
// and the page-load timing from navigation timing. A page that produced no
// metrics yields an empty set, not an error; only context cancellation
// aborts collection.
func (c *Collector) Collect(ctx context.Context, page Evaluator) (schemas.WebVitals, schemas.PerformanceTiming, error) {
	var vitals schemas.WebVitals
	var perf schemas.PerformanceTiming

	if err := sleepCtx(ctx, c.cfg.SettleWait); err != nil {
		return vitals, perf, err
	}

	polled, err := c.waitForPaintMetric(ctx, page)
	if err != nil {
		return vitals, perf, err
	}

	// Finalize disconnects remaining hooks and resets the started flag so a
	// later install begins clean. The returned snapshot supersedes the poll.
	var snap *pageState
	if err := page.Evaluate(ctx, finalizeScript, &snap); err != nil {
		c.logger.Debug("Failed to finalize measurement session.", zap.Error(err))
	}
	if snap == nil {
		snap = polled
	}

	if snap != nil {
		for hook, msg := range snap.Errors {
			c.logger.Warn("Observer hook failed to register; metric omitted.",
				zap.String("hook", hook), zap.String("error", msg))
		}
		vitals.FCP = snap.FCP
		vitals.LCP = snap.LCP
		vitals.CLS = snap.CLS
		vitals.INP = snap.INP

		// A page that painted but never shifted scores a legitimate zero,
		// provided the layout-shift hook registered.
		if snap.hasPaint() && snap.CLS == nil {
			if _, failed := snap.Errors["cls"]; !failed {
				zero := 0.0
				vitals.CLS = &zero
			}
		}
	}

	// The fallback keys on the paint-class metrics: CLS and INP can be
	// legitimately absent on a page the observers covered fine, but a page
	// that rendered always paints.
	if !snap.hasPaint() {
		if c.cfg.AllowFallback {
			c.collectFallback(ctx, page, &vitals)
		} else {
			c.logger.Warn("No paint metric observed and the fallback is disabled; returning what the observers produced.")
		}
	}

	// TTFB is deterministic from navigation timing, independent of the
	// observer hooks.
	var nav *navigationTiming
	if err := page.Evaluate(ctx, navigationTimingScript, &nav); err != nil {
		c.logger.Warn("Failed to read navigation timing.", zap.Error(err))
	}
	if nav != nil {
		if nav.ResponseStart > 0 {
			ttfb := nav.ResponseStart
			vitals.TTFB = &ttfb
		}
		perf.LoadTime = nav.LoadTime
		perf.DOMContentLoaded = nav.DOMContentLoaded
		perf.FirstPaint = nav.FirstPaint
	}

	return vitals, perf, nil
}

// waitForPaintMetric polls the page until any paint metric appears or the
// configured bound elapses. The last observed state is returned either way.
func (c *Collector) waitForPaintMetric(ctx context.Context, page Evaluator) (*pageState, error) {
	deadline := time.NewTimer(c.cfg.ObserverWait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last *pageState
	for {
		var state *pageState
		if err := page.Evaluate(ctx, readStateScript, &state); err != nil {
			c.logger.Debug("Measurement session read failed.", zap.Error(err))
		} else if state != nil {
			last = state
		}
		if state.hasPaint() {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			c.logger.Debug("No paint metric within the observer wait.",
				zap.Duration("waited", c.cfg.ObserverWait))
			return last, nil
		case <-ticker.C:
		}
	}
}

func (c *Collector) collectFallback(ctx context.Context, page Evaluator, vitals *schemas.WebVitals) {
	c.logger.Info("Observers produced no metrics; trying the packaged fallback source.")
	var snap *pageState
	if err := page.Evaluate(ctx, fallbackScript, &snap); err != nil {
		c.logger.Warn("Fallback measurement failed.", zap.Error(err))
		return
	}
	if snap == nil {
		return
	}
	// Observed values win; the fallback only fills gaps.
	if vitals.FCP == nil {
		vitals.FCP = snap.FCP
	}
	if vitals.LCP == nil {
		vitals.LCP = snap.LCP
	}
	if vitals.CLS == nil {
		vitals.CLS = snap.CLS
	}
	if vitals.INP == nil {
		vitals.INP = snap.INP
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
