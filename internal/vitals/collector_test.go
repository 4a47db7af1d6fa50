// internal/vitals/collector_test.go
package vitals

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/caliper-cli/internal/config"
)

// fakePage scripts the page side of a collection: canned JSON payloads per
// script, with the read sequence advancing per call.
type fakePage struct {
	mu       sync.Mutex
	stateSeq []string // readStateScript responses; the last one repeats
	finalize string
	nav      string
	fallback string
	calls    map[string]int
}

func (f *fakePage) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakePage) Evaluate(_ context.Context, expr string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}

	orNull := func(s string) string {
		if s == "" {
			return "null"
		}
		return s
	}

	var payload string
	switch expr {
	case readStateScript:
		idx := f.calls["read"]
		f.calls["read"]++
		switch {
		case len(f.stateSeq) == 0:
			payload = "null"
		case idx >= len(f.stateSeq):
			payload = f.stateSeq[len(f.stateSeq)-1]
		default:
			payload = f.stateSeq[idx]
		}
	case finalizeScript:
		f.calls["finalize"]++
		payload = orNull(f.finalize)
	case navigationTimingScript:
		f.calls["nav"]++
		payload = orNull(f.nav)
	case fallbackScript:
		f.calls["fallback"]++
		payload = orNull(f.fallback)
	default:
		return fmt.Errorf("unexpected script: %.40s", expr)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(payload), out)
}

func newTestCollector(t *testing.T, cfg config.VitalsConfig) *Collector {
	t.Helper()
	return NewCollector(cfg, zaptest.NewLogger(t))
}

func fastVitalsConfig() config.VitalsConfig {
	return config.VitalsConfig{
		SettleWait:    time.Millisecond,
		ObserverWait:  100 * time.Millisecond,
		AllowFallback: true,
	}
}

func TestCollectHappyPath(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		stateSeq: []string{`{"fp":280.0,"fcp":321.5,"lcp":null,"cls":0,"inp":null,"errors":{}}`},
		finalize: `{"fp":280.0,"fcp":321.5,"lcp":1180.2,"cls":0.05,"inp":null,"errors":{}}`,
		nav:      `{"responseStart":120.5,"domContentLoaded":500,"loadTime":900,"firstPaint":280}`,
	}
	c := newTestCollector(t, fastVitalsConfig())

	vitals, perf, err := c.Collect(context.Background(), page)
	require.NoError(t, err)

	require.NotNil(t, vitals.FCP)
	assert.InDelta(t, 321.5, *vitals.FCP, 0.01)
	require.NotNil(t, vitals.LCP)
	assert.InDelta(t, 1180.2, *vitals.LCP, 0.01)
	require.NotNil(t, vitals.CLS)
	assert.InDelta(t, 0.05, *vitals.CLS, 0.001)
	assert.Nil(t, vitals.INP, "no interaction means no INP, not zero")
	require.NotNil(t, vitals.TTFB)
	assert.InDelta(t, 120.5, *vitals.TTFB, 0.01)

	assert.InDelta(t, 900, perf.LoadTime, 0.01)
	assert.InDelta(t, 500, perf.DOMContentLoaded, 0.01)
	assert.InDelta(t, 280, perf.FirstPaint, 0.01)

	assert.Zero(t, page.count("fallback"), "fallback must not run when observers delivered")
	assert.Equal(t, 1, page.count("finalize"))
}

func TestCollectPollsUntilPaintAppears(t *testing.T) {
	t.Parallel()

	empty := `{"fp":null,"fcp":null,"lcp":null,"cls":0,"inp":null,"errors":{}}`
	ready := `{"fp":null,"fcp":450.0,"lcp":null,"cls":0,"inp":null,"errors":{}}`
	page := &fakePage{
		stateSeq: []string{empty, empty, ready},
		finalize: ready,
	}
	cfg := fastVitalsConfig()
	cfg.ObserverWait = 2 * time.Second
	c := newTestCollector(t, cfg)

	start := time.Now()
	vitals, _, err := c.Collect(context.Background(), page)
	require.NoError(t, err)

	require.NotNil(t, vitals.FCP)
	assert.InDelta(t, 450.0, *vitals.FCP, 0.01)
	assert.GreaterOrEqual(t, page.count("read"), 3)
	assert.Less(t, time.Since(start), cfg.ObserverWait, "poll must return as soon as a paint metric appears")
}

func TestCollectFallbackWhenObserversSilent(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		// installed flag already cleared: reads and finalize see nothing.
		fallback: `{"fp":100.0,"fcp":150.0,"lcp":900.0,"cls":null,"inp":null}`,
	}
	c := newTestCollector(t, fastVitalsConfig())

	vitals, _, err := c.Collect(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, 1, page.count("fallback"))
	require.NotNil(t, vitals.FCP)
	assert.InDelta(t, 150.0, *vitals.FCP, 0.01)
	require.NotNil(t, vitals.LCP)
	assert.InDelta(t, 900.0, *vitals.LCP, 0.01)
	assert.Nil(t, vitals.CLS)
}

func TestCollectFallbackFiresWhenPaintHooksFail(t *testing.T) {
	t.Parallel()

	// The layout-shift hook works, the paint-class ones never registered. A
	// CLS value alone must not satisfy the collection; the fallback still
	// runs for the paint metrics and leaves the observed CLS untouched.
	observed := `{"fp":null,"fcp":null,"lcp":null,"cls":0.12,"inp":null,"errors":{"paint":"ReferenceError","lcp":"ReferenceError"}}`
	page := &fakePage{
		stateSeq: []string{observed},
		finalize: observed,
		fallback: `{"fp":100.0,"fcp":150.0,"lcp":900.0,"cls":null,"inp":null}`,
	}
	c := newTestCollector(t, fastVitalsConfig())

	vitals, _, err := c.Collect(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, 1, page.count("fallback"))
	require.NotNil(t, vitals.FCP)
	assert.InDelta(t, 150.0, *vitals.FCP, 0.01)
	require.NotNil(t, vitals.LCP)
	assert.InDelta(t, 900.0, *vitals.LCP, 0.01)
	require.NotNil(t, vitals.CLS)
	assert.InDelta(t, 0.12, *vitals.CLS, 0.001, "the observed CLS survives the fallback")
}

func TestCollectScoresZeroCLSOnPaintedPage(t *testing.T) {
	t.Parallel()

	// Paint observed, layout-shift hook healthy, no shift ever reported: the
	// page legitimately scores zero rather than an absent metric.
	painted := `{"fp":280.0,"fcp":321.5,"lcp":null,"cls":null,"inp":null,"errors":{}}`
	page := &fakePage{
		stateSeq: []string{painted},
		finalize: painted,
	}
	c := newTestCollector(t, fastVitalsConfig())

	vitals, _, err := c.Collect(context.Background(), page)
	require.NoError(t, err)

	require.NotNil(t, vitals.CLS)
	assert.Zero(t, *vitals.CLS)
	assert.Zero(t, page.count("fallback"))
}

func TestCollectNoCLSScoreWhenHookFailed(t *testing.T) {
	t.Parallel()

	painted := `{"fp":null,"fcp":321.5,"lcp":null,"cls":null,"inp":null,"errors":{"cls":"TypeError: layout-shift unsupported"}}`
	page := &fakePage{
		stateSeq: []string{painted},
		finalize: painted,
	}
	c := newTestCollector(t, fastVitalsConfig())

	vitals, _, err := c.Collect(context.Background(), page)
	require.NoError(t, err)

	assert.Nil(t, vitals.CLS, "a failed layout-shift hook cannot vouch for a zero")
}

func TestCollectEmptySetWhenFallbackDisabled(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		nav: `{"responseStart":0,"domContentLoaded":0,"loadTime":0,"firstPaint":0}`,
	}
	cfg := fastVitalsConfig()
	cfg.AllowFallback = false
	c := newTestCollector(t, cfg)

	vitals, perf, err := c.Collect(context.Background(), page)
	require.NoError(t, err, "a silent page is not an error")

	assert.True(t, vitals.IsEmpty())
	assert.Nil(t, vitals.TTFB, "responseStart of 0 leaves TTFB undefined")
	assert.Zero(t, perf.LoadTime)
	assert.Zero(t, page.count("fallback"))
}

func TestCollectHookFailureLeavesMetricAbsent(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		stateSeq: []string{`{"fp":null,"fcp":300.0,"lcp":null,"cls":0,"inp":null,"errors":{"lcp":"ReferenceError: not supported"}}`},
		finalize: `{"fp":null,"fcp":300.0,"lcp":null,"cls":0,"inp":null,"errors":{"lcp":"ReferenceError: not supported"}}`,
	}
	c := newTestCollector(t, fastVitalsConfig())

	vitals, _, err := c.Collect(context.Background(), page)
	require.NoError(t, err)

	require.NotNil(t, vitals.FCP)
	assert.Nil(t, vitals.LCP, "a failed hook leaves its metric absent")
	require.NotNil(t, vitals.CLS)
	assert.Zero(t, *vitals.CLS)
}

func TestCollectAbortsOnContextCancellation(t *testing.T) {
	t.Parallel()

	cfg := fastVitalsConfig()
	cfg.SettleWait = 5 * time.Second
	c := newTestCollector(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := c.Collect(ctx, &fakePage{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeInjector struct {
	scripts []string
}

func (f *fakeInjector) InjectOnNewDocument(_ context.Context, script string) error {
	f.scripts = append(f.scripts, script)
	return nil
}

func TestInstallRegistersObserverScript(t *testing.T) {
	t.Parallel()

	inj := &fakeInjector{}
	require.NoError(t, Install(context.Background(), inj))
	require.Len(t, inj.scripts, 1)
	assert.Equal(t, InstallScript, inj.scripts[0])
}

// The three page-side scripts must agree on the session handle, and the
// install must be guarded against double evaluation.
func TestScriptsShareSessionHandle(t *testing.T) {
	t.Parallel()

	const handle = "__caliperVitals"
	for _, script := range []string{InstallScript, readStateScript, finalizeScript} {
		assert.Contains(t, script, handle)
	}
	assert.Contains(t, InstallScript, "installed")
}
