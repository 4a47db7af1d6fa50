// internal/budget/budget_test.go
package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

func fptr(v float64) *float64 { return &v }

func reportWithVitals(name string, vitals schemas.WebVitals) *schemas.ScenarioReport {
	return &schemas.ScenarioReport{
		Scenario: name,
		Metrics:  vitals,
	}
}

func TestEffectiveScenarioWinsPerKey(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(map[string]float64{
		schemas.MetricLCP:  2500,
		schemas.MetricTTFB: 800,
	}, zaptest.NewLogger(t))

	merged := e.Effective(map[string]float64{
		schemas.MetricLCP: 4000,
		schemas.MetricCLS: 0.1,
	})

	assert.Equal(t, map[string]float64{
		schemas.MetricLCP:  4000,
		schemas.MetricTTFB: 800,
		schemas.MetricCLS:  0.1,
	}, merged)
}

func TestEffectiveCopiesInputs(t *testing.T) {
	t.Parallel()

	global := map[string]float64{schemas.MetricLCP: 2500}
	e := NewEvaluator(global, zaptest.NewLogger(t))

	merged := e.Effective(nil)
	merged[schemas.MetricLCP] = 1

	assert.Equal(t, 2500.0, global[schemas.MetricLCP], "merging must not write through to the global set")
}

func TestEvaluateFlagsExceededBudgets(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(map[string]float64{
		schemas.MetricLCP: 2500,
		schemas.MetricCLS: 0.1,
	}, zaptest.NewLogger(t))

	report := reportWithVitals("checkout", schemas.WebVitals{
		LCP: fptr(3120.5),
		CLS: fptr(0.25),
	})

	violations := e.Evaluate(report, nil)
	require.Len(t, violations, 2)
	// Sorted by metric name, so CLS first.
	assert.Equal(t, `scenario "checkout": CLS 0.25 exceeds budget 0.1`, violations[0])
	assert.Equal(t, `scenario "checkout": LCP 3120.5 exceeds budget 2500`, violations[1])
}

func TestEvaluateAtThresholdPasses(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(map[string]float64{schemas.MetricLCP: 2500}, zaptest.NewLogger(t))
	report := reportWithVitals("home", schemas.WebVitals{LCP: fptr(2500)})

	assert.Empty(t, e.Evaluate(report, nil), "a budget is a maximum, hitting it exactly is fine")
}

func TestEvaluateMissingMetricIsNotAViolation(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(map[string]float64{
		schemas.MetricINP: 200,
		schemas.MetricLCP: 2500,
	}, zaptest.NewLogger(t))

	// No interaction happened, INP was never observed.
	report := reportWithVitals("static-page", schemas.WebVitals{LCP: fptr(1000)})

	assert.Empty(t, e.Evaluate(report, nil))
}

func TestEvaluateScenarioOverrideRelaxesGlobal(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(map[string]float64{schemas.MetricLCP: 2500}, zaptest.NewLogger(t))
	report := reportWithVitals("heavy-dashboard", schemas.WebVitals{LCP: fptr(3800)})

	require.Len(t, e.Evaluate(report, nil), 1)
	assert.Empty(t, e.Evaluate(report, map[string]float64{schemas.MetricLCP: 4000}))
}

func TestEvaluateSkipsUnknownKeys(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(map[string]float64{"speedIndex": 3000}, zaptest.NewLogger(t))
	report := reportWithVitals("home", schemas.WebVitals{LCP: fptr(9999)})

	assert.Empty(t, e.Evaluate(report, nil), "unknown keys warn, they never violate")
}

func TestEvaluateNetworkBudgets(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(map[string]float64{
		schemas.MetricRequestCount: 50,
		schemas.MetricTransferSize: 1 << 20,
	}, zaptest.NewLogger(t))

	report := &schemas.ScenarioReport{
		Scenario: "gallery",
		Network: schemas.NetworkReport{
			Summary: schemas.NetworkSummary{
				RequestCount:      61,
				TotalTransferSize: 3 << 20,
			},
		},
	}

	violations := e.Evaluate(report, nil)
	require.Len(t, violations, 2)
	assert.Equal(t, `scenario "gallery": requestCount 61 exceeds budget 50`, violations[0])
	assert.Equal(t, `scenario "gallery": transferSize 3145728 exceeds budget 1048576`, violations[1])
}

func TestEvaluateNoBudgetsMeansNoViolations(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(nil, zaptest.NewLogger(t))
	report := reportWithVitals("any", schemas.WebVitals{LCP: fptr(99999)})

	assert.Empty(t, e.Evaluate(report, nil))
}

func TestUnknownKeys(t *testing.T) {
	t.Parallel()

	e := NewEvaluator(nil, zaptest.NewLogger(t))
	unknown := e.UnknownKeys(map[string]float64{
		"speedIndex":      3000,
		schemas.MetricLCP: 2500,
		"tbt":             200,
	})
	assert.Equal(t, []string{"speedIndex", "tbt"}, unknown)
}
