// internal/budget/budget.go
package budget

import (
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

// Evaluator checks scenario reports against budget thresholds. Budgets are
// metric name to maximum value; the global set is fixed at construction and
// scenarios overlay it per key.
type Evaluator struct {
	logger *zap.Logger
	global map[string]float64
	known  map[string]struct{}
}

func NewEvaluator(global map[string]float64, logger *zap.Logger) *Evaluator {
	known := make(map[string]struct{})
	for _, name := range schemas.KnownMetrics() {
		known[name] = struct{}{}
	}
	return &Evaluator{
		logger: logger.Named("budget"),
		global: global,
		known:  known,
	}
}

// Effective merges the global budgets with a scenario's own; the scenario
// wins per key. The result is a fresh map, never a view of either input.
func (e *Evaluator) Effective(scenario map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(e.global)+len(scenario))
	for name, limit := range e.global {
		merged[name] = limit
	}
	for name, limit := range scenario {
		merged[name] = limit
	}
	return merged
}

// UnknownKeys returns the budget keys that name no budgetable metric, sorted.
// Scenario loaders surface these as validation warnings.
func (e *Evaluator) UnknownKeys(budgets map[string]float64) []string {
	var unknown []string
	for name := range budgets {
		if _, ok := e.known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// Evaluate compares every budgeted metric the report actually observed
// against its effective threshold and returns the violations as
// human-readable strings. A metric the report never observed is not a
// violation. Unknown keys are warned about and skipped.
func (e *Evaluator) Evaluate(report *schemas.ScenarioReport, scenarioBudgets map[string]float64) []string {
	effective := e.Effective(scenarioBudgets)
	if len(effective) == 0 {
		return nil
	}

	names := make([]string, 0, len(effective))
	for name := range effective {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []string
	for _, name := range names {
		if _, ok := e.known[name]; !ok {
			e.logger.Warn("Budget references an unknown metric; skipping.",
				zap.String("scenario", report.Scenario),
				zap.String("metric", name))
			continue
		}

		actual, observed := report.MetricValue(name)
		if !observed {
			// Nothing to compare. Absence is a collection outcome, not a
			// budget failure.
			continue
		}

		limit := effective[name]
		if actual > limit {
			violations = append(violations, fmt.Sprintf(
				"scenario %q: %s %s exceeds budget %s",
				report.Scenario, name, formatValue(actual), formatValue(limit)))
		}
	}
	return violations
}

// formatValue renders a metric value without trailing zeros or scientific
// notation, so CLS scores and byte counts both read naturally.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
