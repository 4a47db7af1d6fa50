// internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
	"github.com/xkilldash9x/caliper-cli/internal/budget"
	"github.com/xkilldash9x/caliper-cli/internal/config"
	"github.com/xkilldash9x/caliper-cli/internal/vcs"
)

// ErrNoScenarios is the only batch-fatal input.
var ErrNoScenarios = errors.New("no scenarios to run")

// scenarioRunner is what the batch loop needs from the orchestrator.
type scenarioRunner interface {
	Run(ctx context.Context, factory SessionFactory, sc *schemas.Scenario) schemas.ScenarioReport
}

// BatchRunner executes scenarios sequentially against one shared browser
// process, with per-scenario failure isolation and optional pacing between
// scenario starts.
type BatchRunner struct {
	logger  *zap.Logger
	cfg     *config.Config
	factory SessionFactory
	orch    scenarioRunner
	budgets *budget.Evaluator
	limiter *rate.Limiter
	repoDir string
}

func NewBatchRunner(cfg *config.Config, factory SessionFactory, logger *zap.Logger) *BatchRunner {
	r := &BatchRunner{
		logger:  logger.Named("runner"),
		cfg:     cfg,
		factory: factory,
		orch:    NewOrchestrator(cfg, logger),
		budgets: budget.NewEvaluator(cfg.Budgets.Global, logger),
		repoDir: ".",
	}
	if gap := cfg.Batch.ScenarioGap; gap > 0 {
		r.limiter = rate.NewLimiter(rate.Every(gap), 1)
	}
	return r
}

// RunAll runs every scenario and assembles the batch result. A failed
// scenario is counted and carried in the failure list, never in the report
// list, and never stops the batch. Interruption through ctx returns the
// partial result together with the cause.
func (r *BatchRunner) RunAll(ctx context.Context, scenarios []*schemas.Scenario) (*schemas.BatchResult, error) {
	if len(scenarios) == 0 {
		return nil, ErrNoScenarios
	}

	result := &schemas.BatchResult{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		VCS:       vcs.Describe(r.repoDir, r.logger),
		Summary:   schemas.RunSummary{BudgetViolations: []string{}},
	}
	r.logger.Info("Starting batch.",
		zap.String("run_id", result.RunID[:8]),
		zap.Int("scenarios", len(scenarios)))

	var interrupted error
	var completed []*schemas.Scenario // aligned with result.Reports
	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			interrupted = fmt.Errorf("batch interrupted: %w", err)
			break
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				interrupted = fmt.Errorf("batch interrupted: %w", err)
				break
			}
		}

		report := r.orch.Run(ctx, r.factory, sc)
		if report.Error != "" {
			r.logger.Warn("Scenario failed.",
				zap.String("scenario", sc.Name),
				zap.String("error", report.Error))
			result.Summary.Failed++
			result.Failures = append(result.Failures, schemas.ScenarioFailure{
				Scenario:   report.Scenario,
				URL:        report.URL,
				Timestamp:  report.Timestamp,
				DurationMs: report.DurationMs,
				Error:      report.Error,
			})
			continue
		}
		result.Summary.Passed++
		result.Reports = append(result.Reports, report)
		completed = append(completed, sc)
	}

	// Budgets are evaluated once the batch is done, per completed scenario,
	// against the global set overlaid by the scenario's own.
	for i := range result.Reports {
		violations := r.budgets.Evaluate(&result.Reports[i], completed[i].Budgets)
		result.Summary.BudgetViolations = append(result.Summary.BudgetViolations, violations...)
	}

	result.Summary.TotalScenarios = result.Summary.Passed + result.Summary.Failed
	result.FinishedAt = time.Now().UTC()

	r.logger.Info("Batch complete.",
		zap.String("run_id", result.RunID[:8]),
		zap.Int("passed", result.Summary.Passed),
		zap.Int("failed", result.Summary.Failed),
		zap.Int("violations", len(result.Summary.BudgetViolations)))
	return result, interrupted
}
