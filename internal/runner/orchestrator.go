// internal/runner/orchestrator.go
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
	"github.com/xkilldash9x/caliper-cli/internal/browser"
	"github.com/xkilldash9x/caliper-cli/internal/config"
	"github.com/xkilldash9x/caliper-cli/internal/profiler"
	"github.com/xkilldash9x/caliper-cli/internal/steps"
	"github.com/xkilldash9x/caliper-cli/internal/vitals"
)

// sessionCloseTimeout bounds teardown so a wedged tab cannot stall the batch.
const sessionCloseTimeout = 15 * time.Second

// Session is the per-scenario browser surface the orchestrator drives.
// *browser.Session satisfies it.
type Session interface {
	steps.Page
	InjectOnNewDocument(ctx context.Context, script string) error
	WaitNetworkIdle(ctx context.Context, quiet time.Duration) error
	NetworkReport() (*schemas.NetworkReport, error)
	ResourceTimingReport(ctx context.Context) (*schemas.NetworkReport, error)
	Close(ctx context.Context) error
	ID() string
}

// SessionFactory creates isolated sessions from the shared browser process.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// ManagerFactory adapts *browser.Manager to SessionFactory.
type ManagerFactory struct {
	Manager *browser.Manager
}

func (f ManagerFactory) NewSession(ctx context.Context) (Session, error) {
	sess, err := f.Manager.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Orchestrator runs one scenario end to end in an isolated session: install
// hooks, navigate, execute steps, then collect every telemetry section.
type Orchestrator struct {
	logger    *zap.Logger
	cfg       *config.Config
	collector *vitals.Collector
	executor  *steps.Executor
	profiler  *profiler.Profiler // nil when profiling is off
}

func NewOrchestrator(cfg *config.Config, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		logger:    logger.Named("orchestrator"),
		cfg:       cfg,
		collector: vitals.NewCollector(cfg.Vitals, logger),
		executor:  steps.NewExecutor(logger, cfg.Network.SettleWait),
	}
	if cfg.Profile.Enabled {
		o.profiler = profiler.New(cfg.Profile, logger)
	}
	return o
}

// Run executes one scenario and always returns a report; failures are carried
// in the report's Error field together with whatever sections were assembled
// before the failure. The session is torn down on every exit path, the shared
// browser never is.
func (o *Orchestrator) Run(ctx context.Context, factory SessionFactory, sc *schemas.Scenario) (report schemas.ScenarioReport) {
	started := time.Now()
	report = schemas.ScenarioReport{
		Scenario:  sc.Name,
		URL:       sc.URL,
		Timestamp: started.UTC(),
	}
	log := o.logger.With(zap.String("scenario", sc.Name))
	log.Info("Running scenario.", zap.String("url", sc.URL), zap.Int("steps", len(sc.Steps)))

	defer func() {
		report.DurationMs = msSince(started)
	}()

	sess, err := factory.NewSession(ctx)
	if err != nil {
		report.Error = fmt.Sprintf("creating session: %v", err)
		return report
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			log.Warn("Session teardown failed.", zap.Error(err))
		}
	}()

	// Hooks must be registered before the first navigation; paint entries can
	// land during the initial document load.
	if err := vitals.Install(ctx, sess); err != nil {
		report.Error = fmt.Sprintf("installing metric hooks: %v", err)
		return report
	}

	navCtx, cancelNav := context.WithTimeout(ctx, o.cfg.Network.NavigationTimeout)
	err = sess.Navigate(navCtx, sc.URL)
	cancelNav()
	if err != nil {
		report.Error = fmt.Sprintf("navigating to %s: %v", sc.URL, err)
		return report
	}
	if err := sleepCtx(ctx, o.cfg.Network.SettleWait); err != nil {
		report.Error = err.Error()
		return report
	}

	var profRun *profiler.Run
	if o.profiler != nil {
		profRun = o.profiler.Start(ctx)
	}
	stepErr := o.executor.ExecuteAll(ctx, sess, sc.Steps)
	if profRun != nil {
		report.Profile = profRun.Stop()
	}
	if stepErr != nil {
		report.Error = stepErr.Error()
		return report
	}

	// The vitals collector settles on its own; the network side waits for the
	// quiet period. Both sides only fail on context cancellation.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, perf, err := o.collector.Collect(gctx, sess)
		if err != nil {
			return fmt.Errorf("collecting vitals: %w", err)
		}
		report.Metrics = v
		report.Performance = perf
		return nil
	})
	g.Go(func() error {
		report.Network = o.collectNetwork(gctx, sess, log)
		return nil
	})
	if err := g.Wait(); err != nil {
		report.Error = err.Error()
		return report
	}

	log.Info("Scenario complete.",
		zap.Float64("duration_ms", msSince(started)),
		zap.Int("requests", report.Network.Summary.RequestCount))
	return report
}

// collectNetwork prefers event-correlated records and degrades to the
// resource-timing rebuild when the session's event channel was unavailable.
func (o *Orchestrator) collectNetwork(ctx context.Context, sess Session, log *zap.Logger) schemas.NetworkReport {
	if err := sess.WaitNetworkIdle(ctx, o.cfg.Network.IdleQuietPeriod); err != nil {
		log.Debug("Network idle wait ended early.", zap.Error(err))
	}

	rep, err := sess.NetworkReport()
	if err == nil {
		return *rep
	}
	log.Warn("Event-correlated telemetry unavailable; rebuilding from resource timing.", zap.Error(err))

	rep, err = sess.ResourceTimingReport(ctx)
	if err != nil {
		log.Warn("Resource timing rebuild failed; network section is empty.", zap.Error(err))
		return schemas.NetworkReport{
			Requests: []schemas.RequestRecord{},
			Source:   schemas.SourceResourceTiming,
		}
	}
	return *rep
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
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
