// api/schemas/report.go
package schemas

import "time"

// ExecutionProfile summarizes runner-process resource usage sampled while a
// scenario's steps executed.
type ExecutionProfile struct {
	SampleCount    int     `json:"sampleCount"`
	CPUAvgPercent  float64 `json:"cpuAvgPercent"`
	CPUMaxPercent  float64 `json:"cpuMaxPercent"`
	RSSMaxBytes    uint64  `json:"rssMaxBytes"`
	HeapAllocBytes uint64  `json:"heapAllocBytes"`
	GoroutineMax   int     `json:"goroutineMax"`
	WallMs         float64 `json:"wallMs"`
}

// ScenarioReport is the result of one scenario run. A scenario that failed
// mid-run carries Error and whatever sections were assembled before the
// failure; the batch runner keeps such reports out of the batch result's
// report list and records a ScenarioFailure instead.
type ScenarioReport struct {
	Scenario    string            `json:"scenario"`
	URL         string            `json:"url"`
	Timestamp   time.Time         `json:"timestamp"`
	DurationMs  float64           `json:"durationMs"`
	Metrics     WebVitals         `json:"metrics"`
	Performance PerformanceTiming `json:"performance"`
	Network     NetworkReport     `json:"network"`
	Profile     *ExecutionProfile `json:"profile"`
	Error       string            `json:"error,omitempty"`
}

// MetricValue resolves a budgetable metric name against this report. The
// second return is false when the metric was not observed, which callers
// must treat as "nothing to compare", never as zero.
func (r *ScenarioReport) MetricValue(name string) (float64, bool) {
	deref := func(p *float64) (float64, bool) {
		if p == nil {
			return 0, false
		}
		return *p, true
	}

	switch name {
	case MetricFCP:
		return deref(r.Metrics.FCP)
	case MetricLCP:
		return deref(r.Metrics.LCP)
	case MetricCLS:
		return deref(r.Metrics.CLS)
	case MetricINP:
		return deref(r.Metrics.INP)
	case MetricTTFB:
		return deref(r.Metrics.TTFB)
	case MetricLoadTime:
		return r.Performance.LoadTime, r.Performance.LoadTime > 0
	case MetricDOMContentLoaded:
		return r.Performance.DOMContentLoaded, r.Performance.DOMContentLoaded > 0
	case MetricFirstPaint:
		return r.Performance.FirstPaint, r.Performance.FirstPaint > 0
	case MetricTransferSize:
		return float64(r.Network.Summary.TotalTransferSize), r.Network.Summary.RequestCount > 0
	case MetricRequestCount:
		return float64(r.Network.Summary.RequestCount), r.Network.Summary.RequestCount > 0
	default:
		return 0, false
	}
}

// VCSInfo records the state of the working tree a run was started from.
type VCSInfo struct {
	Commit string `json:"commit"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty"`
}

// ScenarioFailure records a scenario that did not complete. Failed scenarios
// stay out of the batch result's report list so aggregate sections only ever
// describe completed runs; this carries what CI surfaces still need.
type ScenarioFailure struct {
	Scenario   string    `json:"scenario"`
	URL        string    `json:"url"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs float64   `json:"durationMs"`
	Error      string    `json:"error"`
}

// RunSummary aggregates a batch. Passed counts the reports, Failed counts the
// failures, and Passed plus Failed always equals TotalScenarios; budget
// violations are reported alongside and never flip a scenario to failed.
type RunSummary struct {
	TotalScenarios   int      `json:"totalScenarios"`
	Passed           int      `json:"passed"`
	Failed           int      `json:"failed"`
	BudgetViolations []string `json:"budgetViolations"`
}

// BatchResult is the top-level output of a run. Reports holds one entry per
// completed scenario; scenarios that failed are carried in Failures.
type BatchResult struct {
	RunID      string            `json:"runId"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	VCS        *VCSInfo          `json:"vcs,omitempty"`
	Reports    []ScenarioReport  `json:"reports"`
	Failures   []ScenarioFailure `json:"failures,omitempty"`
	Summary    RunSummary        `json:"summary"`
}
