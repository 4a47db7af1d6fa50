package schemas

// Budgetable metric names. The vitals keep their conventional acronyms; the
// rest use the report field names they are read from.
const (
	MetricFCP              = "FCP"
	MetricLCP              = "LCP"
	MetricCLS              = "CLS"
	MetricINP              = "INP"
	MetricTTFB             = "TTFB"
	MetricLoadTime         = "loadTime"
	MetricDOMContentLoaded = "domContentLoaded"
	MetricFirstPaint       = "firstPaint"
	MetricTransferSize     = "transferSize"
	MetricRequestCount     = "requestCount"
)

// KnownMetrics lists every name a budget may reference.
func KnownMetrics() []string {
	return []string{
		MetricFCP, MetricLCP, MetricCLS, MetricINP, MetricTTFB,
		MetricLoadTime, MetricDOMContentLoaded, MetricFirstPaint,
		MetricTransferSize, MetricRequestCount,
	}
}

// WebVitals is the harvested user-experience metric set. Nil means the
// metric was never observed; it is distinct from a legitimate zero (CLS on a
// perfectly stable page is 0.0, a page without a layout-shift observer is
// nil). All values except CLS are milliseconds; CLS is unitless.
type WebVitals struct {
	FCP  *float64 `json:"FCP,omitempty"`
	LCP  *float64 `json:"LCP,omitempty"`
	CLS  *float64 `json:"CLS,omitempty"`
	INP  *float64 `json:"INP,omitempty"`
	TTFB *float64 `json:"TTFB,omitempty"`
}

// IsEmpty reports whether no metric was observed at all.
func (v WebVitals) IsEmpty() bool {
	return v.FCP == nil && v.LCP == nil && v.CLS == nil && v.INP == nil && v.TTFB == nil
}

// PerformanceTiming is the page-load timing read from navigation timing at
// collect time, in milliseconds relative to navigation start.
type PerformanceTiming struct {
	LoadTime         float64 `json:"loadTime"`
	DOMContentLoaded float64 `json:"domContentLoaded"`
	FirstPaint       float64 `json:"firstPaint"`
}
