// api/schemas/network.go
package schemas

// RequestSource identifies the mechanism that produced a set of network
// records.
type RequestSource string

const (
	// SourceCDP means records were correlated from DevTools network events.
	SourceCDP RequestSource = "cdp"
	// SourceResourceTiming means records were rebuilt from the page's
	// PerformanceResourceTiming entries after the event channel was
	// unavailable.
	SourceResourceTiming RequestSource = "resource-timing"
)

// TimingBreakdown decomposes one request into sequential phases. All values
// are milliseconds and clamped non-negative; phases the browser skipped
// (reused connection, cache hit) are 0.
type TimingBreakdown struct {
	Redirect float64 `json:"redirect"` // Delta between the first and final redirect hop starts.
	DNS      float64 `json:"dns"`
	Connect  float64 `json:"connect"` // TCP establishment, TLS excluded.
	TLS      float64 `json:"tls"`
	Send     float64 `json:"send"`
	Wait     float64 `json:"wait"` // First response byte after send (resource-level TTFB).
	Receive  float64 `json:"receive"`
}

// Sum is the arithmetic total of the decomposed phases. It is not the same
// thing as a record's Total: phases can overlap or be skipped, so the two
// legitimately disagree.
func (t TimingBreakdown) Sum() float64 {
	return t.Redirect + t.DNS + t.Connect + t.TLS + t.Send + t.Wait + t.Receive
}

// SecurityDetails carries the TLS parameters of a secure response.
type SecurityDetails struct {
	Protocol    string `json:"protocol"`
	Cipher      string `json:"cipher"`
	Issuer      string `json:"issuer,omitempty"`
	SubjectName string `json:"subjectName,omitempty"`
}

// RequestRecord is one completed network request. Requests that never
// finished, failed, or whose response was never seen do not become records.
type RequestRecord struct {
	URL           string `json:"url"`
	Method        string `json:"method"`
	ResourceType  string `json:"resourceType,omitempty"`
	Status        int64  `json:"status"`
	MIMEType      string `json:"mimeType,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	RemoteAddress string `json:"remoteAddress,omitempty"`

	// Start is the request's wall-clock start in epoch milliseconds; records
	// are sorted by it.
	Start float64 `json:"start"`
	// Total is the wall-clock delta between request start and load finish.
	Total float64 `json:"total"`
	// TimingSum mirrors Timings.Sum. TimingGap flags a total/sum disagreement
	// beyond a second. It is informational only: overlap and skipped phases
	// make the two diverge on healthy requests.
	TimingSum float64         `json:"timingSum"`
	TimingGap bool            `json:"timingGap,omitempty"`
	Timings   TimingBreakdown `json:"timings"`

	TransferSize int64 `json:"transferSize"` // Encoded bytes on the wire.
	HeadersSize  int64 `json:"headersSize"`

	FromCache        bool `json:"fromCache,omitempty"`
	ConnectionReused bool `json:"connectionReused,omitempty"`
	RedirectCount    int  `json:"redirectCount,omitempty"`

	Headers  map[string]string `json:"headers,omitempty"`
	Security *SecurityDetails  `json:"security,omitempty"`
}

// SlowestRequest identifies the longest completed request in a run.
type SlowestRequest struct {
	URL   string  `json:"url"`
	Total float64 `json:"total"`
}

// NetworkSummary aggregates completed records only; pending and failed
// requests never contribute to the statistics.
type NetworkSummary struct {
	RequestCount      int             `json:"requestCount"`
	FailedCount       int             `json:"failedCount"`
	TotalTransferSize int64           `json:"totalTransferSize"`
	TotalDuration     float64         `json:"totalDuration"`
	AvgDuration       float64         `json:"avgDuration"`
	CacheHits         int             `json:"cacheHits,omitempty"`
	ConnectionsReused int             `json:"connectionsReused,omitempty"`
	Slowest           *SlowestRequest `json:"slowest,omitempty"`
}

// NetworkReport is the network section of a scenario report.
type NetworkReport struct {
	Requests []RequestRecord `json:"requests"`
	Summary  NetworkSummary  `json:"summary"`
	Source   RequestSource   `json:"source"`
}
