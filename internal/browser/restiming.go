// internal/browser/restiming.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

// resourceTimingScript pulls the page's performance entries in a shape the
// Go side can map onto request records. responseStatus needs Chrome 109+;
// older browsers yield 0.
const resourceTimingScript = `(() => {
	const pick = (e) => ({
		url: e.name,
		initiatorType: e.initiatorType || '',
		startTime: e.startTime,
		duration: e.duration,
		redirectStart: e.redirectStart,
		redirectEnd: e.redirectEnd,
		domainLookupStart: e.domainLookupStart,
		domainLookupEnd: e.domainLookupEnd,
		connectStart: e.connectStart,
		connectEnd: e.connectEnd,
		secureConnectionStart: e.secureConnectionStart,
		requestStart: e.requestStart,
		responseStart: e.responseStart,
		responseEnd: e.responseEnd,
		transferSize: e.transferSize || 0,
		decodedBodySize: e.decodedBodySize || 0,
		nextHopProtocol: e.nextHopProtocol || '',
		responseStatus: e.responseStatus || 0,
	});
	const nav = performance.getEntriesByType('navigation').map(pick);
	nav.forEach((e) => { e.initiatorType = 'document'; });
	const res = performance.getEntriesByType('resource').map(pick);
	return { origin: performance.timeOrigin, entries: nav.concat(res) };
})()`

type resourceTimingEntry struct {
	URL                   string  `json:"url"`
	InitiatorType         string  `json:"initiatorType"`
	StartTime             float64 `json:"startTime"`
	Duration              float64 `json:"duration"`
	RedirectStart         float64 `json:"redirectStart"`
	RedirectEnd           float64 `json:"redirectEnd"`
	DomainLookupStart     float64 `json:"domainLookupStart"`
	DomainLookupEnd       float64 `json:"domainLookupEnd"`
	ConnectStart          float64 `json:"connectStart"`
	ConnectEnd            float64 `json:"connectEnd"`
	SecureConnectionStart float64 `json:"secureConnectionStart"`
	RequestStart          float64 `json:"requestStart"`
	ResponseStart         float64 `json:"responseStart"`
	ResponseEnd           float64 `json:"responseEnd"`
	TransferSize          float64 `json:"transferSize"`
	DecodedBodySize       float64 `json:"decodedBodySize"`
	NextHopProtocol       string  `json:"nextHopProtocol"`
	ResponseStatus        int64   `json:"responseStatus"`
}

type resourceTimingPayload struct {
	Origin  float64               `json:"origin"`
	Entries []resourceTimingEntry `json:"entries"`
}

// ResourceTimingReport rebuilds network telemetry from the page's own timing
// entries. It is the degraded path for sessions whose event channel never
// came up; the records carry no header, failure or cache-source detail.
func (s *Session) ResourceTimingReport(ctx context.Context) (*schemas.NetworkReport, error) {
	var payload resourceTimingPayload
	if err := s.Evaluate(ctx, resourceTimingScript, &payload); err != nil {
		return nil, fmt.Errorf("reading resource timing entries: %w", err)
	}

	records := make([]schemas.RequestRecord, 0, len(payload.Entries))
	for _, e := range payload.Entries {
		records = append(records, e.toRecord(payload.Origin))
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Start < records[j].Start
	})

	return &schemas.NetworkReport{
		Requests: records,
		Summary:  summarize(records, 0),
		Source:   schemas.SourceResourceTiming,
	}, nil
}

// toRecord maps one PerformanceResourceTiming entry onto the record shape
// the correlator produces. The timing API does not expose the method, so GET
// is assumed.
func (e resourceTimingEntry) toRecord(origin float64) schemas.RequestRecord {
	rec := schemas.RequestRecord{
		URL:          e.URL,
		Method:       http.MethodGet,
		ResourceType: e.InitiatorType,
		Status:       e.ResponseStatus,
		Protocol:     e.NextHopProtocol,
		Start:        origin + e.StartTime,
		Total:        positive(e.Duration),
		TransferSize: int64(positive(e.TransferSize)),
		// A zero transfer with a decoded body means the entry was served
		// from a local cache.
		FromCache: e.TransferSize == 0 && e.DecodedBodySize > 0,
	}

	var tls float64
	if e.SecureConnectionStart > 0 {
		tls = phase(e.SecureConnectionStart, e.ConnectEnd)
	}
	connect := phase(e.ConnectStart, e.ConnectEnd) - tls
	if connect < 0 {
		connect = 0
	}
	rec.Timings = schemas.TimingBreakdown{
		Redirect: phase(e.RedirectStart, e.RedirectEnd),
		DNS:      phase(e.DomainLookupStart, e.DomainLookupEnd),
		Connect:  connect,
		TLS:      tls,
		// requestStart..responseStart folds the send phase in; the timing
		// API has no finer split.
		Wait:    phase(e.RequestStart, e.ResponseStart),
		Receive: phase(e.ResponseStart, e.ResponseEnd),
	}
	rec.TimingSum = rec.Timings.Sum()
	return rec
}

func positive(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}
