// internal/browser/correlator.go
package browser

import (
	"context"
	"math"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
)

// timingGapThreshold is how far total and summed phase durations may drift
// apart (in milliseconds) before a record gets flagged. Phases overlap and
// get skipped, so small disagreements are normal.
const timingGapThreshold = 1000.0

// requestState accumulates the events observed for one request id. Assembly
// into a record happens at report time, not on arrival.
type requestState struct {
	request      *network.Request
	response     *network.Response
	resourceType network.ResourceType

	wallTime   *cdp.TimeSinceEpoch
	firstStart *cdp.MonotonicTime // first hop of a redirect chain
	legStart   *cdp.MonotonicTime // latest hop
	end        *cdp.MonotonicTime

	transferSize float64
	redirects    int
	failed       bool
	errorText    string
	complete     bool
}

// Correlator joins the session's CDP network event stream into per-request
// records. Handlers only store payloads under the request id; all derivation
// is deferred to Report.
type Correlator struct {
	logger         *zap.Logger
	captureHeaders bool

	// The context of the browser tab this correlator is attached to.
	sessionCtx context.Context
	// A separate context for the listener so it can be stopped cleanly.
	listenerCtx    context.Context
	cancelListener context.CancelFunc

	requests map[network.RequestID]*requestState
	inflight map[network.RequestID]bool // for WaitIdle tracking
	lock     sync.RWMutex

	isStarted bool
}

// NewCorrelator creates a network event correlator for a specific session.
func NewCorrelator(sessionCtx context.Context, logger *zap.Logger, captureHeaders bool) *Correlator {
	return &Correlator{
		sessionCtx:     sessionCtx,
		logger:         logger.Named("netcorr"),
		captureHeaders: captureHeaders,
		requests:       make(map[network.RequestID]*requestState),
		inflight:       make(map[network.RequestID]bool),
	}
}

// Start subscribes to the session's network events.
func (c *Correlator) Start() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.isStarted {
		return nil
	}

	// Derived from the session, so if the tab dies the listener dies too.
	c.listenerCtx, c.cancelListener = context.WithCancel(c.sessionCtx)
	go c.listen()

	if err := chromedp.Run(c.sessionCtx, network.Enable()); err != nil {
		c.cancelListener()
		return err
	}

	c.isStarted = true
	c.logger.Debug("Network correlator listening.")
	return nil
}

func (c *Correlator) listen() {
	chromedp.ListenTarget(c.listenerCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			c.onRequestWillBeSent(e)
		case *network.EventResponseReceived:
			c.onResponseReceived(e)
		case *network.EventLoadingFinished:
			c.onLoadingFinished(e)
		case *network.EventLoadingFailed:
			c.onLoadingFailed(e)
		}
	})
}

// Stop detaches from the event stream. Requests still pending at this point
// are silently dropped when the report is assembled.
func (c *Correlator) Stop() {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.cancelListener != nil {
		c.cancelListener()
		c.cancelListener = nil
	}
	c.isStarted = false
}

// WaitIdle polls until no request has been in flight for the quiet period.
func (c *Correlator) WaitIdle(ctx context.Context, quiet time.Duration) error {
	if quiet <= 0 {
		return nil
	}

	// Check more frequently than the quiet period. Integer division can yield
	// zero for tiny quiet periods, which NewTicker rejects.
	interval := quiet / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastActivity := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("WaitIdle aborted.", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
			c.lock.RLock()
			inflightCount := len(c.inflight)
			c.lock.RUnlock()

			if inflightCount > 0 {
				lastActivity = time.Now()
				c.logger.Debug("Waiting for network idle...", zap.Int("inflight_requests", inflightCount))
			} else if time.Since(lastActivity) >= quiet {
				return nil
			}
		}
	}
}

// -- Event Handlers --

func (c *Correlator) onRequestWillBeSent(e *network.EventRequestWillBeSent) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.inflight[e.RequestID] = true

	// Redirect legs re-use the request id. Keep the chain's first start so
	// the redirect phase and the total span the whole chain; the record's
	// URL becomes the final one.
	if st, ok := c.requests[e.RequestID]; ok && e.RedirectResponse != nil {
		st.redirects++
		st.request = e.Request
		st.legStart = e.Timestamp
		st.response = nil
		if e.Type != "" {
			st.resourceType = e.Type
		}
		return
	}

	c.requests[e.RequestID] = &requestState{
		request:      e.Request,
		resourceType: e.Type,
		wallTime:     e.WallTime,
		firstStart:   e.Timestamp,
		legStart:     e.Timestamp,
	}
}

func (c *Correlator) onResponseReceived(e *network.EventResponseReceived) {
	c.lock.Lock()
	defer c.lock.Unlock()

	// A response whose id was never seen in a request event is dropped
	// rather than fabricated into a partial record.
	st, ok := c.requests[e.RequestID]
	if !ok {
		return
	}
	st.response = e.Response
	if e.Type != "" {
		st.resourceType = e.Type
	}
}

func (c *Correlator) onLoadingFinished(e *network.EventLoadingFinished) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.inflight, e.RequestID)

	st, ok := c.requests[e.RequestID]
	if !ok {
		return
	}
	st.end = e.Timestamp
	st.transferSize = e.EncodedDataLength
	st.complete = true
}

func (c *Correlator) onLoadingFailed(e *network.EventLoadingFailed) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.inflight, e.RequestID)

	st, ok := c.requests[e.RequestID]
	if !ok {
		return
	}
	st.end = e.Timestamp
	st.failed = true
	st.errorText = e.ErrorText
	st.complete = true
}

// -- Report Assembly --

// Report assembles the correlated records, sorted by start time. A record is
// complete only once its request, response and finish events have all joined;
// pending and partially joined requests are dropped and failures are counted
// but not materialized.
func (c *Correlator) Report() *schemas.NetworkReport {
	c.lock.RLock()
	defer c.lock.RUnlock()

	records := make([]schemas.RequestRecord, 0, len(c.requests))
	failed := 0
	for _, st := range c.requests {
		switch {
		case !st.complete || st.request == nil || st.firstStart == nil || st.end == nil:
			continue
		case st.failed:
			failed++
			continue
		case st.response == nil:
			// Finished without a response event. A record built from it would
			// carry a zero status and an empty timing breakdown.
			continue
		}
		records = append(records, c.buildRecord(st))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Start < records[j].Start
	})

	return &schemas.NetworkReport{
		Requests: records,
		Summary:  summarize(records, failed),
		Source:   schemas.SourceCDP,
	}
}

func (c *Correlator) buildRecord(st *requestState) schemas.RequestRecord {
	rec := schemas.RequestRecord{
		URL:           st.request.URL,
		Method:        st.request.Method,
		ResourceType:  string(st.resourceType),
		RedirectCount: st.redirects,
	}
	if st.transferSize > 0 {
		rec.TransferSize = int64(st.transferSize)
	}
	if st.wallTime != nil {
		rec.Start = float64(st.wallTime.Time().UnixNano()) / float64(time.Millisecond)
	}
	rec.Total = clampMs(st.end.Time().Sub(st.firstStart.Time()))

	if resp := st.response; resp != nil {
		rec.Status = resp.Status
		rec.MIMEType = resp.MimeType
		rec.Protocol = resp.Protocol
		if resp.RemoteIPAddress != "" {
			rec.RemoteAddress = net.JoinHostPort(resp.RemoteIPAddress, strconv.FormatInt(resp.RemotePort, 10))
		}
		rec.FromCache = resp.FromDiskCache || resp.FromPrefetchCache || resp.FromServiceWorker
		rec.ConnectionReused = resp.ConnectionReused
		rec.HeadersSize = estimateHeaderSize(resp.Headers)
		if c.captureHeaders {
			rec.Headers = flattenHeaders(resp.Headers)
		}
		if sd := resp.SecurityDetails; sd != nil {
			rec.Security = &schemas.SecurityDetails{
				Protocol:    sd.Protocol,
				Cipher:      sd.Cipher,
				Issuer:      sd.Issuer,
				SubjectName: sd.SubjectName,
			}
		}
		rec.Timings = decomposeTiming(resp.Timing, st.firstStart, st.legStart, st.end)
	}

	rec.TimingSum = rec.Timings.Sum()
	rec.TimingGap = math.Abs(rec.Total-rec.TimingSum) > timingGapThreshold
	return rec
}

// decomposeTiming derives the sequential phases of one request leg.
// ResourceTiming offsets are milliseconds relative to the timing baseline,
// -1 when the phase was skipped.
func decomposeTiming(t *network.ResourceTiming, firstStart, legStart, end *cdp.MonotonicTime) schemas.TimingBreakdown {
	var b schemas.TimingBreakdown

	if firstStart != nil && legStart != nil {
		b.Redirect = clampMs(legStart.Time().Sub(firstStart.Time()))
	}
	if t == nil {
		return b
	}

	b.DNS = phase(t.DNSStart, t.DNSEnd)
	b.TLS = phase(t.SslStart, t.SslEnd)
	// The TLS handshake sits inside the connect window.
	if connect := phase(t.ConnectStart, t.ConnectEnd) - b.TLS; connect > 0 {
		b.Connect = connect
	}
	b.Send = phase(t.SendStart, t.SendEnd)
	b.Wait = phase(t.SendEnd, t.ReceiveHeadersEnd)

	// Download runs from headers-end to the finish event. The headers offset
	// is relative to the timing baseline, which tracks the leg start closely.
	if legStart != nil && end != nil && t.ReceiveHeadersEnd >= 0 {
		legTotal := float64(end.Time().Sub(legStart.Time())) / float64(time.Millisecond)
		if recv := legTotal - t.ReceiveHeadersEnd; recv > 0 {
			b.Receive = recv
		}
	}
	return b
}

// phase is max(0, end-start), treating the -1 skip marker on either side as
// an absent phase.
func phase(start, end float64) float64 {
	if start < 0 || end < 0 {
		return 0
	}
	if d := end - start; d > 0 {
		return d
	}
	return 0
}

func clampMs(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 0 {
		return 0
	}
	return ms
}

// summarize aggregates completed records. Failed and pending requests never
// contribute beyond the failure count.
func summarize(records []schemas.RequestRecord, failed int) schemas.NetworkSummary {
	sum := schemas.NetworkSummary{
		RequestCount: len(records),
		FailedCount:  failed,
	}
	for i := range records {
		r := &records[i]
		sum.TotalTransferSize += r.TransferSize
		sum.TotalDuration += r.Total
		if r.FromCache {
			sum.CacheHits++
		}
		if r.ConnectionReused {
			sum.ConnectionsReused++
		}
		if sum.Slowest == nil || r.Total > sum.Slowest.Total {
			sum.Slowest = &schemas.SlowestRequest{URL: r.URL, Total: r.Total}
		}
	}
	if len(records) > 0 {
		sum.AvgDuration = sum.TotalDuration / float64(len(records))
	}
	return sum
}

func flattenHeaders(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, value := range h {
		if s, ok := value.(string); ok {
			out[name] = s
		}
	}
	return out
}

// estimateHeaderSize approximates the on-wire size of the header block.
func estimateHeaderSize(h network.Headers) int64 {
	var size int64
	for name, value := range h {
		if s, ok := value.(string); ok {
			// name + ": " + value + "\r\n"
			size += int64(len(name) + 2 + len(s) + 2)
		}
	}
	return size
}
