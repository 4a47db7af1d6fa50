// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
	"github.com/xkilldash9x/caliper-cli/internal/config"
)

// ErrSessionUnavailable signals that the DevTools event channel for a session
// never came up, so event-correlated telemetry cannot be served. Consumers
// fall back to the page's resource timing entries.
var ErrSessionUnavailable = errors.New("session event channel unavailable")

// Session is one isolated browser tab bound to a single scenario run.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    *config.Config

	browserCtx    context.Context
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	correlator *Correlator
	// eventsUnavailable is set when the tab could not enable network events.
	eventsUnavailable bool

	onClose  func()
	isClosed bool
	mu       sync.Mutex
}

func newSession(browserCtx context.Context, cfg *config.Config, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:         id,
		browserCtx: browserCtx,
		cfg:        cfg,
		logger:     logger.With(zap.String("session_id", id[:8])),
	}
}

// Initialize opens the tab and applies viewport, CSP, cache and header
// settings. A failed network-domain enable degrades the session instead of
// failing it: vitals still work, telemetry comes from resource timing.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.sessionCtx != nil {
		s.mu.Unlock()
		return fmt.Errorf("session already initialized")
	}

	var opts []chromedp.ContextOption
	if s.cfg.Browser.Debug {
		opts = append(opts, chromedp.WithDebugf(s.logger.Sugar().Debugf))
	}
	s.sessionCtx, s.sessionCancel = chromedp.NewContext(s.browserCtx, opts...)
	s.correlator = NewCorrelator(s.sessionCtx, s.logger, s.cfg.Network.CaptureHeaders)
	s.mu.Unlock()

	vp := s.cfg.Browser.Viewport
	if err := s.Run(ctx,
		chromedp.EmulateViewport(int64(vp.Width), int64(vp.Height)),
		// Injected measurement scripts must run regardless of the page's CSP.
		page.SetBypassCSP(true),
	); err != nil {
		return fmt.Errorf("applying session settings: %w", err)
	}

	if err := s.correlator.Start(); err != nil {
		s.logger.Warn("Network event channel unavailable, telemetry degrades to resource timing.", zap.Error(err))
		s.eventsUnavailable = true
	} else if err := s.applyNetworkSettings(ctx); err != nil {
		return fmt.Errorf("applying network settings: %w", err)
	}

	s.logger.Debug("Browser session initialized.")
	return nil
}

// applyNetworkSettings requires the network domain, so it only runs once the
// correlator enabled it.
func (s *Session) applyNetworkSettings(ctx context.Context) error {
	var actions []chromedp.Action
	if s.cfg.Browser.DisableCache {
		actions = append(actions, network.SetCacheDisabled(true))
	}
	if len(s.cfg.Network.ExtraHeaders) > 0 {
		headers := make(network.Headers, len(s.cfg.Network.ExtraHeaders))
		for k, v := range s.cfg.Network.ExtraHeaders {
			headers[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}
	if len(actions) == 0 {
		return nil
	}
	return s.Run(ctx, actions...)
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string {
	return s.id
}

// Run executes chromedp actions against the session tab, honoring
// cancellation of both the caller's context and the tab's own lifetime.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	sessionCtx := s.sessionCtx
	closed := s.isClosed
	s.mu.Unlock()

	if closed || sessionCtx == nil {
		return fmt.Errorf("session is closed")
	}

	runCtx, cancel := combineContext(sessionCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL in the session tab and waits for the document to be
// ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	return s.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Evaluate runs a script in the page and unmarshals its settled result into
// out. Promises are awaited; out may be nil when the result is irrelevant.
func (s *Session) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return s.Run(ctx, chromedp.Evaluate(expression, out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true).WithReturnByValue(true).WithSilent(true)
		}))
}

// InjectOnNewDocument registers a script to run in every new document before
// any page script executes.
func (s *Session) InjectOnNewDocument(ctx context.Context, script string) error {
	return s.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
}

// WaitNetworkIdle blocks until no request has been in flight for the quiet
// period. A degraded session has no inflight knowledge and just waits out
// the quiet period once.
func (s *Session) WaitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	if s.eventsUnavailable {
		select {
		case <-time.After(quiet):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.correlator.WaitIdle(ctx, quiet)
}

// NetworkReport assembles the event-correlated network telemetry. It returns
// ErrSessionUnavailable when the event channel never came up.
func (s *Session) NetworkReport() (*schemas.NetworkReport, error) {
	if s.eventsUnavailable {
		return nil, ErrSessionUnavailable
	}
	return s.correlator.Report(), nil
}

// Close tears down the tab. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	// Capture references before releasing the lock; Close must not hold it
	// across blocking operations.
	correlator := s.correlator
	sessionCancel := s.sessionCancel
	sessionCtx := s.sessionCtx
	onClose := s.onClose
	s.mu.Unlock()

	if correlator != nil {
		correlator.Stop()
	}
	if sessionCancel != nil {
		sessionCancel()
	}

	if sessionCtx != nil {
		waitCtx, cancelWait := context.WithTimeout(ctx, 10*time.Second)
		defer cancelWait()
		select {
		case <-sessionCtx.Done():
			s.logger.Debug("Browser session closed.")
		case <-waitCtx.Done():
			s.logger.Warn("Deadline exceeded waiting for session teardown.", zap.Error(waitCtx.Err()))
		}
	}

	if onClose != nil {
		onClose()
	}
	return nil
}

// combineContext derives a context from primary that is additionally
// canceled when secondary ends. primary carries the chromedp target.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	if secondary == nil {
		return ctx, cancel
	}
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
