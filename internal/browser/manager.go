// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/internal/config"
)

const launchProbeTimeout = 30 * time.Second

// Manager owns the headless browser process. Scenario sessions are isolated
// tabs derived from the one shared process, so a batch never pays the launch
// cost more than once.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// allocatorCtx manages the browser process itself.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// browserCtx is the tab context that launched the process. chromedp ties
	// the process lifetime to it, so it stays open until Shutdown.
	browserCtx    context.Context
	browserCancel context.CancelFunc

	sessions map[string]*Session
	mu       sync.RWMutex

	// wg tracks open sessions for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager launches the browser process and verifies it responds.
func NewManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger:   logger.Named("browser"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}

	opts := DefaultAllocatorOptions(cfg.Browser)
	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx)

	// Run a trivial task to confirm the browser started and is responsive.
	probeCtx, cancelProbe := context.WithTimeout(m.browserCtx, launchProbeTimeout)
	defer cancelProbe()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched and responsive.",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Bool("cache_disabled", cfg.Browser.DisableCache))
	return m, nil
}

// DefaultAllocatorOptions assembles the Chrome launch flags for a
// measurement-friendly browser instance.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("mute-audio", true),
		// Background throttling skews paint and network timing.
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
	)

	if cfg.DisableCache {
		opts = append(opts,
			chromedp.Flag("disable-cache", true),
			chromedp.Flag("disk-cache-size", "0"),
			chromedp.Flag("media-cache-size", "0"),
		)
	}

	if cfg.IgnoreTLSErrors {
		opts = append(opts,
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.Flag("allow-insecure-localhost", true),
		)
	}

	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	// Custom arguments from configuration, --flag or --flag=value form.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Flags required for running inside containers (e.g. Docker on Linux).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	return opts
}

// NewSession opens an isolated tab and prepares it for a scenario run.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	s := newSession(m.browserCtx, m.cfg, m.logger)

	m.wg.Add(1)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
	}

	if err := s.Initialize(ctx); err != nil {
		// Close releases the tab and balances the WaitGroup via onClose.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Close(cleanupCtx)
		return nil, fmt.Errorf("initializing session: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Debug("Session created.", zap.String("session_id", s.ID()))
	return s, nil
}

// Shutdown closes all open sessions and terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated.")

	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	for _, s := range open {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Session close failed during shutdown.",
					zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Debug("All sessions closed.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}

	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
