package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the Chrome process lifecycle and session creation.
type Manager struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
	cfg         *config.Config

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup

	// Initialization state management
	initOnce sync.Once
	initErr  error
}

// NewManager creates a new browser manager. The browser process itself is
// launched lazily when the first session is requested.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// initialize builds the exec allocator that owns the Chrome process.
func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser...",
			zap.Bool("headless", m.cfg.Browser.Headless),
			zap.Int("width", m.cfg.Browser.Width),
			zap.Int("height", m.cfg.Browser.Height),
		)

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", m.cfg.Browser.Headless),
			chromedp.WindowSize(m.cfg.Browser.Width, m.cfg.Browser.Height),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		opts = append(opts, extraAllocatorOptions(m.cfg.Browser.Args)...)

		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	})
	return m.initErr
}

// extraAllocatorOptions converts raw "--name=value" command line arguments
// into allocator options.
func extraAllocatorOptions(args []string) []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, arg := range args {
		name := strings.TrimPrefix(arg, "--")
		if name == "" {
			continue
		}
		if key, value, found := strings.Cut(name, "="); found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// NewSession opens a fresh browser tab sized to the configured viewport.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	session, err := NewSession(m.allocCtx, m.cfg, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create new session: %w", err)
	}

	m.wg.Add(1)
	session.onClose = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.sessions, session.ID())
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", session.ID()))
	}

	if err := session.Initialize(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", session.ID()))
	return session, nil
}

// Shutdown gracefully closes all sessions and the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	if m.allocCtx == nil {
		m.logger.Info("Manager not fully initialized, skipping full shutdown sequence.")
		return nil
	}

	m.mu.RLock()
	sessionsToClose := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessionsToClose = append(sessionsToClose, s)
	}
	m.mu.RUnlock()

	for _, s := range sessionsToClose {
		go func(s *Session) {
			if err := s.Close(); err != nil {
				m.logger.Warn("Error during session close in shutdown.", zap.String("session_id", s.ID()), zap.Error(err))
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
		m.logger.Info("All sessions closed gracefully.")
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Grace period elapsed waiting for sessions to close.")
	}

	m.allocCancel()
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
