package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// Session is a single browser tab sized to the emulated viewport. All
// coordinates arriving at its methods are normalized (0-1000) and are mapped
// to pixels here.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	width  int
	height int

	onClose   func()
	closeOnce sync.Once
}

// NewSession opens a new tab against the given allocator context.
func NewSession(allocCtx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()
	log := logger.With(zap.String("session_id", sessionID))

	var ctxOpts []chromedp.ContextOption
	if cfg.Browser.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(log.Sugar().Debugf))
	}
	ctx, cancel := chromedp.NewContext(allocCtx, ctxOpts...)

	return &Session{
		id:     sessionID,
		ctx:    ctx,
		cancel: cancel,
		logger: log,
		cfg:    cfg,
		width:  cfg.Browser.Width,
		height: cfg.Browser.Height,
	}, nil
}

// Initialize applies viewport emulation and loads a blank page so the first
// screenshot has defined dimensions.
func (s *Session) Initialize(ctx context.Context) error {
	initCtx, initCancel := s.operationContext(ctx, s.cfg.Network.NavigationTimeout)
	defer initCancel()

	err := chromedp.Run(initCtx,
		chromedp.EmulateViewport(int64(s.width), int64(s.height)),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		return fmt.Errorf("failed to prepare viewport: %w", err)
	}

	s.logger.Info("Session initialized.", zap.Int("width", s.width), zap.Int("height", s.height))
	return nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Close tears down the tab.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing session.")
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// operationContext derives an operation context from the session's tab
// context so chromedp internals survive, while still honoring both the
// caller's cancellation and the given timeout.
func (s *Session) operationContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, opCancel := CombineContext(s.ctx, ctx)
	if timeout <= 0 {
		return opCtx, opCancel
	}
	timeoutCtx, timeoutCancel := context.WithTimeout(opCtx, timeout)
	return timeoutCtx, func() {
		timeoutCancel()
		opCancel()
	}
}

// Navigate loads a URL, qualifying scheme-less targets with https.
func (s *Session) Navigate(ctx context.Context, targetURL string) error {
	resolved := schemas.EnsureURLScheme(targetURL)

	navCtx, navCancel := s.operationContext(ctx, s.cfg.Network.NavigationTimeout)
	defer navCancel()

	s.logger.Info("Navigating", zap.String("url", resolved))
	if err := chromedp.Run(navCtx, chromedp.Navigate(resolved)); err != nil {
		return fmt.Errorf("navigation to '%s' failed: %w", resolved, err)
	}
	return s.settle(ctx)
}

// OpenStartPage loads the configured start URL.
func (s *Session) OpenStartPage(ctx context.Context) error {
	return s.Navigate(ctx, s.cfg.Browser.StartURL)
}

// ClickAt clicks at a normalized coordinate.
func (s *Session) ClickAt(ctx context.Context, x, y int) error {
	px := float64(schemas.DenormalizeX(x, s.width))
	py := float64(schemas.DenormalizeY(y, s.height))

	clickCtx, clickCancel := s.operationContext(ctx, s.cfg.Network.NavigationTimeout)
	defer clickCancel()

	s.logger.Debug("Clicking", zap.Float64("x", px), zap.Float64("y", py))
	if err := chromedp.Run(clickCtx, chromedp.MouseClickXY(px, py)); err != nil {
		return fmt.Errorf("click at (%d, %d) failed: %w", x, y, err)
	}
	return s.settle(ctx)
}

// TypeTextAt clicks a normalized coordinate to focus it, optionally clears
// the focused field, types the text, and optionally presses Enter.
func (s *Session) TypeTextAt(ctx context.Context, p *schemas.TypeTextParams) error {
	px := float64(schemas.DenormalizeX(p.X, s.width))
	py := float64(schemas.DenormalizeY(p.Y, s.height))

	typeCtx, typeCancel := s.operationContext(ctx, s.cfg.Network.NavigationTimeout)
	defer typeCancel()

	tasks := chromedp.Tasks{chromedp.MouseClickXY(px, py)}
	if p.ClearBeforeTyping {
		tasks = append(tasks,
			chromedp.KeyEvent("a", chromedp.KeyModifiers(input.ModifierCtrl)),
			chromedp.KeyEvent(keyBackspace),
		)
	}
	tasks = append(tasks, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.InsertText(p.Text).Do(ctx)
	}))
	if p.PressEnter {
		tasks = append(tasks, chromedp.KeyEvent(keyEnter))
	}

	s.logger.Debug("Typing text",
		zap.Float64("x", px),
		zap.Float64("y", py),
		zap.Int("text_length", len(p.Text)),
		zap.Bool("press_enter", p.PressEnter),
		zap.Bool("clear_before_typing", p.ClearBeforeTyping),
	)
	if err := chromedp.Run(typeCtx, tasks); err != nil {
		return fmt.Errorf("type_text_at (%d, %d) failed: %w", p.X, p.Y, err)
	}
	return s.settle(ctx)
}

// PressKeys dispatches a parsed key combination.
func (s *Session) PressKeys(ctx context.Context, data schemas.KeyEventData) error {
	keys, err := driverKeys(data.Key)
	if err != nil {
		return err
	}

	keyCtx, keyCancel := s.operationContext(ctx, s.cfg.Network.NavigationTimeout)
	defer keyCancel()

	s.logger.Debug("Pressing keys", zap.String("key", data.Key), zap.Int("modifiers", int(data.Modifiers)))
	err = chromedp.Run(keyCtx,
		chromedp.KeyEvent(keys, chromedp.KeyModifiers(input.Modifier(data.Modifiers))),
	)
	if err != nil {
		return fmt.Errorf("key combination failed: %w", err)
	}
	return s.settle(ctx)
}

// Scroll dispatches a mouse wheel event at the viewport center.
func (s *Session) Scroll(ctx context.Context, p *schemas.ScrollParams) error {
	dx, dy := p.Deltas()

	scrollCtx, scrollCancel := s.operationContext(ctx, s.cfg.Network.NavigationTimeout)
	defer scrollCancel()

	s.logger.Debug("Scrolling", zap.String("direction", string(p.Direction)), zap.Int("magnitude", p.Magnitude))
	err := chromedp.Run(scrollCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		wheel := input.DispatchMouseEvent(input.MouseWheel, float64(s.width/2), float64(s.height/2)).
			WithDeltaX(float64(dx)).
			WithDeltaY(float64(dy))
		return wheel.Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("scroll %s failed: %w", p.Direction, err)
	}
	return s.settle(ctx)
}

// Screenshot captures the visible viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	shotCtx, shotCancel := s.operationContext(ctx, s.cfg.Network.NavigationTimeout)
	defer shotCancel()

	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return buf, nil
}

// CurrentURL reports the tab's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	urlCtx, urlCancel := s.operationContext(ctx, s.cfg.Network.NavigationTimeout)
	defer urlCancel()

	var location string
	if err := chromedp.Run(urlCtx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("failed to read current URL: %w", err)
	}
	return location, nil
}

// settle gives the page a moment to react to the last action before the
// screenshot is taken.
func (s *Session) settle(ctx context.Context) error {
	wait := s.cfg.Network.PostActionWait
	if wait <= 0 {
		return nil
	}
	settleCtx, settleCancel := CombineContext(s.ctx, ctx)
	defer settleCancel()

	return chromedp.Run(settleCtx, chromedp.Sleep(wait))
}

// CombineContext creates a context derived from parentCtx that is also
// canceled when secondaryCtx is canceled. Deriving from parentCtx keeps the
// driver's context values intact.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
