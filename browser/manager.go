// Package browser owns the Chrome instance plume drives. It launches or
// attaches to Chrome, hands out stealth tabs bound to the posting engine,
// and recycles the process on age or memory pressure. Recycling is held
// off while a tab is acquired so a posting run is never cut mid-chain.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// StealthLevel picks how the Chrome instance presents itself.
type StealthLevel int

const (
	// LevelHeadless runs headless Chrome with stealth patches applied to
	// every tab.
	LevelHeadless StealthLevel = iota
	// LevelHeadful runs a real window on an Xvfb display. Slower, but
	// survives fingerprinting that headless mode does not.
	LevelHeadful
)

// ErrBusy is returned by Recycle while a tab is acquired.
var ErrBusy = errors.New("browser: in use")

// Config configures the browser manager.
type Config struct {
	// RemoteURL attaches to an already-running Chrome over its DevTools
	// websocket instead of launching one. Empty launches locally.
	RemoteURL string

	// Stealth selects headless or headful-under-Xvfb. Default: LevelHeadless.
	Stealth StealthLevel

	// XvfbDisplay is the virtual display for headful mode. Default ":99".
	XvfbDisplay string

	// MemoryLimit recycles Chrome once its JS heap passes this many bytes.
	// Default 1GB.
	MemoryLimit int64

	// RecycleInterval recycles Chrome on age regardless of memory. Default 4h.
	RecycleInterval time.Duration

	// ResourceBlocking lists resource kinds tabs refuse to load (images,
	// fonts, media, stylesheets). Empty blocks nothing.
	ResourceBlocking []string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process lifecycle.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	browser   *rod.Browser
	lnch      *launcher.Launcher
	xvfb      *exec.Cmd
	startAt   time.Time
	busy      int
	closed    bool
	onRecycle []func()
}

// NewManager creates a Manager. Call Start to launch or attach.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to RemoteURL) and begins the
// monitor loop that recycles it on age or heap growth. The loop stops
// when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("browser: manager is closed")
	}
	if m.browser != nil {
		return errors.New("browser: already started")
	}

	b, err := m.launch()
	if err != nil {
		return err
	}
	m.browser = b
	m.startAt = time.Now()

	go m.monitorLoop(ctx)

	return nil
}

// Browser returns the current Rod handle, nil before Start.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Acquire marks the browser as in use and returns the matching release.
// Recycling is deferred while any acquisition is outstanding, so callers
// wrap each posting run in an Acquire/release pair.
func (m *Manager) Acquire() (release func()) {
	m.mu.Lock()
	m.busy++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.busy--
			m.mu.Unlock()
		})
	}
}

// NotifyRecycle registers fn to run after Chrome has been relaunched.
// Holders of tabs opened before the recycle must reopen them; fn runs on
// its own goroutine.
func (m *Manager) NotifyRecycle(fn func()) {
	m.mu.Lock()
	m.onRecycle = append(m.onRecycle, fn)
	m.mu.Unlock()
}

// Recycle kills and relaunches Chrome. It refuses with ErrBusy while a
// tab is acquired.
func (m *Manager) Recycle() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("browser: manager is closed")
	}
	if m.busy > 0 {
		return ErrBusy
	}
	return m.recycleLocked()
}

// Close shuts down Chrome and, when running, Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Stealth == LevelHeadful {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New()
		if m.cfg.Stealth == LevelHeadful {
			l = l.Headless(false).Env("DISPLAY", m.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched chrome", "url", wsURL, "stealth", m.cfg.Stealth)
	} else {
		log.Info("browser: connecting to remote chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}

	return b, nil
}

func (m *Manager) recycleLocked() error {
	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", time.Since(m.startAt))

	if err := m.cleanup(); err != nil {
		log.Warn("browser: cleanup during recycle", "error", err)
	}

	b, err := m.launch()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}
	m.browser = b
	m.startAt = time.Now()

	for _, fn := range m.onRecycle {
		go fn()
	}

	log.Info("browser: recycled")
	return nil
}

func (m *Manager) cleanup() error {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return nil
}

func (m *Manager) monitorLoop(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		if m.closed || m.browser == nil {
			m.mu.RUnlock()
			return
		}
		b := m.browser
		startAt := m.startAt
		m.mu.RUnlock()

		if time.Since(startAt) > m.cfg.RecycleInterval {
			log.Info("browser: recycle interval reached")
			m.tryRecycle()
			continue
		}

		used, err := jsHeapUsage(b)
		if err != nil {
			log.Debug("browser: heap check failed", "error", err)
			continue
		}
		if used > m.cfg.MemoryLimit {
			log.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
			m.tryRecycle()
		}
	}
}

func (m *Manager) tryRecycle() {
	switch err := m.Recycle(); {
	case errors.Is(err, ErrBusy):
		m.cfg.Logger.Debug("browser: recycle deferred, tab in use")
	case err != nil:
		m.cfg.Logger.Error("browser: recycle failed", "error", err)
	}
}

// jsHeapUsage reads the JS heap of the first open page as a proxy for
// overall Chrome memory.
func jsHeapUsage(b *rod.Browser) (int64, error) {
	pages, err := b.Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, errors.New("no open pages")
	}

	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}

func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}

	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", "1920x1080x24", "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd

	// Give the display a moment to come up before Chrome binds to it.
	time.Sleep(500 * time.Millisecond)

	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		m.xvfb.Process.Kill()
		m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped")
	m.xvfb = nil
}
