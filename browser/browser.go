// Package browser is the page driver: it owns the Chrome lifecycle and
// one disposable browsing context at a time. Identity rotation discards
// the incognito context (cookies, storage, session id) and opens a
// fresh stealth page. The engine calls it both proactively and after a
// detection event.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"
)

// Config configures the driver.
type Config struct {
	// Remote is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	Remote string

	// NavTimeout bounds a single navigation. Default: 30s.
	NavTimeout time.Duration

	// Proxy is a host:port all contexts route through.
	Proxy string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Driver drives one stealth page inside a disposable incognito context.
// Not safe for concurrent use; the engine is its single caller.
type Driver struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	ictx    *rod.Browser // incognito context, discarded on rotation
	page    *rod.Page
	session string // rotation identity, fresh per context
	closed  bool
}

// New creates a Driver. Call Start before first use.
func New(cfg Config) *Driver {
	cfg.defaults()
	return &Driver{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance) and opens
// the first browsing context.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("browser: driver is closed")
	}

	log := d.cfg.Logger

	var wsURL string
	if d.cfg.Remote != "" {
		wsURL = d.cfg.Remote
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(true)

		// Anti-detection flags.
		l = l.Set("disable-blink-features", "AutomationControlled")

		if d.cfg.Proxy != "" {
			l = l.Proxy(d.cfg.Proxy)
		}

		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		d.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	d.browser = b

	return d.openContextLocked(ctx)
}

// Session returns the current rotation identity.
func (d *Driver) Session() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// Navigate loads url in the current page and returns the main-document
// HTTP status (0 when no response event was observed before load).
func (d *Driver) Navigate(ctx context.Context, url string) (int, error) {
	d.mu.Lock()
	page := d.page
	d.mu.Unlock()
	if page == nil {
		return 0, fmt.Errorf("browser: no active page")
	}

	navCtx, cancel := context.WithTimeout(ctx, d.cfg.NavTimeout)
	defer cancel()
	p := page.Context(navCtx)

	// Capture the main-document response status without ever blocking
	// on it: if the event is missed the status simply stays 0.
	statusCh := make(chan int, 1)
	wait := p.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			select {
			case statusCh <- int(e.Response.Status):
			default:
			}
			return true
		}
		return false
	})
	go wait()

	if err := p.Navigate(url); err != nil {
		return 0, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return 0, fmt.Errorf("browser: wait load %s: %w", url, err)
	}

	select {
	case status := <-statusCh:
		return status, nil
	default:
		return 0, nil
	}
}

// CurrentURL returns the page's URL after any redirects.
func (d *Driver) CurrentURL() (string, error) {
	d.mu.Lock()
	page := d.page
	d.mu.Unlock()
	if page == nil {
		return "", fmt.Errorf("browser: no active page")
	}

	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// Content serialises the rendered DOM as outer HTML.
func (d *Driver) Content(ctx context.Context) (string, error) {
	d.mu.Lock()
	page := d.page
	d.mu.Unlock()
	if page == nil {
		return "", fmt.Errorf("browser: no active page")
	}

	res, err := page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: read content: %w", err)
	}
	return res.Value.Str(), nil
}

// Discard tears down the current browsing context without opening a
// replacement. The engine calls it on detection so the burned identity
// holds no resources during the cooldown.
func (d *Driver) Discard() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discardContextLocked()
}

// Rotate discards the current browsing context and identity and opens a
// fresh one. Safe to call when the old context is already gone.
func (d *Driver) Rotate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("browser: driver is closed")
	}
	if d.browser == nil {
		return fmt.Errorf("browser: not started")
	}

	d.discardContextLocked()
	return d.openContextLocked(ctx)
}

// Close shuts everything down: page, context, browser, launcher, in
// that order. Idempotent; already-closed resources are tolerated.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	d.discardContextLocked()
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			d.cfg.Logger.Debug("browser: close", "error", err)
		}
		d.browser = nil
	}
	if d.lnch != nil {
		d.lnch.Cleanup()
		d.lnch = nil
	}
	return nil
}

func (d *Driver) openContextLocked(ctx context.Context) error {
	ictx, err := d.browser.Context(ctx).Incognito()
	if err != nil {
		return fmt.Errorf("browser: new context: %w", err)
	}

	page, err := stealth.Page(ictx)
	if err != nil {
		return fmt.Errorf("browser: stealth page: %w", err)
	}

	d.ictx = ictx
	d.page = page
	d.session = uuid.Must(uuid.NewV7()).String()
	d.cfg.Logger.Info("browser: new browsing context", "session", d.session)
	return nil
}

func (d *Driver) discardContextLocked() {
	if d.page != nil {
		if err := d.page.Close(); err != nil {
			d.cfg.Logger.Debug("browser: close page", "error", err)
		}
		d.page = nil
	}
	if d.ictx != nil && d.browser != nil {
		err := proto.TargetDisposeBrowserContext{
			BrowserContextID: d.ictx.BrowserContextID,
		}.Call(d.browser)
		if err != nil {
			d.cfg.Logger.Debug("browser: dispose context", "error", err)
		}
		d.ictx = nil
	}
	d.session = ""
}
