package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/teralink/resolver/internal/session"
)

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"

// RodConfig configures the Chrome process behind a RodBackend.
type RodConfig struct {
	// Bin is the Chrome executable. Empty: /usr/bin/chromium when present,
	// otherwise rod's lookup and managed download.
	Bin string

	// Remote is the DevTools WebSocket URL of an external Chrome. When set
	// nothing is launched.
	Remote string

	Headless bool

	UserAgent      string
	AcceptLanguage string
	Referer        string
	ViewportWidth  int
	ViewportHeight int

	Logger *slog.Logger
}

func (c *RodConfig) defaults() {
	if c.Bin == "" {
		if _, err := os.Stat("/usr/bin/chromium"); err == nil {
			c.Bin = "/usr/bin/chromium"
		}
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = "en-US,en;q=0.9"
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1366
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 768
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RodBackend drives one shared Chrome process over CDP. Every page lives in
// its own incognito browser context.
type RodBackend struct {
	cfg      RodConfig
	launchFn func() (*rod.Browser, *launcher.Launcher, error)

	mu       sync.RWMutex
	browser  *rod.Browser
	lnch     *launcher.Launcher
	startAt  time.Time
	starting *launchAttempt
	closed   bool
}

// launchAttempt is one in-flight Chrome start shared by every caller that
// needs a browser while it runs.
type launchAttempt struct {
	done chan struct{}
	br   *rod.Browser
	err  error
}

// NewRodBackend creates a backend. Chrome starts on the first NewPage.
func NewRodBackend(cfg RodConfig) *RodBackend {
	cfg.defaults()
	b := &RodBackend{cfg: cfg}
	b.launchFn = b.launch
	return b
}

// ensureStarted returns the running browser, starting it if needed. The
// launch runs in the background and ctx bounds only how long this caller
// waits for it.
func (b *RodBackend) ensureStarted(ctx context.Context) (*rod.Browser, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if b.browser != nil {
		br := b.browser
		b.mu.Unlock()
		return br, nil
	}
	att := b.starting
	if att == nil {
		att = &launchAttempt{done: make(chan struct{})}
		b.starting = att
		go b.start(att)
	}
	b.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-att.done:
		return att.br, att.err
	}
}

func (b *RodBackend) start(att *launchAttempt) {
	br, l, err := b.launchFn()

	b.mu.Lock()
	defer b.mu.Unlock()
	defer close(att.done)
	b.starting = nil
	if err != nil {
		att.err = err
		return
	}
	if b.closed {
		if l != nil {
			br.Close()
			l.Cleanup()
		}
		att.err = ErrPoolClosed
		return
	}
	b.browser, b.lnch, b.startAt = br, l, time.Now()
	att.br = br
}

func (b *RodBackend) launch() (*rod.Browser, *launcher.Launcher, error) {
	log := b.cfg.Logger

	var (
		wsURL string
		l     *launcher.Launcher
	)
	if b.cfg.Remote != "" {
		wsURL = b.cfg.Remote
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l = launcher.New().
			Headless(b.cfg.Headless).
			NoSandbox(true).
			Set("disable-setuid-sandbox").
			Set("disable-dev-shm-usage").
			Set("disable-blink-features", "AutomationControlled").
			Set("window-size", fmt.Sprintf("%d,%d", b.cfg.ViewportWidth, b.cfg.ViewportHeight))
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		log.Info("browser: launched local chrome", "url", wsURL, "bin", b.cfg.Bin, "headless", b.cfg.Headless)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		if l != nil {
			l.Cleanup()
		}
		return nil, nil, fmt.Errorf("browser: connect: %w", err)
	}
	return br, l, nil
}

// Age returns how long the locally launched Chrome process has been
// running. A remote Chrome is never recycled, so its age is always zero.
func (b *RodBackend) Age() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.browser == nil || b.lnch == nil {
		return 0
	}
	return time.Since(b.startAt)
}

// Recycle kills Chrome. The next NewPage launches a fresh process.
func (b *RodBackend) Recycle(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrPoolClosed
	}
	b.cfg.Logger.Info("browser: recycling", "uptime", time.Since(b.startAt))
	b.cleanup()
	return nil
}

// Close shuts Chrome down.
func (b *RodBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cleanup()
	return nil
}

func (b *RodBackend) cleanup() {
	if b.browser != nil {
		if b.lnch != nil {
			b.browser.Close()
		}
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}

// NewPage opens a stealth page in a fresh incognito context and starts
// recording its network events into ic.
func (b *RodBackend) NewPage(ctx context.Context, ic *Interception) (Page, error) {
	br, err := b.ensureStarted(ctx)
	if err != nil {
		return nil, err
	}

	inc, err := br.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito context: %w", err)
	}
	inc = inc.Context(context.Background())

	page, err := stealth.Page(inc)
	if err != nil {
		inc.Close()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	p := &rodPage{ctx: inc, page: page, log: b.cfg.Logger}
	if err := p.setup(&b.cfg); err != nil {
		p.Close()
		return nil, err
	}
	p.listen(ic)
	return p, nil
}

type rodPage struct {
	ctx    *rod.Browser // the incognito context owning the page
	page   *rod.Page
	log    *slog.Logger
	gone   atomic.Bool
	url    atomic.Value // string
	cancel context.CancelFunc
	once   sync.Once
}

func (p *rodPage) setup(cfg *RodConfig) error {
	if err := p.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      cfg.UserAgent,
		AcceptLanguage: cfg.AcceptLanguage,
	}); err != nil {
		return fmt.Errorf("browser: set user agent: %w", err)
	}
	if err := p.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.ViewportWidth,
		Height:            cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("browser: set viewport: %w", err)
	}
	headers := []string{"Accept-Language", cfg.AcceptLanguage, "DNT", "1"}
	if cfg.Referer != "" {
		headers = append(headers, "Referer", cfg.Referer)
	}
	if _, err := p.page.SetExtraHeaders(headers); err != nil {
		return fmt.Errorf("browser: set headers: %w", err)
	}
	return nil
}

// listen subscribes to network and crash events until Close.
func (p *rodPage) listen(ic *Interception) {
	ectx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	wait := p.page.Context(ectx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			ic.Append(InterceptedRequest{
				URL:          e.Request.URL,
				ObservedAt:   time.Now(),
				Kind:         KindRequest,
				ResourceType: string(e.Type),
			})
		},
		func(e *proto.NetworkResponseReceived) {
			ic.Append(InterceptedRequest{
				URL:          e.Response.URL,
				ObservedAt:   time.Now(),
				Kind:         KindResponse,
				ResourceType: string(e.Type),
				Status:       e.Response.Status,
			})
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame != nil && e.Frame.ParentID == "" {
				p.url.Store(e.Frame.URL)
			}
		},
		func(e *proto.InspectorTargetCrashed) {
			p.log.Warn("browser: target crashed")
			p.gone.Store(true)
		},
		func(e *proto.InspectorDetached) {
			p.gone.Store(true)
		},
	)
	go wait()
}

var goneMarkers = []string{
	"target closed",
	"no target with given id",
	"session with given id not found",
	"inspected target navigated or closed",
	"target crashed",
}

func (p *rodPage) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if p.gone.Load() {
		return fmt.Errorf("browser: %s: %w: %v", op, ErrPageGone, err)
	}
	msg := strings.ToLower(err.Error())
	for _, m := range goneMarkers {
		if strings.Contains(msg, m) {
			p.gone.Store(true)
			return fmt.Errorf("browser: %s: %w: %v", op, ErrPageGone, err)
		}
	}
	return fmt.Errorf("browser: %s: %w", op, err)
}

func lifecycle(cond WaitCondition) proto.PageLifecycleEventName {
	switch cond {
	case DOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded
	case Load:
		return proto.PageLifecycleEventNameLoad
	default:
		return proto.PageLifecycleEventNameNetworkIdle
	}
}

func (p *rodPage) Navigate(ctx context.Context, url string, cond WaitCondition) error {
	if p.gone.Load() {
		return p.wrap("navigate", ErrPageGone)
	}
	pg := p.page.Context(ctx)
	wait := pg.WaitNavigation(lifecycle(cond))
	if err := pg.Navigate(url); err != nil {
		return p.wrap("navigate", err)
	}
	wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("browser: wait %s: %w", cond, err)
	}
	return p.wrap("navigate", p.goneErr())
}

func (p *rodPage) Reload(ctx context.Context, cond WaitCondition) error {
	pg := p.page.Context(ctx)
	wait := pg.WaitNavigation(lifecycle(cond))
	if err := pg.Reload(); err != nil {
		return p.wrap("reload", err)
	}
	wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("browser: reload wait %s: %w", cond, err)
	}
	return p.wrap("reload", p.goneErr())
}

func (p *rodPage) goneErr() error {
	if p.gone.Load() {
		return ErrPageGone
	}
	return nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	return html, p.wrap("html", err)
}

func (p *rodPage) URL() string {
	u, _ := p.url.Load().(string)
	return u
}

func (p *rodPage) Click(ctx context.Context, selector string) (bool, error) {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return false, p.wrap("click", err)
	}
	if !has {
		return false, nil
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, p.wrap("click", err)
	}
	return true, nil
}

func (p *rodPage) Remove(ctx context.Context, selectors []string) error {
	_, err := p.page.Context(ctx).Eval(`(sels) => {
		for (const s of sels) {
			try { document.querySelectorAll(s).forEach(e => e.remove()); } catch (e) {}
		}
	}`, selectors)
	return p.wrap("remove", err)
}

func (p *rodPage) SetCookies(ctx context.Context, records []session.Record) error {
	params := make([]*proto.NetworkCookieParam, 0, len(records))
	for _, r := range records {
		c := &proto.NetworkCookieParam{
			Name:     r.Name,
			Value:    r.Value,
			Domain:   r.Domain,
			Path:     r.Path,
			Secure:   r.Secure,
			HTTPOnly: r.HTTPOnly,
		}
		if !r.Session && r.Expires > 0 {
			c.Expires = proto.TimeSinceEpoch(r.Expires)
		}
		switch ss := proto.NetworkCookieSameSite(r.SameSite); ss {
		case proto.NetworkCookieSameSiteStrict, proto.NetworkCookieSameSiteLax, proto.NetworkCookieSameSiteNone:
			c.SameSite = ss
		}
		params = append(params, c)
	}
	return p.wrap("set cookies", p.page.Context(ctx).SetCookies(params))
}

func (p *rodPage) Cookies(ctx context.Context) ([]session.Record, error) {
	cookies, err := p.ctx.Context(ctx).GetCookies()
	if err != nil {
		return nil, p.wrap("cookies", err)
	}
	out := make([]session.Record, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, session.Record{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
			Session:  c.Session,
		})
	}
	return out, nil
}

// Close closes the page and disposes its incognito context. Each CDP call
// is bounded so a hung browser cannot stall the release path.
func (p *rodPage) Close() error {
	var err error
	p.once.Do(func() {
		if perr := p.page.Timeout(5 * time.Second).Close(); perr != nil && !p.gone.Load() {
			err = fmt.Errorf("browser: close page: %w", perr)
		}
		if cerr := p.ctx.Timeout(5 * time.Second).Close(); cerr != nil && err == nil {
			err = fmt.Errorf("browser: dispose context: %w", cerr)
		}
		if p.cancel != nil {
			p.cancel()
		}
	})
	return err
}
