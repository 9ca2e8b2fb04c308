// Package extract finds the directly fetchable resource URI behind a loaded
// share page. Tiers run from cheapest to most invasive and the first hit
// wins: intercepted network traffic, then the rendered DOM, then both again
// after a settle wait, then (optionally) clicking through the page.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/teralink/resolver/internal/browser"
)

// Source is a loaded page. *browser.Session implements it.
type Source interface {
	Intercepted() []browser.InterceptedRequest
	HTML(ctx context.Context) (string, error)
	URL() string
	Click(ctx context.Context, selector string) (bool, error)
	Remove(ctx context.Context, selectors []string) error
}

// Tier names the strategy that produced a Result.
type Tier string

const (
	TierInterception Tier = "interception"
	TierDOM          Tier = "dom"
)

// Pass names when the tier matched.
type Pass string

const (
	PassInitial Pass = "initial"
	PassSettle  Pass = "settle"
	PassUnlock  Pass = "unlock"
)

// Result is a successful extraction.
type Result struct {
	ResourceURI string `json:"resource_uri"`
	DisplayName string `json:"display_name,omitempty"`
	Tier        Tier   `json:"tier"`
	Pass        Pass   `json:"pass"`
	Rule        string `json:"rule"` // signature name or CSS selector
}

// Config holds the selector and signature tables. All of them are data so
// site changes need no code change.
type Config struct {
	Signatures       []Signature
	Selectors        []string
	NameSelectors    []string
	SettleInterval   time.Duration
	Interactive      bool
	UnlockSelectors  []string
	OverlaySelectors []string
	ClickSettle      time.Duration
	MaxUnlockClicks  int
	Logger           *slog.Logger
}

// DefaultOverlaySelectors are removed before interactive unlocking.
var DefaultOverlaySelectors = []string{
	"div.login-dialog",
	"iframe[src*='google']",
	".modal-dialog",
	"#ncPopups",
}

// DefaultUnlockSelectors are clicked in order during interactive unlocking.
var DefaultUnlockSelectors = []string{
	"[class*='download-btn']",
	"button[title*='Download']",
	".action-bar-download",
}

func (c *Config) defaults() {
	if c.Signatures == nil {
		c.Signatures = DefaultSignatures
	}
	if c.Selectors == nil {
		c.Selectors = DefaultSelectors
	}
	if c.NameSelectors == nil {
		c.NameSelectors = DefaultNameSelectors
	}
	if c.SettleInterval <= 0 {
		c.SettleInterval = 5 * time.Second
	}
	if c.OverlaySelectors == nil {
		c.OverlaySelectors = DefaultOverlaySelectors
	}
	if c.UnlockSelectors == nil {
		c.UnlockSelectors = DefaultUnlockSelectors
	}
	if c.ClickSettle <= 0 {
		c.ClickSettle = time.Second
	}
	if c.MaxUnlockClicks <= 0 {
		c.MaxUnlockClicks = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Pipeline runs the extraction tiers. Safe for concurrent use.
type Pipeline struct {
	cfg    Config
	policy *bluemonday.Policy
}

// New builds a Pipeline.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{cfg: cfg, policy: bluemonday.StrictPolicy()}
}

// Extract runs the tiers against src. It returns *NotFoundError when none
// matches, or the context error when ctx ends first.
func (p *Pipeline) Extract(ctx context.Context, src Source) (Result, error) {
	log := p.cfg.Logger.With("url", src.URL())

	if res, ok, err := p.scan(ctx, src, PassInitial, log); err != nil || ok {
		return res, err
	}

	log.Debug("extract: nothing yet, settling", "wait", p.cfg.SettleInterval)
	if err := sleep(ctx, p.cfg.SettleInterval); err != nil {
		return Result{}, err
	}
	if res, ok, err := p.scan(ctx, src, PassSettle, log); err != nil || ok {
		return res, err
	}

	if p.cfg.Interactive {
		if res, ok, err := p.unlock(ctx, src, log); err != nil || ok {
			return res, err
		}
	}

	return Result{}, &NotFoundError{URL: src.URL(), Observed: len(src.Intercepted())}
}

// scan runs tier 1 then tier 2 once. Tier 1 needs no document: a failed
// HTML fetch only costs the DOM tier and the display name, unless ctx has
// ended or the page is gone.
func (p *Pipeline) scan(ctx context.Context, src Source, pass Pass, log *slog.Logger) (Result, bool, error) {
	res := Result{Pass: pass}
	uri, rule, hit := matchIntercepted(p.cfg.Signatures, src.Intercepted())
	if hit {
		res.ResourceURI, res.Tier, res.Rule = uri, TierInterception, rule
	}

	doc, err := p.document(ctx, src)
	switch {
	case err != nil && ctx.Err() != nil:
		return Result{}, false, err
	case err != nil && errors.Is(err, browser.ErrPageGone) && !hit:
		return Result{}, false, err
	case err != nil:
		log.Warn("extract: document unavailable", "pass", pass, "error", err)
	}

	if !hit {
		if doc == nil {
			return Result{}, false, nil
		}
		uri, rule, ok := matchDocument(doc, p.cfg.Selectors, src.URL())
		if !ok {
			return Result{}, false, nil
		}
		res.ResourceURI, res.Tier, res.Rule = uri, TierDOM, rule
	}

	if doc != nil {
		res.DisplayName = displayName(doc, p.cfg.NameSelectors, p.policy)
	}
	return res, true, nil
}

func (p *Pipeline) document(ctx context.Context, src Source) (*goquery.Document, error) {
	htmlText, err := src.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(htmlText))
}

// unlock removes overlays and clicks through the unlock selectors,
// rescanning after each click that hit something.
func (p *Pipeline) unlock(ctx context.Context, src Source, log *slog.Logger) (Result, bool, error) {
	if err := src.Remove(ctx, p.cfg.OverlaySelectors); err != nil {
		if fatal(ctx, err) {
			return Result{}, false, err
		}
		log.Warn("extract: overlay removal failed", "error", err)
	}

	selectors := p.cfg.UnlockSelectors
	if len(selectors) > p.cfg.MaxUnlockClicks {
		selectors = selectors[:p.cfg.MaxUnlockClicks]
	}
	for _, sel := range selectors {
		clicked, err := src.Click(ctx, sel)
		if err != nil {
			if fatal(ctx, err) {
				return Result{}, false, err
			}
			log.Warn("extract: unlock click failed", "selector", sel, "error", err)
			continue
		}
		if !clicked {
			continue
		}
		log.Debug("extract: clicked", "selector", sel)
		if err := sleep(ctx, p.cfg.ClickSettle); err != nil {
			return Result{}, false, err
		}
		if res, ok, err := p.scan(ctx, src, PassUnlock, log); err != nil || ok {
			return res, ok, err
		}
	}
	return Result{}, false, nil
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, browser.ErrPageGone)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
