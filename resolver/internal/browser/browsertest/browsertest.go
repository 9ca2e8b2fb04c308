// Package browsertest provides an in-memory browser.Backend for tests that
// exercise the resolver without a real Chrome.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/teralink/resolver/internal/browser"
	"github.com/hazyhaar/teralink/resolver/internal/session"
)

// Backend hands out scripted Pages. Zero-value hooks succeed: navigation
// emits Requests and renders Document.
type Backend struct {
	// Document is the HTML every new page renders after navigation.
	Document string

	// Requests are appended to the interception buffer, as request events,
	// after each successful navigation.
	Requests []string

	// NewPageErr fails every NewPage call.
	NewPageErr error

	// OnNavigate, when set, decides each navigation attempt. Returning nil
	// lets the default behaviour run.
	OnNavigate func(ctx context.Context, p *Page, url string, cond browser.WaitCondition) error

	// OnReload, when set, decides each reload.
	OnReload func(ctx context.Context, p *Page, cond browser.WaitCondition) error

	// OnHTML, when set, replaces HTML.
	OnHTML func(ctx context.Context, p *Page) (string, error)

	// OnClick, when set, decides whether selector matched.
	OnClick func(ctx context.Context, p *Page, selector string) (bool, error)

	// SavedCookies is returned by Cookies when the page has none set.
	SavedCookies []session.Record

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

// NewPage implements browser.Backend.
func (b *Backend) NewPage(ctx context.Context, ic *browser.Interception) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, browser.ErrPoolClosed
	}
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	p := &Page{b: b, ic: ic, Index: len(b.pages)}
	b.pages = append(b.pages, p)
	return p, nil
}

// Close implements browser.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Pages returns every page opened so far.
func (b *Backend) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Page, len(b.pages))
	copy(out, b.pages)
	return out
}

// Open returns the number of pages opened and not yet closed.
func (b *Backend) Open() int {
	n := 0
	for _, p := range b.Pages() {
		if !p.IsClosed() {
			n++
		}
	}
	return n
}

// Page is a scripted browser.Page.
type Page struct {
	Index int

	b  *Backend
	ic *browser.Interception

	mu          sync.Mutex
	url         string
	document    string
	navigations []browser.WaitCondition
	reloads     int
	cookies     []session.Record
	removed     []string
	clicks      []string
	closes      int
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string, cond browser.WaitCondition) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	p.navigations = append(p.navigations, cond)
	p.mu.Unlock()

	if p.b.OnNavigate != nil {
		if err := p.b.OnNavigate(ctx, p, url, cond); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	if p.document == "" {
		p.document = p.b.Document
	}
	p.mu.Unlock()
	for _, u := range p.b.Requests {
		p.Emit(u)
	}
	return nil
}

// Reload implements browser.Page.
func (p *Page) Reload(ctx context.Context, cond browser.WaitCondition) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	p.reloads++
	p.mu.Unlock()
	if p.b.OnReload != nil {
		return p.b.OnReload(ctx, p, cond)
	}
	return ctx.Err()
}

// HTML implements browser.Page.
func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := p.alive(); err != nil {
		return "", err
	}
	if p.b.OnHTML != nil {
		return p.b.OnHTML(ctx, p)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.document, nil
}

// URL implements browser.Page.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Click implements browser.Page.
func (p *Page) Click(ctx context.Context, selector string) (bool, error) {
	if err := p.alive(); err != nil {
		return false, err
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	p.mu.Unlock()
	if p.b.OnClick != nil {
		return p.b.OnClick(ctx, p, selector)
	}
	return false, nil
}

// Remove implements browser.Page.
func (p *Page) Remove(ctx context.Context, selectors []string) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	p.removed = append(p.removed, selectors...)
	p.mu.Unlock()
	return nil
}

// SetCookies implements browser.Page.
func (p *Page) SetCookies(ctx context.Context, records []session.Record) error {
	if err := p.alive(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cookies = append([]session.Record(nil), records...)
	p.mu.Unlock()
	return nil
}

// Cookies implements browser.Page.
func (p *Page) Cookies(ctx context.Context) ([]session.Record, error) {
	if err := p.alive(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cookies) > 0 {
		return append([]session.Record(nil), p.cookies...), nil
	}
	return append([]session.Record(nil), p.b.SavedCookies...), nil
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	if p.closes > 1 {
		return errors.New("browsertest: page closed twice")
	}
	return nil
}

func (p *Page) alive() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closes > 0 {
		return fmt.Errorf("browsertest: page %d used after close: %w", p.Index, browser.ErrPageGone)
	}
	return nil
}

// Emit appends a request event for url to the page's interception buffer.
func (p *Page) Emit(url string) {
	p.ic.Append(browser.InterceptedRequest{URL: url, ObservedAt: time.Now(), Kind: browser.KindRequest})
}

// SetDocument replaces the rendered HTML.
func (p *Page) SetDocument(html string) {
	p.mu.Lock()
	p.document = html
	p.mu.Unlock()
}

// Closes returns how many times Close was called.
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// IsClosed reports whether Close was called at least once.
func (p *Page) IsClosed() bool { return p.Closes() > 0 }

// Navigations returns the wait conditions of every navigation attempt.
func (p *Page) Navigations() []browser.WaitCondition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.WaitCondition(nil), p.navigations...)
}

// Reloads returns the number of reloads.
func (p *Page) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// AppliedCookies returns the records set on the page.
func (p *Page) AppliedCookies() []session.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]session.Record(nil), p.cookies...)
}

// Removed returns every selector passed to Remove.
func (p *Page) Removed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.removed...)
}

// Clicks returns every selector passed to Click.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}
