package browser

import (
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/teralink/resolver/internal/session"
)

// WaitCondition names the page lifecycle event a navigation waits for.
type WaitCondition string

const (
	NetworkIdle      WaitCondition = "networkIdle"
	DOMContentLoaded WaitCondition = "DOMContentLoaded"
	Load             WaitCondition = "load"
)

// Ladder is the order in which navigation strategies are tried.
var Ladder = []WaitCondition{NetworkIdle, DOMContentLoaded, Load}

// ErrPageGone reports a page whose target crashed, closed or detached.
var ErrPageGone = errors.New("browser: page gone")

// ErrPoolClosed is returned by checkouts after Manager.Close.
var ErrPoolClosed = errors.New("browser: pool closed")

// Page is the controllable page the resolver drives. Implementations
// return errors wrapping ErrPageGone when the underlying target is lost.
type Page interface {
	Navigate(ctx context.Context, url string, cond WaitCondition) error
	Reload(ctx context.Context, cond WaitCondition) error
	HTML(ctx context.Context) (string, error)
	URL() string
	// Click clicks the first element matching selector. It reports false
	// without error when nothing matches.
	Click(ctx context.Context, selector string) (bool, error)
	// Remove deletes every element matching any of selectors.
	Remove(ctx context.Context, selectors []string) error
	SetCookies(ctx context.Context, records []session.Record) error
	Cookies(ctx context.Context) ([]session.Record, error)
	// Close releases the page and its browser context. It must return
	// within a bounded time.
	Close() error
}

// Backend opens pages. Each page is isolated from every other: cookies,
// storage and event listeners never leak between them. Every network
// event the page observes is appended to ic.
type Backend interface {
	NewPage(ctx context.Context, ic *Interception) (Page, error)
	Close() error
}

// Recycler is implemented by backends that hold a long-lived process worth
// restarting periodically. The Manager only calls Recycle while no session
// is checked out.
type Recycler interface {
	Age() time.Duration
	Recycle(ctx context.Context) error
}
