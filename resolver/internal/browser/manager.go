// Package browser checks out isolated browser pages for share-link
// resolution. A Manager bounds how many pages exist at once, navigates them
// with a fallback ladder, watches for login walls, recovers once from a
// crashed page, and guarantees every page it hands out is closed exactly
// once.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/teralink/resolver/internal/canon"
	"github.com/hazyhaar/teralink/resolver/internal/session"
)

// Options configures a Manager.
type Options struct {
	// MaxSessions bounds concurrently checked-out pages. Default: 4.
	MaxSessions int64

	// AttemptTimeout bounds each rung of the navigation ladder. Default: 30s.
	AttemptTimeout time.Duration

	// MinDocumentBytes: a rendered document shorter than this gets one
	// reload. Default: 1024.
	MinDocumentBytes int

	// LoginMarkers are CSS selectors whose presence means the page shows a
	// login wall instead of the share.
	LoginMarkers []string

	// InterceptCapacity bounds each session's interception buffer.
	InterceptCapacity int

	// RecycleInterval is the maximum age of a recyclable backend before the
	// manager restarts it during an idle moment. Zero disables recycling.
	RecycleInterval time.Duration

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxSessions <= 0 {
		o.MaxSessions = 4
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 30 * time.Second
	}
	if o.MinDocumentBytes <= 0 {
		o.MinDocumentBytes = 1024
	}
	if o.InterceptCapacity <= 0 {
		o.InterceptCapacity = DefaultInterceptCapacity
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

var monitorEvery = 30 * time.Second

// Manager is a bounded pool of browser sessions over one Backend.
type Manager struct {
	backend Backend
	opts    Options
	sem     *semaphore.Weighted
	inUse   atomic.Int64
	closed  atomic.Bool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager wraps backend in a pool. If backend implements Recycler and
// opts.RecycleInterval is set, a monitor goroutine restarts it when it is
// both old and idle.
func NewManager(backend Backend, opts Options) *Manager {
	opts.defaults()
	m := &Manager{
		backend: backend,
		opts:    opts,
		sem:     semaphore.NewWeighted(opts.MaxSessions),
		done:    make(chan struct{}),
	}
	if r, ok := backend.(Recycler); ok && opts.RecycleInterval > 0 {
		m.wg.Add(1)
		go m.monitorLoop(r)
	}
	return m
}

// InUse returns the number of sessions currently checked out.
func (m *Manager) InUse() int64 { return m.inUse.Load() }

// Capacity returns the pool size.
func (m *Manager) Capacity() int64 { return m.opts.MaxSessions }

// Close stops the monitor, waits up to ctx for checked-out sessions to be
// released, then closes the backend.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
		m.wg.Wait()
		if aerr := m.sem.Acquire(ctx, m.opts.MaxSessions); aerr != nil {
			m.opts.Logger.Warn("browser: closing with sessions still checked out", "in_use", m.InUse())
		}
		err = m.backend.Close()
	})
	return err
}

func (m *Manager) monitorLoop(r Recycler) {
	defer m.wg.Done()
	log := m.opts.Logger
	ticker := time.NewTicker(monitorEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if r.Age() < m.opts.RecycleInterval {
				continue
			}
			// Holding every slot guarantees no session is using the process.
			if !m.sem.TryAcquire(m.opts.MaxSessions) {
				log.Debug("browser: recycle due but pool busy", "in_use", m.InUse())
				continue
			}
			log.Info("browser: recycle interval reached", "age", r.Age())
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := r.Recycle(ctx); err != nil {
				log.Error("browser: recycle failed", "error", err)
			}
			cancel()
			m.sem.Release(m.opts.MaxSessions)
		}
	}
}

// Session is one checked-out page, owned by a single request. All methods
// transparently replace the page once if it crashes.
type Session struct {
	m       *Manager
	target  canon.Target
	snap    session.Snapshot
	ic      *Interception
	page    Page
	log     *slog.Logger
	reopens int

	releaseOnce sync.Once
}

// WithSession checks out a page, applies snap, navigates to target and runs
// fn. The page is closed and its slot returned on every path, including
// panics in fn and cancellation of ctx.
func WithSession[T any](ctx context.Context, m *Manager, target canon.Target, snap session.Snapshot,
	fn func(context.Context, *Session) (T, error)) (T, error) {
	var zero T
	s, err := m.checkout(ctx, target, snap)
	if err != nil {
		return zero, err
	}
	defer s.release()

	if err := s.navigate(ctx); err != nil {
		return zero, err
	}
	return fn(ctx, s)
}

func (m *Manager) checkout(ctx context.Context, target canon.Target, snap session.Snapshot) (*Session, error) {
	if m.closed.Load() {
		return nil, ErrPoolClosed
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if m.closed.Load() {
		m.sem.Release(1)
		return nil, ErrPoolClosed
	}
	m.inUse.Add(1)

	s := &Session{
		m:      m,
		target: target,
		snap:   snap,
		ic:     NewInterception(m.opts.InterceptCapacity),
		log:    m.opts.Logger.With("url", target.URL),
	}
	if err := s.openPage(ctx); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

func (s *Session) openPage(ctx context.Context) error {
	page, err := s.m.backend.NewPage(ctx, s.ic)
	if err != nil {
		return fmt.Errorf("browser: open page: %w", err)
	}
	s.page = page
	if s.snap.Empty() {
		return nil
	}
	if err := page.SetCookies(ctx, s.cookieRecords()); err != nil {
		return fmt.Errorf("browser: apply session: %w", err)
	}
	return nil
}

// cookieRecords fills in the domain of records saved without one, which
// the browser would otherwise reject.
func (s *Session) cookieRecords() []session.Record {
	host := ""
	if u, err := url.Parse(s.target.URL); err == nil {
		host = u.Hostname()
	}
	out := s.snap.Clone().Records
	for i := range out {
		if out[i].Domain == "" {
			out[i].Domain = host
		}
		if out[i].Path == "" {
			out[i].Path = "/"
		}
	}
	return out
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.page != nil {
			if err := s.page.Close(); err != nil {
				s.log.Debug("browser: close page", "error", err)
			}
			s.page = nil
		}
		s.m.inUse.Add(-1)
		s.m.sem.Release(1)
	})
}

// Target returns the canonical link this session navigated to.
func (s *Session) Target() canon.Target { return s.target }

// SnapshotApplied reports whether credential records were set on the page.
func (s *Session) SnapshotApplied() bool { return !s.snap.Empty() }

// Intercepted returns the network events observed so far, in arrival order.
func (s *Session) Intercepted() []InterceptedRequest { return s.ic.Snapshot() }

// Interception exposes the live buffer, for overflow accounting.
func (s *Session) Interception() *Interception { return s.ic }

// URL returns the page's current URL, or the target before any navigation.
func (s *Session) URL() string {
	if s.page != nil {
		if u := s.page.URL(); u != "" {
			return u
		}
	}
	return s.target.URL
}

// HTML returns the rendered document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.do(ctx, func(p Page) error {
		var err error
		html, err = p.HTML(ctx)
		return err
	})
	return html, err
}

// Click clicks the first element matching selector.
func (s *Session) Click(ctx context.Context, selector string) (bool, error) {
	var clicked bool
	err := s.do(ctx, func(p Page) error {
		var err error
		clicked, err = p.Click(ctx, selector)
		return err
	})
	return clicked, err
}

// Remove deletes every element matching any of selectors.
func (s *Session) Remove(ctx context.Context, selectors []string) error {
	return s.do(ctx, func(p Page) error { return p.Remove(ctx, selectors) })
}
