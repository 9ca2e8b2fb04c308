package browser_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/teralink/resolver/internal/browser"
	"github.com/hazyhaar/teralink/resolver/internal/browser/browsertest"
	"github.com/hazyhaar/teralink/resolver/internal/canon"
	"github.com/hazyhaar/teralink/resolver/internal/session"
)

var target = canon.Target{URL: "https://1024terabox.com/s/AbCdEf", Token: "AbCdEf"}

var bigDocument = "<html><body><div id=\"share\">" + strings.Repeat("x", 2048) + "</div></body></html>"

var snapshot = session.Snapshot{Records: []session.Record{
	{Name: "ndus", Value: "token"},
	{Name: "lang", Value: "en", Domain: ".1024terabox.com", Path: "/"},
}}

func newManager(t *testing.T, b *browsertest.Backend, opts browser.Options) *browser.Manager {
	t.Helper()
	m := browser.NewManager(b, opts)
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestWithSession_Success(t *testing.T) {
	b := &browsertest.Backend{
		Document: bigDocument,
		Requests: []string{"https://1024terabox.com/api/shorturlinfo", "https://d.1024terabox.com/file/abc?fid=1"},
	}
	m := newManager(t, b, browser.Options{})

	got, err := browser.WithSession(context.Background(), m, target, snapshot,
		func(ctx context.Context, s *browser.Session) (int, error) {
			if m.InUse() != 1 {
				t.Fatalf("InUse inside session: got %d", m.InUse())
			}
			if s.URL() != target.URL {
				t.Fatalf("URL: got %q", s.URL())
			}
			return len(s.Intercepted()), nil
		})
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}
	if got != 2 {
		t.Fatalf("intercepted: got %d, want 2", got)
	}

	pages := b.Pages()
	if len(pages) != 1 {
		t.Fatalf("pages opened: got %d", len(pages))
	}
	p := pages[0]
	if p.Closes() != 1 {
		t.Fatalf("page closes: got %d, want 1", p.Closes())
	}
	if m.InUse() != 0 {
		t.Fatalf("InUse after release: got %d", m.InUse())
	}
	if navs := p.Navigations(); len(navs) != 1 || navs[0] != browser.NetworkIdle {
		t.Fatalf("navigations: got %v", navs)
	}
	cookies := p.AppliedCookies()
	if len(cookies) != 2 || cookies[0].Domain != "1024terabox.com" || cookies[0].Path != "/" {
		t.Fatalf("applied cookies: %+v", cookies)
	}
	if snapshot.Records[0].Domain != "" {
		t.Fatal("snapshot mutated by cookie defaults")
	}
}

func TestWithSession_Blocked(t *testing.T) {
	b := &browsertest.Backend{
		Document: bigDocument,
		OnNavigate: func(ctx context.Context, p *browsertest.Page, url string, cond browser.WaitCondition) error {
			return errors.New("net::ERR_CONNECTION_RESET")
		},
	}
	m := newManager(t, b, browser.Options{})

	called := false
	_, err := browser.WithSession(context.Background(), m, target, session.Snapshot{},
		func(ctx context.Context, s *browser.Session) (struct{}, error) {
			called = true
			return struct{}{}, nil
		})

	var nerr *browser.NavigationError
	if !errors.As(err, &nerr) || nerr.Reason != browser.Blocked {
		t.Fatalf("expected Blocked, got %v", err)
	}
	if !errors.Is(err, &browser.NavigationError{Reason: browser.Blocked}) {
		t.Fatal("errors.Is by reason failed")
	}
	if called {
		t.Fatal("fn ran after failed navigation")
	}
	p := b.Pages()[0]
	want := []browser.WaitCondition{browser.NetworkIdle, browser.DOMContentLoaded, browser.Load}
	got := p.Navigations()
	if len(got) != len(want) {
		t.Fatalf("navigations: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("navigations: got %v, want %v", got, want)
		}
	}
	if p.Closes() != 1 || m.InUse() != 0 {
		t.Fatalf("release: closes=%d in_use=%d", p.Closes(), m.InUse())
	}
}

func TestWithSession_LadderFallsBack(t *testing.T) {
	b := &browsertest.Backend{
		Document: bigDocument,
		OnNavigate: func(ctx context.Context, p *browsertest.Page, url string, cond browser.WaitCondition) error {
			if cond == browser.NetworkIdle {
				return context.DeadlineExceeded
			}
			return nil
		},
	}
	m := newManager(t, b, browser.Options{})
	_, err := browser.WithSession(context.Background(), m, target, session.Snapshot{},
		func(ctx context.Context, s *browser.Session) (bool, error) { return true, nil })
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}
	if navs := b.Pages()[0].Navigations(); len(navs) != 2 || navs[1] != browser.DOMContentLoaded {
		t.Fatalf("navigations: got %v", navs)
	}
}

func TestWithSession_SessionExpired(t *testing.T) {
	b := &browsertest.Backend{
		Document: `<html><body><div class="login-main">Log in</div>` + strings.Repeat(" ", 2048) + `</body></html>`,
	}
	m := newManager(t, b, browser.Options{LoginMarkers: []string{".login-main"}})

	_, err := browser.WithSession(context.Background(), m, target, snapshot,
		func(ctx context.Context, s *browser.Session) (struct{}, error) { return struct{}{}, nil })

	var nerr *browser.NavigationError
	if !errors.As(err, &nerr) || nerr.Reason != browser.SessionExpired {
		t.Fatalf("expected SessionExpired, got %v", err)
	}
	if !strings.Contains(nerr.Detail, "despite session snapshot") {
		t.Fatalf("detail: %q", nerr.Detail)
	}
	if b.Pages()[0].Closes() != 1 || m.InUse() != 0 {
		t.Fatal("session not released")
	}
}

func TestWithSession_SmallDocumentReloadsOnce(t *testing.T) {
	b := &browsertest.Backend{
		Document: "<html></html>",
		OnReload: func(ctx context.Context, p *browsertest.Page, cond browser.WaitCondition) error {
			if cond != browser.NetworkIdle {
				t.Errorf("reload wait: got %s", cond)
			}
			p.SetDocument(bigDocument)
			return nil
		},
	}
	m := newManager(t, b, browser.Options{})
	html, err := browser.WithSession(context.Background(), m, target, session.Snapshot{},
		func(ctx context.Context, s *browser.Session) (string, error) { return s.HTML(ctx) })
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}
	if html != bigDocument {
		t.Fatal("reloaded document not returned")
	}
	if r := b.Pages()[0].Reloads(); r != 1 {
		t.Fatalf("reloads: got %d, want 1", r)
	}
}

func TestWithSession_ReloadFailureIsNotFatal(t *testing.T) {
	b := &browsertest.Backend{
		Document: "<html></html>",
		OnReload: func(ctx context.Context, p *browsertest.Page, cond browser.WaitCondition) error {
			return errors.New("reload timed out")
		},
	}
	m := newManager(t, b, browser.Options{})
	_, err := browser.WithSession(context.Background(), m, target, session.Snapshot{},
		func(ctx context.Context, s *browser.Session) (bool, error) { return true, nil })
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}
	if r := b.Pages()[0].Reloads(); r != 1 {
		t.Fatalf("reloads: got %d, want 1", r)
	}
}

func TestWithSession_RecoversFromCrashOnce(t *testing.T) {
	var crashed atomic.Bool
	b := &browsertest.Backend{
		Document: bigDocument,
		Requests: []string{"https://d.1024terabox.com/file/abc"},
	}
	b.OnHTML = func(ctx context.Context, p *browsertest.Page) (string, error) {
		if p.Index == 0 && crashed.CompareAndSwap(false, true) {
			return "", browser.ErrPageGone
		}
		return bigDocument, nil
	}
	m := newManager(t, b, browser.Options{})

	_, err := browser.WithSession(context.Background(), m, target, snapshot,
		func(ctx context.Context, s *browser.Session) (bool, error) { return true, nil })
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}
	pages := b.Pages()
	if len(pages) != 2 {
		t.Fatalf("pages: got %d, want 2", len(pages))
	}
	if len(pages[1].AppliedCookies()) != len(snapshot.Records) {
		t.Fatal("snapshot not re-applied to replacement page")
	}
	if len(pages[1].Navigations()) == 0 {
		t.Fatal("replacement page never navigated")
	}
	for _, p := range pages {
		if p.Closes() != 1 {
			t.Fatalf("page %d closes: got %d", p.Index, p.Closes())
		}
	}
}

func TestWithSession_SecondCrashIsFatal(t *testing.T) {
	b := &browsertest.Backend{Document: bigDocument}
	b.OnHTML = func(ctx context.Context, p *browsertest.Page) (string, error) {
		return "", browser.ErrPageGone
	}
	m := newManager(t, b, browser.Options{})

	_, err := browser.WithSession(context.Background(), m, target, session.Snapshot{},
		func(ctx context.Context, s *browser.Session) (bool, error) { return true, nil })
	if !errors.Is(err, browser.ErrPageGone) {
		t.Fatalf("expected ErrPageGone, got %v", err)
	}
	if len(b.Pages()) != 2 {
		t.Fatalf("pages: got %d, want 2", len(b.Pages()))
	}
	if b.Open() != 0 || m.InUse() != 0 {
		t.Fatalf("release: open=%d in_use=%d", b.Open(), m.InUse())
	}
}

func TestWithSession_ContextStopsLadder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := &browsertest.Backend{
		Document: bigDocument,
		OnNavigate: func(ctx context.Context, p *browsertest.Page, url string, cond browser.WaitCondition) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	m := browser.NewManager(b, browser.Options{AttemptTimeout: time.Minute})
	defer m.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := browser.WithSession(ctx, m, target, session.Snapshot{},
		func(ctx context.Context, s *browser.Session) (bool, error) { return true, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("ladder kept running after the deadline")
	}
	p := b.Pages()[0]
	if n := len(p.Navigations()); n != 1 {
		t.Fatalf("navigations after cancel: got %d, want 1", n)
	}
	if p.Closes() != 1 || m.InUse() != 0 {
		t.Fatal("session not released")
	}
}

func TestWithSession_PanicReleases(t *testing.T) {
	b := &browsertest.Backend{Document: bigDocument}
	m := newManager(t, b, browser.Options{})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		browser.WithSession(context.Background(), m, target, session.Snapshot{},
			func(ctx context.Context, s *browser.Session) (bool, error) { panic("boom") })
	}()
	if b.Pages()[0].Closes() != 1 || m.InUse() != 0 {
		t.Fatal("session not released after panic")
	}
}

func TestManager_PoolBound(t *testing.T) {
	b := &browsertest.Backend{Document: bigDocument}
	m := newManager(t, b, browser.Options{MaxSessions: 1})

	holding := make(chan struct{})
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		browser.WithSession(context.Background(), m, target, session.Snapshot{},
			func(ctx context.Context, s *browser.Session) (bool, error) {
				close(holding)
				<-done
				return true, nil
			})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := browser.WithSession(ctx, m, target, session.Snapshot{},
		func(ctx context.Context, s *browser.Session) (bool, error) { return true, nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected checkout to time out, got %v", err)
	}
	if len(b.Pages()) != 1 {
		t.Fatalf("pages: got %d, want 1", len(b.Pages()))
	}

	close(done)
	wg.Wait()
	if m.InUse() != 0 {
		t.Fatalf("InUse: got %d", m.InUse())
	}
}

func TestManager_OpenPageFailureReleasesSlot(t *testing.T) {
	b := &browsertest.Backend{NewPageErr: errors.New("chrome not found")}
	m := newManager(t, b, browser.Options{MaxSessions: 1})
	for i := 0; i < 3; i++ {
		_, err := browser.WithSession(context.Background(), m, target, session.Snapshot{},
			func(ctx context.Context, s *browser.Session) (bool, error) { return true, nil })
		if err == nil || !strings.Contains(err.Error(), "chrome not found") {
			t.Fatalf("attempt %d: got %v", i, err)
		}
	}
	if m.InUse() != 0 {
		t.Fatalf("InUse: got %d", m.InUse())
	}
}

func TestManager_Closed(t *testing.T) {
	b := &browsertest.Backend{Document: bigDocument}
	m := browser.NewManager(b, browser.Options{})
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := browser.WithSession(context.Background(), m, target, session.Snapshot{},
		func(ctx context.Context, s *browser.Session) (bool, error) { return true, nil })
	if !errors.Is(err, browser.ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

type fakeRecycler struct {
	browsertest.Backend
	recycles atomic.Int32
}

func (f *fakeRecycler) Age() time.Duration { return time.Hour }

func (f *fakeRecycler) Recycle(ctx context.Context) error {
	f.recycles.Add(1)
	return nil
}

func TestManager_RecyclesWhenIdle(t *testing.T) {
	restore := browser.SetMonitorEvery(10 * time.Millisecond)
	defer restore()

	f := &fakeRecycler{}
	f.Document = bigDocument
	m := browser.NewManager(f, browser.Options{MaxSessions: 1, RecycleInterval: time.Minute})
	defer m.Close(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for f.recycles.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle backend never recycled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// While a session is held the monitor must not recycle.
	browser.WithSession(context.Background(), m, target, session.Snapshot{},
		func(ctx context.Context, s *browser.Session) (bool, error) {
			before := f.recycles.Load()
			time.Sleep(100 * time.Millisecond)
			if after := f.recycles.Load(); after != before {
				t.Errorf("recycled while busy: %d -> %d", before, after)
			}
			return true, nil
		})
}
