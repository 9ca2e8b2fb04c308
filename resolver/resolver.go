// Package resolver turns TeraBox share links into directly fetchable
// resource URIs.
//
// A resolution runs through a fixed sequence of states:
//
//	Received → Canonicalizing → SessionLoading → Navigating → Extracting → Succeeded | Failed
//
// The share link is canonicalized onto the authoritative host, the saved
// credential snapshot is loaded, an isolated browser page is checked out
// from a bounded pool and navigated, and the extraction pipeline reads the
// resource URI out of the page's network traffic or DOM. Navigation and
// extraction share one deadline. The page is always released before
// Resolve returns.
//
// Usage:
//
//	cfg, _ := resolver.LoadConfig("teralink.yaml")
//	svc, err := resolver.Open(cfg, logger)
//	defer svc.Close(ctx)
//	res := svc.Resolve(ctx, "https://teraboxurl.com/s/1AbCdEf")
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/teralink/idgen"
	"github.com/hazyhaar/teralink/kit"
	"github.com/hazyhaar/teralink/resolver/internal/browser"
	"github.com/hazyhaar/teralink/resolver/internal/canon"
	"github.com/hazyhaar/teralink/resolver/internal/extract"
	"github.com/hazyhaar/teralink/resolver/internal/session"
)

// State is a step of a resolution.
type State string

const (
	StateReceived       State = "received"
	StateCanonicalizing State = "canonicalizing"
	StateSessionLoading State = "session_loading"
	StateNavigating     State = "navigating"
	StateExtracting     State = "extracting"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

var stateOrder = map[State]int{
	StateReceived:       0,
	StateCanonicalizing: 1,
	StateSessionLoading: 2,
	StateNavigating:     3,
	StateExtracting:     4,
	StateSucceeded:      5,
	StateFailed:         5,
}

// TransitionFunc observes state changes. It runs synchronously on the
// resolving goroutine and must not block.
type TransitionFunc func(ctx context.Context, id string, from, to State)

// Service resolves share links. It keeps no per-request state between
// calls and is safe for concurrent use.
type Service struct {
	canon        *canon.Canonicalizer
	store        session.Store
	pool         *browser.Manager
	pipeline     *extract.Pipeline
	deadline     time.Duration
	logger       *slog.Logger
	metrics      *Metrics
	onTransition TransitionFunc
	newID        idgen.Generator
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithMetrics records resolutions into m.
func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithOnTransition installs a state observer.
func WithOnTransition(fn TransitionFunc) Option { return func(s *Service) { s.onTransition = fn } }

// WithIDGenerator sets the generator for resolution IDs.
func WithIDGenerator(gen idgen.Generator) Option { return func(s *Service) { s.newID = gen } }

// New assembles a Service from cfg over an explicit browser backend and
// snapshot store. The service owns both and closes them in Close.
func New(cfg *Config, backend browser.Backend, store session.Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:    store,
		deadline: cfg.Resolve.Deadline,
		logger:   slog.Default(),
		newID:    idgen.Prefixed("res_", idgen.Default),
	}
	for _, o := range opts {
		o(s)
	}
	if s.deadline <= 0 {
		s.deadline = 90 * time.Second
	}

	c, err := canon.New(cfg.Domain.Authoritative, cfg.Domain.Aliases)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	s.canon = c

	s.pool = browser.NewManager(backend, browser.Options{
		MaxSessions:      cfg.Browser.MaxSessions,
		AttemptTimeout:   cfg.Navigation.AttemptTimeout,
		MinDocumentBytes: cfg.Navigation.MinDocumentBytes,
		LoginMarkers:     cfg.Extraction.LoginMarkers,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		Logger:           s.logger,
	})

	s.pipeline = extract.New(extract.Config{
		Signatures:       cfg.Extraction.Signatures,
		Selectors:        cfg.Extraction.Selectors,
		NameSelectors:    cfg.Extraction.NameSelectors,
		SettleInterval:   cfg.Extraction.SettleInterval,
		Interactive:      cfg.Extraction.Interactive,
		UnlockSelectors:  cfg.Extraction.UnlockSelectors,
		OverlaySelectors: cfg.Extraction.OverlaySelectors,
		Logger:           s.logger,
	})

	if s.metrics != nil {
		s.metrics.observePool(s.pool)
	}
	return s, nil
}

// Open assembles a Service over a real Chrome and the configured store.
func Open(cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithLogger(logger)}, opts...)
	svc, err := New(cfg, NewBackend(cfg, logger), store, opts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return svc, nil
}

// SnapshotStore persists the credential snapshot.
type SnapshotStore = session.Store

// OpenStore opens the snapshot store selected by cfg.Session.
func OpenStore(cfg *Config, logger *slog.Logger) (SnapshotStore, error) {
	store, err := session.Open(session.Config{
		Backend: cfg.Session.Backend,
		Path:    cfg.Session.Path,
		Watch:   cfg.Session.Watch,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	return store, nil
}

// NewBackend builds the Chrome backend described by cfg.
func NewBackend(cfg *Config, logger *slog.Logger) *browser.RodBackend {
	headless := cfg.Browser.Headless == nil || *cfg.Browser.Headless
	return browser.NewRodBackend(browser.RodConfig{
		Bin:            cfg.Browser.Bin,
		Remote:         cfg.Browser.Remote,
		Headless:       headless,
		UserAgent:      cfg.Browser.UserAgent,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		Referer:        cfg.Browser.Referer,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Logger:         logger,
	})
}

// Close waits up to ctx for in-flight resolutions, then shuts the browser
// and the store down.
func (s *Service) Close(ctx context.Context) error {
	perr := s.pool.Close(ctx)
	serr := s.store.Close()
	if perr != nil {
		return perr
	}
	return serr
}

// Pool exposes the browser pool, for health reporting.
func (s *Service) Pool() *browser.Manager { return s.pool }

type run struct {
	s     *Service
	ctx   context.Context
	id    string
	state State
	start time.Time
	log   *slog.Logger
}

func (r *run) to(next State) {
	if stateOrder[next] <= stateOrder[r.state] {
		r.log.Error("resolver: illegal transition", "from", r.state, "to", next)
		return
	}
	prev := r.state
	r.state = next
	r.log.Debug("resolver: state", "from", prev, "to", next)
	if r.s.onTransition != nil {
		r.s.onTransition(r.ctx, r.id, prev, next)
	}
}

func (r *run) elapsed() int64 { return time.Since(r.start).Milliseconds() }

// Resolve runs one resolution. It never returns an error: failures are
// reported in the Result with their kind.
func (s *Service) Resolve(ctx context.Context, raw string) Result {
	id := kit.GetRequestID(ctx)
	if id == "" {
		id = s.newID()
		ctx = kit.WithRequestID(ctx, id)
	}
	r := &run{
		s:     s,
		ctx:   ctx,
		id:    id,
		state: StateReceived,
		start: time.Now(),
		log: s.logger.With("resolution_id", id, "transport", kit.GetTransport(ctx),
			"trace_id", kit.GetTraceID(ctx)),
	}

	res := s.resolve(ctx, r, raw)
	if res.Success {
		r.to(StateSucceeded)
		r.log.Info("resolver: resolved", "url", res.URL, "elapsed_ms", res.ElapsedMs)
	} else {
		r.to(StateFailed)
		r.log.Warn("resolver: failed", "kind", res.Kind, "details", res.Details, "elapsed_ms", res.ElapsedMs)
	}
	if s.metrics != nil {
		s.metrics.observeResult(res)
	}
	return res
}

func (s *Service) resolve(ctx context.Context, r *run, raw string) Result {
	r.to(StateCanonicalizing)
	target, err := s.canon.Canonicalize(raw)
	if err != nil {
		return failed(r.id, classify(ctx, err), err.Error(), "", "", r.elapsed())
	}
	r.log = r.log.With("url", target.URL)

	r.to(StateSessionLoading)
	snap, err := s.store.Load(ctx)
	if err != nil {
		return failed(r.id, classify(ctx, err), err.Error(), target.URL, target.Token, r.elapsed())
	}
	if snap.Empty() {
		r.log.Info("resolver: no session snapshot, navigating anonymously")
	}

	dctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	r.to(StateNavigating)
	ex, err := browser.WithSession(dctx, s.pool, target, snap,
		func(ctx context.Context, sess *browser.Session) (extract.Result, error) {
			r.to(StateExtracting)
			res, err := s.pipeline.Extract(ctx, sess)
			if s.metrics != nil {
				s.metrics.observeSession(sess, res, err)
			}
			return res, err
		})
	if err != nil {
		kind := classify(dctx, err)
		details := err.Error()
		if kind == KindTimeout {
			details = fmt.Sprintf("deadline of %s exceeded: %v", s.deadline, err)
		}
		return failed(r.id, kind, details, target.URL, target.Token, r.elapsed())
	}

	r.log.Debug("resolver: extracted", "tier", ex.Tier, "pass", ex.Pass, "rule", ex.Rule)
	return succeeded(r.id, ex.ResourceURI, ex.DisplayName, target.URL, target.Token, r.elapsed())
}
