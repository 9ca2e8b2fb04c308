package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/teralink/resolver/internal/browser"
	"github.com/hazyhaar/teralink/resolver/internal/session"
)

// ErrLoginTimeout is returned when nobody completed the login in time.
var ErrLoginTimeout = errors.New("resolver: login not completed before timeout")

// LoginOptions drives CaptureLogin.
type LoginOptions struct {
	URL          string
	Markers      []string // any match means the user is logged in
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// LoginOptionsFrom reads the login section of cfg.
func LoginOptionsFrom(cfg *Config, logger *slog.Logger) LoginOptions {
	return LoginOptions{
		URL:          cfg.Login.URL,
		Markers:      cfg.Login.Markers,
		PollInterval: cfg.Login.PollInterval,
		Timeout:      cfg.Login.Timeout,
		Logger:       logger,
	}
}

// CaptureLogin opens the login page, waits for a human to log in, and saves
// every cookie of the page as the new snapshot. The backend should be
// headful. It returns the saved snapshot.
func CaptureLogin(ctx context.Context, backend browser.Backend, store session.Store, opts LoginOptions) (session.Snapshot, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.Markers) == 0 {
		return session.Snapshot{}, errors.New("resolver: login: no logged-in markers configured")
	}
	log := opts.Logger.With("url", opts.URL)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	page, err := backend.NewPage(ctx, browser.NewInterception(64))
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("resolver: login: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, opts.URL, browser.NetworkIdle); err != nil {
		if ctx.Err() != nil {
			return session.Snapshot{}, ErrLoginTimeout
		}
		// The page may still be usable; the human can retry by hand.
		log.Warn("resolver: login page did not settle", "error", err)
	}
	log.Info("resolver: waiting for manual login", "timeout", opts.Timeout)

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()
	for {
		html, err := page.HTML(ctx)
		if err != nil && errors.Is(err, browser.ErrPageGone) {
			return session.Snapshot{}, fmt.Errorf("resolver: login: browser closed: %w", err)
		}
		if sel, ok := browser.MatchAny(html, opts.Markers); ok {
			log.Info("resolver: login detected", "marker", sel)
			return saveCookies(ctx, page, store, log)
		}

		select {
		case <-ctx.Done():
			return session.Snapshot{}, ErrLoginTimeout
		case <-ticker.C:
		}
	}
}

func saveCookies(ctx context.Context, page browser.Page, store session.Store, log *slog.Logger) (session.Snapshot, error) {
	records, err := page.Cookies(ctx)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("resolver: login: read cookies: %w", err)
	}
	if len(records) == 0 {
		return session.Snapshot{}, errors.New("resolver: login: logged in but no cookies found")
	}
	snap := session.Snapshot{Records: records}
	if err := store.Save(ctx, snap); err != nil {
		return session.Snapshot{}, err
	}
	log.Info("resolver: session snapshot saved", "cookies", len(records))
	return snap, nil
}
