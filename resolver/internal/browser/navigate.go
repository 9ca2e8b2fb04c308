package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// navigate runs the ladder, recovers a small document, and checks for a
// login wall. A page lost during the ladder is replaced once.
func (s *Session) navigate(ctx context.Context) error {
	err := s.ladder(ctx)
	if errors.Is(err, ErrPageGone) {
		err = s.reopen(ctx)
	}
	if err != nil {
		return err
	}

	html, err := s.settleDocument(ctx)
	if err != nil {
		return err
	}
	return s.checkLoginWall(html)
}

// ladder tries each wait condition in turn with its own attempt timeout.
// The first success wins. Cancellation of ctx stops it immediately.
func (s *Session) ladder(ctx context.Context) error {
	var failures []string
	var last error
	for _, cond := range Ladder {
		if err := ctx.Err(); err != nil {
			return err
		}
		actx, cancel := context.WithTimeout(ctx, s.m.opts.AttemptTimeout)
		err := s.page.Navigate(actx, s.target.URL, cond)
		cancel()
		if err == nil {
			s.log.Debug("browser: navigated", "wait", cond)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, ErrPageGone) {
			return err
		}
		s.log.Warn("browser: navigation attempt failed", "wait", cond, "error", err)
		failures = append(failures, string(cond))
		last = err
	}
	return &NavigationError{
		Reason: Blocked,
		URL:    s.target.URL,
		Detail: "all strategies failed (" + strings.Join(failures, ", ") + ")",
		Err:    last,
	}
}

// reopen replaces a lost page: close it, open a fresh one, re-apply the
// snapshot and re-run the ladder. Only one replacement per session.
func (s *Session) reopen(ctx context.Context) error {
	if s.reopens > 0 {
		return fmt.Errorf("browser: page lost again after recovery: %w", ErrPageGone)
	}
	s.reopens++
	s.log.Warn("browser: page lost, replacing")

	if err := s.page.Close(); err != nil {
		s.log.Debug("browser: close lost page", "error", err)
	}
	s.page = nil
	if err := s.openPage(ctx); err != nil {
		return err
	}
	err := s.ladder(ctx)
	if errors.Is(err, ErrPageGone) {
		return fmt.Errorf("browser: page lost again after recovery: %w", ErrPageGone)
	}
	return err
}

// do runs op against the current page, replacing the page once if op
// reports it gone.
func (s *Session) do(ctx context.Context, op func(Page) error) error {
	if s.page == nil {
		return fmt.Errorf("browser: session released: %w", ErrPageGone)
	}
	err := op(s.page)
	if !errors.Is(err, ErrPageGone) {
		return err
	}
	if rerr := s.reopen(ctx); rerr != nil {
		return rerr
	}
	err = op(s.page)
	if errors.Is(err, ErrPageGone) {
		return fmt.Errorf("browser: page lost again after recovery: %w", ErrPageGone)
	}
	return err
}

// settleDocument returns the rendered HTML, reloading once when the
// document is suspiciously small. A failed reload is not fatal.
func (s *Session) settleDocument(ctx context.Context) (string, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return "", err
	}
	if len(html) >= s.m.opts.MinDocumentBytes {
		return html, nil
	}

	s.log.Info("browser: small document, reloading", "bytes", len(html))
	rctx, cancel := context.WithTimeout(ctx, s.m.opts.AttemptTimeout)
	err = s.do(rctx, func(p Page) error { return p.Reload(rctx, NetworkIdle) })
	cancel()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		s.log.Warn("browser: reload failed", "error", err)
	}
	return s.HTML(ctx)
}

func (s *Session) checkLoginWall(html string) error {
	sel, ok := MatchAny(html, s.m.opts.LoginMarkers)
	if !ok {
		return nil
	}
	detail := "login wall (" + sel + ") with no session snapshot"
	if s.SnapshotApplied() {
		detail = "login wall (" + sel + ") despite session snapshot"
	}
	return &NavigationError{Reason: SessionExpired, URL: s.target.URL, Detail: detail}
}

// MatchAny returns the first selector that matches an element of html.
func MatchAny(html string, selectors []string) (string, bool) {
	if len(selectors) == 0 {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return sel, true
		}
	}
	return "", false
}
