package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hazyhaar/teralink/resolver/internal/browser"
	"github.com/hazyhaar/teralink/resolver/internal/canon"
	"github.com/hazyhaar/teralink/resolver/internal/extract"
	"github.com/hazyhaar/teralink/resolver/internal/session"
)

// ErrorKind is the machine-readable failure category of a resolution.
type ErrorKind string

const (
	KindInvalidLink    ErrorKind = "invalid_link"
	KindBlocked        ErrorKind = "blocked"
	KindSessionExpired ErrorKind = "session_expired"
	KindNotFound       ErrorKind = "not_found"
	KindTimeout        ErrorKind = "timeout"
	KindIO             ErrorKind = "io_error"
	KindInternal       ErrorKind = "internal"
)

// HTTPStatus maps a kind to the status code the HTTP API answers with.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidLink:
		return http.StatusBadRequest
	case KindSessionExpired:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindBlocked:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a failed resolution as an error value.
type Error struct {
	Kind    ErrorKind
	Details string
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolver: %s: %s", e.Kind, e.Details)
}

// classify maps a failure to its kind. ctx is the deadline-bound context:
// any failure once it has ended counts as a timeout.
func classify(ctx context.Context, err error) ErrorKind {
	var (
		ioErr  *session.IOError
		navErr *browser.NavigationError
	)
	switch {
	case errors.Is(err, canon.ErrInvalidLink):
		return KindInvalidLink
	case errors.As(err, &ioErr):
		return KindIO
	case errors.As(err, &navErr) && navErr.Reason == browser.Blocked:
		return KindBlocked
	case errors.As(err, &navErr) && navErr.Reason == browser.SessionExpired:
		return KindSessionExpired
	case errors.Is(err, extract.ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return KindTimeout
	default:
		return KindInternal
	}
}
