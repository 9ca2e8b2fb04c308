package browser

import "fmt"

// Reason classifies a navigation failure.
type Reason string

const (
	// Blocked: every navigation strategy failed to load the page.
	Blocked Reason = "blocked"
	// SessionExpired: the page rendered a login wall.
	SessionExpired Reason = "session_expired"
)

// NavigationError is a navigation that completed its retries without
// producing a usable page.
type NavigationError struct {
	Reason Reason
	URL    string
	Detail string
	Err    error
}

func (e *NavigationError) Error() string {
	msg := fmt.Sprintf("browser: navigate %s: %s", e.URL, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NavigationError) Unwrap() error { return e.Err }

// Is matches another *NavigationError with the same Reason, so callers can
// write errors.Is(err, &NavigationError{Reason: Blocked}).
func (e *NavigationError) Is(target error) bool {
	t, ok := target.(*NavigationError)
	return ok && t.Reason == e.Reason
}
