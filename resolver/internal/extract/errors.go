package extract

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched by every *NotFoundError.
var ErrNotFound = errors.New("extract: resource link not found")

// NotFoundError reports a page on which no tier produced a link.
type NotFoundError struct {
	URL      string
	Observed int // intercepted network events inspected
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("extract: no resource link on %s (%d network events inspected)", e.URL, e.Observed)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
