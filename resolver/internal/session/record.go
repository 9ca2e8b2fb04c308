// Package session persists the browser credential snapshot the resolver
// applies before navigating: an ordered list of cookie records.
//
// The resolver only ever loads a snapshot. Saving is done by the login
// capture flow, and always replaces the whole snapshot atomically.
package session

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Record is one cookie. JSON names follow the cookies.json format written by
// Chrome automation tools, so existing snapshot files load unchanged.
type Record struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds; <= 0 means session cookie
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
	Session  bool    `json:"session"`
}

// ExpiresAt returns the expiry as a time, or the zero time for session cookies.
func (r Record) ExpiresAt() time.Time {
	if r.Expires <= 0 || r.Session {
		return time.Time{}
	}
	sec, frac := math.Modf(r.Expires)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Snapshot is an ordered set of records, always replaced as a whole.
type Snapshot struct {
	Records []Record
}

// Empty reports whether the snapshot holds no records.
func (s Snapshot) Empty() bool { return len(s.Records) == 0 }

// Clone returns a deep copy so callers can never mutate a cached snapshot.
func (s Snapshot) Clone() Snapshot {
	if s.Records == nil {
		return Snapshot{}
	}
	out := make([]Record, len(s.Records))
	copy(out, s.Records)
	return Snapshot{Records: out}
}

// Store loads and saves snapshots.
type Store interface {
	// Load returns the current snapshot. A store with nothing saved yet
	// returns an empty snapshot and no error.
	Load(ctx context.Context) (Snapshot, error)
	// Save atomically replaces the snapshot.
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// IOError reports a snapshot that exists but cannot be read, parsed or written.
type IOError struct {
	Op   string // "load" | "save"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("session: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
