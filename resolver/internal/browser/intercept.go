package browser

import (
	"sync"
	"time"
)

// InterceptedRequest is one network event observed on a page.
type InterceptedRequest struct {
	URL          string    `json:"url"`
	ObservedAt   time.Time `json:"observed_at"`
	Kind         string    `json:"kind"` // request | response
	ResourceType string    `json:"resource_type,omitempty"`
	Status       int       `json:"status,omitempty"`
}

const (
	KindRequest  = "request"
	KindResponse = "response"
)

// DefaultInterceptCapacity bounds the per-session interception buffer.
const DefaultInterceptCapacity = 2048

// Interception is a bounded, ordered buffer of network events. Event
// listeners append from CDP goroutines while the extraction pipeline reads
// snapshots, so every method is safe for concurrent use. When full, the
// oldest entry is dropped.
type Interception struct {
	mu      sync.Mutex
	buf     []InterceptedRequest
	start   int
	n       int
	dropped uint64
}

// NewInterception returns an empty buffer holding at most capacity entries.
func NewInterception(capacity int) *Interception {
	if capacity <= 0 {
		capacity = DefaultInterceptCapacity
	}
	return &Interception{buf: make([]InterceptedRequest, capacity)}
}

// Append records r, evicting the oldest entry if the buffer is full.
func (i *Interception) Append(r InterceptedRequest) {
	if r.ObservedAt.IsZero() {
		r.ObservedAt = time.Now()
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.n < len(i.buf) {
		i.buf[(i.start+i.n)%len(i.buf)] = r
		i.n++
		return
	}
	i.buf[i.start] = r
	i.start = (i.start + 1) % len(i.buf)
	i.dropped++
}

// Snapshot returns the buffered entries in arrival order.
func (i *Interception) Snapshot() []InterceptedRequest {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]InterceptedRequest, i.n)
	for k := 0; k < i.n; k++ {
		out[k] = i.buf[(i.start+k)%len(i.buf)]
	}
	return out
}

func (i *Interception) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.n
}

// Dropped returns how many entries were evicted by overflow.
func (i *Interception) Dropped() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dropped
}
