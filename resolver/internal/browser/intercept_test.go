package browser_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/hazyhaar/teralink/resolver/internal/browser"
)

func TestInterception_DropsOldest(t *testing.T) {
	ic := browser.NewInterception(3)
	for i := 0; i < 5; i++ {
		ic.Append(browser.InterceptedRequest{URL: fmt.Sprintf("https://x/%d", i)})
	}
	snap := ic.Snapshot()
	if len(snap) != 3 || ic.Len() != 3 {
		t.Fatalf("len: got %d", len(snap))
	}
	for i, r := range snap {
		if want := fmt.Sprintf("https://x/%d", i+2); r.URL != want {
			t.Fatalf("entry %d: got %q, want %q", i, r.URL, want)
		}
		if r.ObservedAt.IsZero() {
			t.Fatalf("entry %d: ObservedAt not stamped", i)
		}
	}
	if ic.Dropped() != 2 {
		t.Fatalf("dropped: got %d, want 2", ic.Dropped())
	}
}

func TestInterception_ConcurrentAppend(t *testing.T) {
	ic := browser.NewInterception(0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ic.Append(browser.InterceptedRequest{URL: "https://x"})
				_ = ic.Snapshot()
			}
		}()
	}
	wg.Wait()
	if ic.Len() != 800 {
		t.Fatalf("len: got %d, want 800", ic.Len())
	}
}
