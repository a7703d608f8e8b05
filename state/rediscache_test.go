package state

import (
	"sync"
	"testing"
	"time"
)

func TestMirrorNeverBlocksDispatch(t *testing.T) {
	a := NewAuthority()
	defer a.Close()

	c := NewRedisCache(nil)
	gate := make(chan struct{})
	var mu sync.Mutex
	var written []uint64
	c.sink = func(s Snapshot) {
		<-gate
		mu.Lock()
		written = append(written, s.Version)
		mu.Unlock()
	}
	detach := c.Attach(a)

	// With the sink wedged, every dispatch must still complete promptly; a
	// slow mirror write never backs up into the subscriber fan-out.
	const n = 50
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			a.Dispatch(Mutation{Name: "noop", Apply: func(s *Snapshot) {}})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch stalled behind a wedged mirror write")
	}

	close(gate)
	detach()

	mu.Lock()
	defer mu.Unlock()
	if len(written) == 0 {
		t.Fatalf("mirror never wrote a snapshot")
	}
	if last := written[len(written)-1]; last != n {
		t.Fatalf("mirror must end on the newest version, got %d", last)
	}
	// Intermediate versions coalesce away while the worker is busy.
	if len(written) >= n {
		t.Fatalf("expected coalesced writes, got %d for %d dispatches", len(written), n)
	}
}
