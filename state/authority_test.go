package state

import (
	"sync"
	"testing"
)

func TestDispatchAppliesAndVersions(t *testing.T) {
	a := NewAuthority()
	defer a.Close()

	v := a.Dispatch(Mutation{Name: "cart/add", Apply: func(s *Snapshot) {
		s.Cart = append(s.Cart, CartLine{ItemID: "bev-001", Quantity: 2})
	}})
	if v != 1 {
		t.Fatalf("first mutation must produce version 1, got %d", v)
	}

	v = a.Dispatch(Mutation{Name: "flags/set", Apply: func(s *Snapshot) {
		s.Flags["guest-a"] = map[string]bool{"room_delivery": true}
	}})
	if v != 2 {
		t.Fatalf("second mutation must produce version 2, got %d", v)
	}

	snap := a.Current()
	if snap.Version != 2 || len(snap.Cart) != 1 || !snap.Flags["guest-a"]["room_delivery"] {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestVersionsAreStrictlyMonotonic(t *testing.T) {
	a := NewAuthority()
	defer a.Close()

	var mu sync.Mutex
	var seen []uint64
	unsub := a.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.Version)
		mu.Unlock()
	})
	defer unsub()

	// Several concurrent dispatchers; every apply must get its own version with
	// no gaps and no duplicates.
	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				v := a.Dispatch(Mutation{Name: "noop", Apply: func(s *Snapshot) {}})
				if v == 0 {
					t.Errorf("dispatch returned 0 while authority was open")
				}
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d publishes, got %d", workers*perWorker, len(seen))
	}
	for i, v := range seen {
		if v != uint64(i+1) {
			t.Fatalf("version sequence broken at index %d: got %d, want %d", i, v, i+1)
		}
	}
}

func TestSubscribersGetIsolatedCopies(t *testing.T) {
	a := NewAuthority()
	defer a.Close()

	var got Snapshot
	done := make(chan struct{})
	unsub := a.Subscribe(func(s Snapshot) {
		got = s
		close(done)
	})
	defer unsub()

	a.Dispatch(Mutation{Name: "cart/add", Apply: func(s *Snapshot) {
		s.Cart = append(s.Cart, CartLine{ItemID: "snk-001", Quantity: 1})
		s.Flags["guest-a"] = map[string]bool{"late_checkout": true}
	}})
	<-done

	// Mutating the delivered copy must not leak into the authority, including
	// the per-guest flag maps.
	got.Cart[0].Quantity = 99
	got.Flags["guest-a"]["late_checkout"] = false

	cur := a.Current()
	if cur.Cart[0].Quantity != 1 || !cur.Flags["guest-a"]["late_checkout"] {
		t.Fatalf("subscriber copy leaked into authoritative state: %+v", cur)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	a := NewAuthority()
	defer a.Close()

	var mu sync.Mutex
	count := 0
	unsub := a.Subscribe(func(s Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	a.Dispatch(Mutation{Name: "noop", Apply: func(s *Snapshot) {}})
	unsub()
	a.Dispatch(Mutation{Name: "noop", Apply: func(s *Snapshot) {}})

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one delivery before unsubscribe, got %d", count)
	}
}

func TestDispatchAfterClose(t *testing.T) {
	a := NewAuthority()
	a.Dispatch(Mutation{Name: "noop", Apply: func(s *Snapshot) {}})
	a.Close()

	if v := a.Dispatch(Mutation{Name: "noop", Apply: func(s *Snapshot) {}}); v != 0 {
		t.Fatalf("dispatch after close must return 0, got %d", v)
	}
	if cur := a.Current(); cur.Version != 1 {
		t.Fatalf("closed authority must keep its last snapshot, got version %d", cur.Version)
	}
}
