package state

import (
	"errors"
	"sync"

	"guestcore/geofence"
	"guestcore/inventory"
	"guestcore/reservation"
)

// ErrStaleSnapshot is reserved for optimistic-concurrency callers that mutate
// against an outdated version. The serialized queue makes it unreachable today.
var ErrStaleSnapshot = errors.New("stale snapshot")

// CartLine is one pending purchase in the guest's cart.
type CartLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// ZonePresence records one guest being inside one zone. The pair (GuestID,
// ZoneID) is the identity; one guest's samples never disturb another's rows.
type ZonePresence struct {
	GuestID   string            `json:"guest_id"`
	ZoneID    string            `json:"zone_id"`
	ZoneKind  geofence.ZoneKind `json:"zone_kind"`
	EnteredAt int64             `json:"entered_at_epoch_ms"`
}

// Snapshot is the full application state republished to subscribers after every
// mutation. Subscribers receive copies and must treat them as immutable.
type Snapshot struct {
	Version            uint64                     `json:"version"`
	Cart               []CartLine                 `json:"cart"`
	ActiveReservations []reservation.Reservation  `json:"active_reservations"`
	ZonePresence       []ZonePresence             `json:"zone_presence"`
	InventorySummary   []inventory.Item           `json:"inventory_summary"`
	Alerts             []inventory.Alert          `json:"alerts"`
	Flags              map[string]map[string]bool `json:"flags"` // guest -> trigger-enabled features
	CheckoutAt         string                     `json:"checkout_at,omitempty"`
}

// Mutation transforms the state in place. Mutations are applied one at a time;
// a mutation never observes a half-applied peer.
type Mutation struct {
	Name  string
	Apply func(s *Snapshot)
}

// Subscriber receives every published snapshot.
type Subscriber func(Snapshot)

// Authority is the single source of truth for session state. All writes pass
// through a serialized queue; version increases by exactly one per mutation.
type Authority struct {
	mu      sync.Mutex
	current Snapshot
	subs    map[int]Subscriber
	nextSub int

	queue    chan applyRequest
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type applyRequest struct {
	m     Mutation
	reply chan uint64
}

func NewAuthority() *Authority {
	a := &Authority{
		current: Snapshot{Flags: make(map[string]map[string]bool)},
		subs:    make(map[int]Subscriber),
		queue:   make(chan applyRequest, 64),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Authority) run() {
	defer close(a.done)
	for {
		select {
		case <-a.stop:
			return
		case req := <-a.queue:
			version := a.applyOne(req.m)
			req.reply <- version
		}
	}
}

func (a *Authority) applyOne(m Mutation) uint64 {
	a.mu.Lock()
	next := cloneSnapshot(a.current)
	m.Apply(&next)
	next.Version = a.current.Version + 1
	a.current = next

	subs := make([]Subscriber, 0, len(a.subs))
	for _, s := range a.subs {
		subs = append(subs, s)
	}
	published := cloneSnapshot(next)
	a.mu.Unlock()

	for _, s := range subs {
		s(published)
	}
	return published.Version
}

// Dispatch enqueues a mutation and blocks until it is applied, returning the
// new snapshot version. Dispatch after Close applies nothing and returns 0.
func (a *Authority) Dispatch(m Mutation) uint64 {
	req := applyRequest{m: m, reply: make(chan uint64, 1)}
	select {
	case a.queue <- req:
	case <-a.stop:
		return 0
	}
	select {
	case v := <-req.reply:
		return v
	case <-a.done:
		return 0
	}
}

// Subscribe registers a callback for every published snapshot and returns an
// unsubscribe func.
func (a *Authority) Subscribe(s Subscriber) func() {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = s
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// Current returns a copy of the latest snapshot.
func (a *Authority) Current() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return cloneSnapshot(a.current)
}

// Close stops the mutation queue. Pending dispatches unblock with version 0.
func (a *Authority) Close() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	out.Cart = append([]CartLine(nil), s.Cart...)
	out.ActiveReservations = append([]reservation.Reservation(nil), s.ActiveReservations...)
	out.ZonePresence = append([]ZonePresence(nil), s.ZonePresence...)
	out.InventorySummary = append([]inventory.Item(nil), s.InventorySummary...)
	out.Alerts = append([]inventory.Alert(nil), s.Alerts...)
	out.Flags = make(map[string]map[string]bool, len(s.Flags))
	for guest, flags := range s.Flags {
		inner := make(map[string]bool, len(flags))
		for k, v := range flags {
			inner[k] = v
		}
		out.Flags[guest] = inner
	}
	return out
}
