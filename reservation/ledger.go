package reservation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"guestcore/clock"
	"guestcore/inventory"
)

var (
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrNotFound             = errors.New("reservation not found")
	ErrInvalidWindow        = errors.New("invalid reservation window")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrUnknownResource      = errors.New("unknown resource")
	ErrResourceKindMismatch = errors.New("resource kind mismatch")
)

// State is the reservation lifecycle state.
type State string

const (
	StateRequested State = "requested"
	StateHeld      State = "held"
	StateConfirmed State = "confirmed"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// ResourceKind separates time-boxed exclusive resources (a vehicle, an amenity
// slot) from stock-backed ones (mini-bar units).
type ResourceKind string

const (
	KindExclusive  ResourceKind = "exclusive"
	KindStockUnits ResourceKind = "stock_units"
)

// Window is a half-open interval [Start, End): touching endpoints do not conflict.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports half-open interval overlap.
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && w.End.After(o.Start)
}

// Resource is something reservable: kind plus, for stock-backed resources, the
// inventory item that backs it.
type Resource struct {
	ID       string       `json:"id"`
	Kind     ResourceKind `json:"kind"`
	Name     string       `json:"name"`
	ItemID   string       `json:"item_id,omitempty"` // stock-backed only
	Capacity int          `json:"capacity"`          // stock-backed fallback when no item is linked
}

// Reservation is one hold/booking against a resource.
type Reservation struct {
	ID         string       `json:"id"`
	ResourceID string       `json:"resource_id"`
	Kind       ResourceKind `json:"kind"`
	HolderID   string       `json:"holder_id"`
	Window     Window       `json:"window,omitempty"`
	Quantity   int          `json:"quantity,omitempty"`
	State      State        `json:"state"`
	HeldUntil  time.Time    `json:"held_until,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Journal receives fire-and-forget writes when a reservation reaches a state
// worth persisting. Implementations must not block.
type Journal interface {
	ReservationChanged(r Reservation)
}

// StockChecker is the slice of the inventory ledger the reservation ledger needs.
type StockChecker interface {
	Item(id string) (inventory.Item, error)
}

// Ledger owns the reservation lifecycle. All conflict evaluation is serialized
// under one mutex, which is what makes first-committer-wins exact.
type Ledger struct {
	mu           sync.Mutex
	resources    map[string]Resource
	reservations map[string]*Reservation
	clock        clock.Clock
	stock        StockChecker
	journal      Journal
	holdTTL      time.Duration

	stopSweep chan struct{}
	sweepOnce sync.Once
}

const defaultHoldTTL = 5 * time.Minute

type Option func(*Ledger)

// WithHoldTTL overrides the default TTL for new holds.
func WithHoldTTL(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.holdTTL = d
		}
	}
}

// WithJournal sets the fire-and-forget persistence sink.
func WithJournal(j Journal) Option {
	return func(l *Ledger) {
		l.journal = j
	}
}

func NewLedger(clk clock.Clock, stock StockChecker, opts ...Option) *Ledger {
	l := &Ledger{
		resources:    make(map[string]Resource),
		reservations: make(map[string]*Reservation),
		clock:        clk,
		stock:        stock,
		holdTTL:      defaultHoldTTL,
		stopSweep:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetJournal installs the persistence sink after construction, used when the
// ledger is built before the component that journals for it.
func (l *Ledger) SetJournal(j Journal) {
	l.mu.Lock()
	l.journal = j
	l.mu.Unlock()
}

// RegisterResource adds or replaces a reservable resource.
func (l *Ledger) RegisterResource(r Resource) {
	l.mu.Lock()
	l.resources[r.ID] = r
	l.mu.Unlock()
}

func (l *Ledger) Resource(id string) (Resource, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.resources[id]
	if !ok {
		return Resource{}, ErrUnknownResource
	}
	return r, nil
}

// HoldWindow places a TTL-limited hold on an exclusive time-boxed resource.
// The candidate window conflicts with existing held/confirmed reservations
// under half-open semantics; boundary-touching windows are allowed.
func (l *Ledger) HoldWindow(resourceID, holderID string, w Window) (Reservation, error) {
	if !w.End.After(w.Start) {
		return Reservation{}, ErrInvalidWindow
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.resources[resourceID]
	if !ok {
		return Reservation{}, ErrUnknownResource
	}
	if res.Kind != KindExclusive {
		return Reservation{}, ErrResourceKindMismatch
	}

	now := l.clock.Now()
	l.expireDueLocked(now)

	for _, existing := range l.reservations {
		if existing.ResourceID != resourceID {
			continue
		}
		if existing.State != StateHeld && existing.State != StateConfirmed {
			continue
		}
		if w.Overlaps(existing.Window) {
			return Reservation{}, ErrCapacityExceeded
		}
	}

	r := &Reservation{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		Kind:       KindExclusive,
		HolderID:   holderID,
		Window:     w,
		State:      StateHeld,
		HeldUntil:  now.Add(l.holdTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.reservations[r.ID] = r
	return *r, nil
}

// HoldUnits places a TTL-limited hold for qty units of a stock-backed resource.
// The sum of held+confirmed quantities plus the candidate must not exceed the
// available stock at evaluation time.
func (l *Ledger) HoldUnits(resourceID, holderID string, qty int) (Reservation, error) {
	if qty <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res, ok := l.resources[resourceID]
	if !ok {
		return Reservation{}, ErrUnknownResource
	}
	if res.Kind != KindStockUnits {
		return Reservation{}, ErrResourceKindMismatch
	}

	now := l.clock.Now()
	l.expireDueLocked(now)

	capacity := res.Capacity
	if res.ItemID != "" && l.stock != nil {
		item, err := l.stock.Item(res.ItemID)
		if err != nil {
			return Reservation{}, err
		}
		capacity = item.Stock
	}

	committed := 0
	for _, existing := range l.reservations {
		if existing.ResourceID != resourceID {
			continue
		}
		if existing.State == StateHeld || existing.State == StateConfirmed {
			committed += existing.Quantity
		}
	}
	if committed+qty > capacity {
		return Reservation{}, ErrCapacityExceeded
	}

	r := &Reservation{
		ID:         uuid.New().String(),
		ResourceID: resourceID,
		Kind:       KindStockUnits,
		HolderID:   holderID,
		Quantity:   qty,
		State:      StateHeld,
		HeldUntil:  now.Add(l.holdTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.reservations[r.ID] = r
	return *r, nil
}

// Confirm promotes a hold. Confirming an already-confirmed reservation is a
// no-op returning the existing record. Confirmation beats a pending TTL expiry:
// once confirmed, the sweep will not touch it.
func (l *Ledger) Confirm(id string) (Reservation, error) {
	l.mu.Lock()
	r, ok := l.reservations[id]
	if !ok {
		l.mu.Unlock()
		return Reservation{}, ErrNotFound
	}

	switch r.State {
	case StateConfirmed:
		out := *r
		l.mu.Unlock()
		return out, nil
	case StateHeld:
	default:
		l.mu.Unlock()
		return Reservation{}, ErrInvalidTransition
	}

	now := l.clock.Now()
	if now.After(r.HeldUntil) {
		// The hold lapsed before the confirm arrived; settle it as expired.
		r.State = StateExpired
		r.UpdatedAt = now
		out := *r
		journal := l.journal
		l.mu.Unlock()
		if journal != nil {
			journal.ReservationChanged(out)
		}
		return Reservation{}, ErrInvalidTransition
	}

	r.State = StateConfirmed
	r.HeldUntil = time.Time{}
	r.UpdatedAt = now
	out := *r
	journal := l.journal
	l.mu.Unlock()

	if journal != nil {
		journal.ReservationChanged(out)
	}
	return out, nil
}

// Cancel moves any non-terminal reservation to cancelled, releasing capacity.
// Cancelling twice is rejected; completed reservations cannot be cancelled.
func (l *Ledger) Cancel(id string) (Reservation, error) {
	l.mu.Lock()
	r, ok := l.reservations[id]
	if !ok {
		l.mu.Unlock()
		return Reservation{}, ErrNotFound
	}
	if r.State == StateCompleted || r.State == StateCancelled {
		l.mu.Unlock()
		return Reservation{}, ErrInvalidTransition
	}

	r.State = StateCancelled
	r.HeldUntil = time.Time{}
	r.UpdatedAt = l.clock.Now()
	out := *r
	journal := l.journal
	l.mu.Unlock()

	if journal != nil {
		journal.ReservationChanged(out)
	}
	return out, nil
}

// Complete settles a confirmed reservation.
func (l *Ledger) Complete(id string) (Reservation, error) {
	l.mu.Lock()
	r, ok := l.reservations[id]
	if !ok {
		l.mu.Unlock()
		return Reservation{}, ErrNotFound
	}
	if r.State != StateConfirmed {
		l.mu.Unlock()
		return Reservation{}, ErrInvalidTransition
	}

	r.State = StateCompleted
	r.UpdatedAt = l.clock.Now()
	out := *r
	journal := l.journal
	l.mu.Unlock()

	if journal != nil {
		journal.ReservationChanged(out)
	}
	return out, nil
}

func (l *Ledger) Get(id string) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.reservations[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return *r, nil
}

// Active returns held and confirmed reservations, optionally filtered by holder.
func (l *Ledger) Active(holderID string) []Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Reservation
	for _, r := range l.reservations {
		if r.State != StateHeld && r.State != StateConfirmed {
			continue
		}
		if holderID != "" && r.HolderID != holderID {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ExpireDue transitions lapsed holds to expired and returns them. Capacity is
// released implicitly: expired holds no longer count in conflict checks.
func (l *Ledger) ExpireDue() []Reservation {
	l.mu.Lock()
	expired := l.expireDueLocked(l.clock.Now())
	journal := l.journal
	l.mu.Unlock()

	if journal != nil {
		for _, r := range expired {
			journal.ReservationChanged(r)
		}
	}
	return expired
}

func (l *Ledger) expireDueLocked(now time.Time) []Reservation {
	var expired []Reservation
	for _, r := range l.reservations {
		if r.State == StateHeld && now.After(r.HeldUntil) {
			r.State = StateExpired
			r.UpdatedAt = now
			expired = append(expired, *r)
		}
	}
	return expired
}

// StartSweep runs the periodic TTL sweep until StopSweep. The sweep is tied to
// the ledger lifecycle so no timers outlive it.
func (l *Ledger) StartSweep(every time.Duration) {
	if every <= 0 {
		every = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopSweep:
				return
			case <-ticker.C:
				l.ExpireDue()
			}
		}
	}()
}

func (l *Ledger) StopSweep() {
	l.sweepOnce.Do(func() { close(l.stopSweep) })
}
