package inventory

import (
	"errors"
	"sort"
	"sync"
	"time"

	"guestcore/clock"
)

var (
	ErrItemNotFound      = errors.New("item not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrItemInactive      = errors.New("item inactive")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrUnknownReason     = errors.New("unknown adjust reason")
)

// AdjustReason describes why stock changed.
type AdjustReason string

const (
	ReasonRestock    AdjustReason = "restock"
	ReasonPurchase   AdjustReason = "purchase"
	ReasonAdjustment AdjustReason = "adjustment"
	ReasonDamage     AdjustReason = "damage"
	ReasonExpiry     AdjustReason = "expiry"
)

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item is a purchasable catalog entry. Stock moves only through ledger calls.
type Item struct {
	ID             string     `json:"id"`
	CategoryID     string     `json:"category_id"`
	Name           string     `json:"name"`
	PriceCents     int64      `json:"price_cents"`
	Stock          int        `json:"stock"`
	MaxStock       int        `json:"max_stock"`
	MinStock       int        `json:"min_stock"`
	Unit           string     `json:"unit"`
	Available      bool       `json:"available"`
	RoomChargeable bool       `json:"room_chargeable"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	IsActive       bool       `json:"is_active"`
}

// AlertKind enumerates the derived stock alerts.
type AlertKind string

const (
	AlertOutOfStock AlertKind = "out_of_stock"
	AlertLowStock   AlertKind = "low_stock"
	AlertExpiring   AlertKind = "expiring"
	AlertExpired    AlertKind = "expired"
)

// Alert is derived from item state; recomputation replaces, never accumulates.
type Alert struct {
	ItemID   string    `json:"item_id"`
	Kind     AlertKind `json:"kind"`
	RaisedAt time.Time `json:"raised_at"`
}

// BatchLine is one line of an all-or-nothing purchase.
type BatchLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// AlertSink receives alert-set changes for an item, called outside the ledger
// lock so implementations may do I/O.
type AlertSink func(itemID string, alerts []Alert)

const expiringWindow = 48 * time.Hour

// Ledger is the in-memory authoritative store for purchasable items.
type Ledger struct {
	mu     sync.Mutex
	items  map[string]*Item
	cats   map[string]Category
	alerts map[string][]Alert // itemID -> current alerts, at most one per kind
	clock  clock.Clock
	sink   AlertSink

	stopSweep chan struct{}
	sweepOnce sync.Once
}

func NewLedger(clk clock.Clock) *Ledger {
	return &Ledger{
		items:     make(map[string]*Item),
		cats:      make(map[string]Category),
		alerts:    make(map[string][]Alert),
		clock:     clk,
		stopSweep: make(chan struct{}),
	}
}

// SetAlertSink registers the callback notified when an item's alert set changes.
func (l *Ledger) SetAlertSink(sink AlertSink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

// LoadCatalog seeds the ledger. Existing entries with matching IDs are replaced.
func (l *Ledger) LoadCatalog(cats []Category, items []Item) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range cats {
		l.cats[c.ID] = c
	}
	for i := range items {
		it := items[i]
		it.Available = it.Stock > 0
		l.items[it.ID] = &it
		l.recomputeAlertsLocked(l.items[it.ID])
	}
}

func (l *Ledger) Item(id string) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return *it, nil
}

func (l *Ledger) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Item, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Ledger) Categories() []Category {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Category, 0, len(l.cats))
	for _, c := range l.cats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Retire soft-retires an item; it stays referencable but can no longer be sold.
func (l *Ledger) Retire(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.items[id]
	if !ok {
		return ErrItemNotFound
	}
	it.IsActive = false
	return nil
}

// AdjustStock applies a stock delta and returns the resulting level. The result
// is always clamped into [0, maxStock]; callers that need to know whether the
// full requested quantity landed must compare against the returned level.
// restock adds, purchase/damage/expiry subtract, adjustment sets an absolute value.
func (l *Ledger) AdjustStock(itemID string, delta int, reason AdjustReason) (int, error) {
	l.mu.Lock()
	it, ok := l.items[itemID]
	if !ok {
		l.mu.Unlock()
		return 0, ErrItemNotFound
	}

	next := it.Stock
	switch reason {
	case ReasonRestock:
		next = it.Stock + delta
	case ReasonPurchase, ReasonDamage, ReasonExpiry:
		next = it.Stock - delta
	case ReasonAdjustment:
		next = delta
	default:
		l.mu.Unlock()
		return 0, ErrUnknownReason
	}
	if next < 0 {
		next = 0
	}
	if it.MaxStock > 0 && next > it.MaxStock {
		next = it.MaxStock
	}

	it.Stock = next
	it.Available = it.Stock > 0
	changed := l.recomputeAlertsLocked(it)
	sink, alerts := l.sink, l.alertsCopyLocked(itemID)
	l.mu.Unlock()

	if changed && sink != nil {
		sink(itemID, alerts)
	}
	return next, nil
}

// PurchaseBatch is all-or-nothing: every line is validated against current stock
// before any deduction happens, so a failing line never leaves a partial checkout.
func (l *Ledger) PurchaseBatch(lines []BatchLine) error {
	if len(lines) == 0 {
		return nil
	}

	l.mu.Lock()
	// Validate first. Aggregate quantities per item so duplicate lines count once.
	want := make(map[string]int, len(lines))
	for _, ln := range lines {
		if ln.Quantity <= 0 {
			l.mu.Unlock()
			return ErrInvalidQuantity
		}
		want[ln.ItemID] += ln.Quantity
	}
	for id, qty := range want {
		it, ok := l.items[id]
		if !ok {
			l.mu.Unlock()
			return ErrItemNotFound
		}
		if !it.IsActive {
			l.mu.Unlock()
			return ErrItemInactive
		}
		if it.Stock < qty {
			l.mu.Unlock()
			return ErrInsufficientStock
		}
	}

	type change struct {
		id     string
		alerts []Alert
	}
	var changes []change
	for id, qty := range want {
		it := l.items[id]
		it.Stock -= qty
		it.Available = it.Stock > 0
		if l.recomputeAlertsLocked(it) {
			changes = append(changes, change{id: id, alerts: l.alertsCopyLocked(id)})
		}
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		for _, ch := range changes {
			sink(ch.id, ch.alerts)
		}
	}
	return nil
}

// Alerts returns the current alert set for all items.
func (l *Ledger) Alerts() []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Alert
	for _, as := range l.alerts {
		out = append(out, as...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// SweepExpiry re-evaluates expiry-driven alerts for every item. Called on a
// cadence by the ledger's sweep loop and directly by tests.
func (l *Ledger) SweepExpiry() {
	l.mu.Lock()
	type change struct {
		id     string
		alerts []Alert
	}
	var changes []change
	for id, it := range l.items {
		if l.recomputeAlertsLocked(it) {
			changes = append(changes, change{id: id, alerts: l.alertsCopyLocked(id)})
		}
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		for _, ch := range changes {
			sink(ch.id, ch.alerts)
		}
	}
}

// StartSweep runs the periodic expiry sweep until StopSweep.
func (l *Ledger) StartSweep(every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopSweep:
				return
			case <-ticker.C:
				l.SweepExpiry()
			}
		}
	}()
}

func (l *Ledger) StopSweep() {
	l.sweepOnce.Do(func() { close(l.stopSweep) })
}

// recomputeAlertsLocked rebuilds the alert set for one item and reports whether
// it changed. Caller holds l.mu.
func (l *Ledger) recomputeAlertsLocked(it *Item) bool {
	now := l.clock.Now()
	var next []Alert

	if it.Stock == 0 {
		next = append(next, Alert{ItemID: it.ID, Kind: AlertOutOfStock, RaisedAt: now})
	} else if it.MinStock > 0 && it.Stock <= it.MinStock {
		next = append(next, Alert{ItemID: it.ID, Kind: AlertLowStock, RaisedAt: now})
	}
	if it.ExpiryDate != nil {
		switch {
		case !it.ExpiryDate.After(now):
			next = append(next, Alert{ItemID: it.ID, Kind: AlertExpired, RaisedAt: now})
		case it.ExpiryDate.Sub(now) <= expiringWindow:
			next = append(next, Alert{ItemID: it.ID, Kind: AlertExpiring, RaisedAt: now})
		}
	}

	prev := l.alerts[it.ID]
	if sameAlertKinds(prev, next) {
		return false
	}
	if len(next) == 0 {
		delete(l.alerts, it.ID)
	} else {
		l.alerts[it.ID] = next
	}
	return true
}

func (l *Ledger) alertsCopyLocked(itemID string) []Alert {
	src := l.alerts[itemID]
	out := make([]Alert, len(src))
	copy(out, src)
	return out
}

func sameAlertKinds(a, b []Alert) bool {
	if len(a) != len(b) {
		return false
	}
	kinds := make(map[AlertKind]bool, len(a))
	for _, al := range a {
		kinds[al.Kind] = true
	}
	for _, al := range b {
		if !kinds[al.Kind] {
			return false
		}
	}
	return true
}
