package engine

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"guestcore/clock"
	"guestcore/config"
	"guestcore/geofence"
	"guestcore/inventory"
	"guestcore/reservation"
	"guestcore/state"
)

var (
	lodgingCenter = geofence.Coordinates{Lat: 41.3851, Lon: 2.1734}
	outsidePoint  = geofence.Coordinates{Lat: 41.3951, Lon: 2.1734} // ~1.1km north
)

func newTestEngine(t *testing.T) (*Engine, *clock.Fixed) {
	t.Helper()
	return newTestEngineDB(t, nil)
}

func newTestEngineDB(t *testing.T, db Persistence) (*Engine, *clock.Fixed) {
	t.Helper()

	clk := clock.NewFixed(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	cfg := config.Default()
	cfg.Geofence.Triggers = []config.TriggerRule{
		{ZoneKind: "lodging", On: "enter", Action: "enable_room_delivery"},
		{ZoneKind: "lodging", On: "exit", Action: "disable_room_delivery"},
	}

	geo := geofence.NewEngine(cfg.Location.StalenessLimit)
	geo.UpsertZone(geofence.Zone{
		ID:           "hotel",
		Name:         "Hotel Grounds",
		Kind:         geofence.KindLodging,
		Center:       lodgingCenter,
		RadiusMeters: 150,
	})

	inv := inventory.NewLedger(clk)
	inv.LoadCatalog(
		[]inventory.Category{{ID: "beverages", Name: "Beverages"}},
		[]inventory.Item{
			{ID: "bev-001", CategoryID: "beverages", Name: "Sparkling Water", PriceCents: 350, Stock: 24, MaxStock: 48, MinStock: 12, IsActive: true},
			{ID: "kayak", Name: "Kayak", Stock: 3, MaxStock: 3, IsActive: true},
		},
	)

	resv := reservation.NewLedger(clk, inv, reservation.WithHoldTTL(cfg.Booking.HoldTTL))
	resv.RegisterResource(reservation.Resource{ID: "car-7", Kind: reservation.KindExclusive, Name: "Compact 7"})
	resv.RegisterResource(reservation.Resource{ID: "kayaks", Kind: reservation.KindStockUnits, Name: "Kayak Fleet", ItemID: "kayak"})

	auth := state.NewAuthority()

	eng := New(Config{
		AppConfig:    cfg,
		Geo:          geo,
		Inventory:    inv,
		Reservations: resv,
		State:        auth,
		DB:           db,
		Clock:        clk,
		LogFunc:      func(format string, args ...any) {},
	})
	eng.Start()
	t.Cleanup(func() {
		eng.Stop()
		auth.Close()
	})
	return eng, clk
}

func sampleAt(clk clock.Clock, c geofence.Coordinates) geofence.PositionSample {
	return geofence.PositionSample{Coords: c, AccuracyMeters: 5, CapturedAt: clk.Now()}
}

func TestSubmitIntentCommitsBundle(t *testing.T) {
	eng, clk := newTestEngine(t)

	res := eng.SubmitIntent(Intent{
		GuestID: "guest-a",
		Ops: []IntentOp{
			{Kind: OpReserveWindow, ResourceID: "car-7", Window: reservation.Window{
				Start: clk.Now().Add(time.Hour),
				End:   clk.Now().Add(3 * time.Hour),
			}},
			{Kind: OpReserveUnits, ResourceID: "kayaks", Quantity: 1},
			{Kind: OpPurchase, Lines: []inventory.BatchLine{{ItemID: "bev-001", Quantity: 2}}},
			{Kind: OpSetCheckout, CheckoutAt: "2025-06-03T11:00:00Z"},
		},
	})
	if !res.OK {
		t.Fatalf("intent rejected: %s", res.Reason)
	}
	if len(res.Reservations) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(res.Reservations))
	}
	for _, r := range res.Reservations {
		if r.State != reservation.StateConfirmed {
			t.Fatalf("expected confirmed, got %s for %s", r.State, r.ResourceID)
		}
	}

	it, _ := eng.Inventory().Item("bev-001")
	if it.Stock != 22 {
		t.Fatalf("expected stock 22 after purchase, got %d", it.Stock)
	}

	snap := eng.State().Current()
	if snap.CheckoutAt != "2025-06-03T11:00:00Z" {
		t.Fatalf("checkout preference missing from snapshot: %+v", snap)
	}
	if len(snap.ActiveReservations) != 2 {
		t.Fatalf("expected 2 active reservations in snapshot, got %d", len(snap.ActiveReservations))
	}
	if snap.Version < res.Version || res.Version == 0 {
		t.Fatalf("commit must carry a published version, got intent=%d snapshot=%d", res.Version, snap.Version)
	}
}

func TestSubmitIntentFailFast(t *testing.T) {
	eng, _ := newTestEngine(t)

	t.Run("insufficient stock rejected before any hold", func(t *testing.T) {
		res := eng.SubmitIntent(Intent{
			GuestID: "guest-a",
			Ops: []IntentOp{
				{Kind: OpReserveUnits, ResourceID: "kayaks", Quantity: 1},
				{Kind: OpPurchase, Lines: []inventory.BatchLine{{ItemID: "bev-001", Quantity: 999}}},
			},
		})
		if res.OK {
			t.Fatalf("expected rejection")
		}
		if !strings.Contains(res.Reason, "insufficient stock") {
			t.Fatalf("unexpected reason: %s", res.Reason)
		}
		if active := eng.Reservations().Active(""); len(active) != 0 {
			t.Fatalf("fail-fast must not leave holds, got %+v", active)
		}
	})

	t.Run("unknown resource", func(t *testing.T) {
		res := eng.SubmitIntent(Intent{
			GuestID: "guest-a",
			Ops:     []IntentOp{{Kind: OpReserveWindow, ResourceID: "nope", Window: futureWindow(eng)}},
		})
		if res.OK || !strings.Contains(res.Reason, "unknown resource") {
			t.Fatalf("expected unknown resource rejection, got %+v", res)
		}
	})

	t.Run("bad checkout time", func(t *testing.T) {
		res := eng.SubmitIntent(Intent{
			GuestID: "guest-a",
			Ops:     []IntentOp{{Kind: OpSetCheckout, CheckoutAt: "tomorrow-ish"}},
		})
		if res.OK {
			t.Fatalf("expected rejection for unparseable checkout time")
		}
	})

	t.Run("empty intent", func(t *testing.T) {
		if res := eng.SubmitIntent(Intent{GuestID: "guest-a"}); res.OK {
			t.Fatalf("expected rejection for empty intent")
		}
	})
}

func futureWindow(eng *Engine) reservation.Window {
	now := eng.clock.Now()
	return reservation.Window{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)}
}

func TestSubmitIntentRollsBackPartialCommit(t *testing.T) {
	eng, clk := newTestEngine(t)

	w := reservation.Window{Start: clk.Now().Add(time.Hour), End: clk.Now().Add(3 * time.Hour)}

	// Two window ops on the same resource with overlapping windows pass
	// validation but collide at hold time; the committed first hold and the
	// purchase must both be unwound.
	res := eng.SubmitIntent(Intent{
		GuestID: "guest-a",
		Ops: []IntentOp{
			{Kind: OpReserveWindow, ResourceID: "car-7", Window: w},
			{Kind: OpPurchase, Lines: []inventory.BatchLine{{ItemID: "bev-001", Quantity: 2}}},
			{Kind: OpReserveWindow, ResourceID: "car-7", Window: reservation.Window{
				Start: w.Start.Add(30 * time.Minute),
				End:   w.End.Add(30 * time.Minute),
			}},
		},
	})
	if res.OK {
		t.Fatalf("expected conflicting bundle to fail")
	}
	if !strings.Contains(res.Reason, "capacity exceeded") {
		t.Fatalf("unexpected reason: %s", res.Reason)
	}

	if active := eng.Reservations().Active(""); len(active) != 0 {
		t.Fatalf("rollback must cancel the partial hold, got %+v", active)
	}
	it, _ := eng.Inventory().Item("bev-001")
	if it.Stock != 24 {
		t.Fatalf("purchase phase never ran, stock must be untouched, got %d", it.Stock)
	}

	// The resource is free again afterwards.
	if _, err := eng.Reservations().HoldWindow("car-7", "guest-b", w); err != nil {
		t.Fatalf("window must be free after rollback: %v", err)
	}
}

func TestIntentPurchaseDrainsCart(t *testing.T) {
	eng, _ := newTestEngine(t)

	eng.UpdateCart([]state.CartLine{{ItemID: "bev-001", Quantity: 3}})

	res := eng.SubmitIntent(Intent{
		GuestID: "guest-a",
		Ops:     []IntentOp{{Kind: OpPurchase, Lines: []inventory.BatchLine{{ItemID: "bev-001", Quantity: 2}}}},
	})
	if !res.OK {
		t.Fatalf("intent rejected: %s", res.Reason)
	}

	snap := eng.State().Current()
	if len(snap.Cart) != 1 || snap.Cart[0].Quantity != 1 {
		t.Fatalf("expected 1 remaining cart unit, got %+v", snap.Cart)
	}
}

func TestZoneTriggersAreIdempotent(t *testing.T) {
	eng, clk := newTestEngine(t)

	var mu sync.Mutex
	entered, exited := 0, 0
	eng.Events.SubscribeTypes(func(evt Event) {
		mu.Lock()
		defer mu.Unlock()
		if evt.Type == EventZoneEntered {
			entered++
		} else {
			exited++
		}
	}, EventZoneEntered, EventZoneExited)

	counts := func() (int, int) {
		mu.Lock()
		defer mu.Unlock()
		return entered, exited
	}

	// First sample inside the lodging zone: enter fires, room delivery flips on.
	if err := eng.HandlePositionSample("guest-a", sampleAt(clk, lodgingCenter)); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if in, out := counts(); in != 1 || out != 0 {
		t.Fatalf("expected one enter, got enter=%d exit=%d", in, out)
	}
	snap := eng.State().Current()
	if !snap.Flags["guest-a"]["room_delivery"] {
		t.Fatalf("enter trigger must enable room delivery: %+v", snap.Flags)
	}
	if len(snap.ZonePresence) != 1 || snap.ZonePresence[0].ZoneID != "hotel" {
		t.Fatalf("presence missing: %+v", snap.ZonePresence)
	}

	// Still inside: no re-fire, no new snapshot version.
	before := eng.State().Current().Version
	if err := eng.HandlePositionSample("guest-a", sampleAt(clk, lodgingCenter)); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if in, _ := counts(); in != 1 {
		t.Fatalf("re-entry without exit must not re-fire, got enter=%d", in)
	}
	if v := eng.State().Current().Version; v != before {
		t.Fatalf("unchanged presence must not publish, version %d -> %d", before, v)
	}

	// Leaving flips the flag back off.
	if err := eng.HandlePositionSample("guest-a", sampleAt(clk, outsidePoint)); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if _, out := counts(); out != 1 {
		t.Fatalf("expected one exit")
	}
	snap = eng.State().Current()
	if snap.Flags["guest-a"]["room_delivery"] {
		t.Fatalf("exit trigger must disable room delivery")
	}
	if len(snap.ZonePresence) != 0 {
		t.Fatalf("presence must clear on exit: %+v", snap.ZonePresence)
	}

	// A genuine re-entry fires again.
	if err := eng.HandlePositionSample("guest-a", sampleAt(clk, lodgingCenter)); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if in, _ := counts(); in != 2 {
		t.Fatalf("exit then enter must re-fire, got enter=%d", in)
	}
}

func TestPresenceIsPerGuest(t *testing.T) {
	eng, clk := newTestEngine(t)

	var mu sync.Mutex
	entered, exited := 0, 0
	eng.Events.SubscribeTypes(func(evt Event) {
		mu.Lock()
		defer mu.Unlock()
		if evt.Type == EventZoneEntered {
			entered++
		} else {
			exited++
		}
	}, EventZoneEntered, EventZoneExited)

	counts := func() (int, int) {
		mu.Lock()
		defer mu.Unlock()
		return entered, exited
	}

	// Interleaved samples from two guests: guest-b wandering outside must not
	// evict guest-a's presence or re-fire guest-a's enter trigger.
	if err := eng.HandlePositionSample("guest-a", sampleAt(clk, lodgingCenter)); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if err := eng.HandlePositionSample("guest-b", sampleAt(clk, outsidePoint)); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if err := eng.HandlePositionSample("guest-a", sampleAt(clk, lodgingCenter)); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if in, out := counts(); in != 1 || out != 0 {
		t.Fatalf("expected enter=1 exit=0 across interleaved guests, got enter=%d exit=%d", in, out)
	}

	// Both guests inside: two presence rows, each guest's flag set independently.
	if err := eng.HandlePositionSample("guest-b", sampleAt(clk, lodgingCenter)); err != nil {
		t.Fatalf("sample: %v", err)
	}
	snap := eng.State().Current()
	if len(snap.ZonePresence) != 2 {
		t.Fatalf("expected presence rows for both guests: %+v", snap.ZonePresence)
	}
	if snap.ZonePresence[0].GuestID != "guest-a" || snap.ZonePresence[1].GuestID != "guest-b" {
		t.Fatalf("presence rows must carry their guest: %+v", snap.ZonePresence)
	}
	if !snap.Flags["guest-a"]["room_delivery"] || !snap.Flags["guest-b"]["room_delivery"] {
		t.Fatalf("each guest's enter must flag that guest: %+v", snap.Flags)
	}

	// guest-b leaves; guest-a's presence and flag survive untouched.
	if err := eng.HandlePositionSample("guest-b", sampleAt(clk, outsidePoint)); err != nil {
		t.Fatalf("sample: %v", err)
	}
	snap = eng.State().Current()
	if len(snap.ZonePresence) != 1 || snap.ZonePresence[0].GuestID != "guest-a" {
		t.Fatalf("guest-b's exit must only remove guest-b: %+v", snap.ZonePresence)
	}
	if !snap.Flags["guest-a"]["room_delivery"] {
		t.Fatalf("guest-a's flag must survive guest-b's exit: %+v", snap.Flags)
	}
	if snap.Flags["guest-b"]["room_delivery"] {
		t.Fatalf("guest-b's exit must disable guest-b's flag: %+v", snap.Flags)
	}
	if in, out := counts(); in != 2 || out != 1 {
		t.Fatalf("expected enter=2 exit=1, got enter=%d exit=%d", in, out)
	}
}

func TestStaleSampleDegradesGracefully(t *testing.T) {
	eng, clk := newTestEngine(t)

	if err := eng.HandlePositionSample("guest-a", sampleAt(clk, lodgingCenter)); err != nil {
		t.Fatalf("sample: %v", err)
	}

	var mu sync.Mutex
	degraded := 0
	eng.Events.SubscribeTypes(func(evt Event) {
		mu.Lock()
		degraded++
		mu.Unlock()
	}, EventLocationDegraded)

	stale := geofence.PositionSample{Coords: outsidePoint, CapturedAt: clk.Now().Add(-time.Hour)}
	err := eng.HandlePositionSample("guest-a", stale)
	if !errors.Is(err, geofence.ErrLocationUnavailable) {
		t.Fatalf("expected ErrLocationUnavailable, got %v", err)
	}

	mu.Lock()
	d := degraded
	mu.Unlock()
	if d != 1 {
		t.Fatalf("expected degraded event, got %d", d)
	}

	// Presence keeps its last good value; the stale sample must not evict it.
	snap := eng.State().Current()
	if len(snap.ZonePresence) != 1 {
		t.Fatalf("stale sample must not disturb presence: %+v", snap.ZonePresence)
	}
}

func TestExpiredHoldUpdatesSnapshot(t *testing.T) {
	eng, clk := newTestEngine(t)

	if _, err := eng.Reservations().HoldWindow("car-7", "guest-a", futureWindow(eng)); err != nil {
		t.Fatalf("hold: %v", err)
	}

	clk.Advance(10 * time.Minute)
	expired := eng.Reservations().ExpireDue()
	if len(expired) != 1 {
		t.Fatalf("expected one expired hold, got %d", len(expired))
	}

	// The expiry flows journal -> event bus -> state mutation synchronously.
	snap := eng.State().Current()
	if len(snap.ActiveReservations) != 0 {
		t.Fatalf("expired hold must leave the published list: %+v", snap.ActiveReservations)
	}
}

type fakePersistence struct {
	mu           sync.Mutex
	reservations []reservation.Reservation
	alerts       []inventory.Alert
	outbox       []string
}

func (f *fakePersistence) SaveReservation(r reservation.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reservations = append(f.reservations, r)
	return nil
}

func (f *fakePersistence) AppendAlert(a inventory.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakePersistence) EnqueueOutbox(topic, kind string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbox = append(f.outbox, kind)
	return nil
}

func TestStopDrainsPersistenceQueue(t *testing.T) {
	db := &fakePersistence{}
	eng, _ := newTestEngineDB(t, db)

	id, err := eng.Reservations().HoldWindow("car-7", "guest-a", futureWindow(eng))
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, err := eng.Reservations().Confirm(id.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Stop must block until queued writes have run; anything still queued
	// afterwards would race the caller's store close.
	eng.Stop()

	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.reservations) != 1 || db.reservations[0].State != reservation.StateConfirmed {
		t.Fatalf("expected the confirmed journal write after Stop, got %+v", db.reservations)
	}
	if len(db.outbox) != 1 || db.outbox[0] != "reservation.confirmed" {
		t.Fatalf("expected the confirmation outbox notice after Stop, got %v", db.outbox)
	}
}
