package engine

import (
	"encoding/json"
	"time"

	"guestcore/state"
)

// notice is the outbox envelope consumed by downstream notification systems.
type notice struct {
	Kind string `json:"kind"`
	At   string `json:"at"`
	Data any    `json:"data"`
}

func (e *Engine) wireEventHandlers() {
	// Reservation lifecycle changes: journal the row, notify downstream, and
	// refresh the published reservation list.
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ReservationEvent)
		r := ev.Reservation
		e.logFn("engine: reservation %s -> %s (%s)", r.ID, r.State, r.ResourceID)

		e.persist(func() {
			if err := e.db.SaveReservation(r); err != nil {
				e.logFn("engine: journal reservation %s: %v", r.ID, err)
			}
			e.enqueueNotice("reservation."+string(r.State), r)
		})

		active := e.reservations.Active("")
		e.state.Dispatch(state.Mutation{
			Name: "reservation/" + string(r.State),
			Apply: func(s *state.Snapshot) {
				s.ActiveReservations = active
			},
		})
	}, EventReservationConfirmed, EventReservationCancelled, EventReservationCompleted, EventReservationExpired)

	// Alert threshold crossings: log the entries and notify downstream.
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(AlertsChangedEvent)
		e.logFn("engine: alerts changed for item %s (%d active)", ev.ItemID, len(ev.Alerts))

		alerts := ev.Alerts
		e.persist(func() {
			for _, a := range alerts {
				if err := e.db.AppendAlert(a); err != nil {
					e.logFn("engine: append alert %s/%s: %v", a.ItemID, a.Kind, err)
				}
			}
			e.enqueueNotice("inventory.alerts", ev)
		})

		all := e.inventory.Alerts()
		summary := e.inventory.Items()
		e.state.Dispatch(state.Mutation{
			Name: "inventory/alerts",
			Apply: func(s *state.Snapshot) {
				s.Alerts = all
				s.InventorySummary = summary
			},
		})
	}, EventAlertsChanged)

	// Purchases: notify downstream for room-charge settlement.
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(PurchaseCommittedEvent)
		e.logFn("engine: intent %s purchased %d line(s) for %s", ev.IntentID, len(ev.Lines), ev.GuestID)
		e.persist(func() {
			e.enqueueNotice("purchase.committed", ev)
		})
	}, EventPurchaseCommitted)

	// Zone transitions: log only; triggers already ran before emission.
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ZoneTransitionEvent)
		if evt.Type == EventZoneEntered {
			e.logFn("engine: %s entered zone %s", ev.GuestID, ev.ZoneID)
		} else {
			e.logFn("engine: %s exited zone %s", ev.GuestID, ev.ZoneID)
		}
	}, EventZoneEntered, EventZoneExited)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(IntentFailedEvent)
		e.logFn("engine: intent %s rejected: %s", ev.IntentID, ev.Reason)
	}, EventIntentFailed)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(LocationDegradedEvent)
		e.logFn("engine: location degraded: %s", ev.Detail)
	}, EventLocationDegraded)
}

// enqueueNotice runs on the persistence worker.
func (e *Engine) enqueueNotice(kind string, data any) {
	payload, err := json.Marshal(notice{
		Kind: kind,
		At:   e.clock.Now().Format(time.RFC3339),
		Data: data,
	})
	if err != nil {
		e.logFn("engine: encode notice %s: %v", kind, err)
		return
	}
	if err := e.db.EnqueueOutbox(e.cfg.Notify.Topic, kind, payload); err != nil {
		e.logFn("engine: enqueue notice %s: %v", kind, err)
	}
}
