package engine

import (
	"guestcore/inventory"
	"guestcore/reservation"
)

// journalEmitter bridges the reservation ledger's journal interface to the
// event bus.
type journalEmitter struct {
	engine *Engine
}

func (j *journalEmitter) ReservationChanged(r reservation.Reservation) {
	var t EventType
	switch r.State {
	case reservation.StateConfirmed:
		t = EventReservationConfirmed
	case reservation.StateCancelled:
		t = EventReservationCancelled
	case reservation.StateCompleted:
		t = EventReservationCompleted
	case reservation.StateExpired:
		t = EventReservationExpired
	default:
		return
	}
	j.engine.Events.Emit(Event{Type: t, Payload: ReservationEvent{Reservation: r}})
}

// alertSink bridges inventory alert recomputation to the event bus.
func (e *Engine) alertSink(itemID string, alerts []inventory.Alert) {
	e.Events.Emit(Event{Type: EventAlertsChanged, Payload: AlertsChangedEvent{
		ItemID: itemID,
		Alerts: alerts,
	}})
}
