package engine

import (
	"guestcore/geofence"
	"guestcore/inventory"
	"guestcore/reservation"
)

const (
	EventReservationHeld EventType = iota + 1
	EventReservationConfirmed
	EventReservationCancelled
	EventReservationCompleted
	EventReservationExpired
	EventPurchaseCommitted
	EventZoneEntered
	EventZoneExited
	EventAlertsChanged
	EventIntentFailed
	EventLocationDegraded
)

// --- Event payloads ---

type ReservationEvent struct {
	Reservation reservation.Reservation
}

type PurchaseCommittedEvent struct {
	IntentID string
	GuestID  string
	Lines    []inventory.BatchLine
}

type ZoneTransitionEvent struct {
	ZoneID   string
	ZoneKind geofence.ZoneKind
	GuestID  string
	Distance float64
}

type AlertsChangedEvent struct {
	ItemID string
	Alerts []inventory.Alert
}

type IntentFailedEvent struct {
	IntentID string
	GuestID  string
	Reason   string
}

type LocationDegradedEvent struct {
	Detail string
}
