package engine

import (
	"errors"
	"sort"
	"strings"

	"guestcore/geofence"
	"guestcore/state"
)

// HandlePositionSample evaluates a sample against all zones, fires trigger
// rules for zone transitions, and republishes presence. Re-entering a zone
// without an intervening exit never re-fires its enter trigger; the presence
// map is the idempotency guard.
func (e *Engine) HandlePositionSample(guestID string, sample geofence.PositionSample) error {
	results, err := e.geo.Evaluate(sample, e.clock.Now())
	if err != nil {
		if errors.Is(err, geofence.ErrLocationUnavailable) {
			// Degrade gracefully: proximity features pause, everything else
			// keeps working on the last published presence.
			e.Events.Emit(Event{Type: EventLocationDegraded, Payload: LocationDegradedEvent{
				Detail: "sample rejected: " + err.Error(),
			}})
		}
		return err
	}

	nowMs := e.clock.Now().UnixMilli()

	// Presence is keyed per guest: one guest's sample only moves that guest's
	// rows, so concurrent guests never evict each other's zone entries.
	e.presenceMu.Lock()
	guest := e.presence[guestID]
	if guest == nil {
		guest = make(map[string]state.ZonePresence)
		e.presence[guestID] = guest
	}
	var entered, exited []geofence.ProximityResult
	inside := make(map[string]bool, len(results))
	for _, pr := range results {
		if pr.IsInside {
			inside[pr.ZoneID] = true
			if _, already := guest[pr.ZoneID]; !already {
				guest[pr.ZoneID] = state.ZonePresence{
					GuestID:   guestID,
					ZoneID:    pr.ZoneID,
					ZoneKind:  pr.ZoneKind,
					EnteredAt: nowMs,
				}
				entered = append(entered, pr)
			}
		}
	}
	for zoneID, p := range guest {
		if !inside[zoneID] {
			delete(guest, zoneID)
			exited = append(exited, geofence.ProximityResult{ZoneID: zoneID, ZoneKind: p.ZoneKind})
		}
	}
	if len(guest) == 0 {
		delete(e.presence, guestID)
	}
	presence := e.presenceRowsLocked()
	e.presenceMu.Unlock()

	// Apply trigger rules before publishing so the snapshot carries both the
	// presence change and its effects in one version. Flags are scoped to the
	// guest whose transition fired them.
	flagChanges := make(map[string]bool)
	for _, pr := range entered {
		e.applyTriggers(pr.ZoneKind, "enter", flagChanges)
	}
	for _, pr := range exited {
		e.applyTriggers(pr.ZoneKind, "exit", flagChanges)
	}

	if len(entered) > 0 || len(exited) > 0 || len(flagChanges) > 0 {
		e.state.Dispatch(state.Mutation{
			Name: "geofence/presence",
			Apply: func(s *state.Snapshot) {
				s.ZonePresence = presence
				if len(flagChanges) == 0 {
					return
				}
				flags := s.Flags[guestID]
				if flags == nil {
					flags = make(map[string]bool)
					s.Flags[guestID] = flags
				}
				for flag, val := range flagChanges {
					flags[flag] = val
				}
			},
		})
	}

	for _, pr := range entered {
		e.Events.Emit(Event{Type: EventZoneEntered, Payload: ZoneTransitionEvent{
			ZoneID:   pr.ZoneID,
			ZoneKind: pr.ZoneKind,
			GuestID:  guestID,
			Distance: pr.DistanceMeters,
		}})
	}
	for _, pr := range exited {
		e.Events.Emit(Event{Type: EventZoneExited, Payload: ZoneTransitionEvent{
			ZoneID:   pr.ZoneID,
			ZoneKind: pr.ZoneKind,
			GuestID:  guestID,
		}})
	}
	return nil
}

// presenceRowsLocked flattens the per-guest presence maps into a stable slice
// for the snapshot. Caller holds presenceMu.
func (e *Engine) presenceRowsLocked() []state.ZonePresence {
	var rows []state.ZonePresence
	for _, zones := range e.presence {
		for _, p := range zones {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].GuestID != rows[j].GuestID {
			return rows[i].GuestID < rows[j].GuestID
		}
		return rows[i].ZoneID < rows[j].ZoneID
	})
	return rows
}

func (e *Engine) applyTriggers(kind geofence.ZoneKind, transition string, flags map[string]bool) {
	for _, rule := range e.triggers {
		if rule.ZoneKind != string(kind) || rule.On != transition {
			continue
		}
		flag, val, ok := parseTriggerAction(rule.Action)
		if !ok {
			e.logFn("engine: unrecognized trigger action %q", rule.Action)
			continue
		}
		flags[flag] = val
	}
}

// parseTriggerAction maps "enable_room_delivery" / "disable_room_delivery"
// style actions to a snapshot flag and its value.
func parseTriggerAction(action string) (flag string, val bool, ok bool) {
	switch {
	case strings.HasPrefix(action, "enable_"):
		return strings.TrimPrefix(action, "enable_"), true, true
	case strings.HasPrefix(action, "disable_"):
		return strings.TrimPrefix(action, "disable_"), false, true
	default:
		return "", false, false
	}
}
