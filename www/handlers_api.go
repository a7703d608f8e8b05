package www

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"guestcore/engine"
	"guestcore/geofence"
	"guestcore/reservation"
	"guestcore/state"
)

func (h *Handlers) apiState(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.State().Current())
}

type positionRequest struct {
	GuestID    string  `json:"guest_id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	AccuracyM  float64 `json:"accuracy_m"`
	CapturedMs int64   `json:"captured_at_epoch_ms"`
	SpeedMps   float64 `json:"speed_mps"`
	HeadingDeg float64 `json:"heading_deg"`
}

// apiPosition accepts a browser-pushed sample for guests not on the MQTT feed.
func (h *Handlers) apiPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.GuestID == "" {
		h.jsonError(w, "guest_id required", http.StatusBadRequest)
		return
	}

	sample := geofence.PositionSample{
		Coords:         geofence.Coordinates{Lat: req.Lat, Lon: req.Lon},
		AccuracyMeters: req.AccuracyM,
		CapturedAt:     time.UnixMilli(req.CapturedMs).UTC(),
		SpeedMps:       req.SpeedMps,
		HeadingDeg:     req.HeadingDeg,
	}
	if err := h.engine.HandlePositionSample(req.GuestID, sample); err != nil {
		if errors.Is(err, geofence.ErrLocationUnavailable) {
			h.jsonError(w, "location unavailable", http.StatusUnprocessableEntity)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, h.engine.State().Current())
}

func (h *Handlers) apiSubmitIntent(w http.ResponseWriter, r *http.Request) {
	var in engine.Intent
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}
	result := h.engine.SubmitIntent(in)
	if !result.OK {
		// Capacity conflicts read as "no longer available" to the guest.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(result)
		return
	}
	h.jsonOK(w, result)
}

func (h *Handlers) apiUpdateCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lines []state.CartLine `json:"lines"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}
	version := h.engine.UpdateCart(req.Lines)
	h.jsonOK(w, map[string]uint64{"version": version})
}

func (h *Handlers) apiListZones(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Geo().Zones())
}

func (h *Handlers) apiCatalog(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, map[string]any{
		"categories": h.engine.Inventory().Categories(),
		"items":      h.engine.Inventory().Items(),
	})
}

func (h *Handlers) apiAlerts(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Inventory().Alerts())
}

func (h *Handlers) apiListReservations(w http.ResponseWriter, r *http.Request) {
	holder := r.URL.Query().Get("holder")
	h.jsonOK(w, h.engine.Reservations().Active(holder))
}

func (h *Handlers) apiCancelReservation(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	res, err := h.engine.Reservations().Cancel(id)
	if err != nil {
		switch {
		case errors.Is(err, reservation.ErrNotFound):
			h.jsonError(w, "not found", http.StatusNotFound)
		case errors.Is(err, reservation.ErrInvalidTransition):
			h.jsonError(w, "reservation already settled", http.StatusConflict)
		default:
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	h.jsonOK(w, res)
}

func (h *Handlers) adminAlertLog(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.jsonError(w, "persistence disabled", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.db.ListAlertLog(limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, entries)
}

func (h *Handlers) adminReservationJournal(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.jsonError(w, "persistence disabled", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := h.db.ListReservations(r.URL.Query().Get("state"), limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, rows)
}
