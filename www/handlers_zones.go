package www

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"guestcore/geofence"
)

func pathParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

type zoneRequest struct {
	Name         string            `json:"name"`
	Kind         string            `json:"kind"`
	Lat          float64           `json:"lat"`
	Lon          float64           `json:"lon"`
	RadiusMeters float64           `json:"radius_meters"`
	Metadata     map[string]string `json:"metadata"`
}

func (h *Handlers) adminUpsertZone(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req zoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.RadiusMeters <= 0 {
		h.jsonError(w, "radius must be positive", http.StatusBadRequest)
		return
	}
	switch geofence.ZoneKind(req.Kind) {
	case geofence.KindLodging, geofence.KindDining, geofence.KindAirport, geofence.KindVenue, geofence.KindCustom:
	default:
		h.jsonError(w, "unknown zone kind", http.StatusBadRequest)
		return
	}

	zone := geofence.Zone{
		ID:           id,
		Name:         req.Name,
		Kind:         geofence.ZoneKind(req.Kind),
		Center:       geofence.Coordinates{Lat: req.Lat, Lon: req.Lon},
		RadiusMeters: req.RadiusMeters,
		Metadata:     req.Metadata,
	}

	h.engine.Geo().UpsertZone(zone)
	if h.db != nil {
		if err := h.db.SaveZone(zone); err != nil {
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	h.jsonOK(w, zone)
}

func (h *Handlers) adminDeleteZone(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.engine.Geo().RemoveZone(id); err != nil {
		h.jsonError(w, "zone not found", http.StatusNotFound)
		return
	}
	if h.db != nil {
		if err := h.db.DeleteZone(id); err != nil {
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	h.jsonOK(w, map[string]bool{"ok": true})
}
