package geofence

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"
)

var (
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrZoneNotFound        = errors.New("zone not found")
)

// ZoneKind classifies a proximity zone for trigger-rule matching.
type ZoneKind string

const (
	KindLodging ZoneKind = "lodging"
	KindDining  ZoneKind = "dining"
	KindAirport ZoneKind = "airport"
	KindVenue   ZoneKind = "venue"
	KindCustom  ZoneKind = "custom"
)

// Coordinates is a WGS84 lat/lon pair in degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Zone is a named circular region. Immutable except through UpsertZone/RemoveZone.
type Zone struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Kind         ZoneKind          `json:"kind"`
	Center       Coordinates       `json:"center"`
	RadiusMeters float64           `json:"radius_meters"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PositionSample is one reading from the location provider. Only the most recent
// sample per guest matters; history is never kept here.
type PositionSample struct {
	Coords         Coordinates `json:"coords"`
	AccuracyMeters float64     `json:"accuracy_meters"`
	CapturedAt     time.Time   `json:"captured_at"`
	SpeedMps       float64     `json:"speed_mps,omitempty"`
	HeadingDeg     float64     `json:"heading_deg,omitempty"`
}

// ProximityResult is derived per zone on every evaluation, never cached.
type ProximityResult struct {
	ZoneID         string   `json:"zone_id"`
	ZoneKind       ZoneKind `json:"zone_kind"`
	DistanceMeters float64  `json:"distance_meters"`
	IsInside       bool     `json:"is_inside"`
	BearingDeg     float64  `json:"bearing_deg"`
	ETAMinutes     float64  `json:"eta_minutes"`
}

const (
	earthRadiusMeters = 6371000.0
	walkingSpeedMps   = 5.0 * 1000 / 3600 // 5 km/h fallback
)

// Engine evaluates position samples against a zone set. Evaluation itself is a
// pure function of the sample and the zones; the engine only guards the zone set.
type Engine struct {
	mu        sync.RWMutex
	zones     map[string]Zone
	staleness time.Duration
}

func NewEngine(staleness time.Duration) *Engine {
	if staleness <= 0 {
		staleness = 30 * time.Second
	}
	return &Engine{
		zones:     make(map[string]Zone),
		staleness: staleness,
	}
}

// UpsertZone adds or replaces a zone definition.
func (e *Engine) UpsertZone(z Zone) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.zones[z.ID] = z
}

func (e *Engine) RemoveZone(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.zones[id]; !ok {
		return ErrZoneNotFound
	}
	delete(e.zones, id)
	return nil
}

func (e *Engine) Zone(id string) (Zone, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	z, ok := e.zones[id]
	if !ok {
		return Zone{}, ErrZoneNotFound
	}
	return z, nil
}

func (e *Engine) Zones() []Zone {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Zone, 0, len(e.zones))
	for _, z := range e.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evaluate computes proximity for the sample against every zone, nearest first.
// A sample older than the staleness limit is rejected rather than silently used.
func (e *Engine) Evaluate(sample PositionSample, now time.Time) ([]ProximityResult, error) {
	if err := e.checkSample(sample, now); err != nil {
		return nil, err
	}

	e.mu.RLock()
	zones := make([]Zone, 0, len(e.zones))
	for _, z := range e.zones {
		zones = append(zones, z)
	}
	e.mu.RUnlock()

	results := make([]ProximityResult, 0, len(zones))
	for _, z := range zones {
		results = append(results, evaluateZone(sample, z))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].DistanceMeters < results[j].DistanceMeters
	})
	return results, nil
}

// EvaluateZone computes proximity for a single known zone.
func (e *Engine) EvaluateZone(sample PositionSample, zoneID string, now time.Time) (ProximityResult, error) {
	if err := e.checkSample(sample, now); err != nil {
		return ProximityResult{}, err
	}
	z, err := e.Zone(zoneID)
	if err != nil {
		return ProximityResult{}, err
	}
	return evaluateZone(sample, z), nil
}

func (e *Engine) checkSample(sample PositionSample, now time.Time) error {
	if sample.CapturedAt.IsZero() {
		return ErrLocationUnavailable
	}
	if now.Sub(sample.CapturedAt) > e.staleness {
		return ErrLocationUnavailable
	}
	if sample.Coords.Lat < -90 || sample.Coords.Lat > 90 ||
		sample.Coords.Lon < -180 || sample.Coords.Lon > 180 {
		return ErrLocationUnavailable
	}
	return nil
}

func evaluateZone(sample PositionSample, z Zone) ProximityResult {
	dist := Distance(sample.Coords, z.Center)
	return ProximityResult{
		ZoneID:         z.ID,
		ZoneKind:       z.Kind,
		DistanceMeters: dist,
		// Closed boundary: exactly on the radius counts as inside.
		IsInside:   dist <= z.RadiusMeters,
		BearingDeg: Bearing(sample.Coords, z.Center),
		ETAMinutes: ETA(dist, sample.SpeedMps),
	}
}

// Distance returns the great-circle distance in meters via the Haversine formula.
func Distance(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing returns the initial great-circle bearing from a to b in degrees [0, 360).
func Bearing(a, b Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// ETA estimates minutes to cover dist at the sampled speed, falling back to a
// 5 km/h walking pace when speed is absent or non-positive.
func ETA(dist, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = walkingSpeedMps
	}
	return dist / speedMps / 60
}
