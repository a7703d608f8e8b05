package location

import (
	"sync"
	"testing"
	"time"

	"guestcore/config"
	"guestcore/geofence"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls []geofence.PositionSample
}

func (h *recordingHandler) HandlePositionSample(guestID string, sample geofence.PositionSample) error {
	h.mu.Lock()
	h.calls = append(h.calls, sample)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func newTestConsumer(h SampleHandler, minInterval time.Duration) *Consumer {
	return NewConsumer(&config.LocationConfig{
		Broker:      "tcp://localhost:1883",
		ClientID:    "test",
		SampleTopic: "guests/+/position",
		MinInterval: minInterval,
	}, h)
}

func TestOfferCoalescesToNewestSample(t *testing.T) {
	h := &recordingHandler{}
	c := newTestConsumer(h, time.Millisecond)

	base := time.Now().UTC()
	c.Offer("guest-a", geofence.PositionSample{Coords: geofence.Coordinates{Lat: 1}, CapturedAt: base})
	c.Offer("guest-a", geofence.PositionSample{Coords: geofence.Coordinates{Lat: 2}, CapturedAt: base.Add(time.Second)})
	// Out-of-order sample must not replace a newer pending one.
	c.Offer("guest-a", geofence.PositionSample{Coords: geofence.Coordinates{Lat: 3}, CapturedAt: base.Add(-time.Second)})

	c.drain()

	if h.count() != 1 {
		t.Fatalf("expected one coalesced delivery, got %d", h.count())
	}
	if got := h.calls[0].Coords.Lat; got != 2 {
		t.Fatalf("expected newest sample delivered, got lat %v", got)
	}
}

func TestDrainRateLimitsPerGuest(t *testing.T) {
	h := &recordingHandler{}
	c := newTestConsumer(h, time.Hour)

	now := time.Now().UTC()
	c.Offer("guest-a", geofence.PositionSample{CapturedAt: now})
	c.drain()
	if h.count() != 1 {
		t.Fatalf("first sample must pass, got %d deliveries", h.count())
	}

	// A second sample inside the interval stays pending rather than dropping.
	c.Offer("guest-a", geofence.PositionSample{CapturedAt: now.Add(time.Second)})
	c.drain()
	if h.count() != 1 {
		t.Fatalf("rate-limited sample must not be delivered, got %d", h.count())
	}
	c.mu.Lock()
	_, pending := c.pending["guest-a"]
	c.mu.Unlock()
	if !pending {
		t.Fatalf("rate-limited sample must stay pending for the next tick")
	}

	// A different guest is not affected by guest-a's limit.
	c.Offer("guest-b", geofence.PositionSample{CapturedAt: now})
	c.drain()
	if h.count() != 2 {
		t.Fatalf("rate limit must be per guest, got %d deliveries", h.count())
	}
}

func TestGuestFromTopic(t *testing.T) {
	cases := []struct {
		topic string
		want  string
	}{
		{"guests/abc-123/position", "abc-123"},
		{"guests/abc-123", "abc-123"},
		{"malformed", ""},
	}
	for _, tc := range cases {
		if got := guestFromTopic(tc.topic); got != tc.want {
			t.Fatalf("guestFromTopic(%q) = %q, want %q", tc.topic, got, tc.want)
		}
	}
}
