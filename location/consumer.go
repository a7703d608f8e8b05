// Package location feeds position samples from the device-side MQTT bridge
// into the orchestration engine.
package location

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"guestcore/config"
	"guestcore/geofence"
)

// SampleHandler receives validated samples; the engine implements this.
type SampleHandler interface {
	HandlePositionSample(guestID string, sample geofence.PositionSample) error
}

// wireSample is the MQTT payload published by the guest device.
type wireSample struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	AccuracyM  float64 `json:"accuracy_m"`
	CapturedMs int64   `json:"captured_at_epoch_ms"`
	SpeedMps   float64 `json:"speed_mps"`
	HeadingDeg float64 `json:"heading_deg"`
}

// Consumer subscribes to the per-guest position topics and forwards samples to
// the handler. Samples are coalesced per guest: if a new sample arrives while
// the previous one is still being evaluated, the newest one wins and the rest
// are dropped. A minimum interval between evaluations keeps a sample flurry
// from starving the mutation queue.
type Consumer struct {
	client  mqtt.Client
	cfg     *config.LocationConfig
	handler SampleHandler

	mu      sync.Mutex
	pending map[string]geofence.PositionSample
	lastRun map[string]time.Time
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func NewConsumer(cfg *config.LocationConfig, handler SampleHandler) *Consumer {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	return &Consumer{
		client:  mqtt.NewClient(opts),
		cfg:     cfg,
		handler: handler,
		pending: make(map[string]geofence.PositionSample),
		lastRun: make(map[string]time.Time),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *Consumer) Start() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}
	if token := c.client.Subscribe(c.cfg.SampleTopic, 0, c.onMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", c.cfg.SampleTopic, token.Error())
	}
	go c.dispatchLoop()
	log.Printf("location: subscribed to %s", c.cfg.SampleTopic)
	return nil
}

func (c *Consumer) Stop() {
	close(c.stop)
	<-c.done
	c.client.Disconnect(250)
	log.Printf("location: stopped")
}

func (c *Consumer) onMessage(_ mqtt.Client, msg mqtt.Message) {
	guestID := guestFromTopic(msg.Topic())
	if guestID == "" {
		log.Printf("location: cannot derive guest from topic %s", msg.Topic())
		return
	}

	var ws wireSample
	if err := json.Unmarshal(msg.Payload(), &ws); err != nil {
		log.Printf("location: decode sample from %s: %v", msg.Topic(), err)
		return
	}

	c.Offer(guestID, geofence.PositionSample{
		Coords:         geofence.Coordinates{Lat: ws.Lat, Lon: ws.Lon},
		AccuracyMeters: ws.AccuracyM,
		CapturedAt:     time.UnixMilli(ws.CapturedMs).UTC(),
		SpeedMps:       ws.SpeedMps,
		HeadingDeg:     ws.HeadingDeg,
	})
}

// Offer queues a sample for evaluation, replacing any unprocessed one for the
// same guest.
func (c *Consumer) Offer(guestID string, sample geofence.PositionSample) {
	c.mu.Lock()
	prev, has := c.pending[guestID]
	if !has || sample.CapturedAt.After(prev.CapturedAt) {
		c.pending[guestID] = sample
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Consumer) dispatchLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.minInterval())
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
		case <-ticker.C:
		}
		c.drain()
	}
}

func (c *Consumer) drain() {
	now := time.Now()
	min := c.minInterval()

	c.mu.Lock()
	batch := make(map[string]geofence.PositionSample)
	for guestID, sample := range c.pending {
		if now.Sub(c.lastRun[guestID]) < min {
			continue // rate-limited; the sample stays pending
		}
		batch[guestID] = sample
		delete(c.pending, guestID)
		c.lastRun[guestID] = now
	}
	c.mu.Unlock()

	for guestID, sample := range batch {
		if err := c.handler.HandlePositionSample(guestID, sample); err != nil {
			log.Printf("location: evaluate sample for %s: %v", guestID, err)
		}
	}
}

func (c *Consumer) minInterval() time.Duration {
	if c.cfg.MinInterval > 0 {
		return c.cfg.MinInterval
	}
	return 2 * time.Second
}

// guestFromTopic extracts the guest ID from "guests/<id>/position".
func guestFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
