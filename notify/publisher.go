// Package notify drains the store outbox to Kafka so durable storage and
// notification systems outside this core can react to reservation and alert
// events.
package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"guestcore/config"
	"guestcore/store"
)

// Publisher wraps a kafka writer. Topic routing comes from the outbox record.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(cfg *config.NotifyConfig) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, rec store.OutboxRecord) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: rec.Topic,
		Key:   []byte(rec.Kind),
		Value: rec.Payload,
	})
	if err != nil {
		return fmt.Errorf("publish outbox %d: %w", rec.ID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// OutboxPublisher is the slice of Publisher the drainer needs.
type OutboxPublisher interface {
	Publish(ctx context.Context, rec store.OutboxRecord) error
}

// Drainer periodically moves pending outbox records to Kafka. Failed publishes
// stay pending and are retried on the next pass.
type Drainer struct {
	db       *store.DB
	pub      OutboxPublisher
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewDrainer(db *store.DB, pub OutboxPublisher, interval time.Duration) *Drainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Drainer{
		db:       db,
		pub:      pub,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (d *Drainer) Start() {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				d.drainOnce()
			}
		}
	}()
}

func (d *Drainer) Stop() {
	close(d.stop)
	<-d.done
}

func (d *Drainer) drainOnce() {
	recs, err := d.db.ListPendingOutbox(50)
	if err != nil {
		log.Printf("notify: list outbox: %v", err)
		return
	}
	if len(recs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sent := 0
	for _, rec := range recs {
		if err := d.pub.Publish(ctx, rec); err != nil {
			log.Printf("notify: %v", err)
			break // keep ordering; retry from here next pass
		}
		if err := d.db.MarkOutboxSent(rec.ID); err != nil {
			log.Printf("notify: mark outbox %d sent: %v", rec.ID, err)
			break
		}
		sent++
	}
	if sent > 0 {
		log.Printf("notify: drained %d outbox record(s)", sent)
	}
}
