package state

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKey = "guestcore:snapshot"
const snapshotTTL = 10 * time.Minute

// RedisCache mirrors the latest snapshot into Redis so external read-only
// consumers (dashboards, other processes) can pick it up without calling us.
// Writes happen on a worker goroutine with newest-wins coalescing, so a slow
// or unreachable Redis never stalls the authority's subscriber fan-out.
type RedisCache struct {
	client *redis.Client
	sink   func(Snapshot)

	mu      sync.Mutex
	pending *Snapshot
	wake    chan struct{}
}

func NewRedisCache(client *redis.Client) *RedisCache {
	c := &RedisCache{
		client: client,
		wake:   make(chan struct{}, 1),
	}
	c.sink = c.writeRedis
	return c
}

// Attach subscribes the cache to the authority, starts the mirror worker, and
// returns a detach func that unsubscribes and waits for the worker to finish.
func (c *RedisCache) Attach(a *Authority) func() {
	unsub := a.Subscribe(c.offer)
	stop := make(chan struct{})
	done := make(chan struct{})
	go c.run(stop, done)
	var once sync.Once
	return func() {
		unsub()
		once.Do(func() { close(stop) })
		<-done
	}
}

// offer stages a snapshot for the worker. Unwritten older snapshots are
// dropped; only the newest version ever reaches Redis.
func (c *RedisCache) offer(s Snapshot) {
	c.mu.Lock()
	c.pending = &s
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *RedisCache) run(stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-c.wake:
			c.flush()
		case <-stop:
			c.flush()
			return
		}
	}
}

func (c *RedisCache) flush() {
	c.mu.Lock()
	s := c.pending
	c.pending = nil
	c.mu.Unlock()
	if s != nil {
		c.sink(*s)
	}
}

func (c *RedisCache) writeRedis(s Snapshot) {
	data, err := json.Marshal(s)
	if err != nil {
		log.Printf("statecache: marshal snapshot v%d: %v", s.Version, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Set(ctx, snapshotKey, data, snapshotTTL).Err(); err != nil {
		log.Printf("statecache: write snapshot v%d: %v", s.Version, err)
	}
}

// Read fetches the mirrored snapshot, used by the health/diagnostics surface.
func (c *RedisCache) Read(ctx context.Context) (*Snapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		return nil, err
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
