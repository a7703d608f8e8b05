package engine

import "sync"

type EventType int

type Event struct {
	Type    EventType
	Payload any
}

type busSub struct {
	fn    func(Event)
	types map[EventType]bool // nil means all
}

// EventBus fans events out to subscribers synchronously, in subscription order.
type EventBus struct {
	mu   sync.RWMutex
	subs []busSub
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a handler for every event.
func (b *EventBus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	b.subs = append(b.subs, busSub{fn: fn})
	b.mu.Unlock()
}

// SubscribeTypes registers a handler for specific event types.
func (b *EventBus) SubscribeTypes(fn func(Event), types ...EventType) {
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	b.mu.Lock()
	b.subs = append(b.subs, busSub{fn: fn, types: set})
	b.mu.Unlock()
}

func (b *EventBus) Emit(evt Event) {
	b.mu.RLock()
	subs := make([]busSub, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.types == nil || s.types[evt.Type] {
			s.fn(evt)
		}
	}
}
