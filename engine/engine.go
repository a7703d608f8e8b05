package engine

import (
	"log"
	"sync"

	"guestcore/clock"
	"guestcore/config"
	"guestcore/geofence"
	"guestcore/inventory"
	"guestcore/reservation"
	"guestcore/state"
)

type LogFunc func(format string, args ...any)

// Persistence is the slice of the store the engine writes through. Writes are
// queued so they never block snapshot publication.
type Persistence interface {
	SaveReservation(r reservation.Reservation) error
	AppendAlert(a inventory.Alert) error
	EnqueueOutbox(topic, kind string, payload []byte) error
}

type Config struct {
	AppConfig    *config.Config
	Geo          *geofence.Engine
	Inventory    *inventory.Ledger
	Reservations *reservation.Ledger
	State        *state.Authority
	DB           Persistence // optional; nil disables persistence
	Clock        clock.Clock
	LogFunc      LogFunc
}

// Engine is the top-level coordinator: it expands guest intents into ordered
// ledger operations, applies geofence triggers, and commits results through the
// state authority's serialized queue.
type Engine struct {
	cfg          *config.Config
	geo          *geofence.Engine
	inventory    *inventory.Ledger
	reservations *reservation.Ledger
	state        *state.Authority
	db           Persistence
	clock        clock.Clock
	Events       *EventBus
	logFn        LogFunc

	presenceMu sync.Mutex
	presence   map[string]map[string]state.ZonePresence // guest -> zone -> presence
	triggers   []config.TriggerRule

	persistCh   chan func()
	stopPersist chan struct{}
	persistDone chan struct{}
	stopOnce    sync.Once
}

func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = log.Printf
	}
	clk := c.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Engine{
		cfg:          c.AppConfig,
		geo:          c.Geo,
		inventory:    c.Inventory,
		reservations: c.Reservations,
		state:        c.State,
		db:           c.DB,
		clock:        clk,
		Events:       NewEventBus(),
		logFn:        logFn,
		presence:     make(map[string]map[string]state.ZonePresence),
		triggers:     c.AppConfig.Geofence.Triggers,
		persistCh:    make(chan func(), 256),
		stopPersist:  make(chan struct{}),
		persistDone:  make(chan struct{}),
	}
}

func (e *Engine) Start() {
	// Bridge ledger callbacks onto the event bus.
	e.reservations.SetJournal(&journalEmitter{engine: e})
	e.inventory.SetAlertSink(e.alertSink)

	e.wireEventHandlers()

	go e.persistLoop()

	// Ledger lifecycles own their sweep timers; teardown clears them.
	e.reservations.StartSweep(e.cfg.Booking.SweepEvery)
	e.inventory.StartSweep(e.cfg.Booking.SweepEvery)

	// Publish the initial snapshot so subscribers see catalog state at version 1.
	inv := e.inventory.Items()
	alerts := e.inventory.Alerts()
	e.state.Dispatch(state.Mutation{
		Name: "bootstrap",
		Apply: func(s *state.Snapshot) {
			s.InventorySummary = inv
			s.Alerts = alerts
		},
	})

	e.logFn("engine: started")
}

// Stop halts the sweeps and waits for the persistence queue to drain, so
// journal and outbox writes land before the caller closes the store.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.reservations.StopSweep()
		e.inventory.StopSweep()
		close(e.stopPersist)
		<-e.persistDone
		e.logFn("engine: stopped")
	})
}

// Accessors
func (e *Engine) AppConfig() *config.Config         { return e.cfg }
func (e *Engine) Geo() *geofence.Engine             { return e.geo }
func (e *Engine) Inventory() *inventory.Ledger      { return e.inventory }
func (e *Engine) Reservations() *reservation.Ledger { return e.reservations }
func (e *Engine) State() *state.Authority           { return e.state }

// persist enqueues a store write; the in-memory state is already committed and
// never waits on the database.
func (e *Engine) persist(fn func()) {
	if e.db == nil {
		return
	}
	select {
	case e.persistCh <- fn:
	default:
		e.logFn("engine: persistence queue full, dropping write")
	}
}

func (e *Engine) persistLoop() {
	defer close(e.persistDone)
	for {
		select {
		case <-e.stopPersist:
			// Drain what is already queued before exiting.
			for {
				select {
				case fn := <-e.persistCh:
					fn()
				default:
					return
				}
			}
		case fn := <-e.persistCh:
			fn()
		}
	}
}
