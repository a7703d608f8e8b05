package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"guestcore/clock"
	"guestcore/config"
	"guestcore/engine"
	"guestcore/geofence"
	"guestcore/inventory"
	"guestcore/location"
	"guestcore/notify"
	"guestcore/reservation"
	"guestcore/state"
	"guestcore/store"
	"guestcore/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "guestcore.yaml", "path to config file")
	initConfig := flag.Bool("initconfig", false, "write a default config file and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("guestcore", Version)
		return
	}

	if *initConfig {
		if err := config.Default().Save(*configPath); err != nil {
			log.Fatalf("write config: %v", err)
		}
		log.Printf("guestcore: wrote default config to %s", *configPath)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("guestcore: database open (%s)", cfg.Database.Driver)

	// Redis snapshot mirror
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisOK := false
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("guestcore: redis not available (%v), snapshot mirror disabled", err)
	} else {
		redisOK = true
		log.Printf("guestcore: redis connected (%s)", cfg.Redis.Address)
	}
	cancel()
	defer redisClient.Close()

	clk := clock.NewSystem()

	// Geofence engine, zones from config plus any persisted by admin actions.
	geo := geofence.NewEngine(cfg.Location.StalenessLimit)
	for _, zc := range cfg.Geofence.Zones {
		geo.UpsertZone(geofence.Zone{
			ID:           zc.ID,
			Name:         zc.Name,
			Kind:         geofence.ZoneKind(zc.Kind),
			Center:       geofence.Coordinates{Lat: zc.Lat, Lon: zc.Lon},
			RadiusMeters: zc.RadiusMeters,
			Metadata:     zc.Metadata,
		})
	}
	if zones, err := db.ListZones(); err == nil {
		for _, z := range zones {
			geo.UpsertZone(z)
		}
	} else {
		log.Printf("guestcore: load persisted zones: %v", err)
	}
	log.Printf("guestcore: %d zone(s) loaded", len(geo.Zones()))

	// Inventory ledger, seeded from the persisted catalog.
	inv := inventory.NewLedger(clk)
	cats, items, err := db.LoadCatalog()
	if err != nil {
		log.Printf("guestcore: load catalog: %v", err)
	}
	inv.LoadCatalog(cats, items)
	log.Printf("guestcore: catalog loaded (%d items)", len(items))

	// Reservation ledger
	resv := reservation.NewLedger(clk, inv, reservation.WithHoldTTL(cfg.Booking.HoldTTL))

	// State authority + redis mirror
	authority := state.NewAuthority()
	defer authority.Close()
	if redisOK {
		cache := state.NewRedisCache(redisClient)
		detach := cache.Attach(authority)
		defer detach()
	}

	// Engine
	eng := engine.New(engine.Config{
		AppConfig:    cfg,
		Geo:          geo,
		Inventory:    inv,
		Reservations: resv,
		State:        authority,
		DB:           db,
		Clock:        clk,
	})
	eng.Start()
	defer eng.Stop()

	// Location feed (inbound samples from the device bridge)
	consumer := location.NewConsumer(&cfg.Location, eng)
	if err := consumer.Start(); err != nil {
		log.Printf("guestcore: location feed unavailable (%v), proximity features degraded", err)
	} else {
		defer consumer.Stop()
	}

	// Notification outbox drainer (outbound to downstream systems)
	publisher := notify.NewPublisher(&cfg.Notify)
	defer publisher.Close()
	drainer := notify.NewDrainer(db, publisher, cfg.Notify.DrainInterval)
	drainer.Start()
	defer drainer.Stop()

	// Web server
	handler := www.NewRouter(eng, db)
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		log.Printf("guestcore: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("guestcore: ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("guestcore: shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	log.Printf("guestcore: stopped")
}
