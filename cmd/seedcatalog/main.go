// seedcatalog loads a YAML catalog file into the guestcore database so the
// inventory ledger has something to serve on next startup.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"guestcore/config"
	"guestcore/inventory"
	"guestcore/store"
)

type catalogFile struct {
	Categories []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"categories"`
	Items []struct {
		ID             string `yaml:"id"`
		CategoryID     string `yaml:"category_id"`
		Name           string `yaml:"name"`
		PriceCents     int64  `yaml:"price_cents"`
		Stock          int    `yaml:"stock"`
		MaxStock       int    `yaml:"max_stock"`
		MinStock       int    `yaml:"min_stock"`
		Unit           string `yaml:"unit"`
		RoomChargeable bool   `yaml:"room_chargeable"`
		ExpiryDate     string `yaml:"expiry_date"` // RFC3339, optional
	} `yaml:"items"`
}

func main() {
	configPath := flag.String("config", "guestcore.yaml", "path to config file")
	catalogPath := flag.String("catalog", "", "path to catalog yaml (defaults to booking.catalog_path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	path := *catalogPath
	if path == "" {
		path = cfg.Booking.CatalogPath
	}
	if path == "" {
		log.Fatalf("no catalog path: pass -catalog or set booking.catalog_path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read catalog: %v", err)
	}
	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		log.Fatalf("parse catalog: %v", err)
	}

	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	for _, c := range cat.Categories {
		if err := db.UpsertCategory(inventory.Category{ID: c.ID, Name: c.Name}); err != nil {
			log.Fatalf("upsert category %s: %v", c.ID, err)
		}
	}
	for _, it := range cat.Items {
		item := inventory.Item{
			ID:             it.ID,
			CategoryID:     it.CategoryID,
			Name:           it.Name,
			PriceCents:     it.PriceCents,
			Stock:          it.Stock,
			MaxStock:       it.MaxStock,
			MinStock:       it.MinStock,
			Unit:           it.Unit,
			RoomChargeable: it.RoomChargeable,
			IsActive:       true,
		}
		if it.ExpiryDate != "" {
			t, err := time.Parse(time.RFC3339, it.ExpiryDate)
			if err != nil {
				log.Fatalf("item %s: bad expiry_date: %v", it.ID, err)
			}
			item.ExpiryDate = &t
		}
		if err := db.UpsertItem(item); err != nil {
			log.Fatalf("upsert item %s: %v", it.ID, err)
		}
	}

	log.Printf("seedcatalog: loaded %d categories, %d items from %s",
		len(cat.Categories), len(cat.Items), path)
}
