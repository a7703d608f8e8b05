package store

import (
	"database/sql"
	"time"

	"guestcore/inventory"
)

func (db *DB) UpsertCategory(c inventory.Category) error {
	var err error
	if db.driver == "postgres" {
		_, err = db.Exec(db.Q(`INSERT INTO categories (id, name) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name`), c.ID, c.Name)
	} else {
		_, err = db.Exec(`INSERT INTO categories (id, name) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET name=excluded.name`, c.ID, c.Name)
	}
	return err
}

func (db *DB) UpsertItem(it inventory.Item) error {
	var expiry any
	if it.ExpiryDate != nil {
		expiry = it.ExpiryDate.UTC().Format(time.RFC3339)
	}
	set := `category_id=excluded.category_id, name=excluded.name, price_cents=excluded.price_cents,
		stock=excluded.stock, max_stock=excluded.max_stock, min_stock=excluded.min_stock,
		unit=excluded.unit, room_chargeable=excluded.room_chargeable, expiry_date=excluded.expiry_date,
		is_active=excluded.is_active`
	q := `INSERT INTO items (id, category_id, name, price_cents, stock, max_stock, min_stock, unit, room_chargeable, expiry_date, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO UPDATE SET ` + set
	_, err := db.Exec(db.Q(q),
		it.ID, it.CategoryID, it.Name, it.PriceCents, it.Stock, it.MaxStock, it.MinStock,
		it.Unit, it.RoomChargeable, expiry, it.IsActive)
	return err
}

// LoadCatalog reads the persisted catalog for seeding the inventory ledger.
func (db *DB) LoadCatalog() ([]inventory.Category, []inventory.Item, error) {
	rows, err := db.Query(`SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	var cats []inventory.Category
	for rows.Next() {
		var c inventory.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			rows.Close()
			return nil, nil, err
		}
		cats = append(cats, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = db.Query(`SELECT id, category_id, name, price_cents, stock, max_stock, min_stock, unit, room_chargeable, expiry_date, is_active FROM items ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var items []inventory.Item
	for rows.Next() {
		var it inventory.Item
		var expiry sql.NullString
		if err := rows.Scan(&it.ID, &it.CategoryID, &it.Name, &it.PriceCents, &it.Stock,
			&it.MaxStock, &it.MinStock, &it.Unit, &it.RoomChargeable, &expiry, &it.IsActive); err != nil {
			return nil, nil, err
		}
		if expiry.Valid && expiry.String != "" {
			if t, err := time.Parse(time.RFC3339, expiry.String); err == nil {
				it.ExpiryDate = &t
			}
		}
		it.Available = it.Stock > 0
		items = append(items, it)
	}
	return cats, items, rows.Err()
}
