package store

import (
	"encoding/json"

	"guestcore/geofence"
)

func (db *DB) SaveZone(z geofence.Zone) error {
	meta, err := json.Marshal(z.Metadata)
	if err != nil {
		return err
	}
	if db.driver == "postgres" {
		_, err = db.Exec(db.Q(`INSERT INTO zones (id, name, kind, lat, lon, radius_meters, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, kind=EXCLUDED.kind, lat=EXCLUDED.lat, lon=EXCLUDED.lon, radius_meters=EXCLUDED.radius_meters, metadata=EXCLUDED.metadata`),
			z.ID, z.Name, string(z.Kind), z.Center.Lat, z.Center.Lon, z.RadiusMeters, string(meta))
		return err
	}
	_, err = db.Exec(`INSERT INTO zones (id, name, kind, lat, lon, radius_meters, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name=excluded.name, kind=excluded.kind, lat=excluded.lat, lon=excluded.lon, radius_meters=excluded.radius_meters, metadata=excluded.metadata`,
		z.ID, z.Name, string(z.Kind), z.Center.Lat, z.Center.Lon, z.RadiusMeters, string(meta))
	return err
}

func (db *DB) DeleteZone(id string) error {
	_, err := db.Exec(db.Q(`DELETE FROM zones WHERE id=?`), id)
	return err
}

func (db *DB) ListZones() ([]geofence.Zone, error) {
	rows, err := db.Query(`SELECT id, name, kind, lat, lon, radius_meters, metadata FROM zones ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []geofence.Zone
	for rows.Next() {
		var z geofence.Zone
		var kind, meta string
		if err := rows.Scan(&z.ID, &z.Name, &kind, &z.Center.Lat, &z.Center.Lon, &z.RadiusMeters, &meta); err != nil {
			return nil, err
		}
		z.Kind = geofence.ZoneKind(kind)
		if meta != "" && meta != "{}" {
			json.Unmarshal([]byte(meta), &z.Metadata)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}
