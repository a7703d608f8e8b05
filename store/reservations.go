package store

import (
	"database/sql"
	"time"

	"guestcore/reservation"
)

// SaveReservation upserts the reservation journal row. Journal writes are
// fire-and-forget from the ledger's point of view; in-memory state stays
// authoritative even if this fails.
func (db *DB) SaveReservation(r reservation.Reservation) error {
	var start, end any
	if !r.Window.Start.IsZero() {
		start = r.Window.Start.UTC().Format(time.RFC3339)
		end = r.Window.End.UTC().Format(time.RFC3339)
	}
	set := `resource_id=excluded.resource_id, kind=excluded.kind, holder_id=excluded.holder_id,
		window_start=excluded.window_start, window_end=excluded.window_end,
		quantity=excluded.quantity, state=excluded.state, updated_at=excluded.updated_at`
	q := `INSERT INTO reservations (id, resource_id, kind, holder_id, window_start, window_end, quantity, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO UPDATE SET ` + set
	_, err := db.Exec(db.Q(q),
		r.ID, r.ResourceID, string(r.Kind), r.HolderID, start, end, r.Quantity,
		string(r.State), r.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (db *DB) ListReservations(state string, limit int) ([]reservation.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if state != "" {
		rows, err = db.Query(db.Q(`SELECT id, resource_id, kind, holder_id, window_start, window_end, quantity, state, updated_at
			FROM reservations WHERE state=? ORDER BY updated_at DESC LIMIT ?`), state, limit)
	} else {
		rows, err = db.Query(db.Q(`SELECT id, resource_id, kind, holder_id, window_start, window_end, quantity, state, updated_at
			FROM reservations ORDER BY updated_at DESC LIMIT ?`), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reservation.Reservation
	for rows.Next() {
		var r reservation.Reservation
		var kind, st, updated string
		var start, end sql.NullString
		if err := rows.Scan(&r.ID, &r.ResourceID, &kind, &r.HolderID, &start, &end, &r.Quantity, &st, &updated); err != nil {
			return nil, err
		}
		r.Kind = reservation.ResourceKind(kind)
		r.State = reservation.State(st)
		if start.Valid {
			r.Window.Start, _ = time.Parse(time.RFC3339, start.String)
		}
		if end.Valid {
			r.Window.End, _ = time.Parse(time.RFC3339, end.String)
		}
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}
