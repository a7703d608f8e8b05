package store

import (
	"time"

	"guestcore/inventory"
)

// OutboxRecord is a pending outbound notification.
type OutboxRecord struct {
	ID      int64
	Topic   string
	Kind    string
	Payload []byte
}

func (db *DB) EnqueueOutbox(topic, kind string, payload []byte) error {
	_, err := db.Exec(db.Q(`INSERT INTO outbox (topic, kind, payload) VALUES (?, ?, ?)`),
		topic, kind, payload)
	return err
}

func (db *DB) ListPendingOutbox(limit int) ([]OutboxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(db.Q(`SELECT id, topic, kind, payload FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Kind, &rec.Payload); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (db *DB) MarkOutboxSent(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE outbox SET sent_at=datetime('now') WHERE id=?`), id)
	return err
}

func (db *DB) AppendAlert(a inventory.Alert) error {
	_, err := db.Exec(db.Q(`INSERT INTO alert_log (item_id, kind, raised_at) VALUES (?, ?, ?)`),
		a.ItemID, string(a.Kind), a.RaisedAt.UTC().Format(time.RFC3339))
	return err
}

// AlertEntry is one persisted alert-log row.
type AlertEntry struct {
	ID       int64  `json:"id"`
	ItemID   string `json:"item_id"`
	Kind     string `json:"kind"`
	RaisedAt string `json:"raised_at"`
}

func (db *DB) ListAlertLog(limit int) ([]AlertEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(db.Q(`SELECT id, item_id, kind, raised_at FROM alert_log ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AlertEntry
	for rows.Next() {
		var e AlertEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Kind, &e.RaisedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
