package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS zones (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	radius_meters REAL NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS categories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	category_id TEXT NOT NULL,
	name TEXT NOT NULL,
	price_cents INTEGER NOT NULL DEFAULT 0,
	stock INTEGER NOT NULL DEFAULT 0,
	max_stock INTEGER NOT NULL DEFAULT 0,
	min_stock INTEGER NOT NULL DEFAULT 0,
	unit TEXT NOT NULL DEFAULT '',
	room_chargeable INTEGER NOT NULL DEFAULT 0,
	expiry_date TEXT,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS reservations (
	id TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	holder_id TEXT NOT NULL,
	window_start TEXT,
	window_end TEXT,
	quantity INTEGER NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS alert_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	item_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	raised_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload BLOB NOT NULL,
	created_at TEXT NOT NULL DEFAULT (datetime('now')),
	sent_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (sent_at) WHERE sent_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_reservations_state ON reservations (state);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS zones (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL,
	radius_meters DOUBLE PRECISION NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS categories (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	category_id TEXT NOT NULL,
	name TEXT NOT NULL,
	price_cents BIGINT NOT NULL DEFAULT 0,
	stock INTEGER NOT NULL DEFAULT 0,
	max_stock INTEGER NOT NULL DEFAULT 0,
	min_stock INTEGER NOT NULL DEFAULT 0,
	unit TEXT NOT NULL DEFAULT '',
	room_chargeable BOOLEAN NOT NULL DEFAULT FALSE,
	expiry_date TEXT,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS reservations (
	id TEXT PRIMARY KEY,
	resource_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	holder_id TEXT NOT NULL,
	window_start TEXT,
	window_end TEXT,
	quantity INTEGER NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alert_log (
	id BIGSERIAL PRIMARY KEY,
	item_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	raised_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox (
	id BIGSERIAL PRIMARY KEY,
	topic TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	sent_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (sent_at) WHERE sent_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_reservations_state ON reservations (state);
`
