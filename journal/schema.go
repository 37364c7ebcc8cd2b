package journal

const Schema = `
CREATE TABLE IF NOT EXISTS order_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	order_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	kind TEXT NOT NULL,
	state TEXT NOT NULL,
	priority TEXT NOT NULL,
	volume REAL NOT NULL,
	price REAL NOT NULL,
	retries INTEGER NOT NULL,
	owner TEXT NOT NULL,
	message TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id);

CREATE TABLE IF NOT EXISTS position_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	position_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	volume REAL NOT NULL,
	open_price REAL NOT NULL,
	price REAL NOT NULL,
	pnl REAL NOT NULL,
	state TEXT NOT NULL,
	owner TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS regime_changes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	from_regime TEXT NOT NULL,
	to_regime TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	margin REAL NOT NULL,
	free_margin REAL NOT NULL,
	margin_level REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);

CREATE TABLE IF NOT EXISTS peaks (
	account TEXT PRIMARY KEY,
	peak REAL NOT NULL,
	updated DATETIME NOT NULL
);
`
