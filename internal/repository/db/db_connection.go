package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens/creates a SQLite DB file and ensures tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// Conservative pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is not great with many writers
	db.SetMaxIdleConns(1)

	// Pragmas to improve reliability
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set PRAGMA journal_mode=WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set PRAGMA foreign_keys=ON: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set PRAGMA busy_timeout=5000: %w", err)
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Fail fast if the DB cannot be reached
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return db, nil
}

const sqliteDriverName = "sqlite"

const schemaMeterState = `
CREATE TABLE IF NOT EXISTS meter_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    measurement TEXT NOT NULL,
    quality TEXT NOT NULL,
    safety TEXT NOT NULL,
    auto_trading BOOLEAN NOT NULL,
    daily_bought_kwh TEXT NOT NULL,
    daily_sold_kwh TEXT NOT NULL,
    daily_revenue TEXT NOT NULL,
    pending_buy INTEGER NOT NULL,
    pending_sell INTEGER NOT NULL,
    conn TEXT NOT NULL,
    consecutive_errors INTEGER NOT NULL,
    last_sync_at TIMESTAMP,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaMeterReadings = `
CREATE TABLE IF NOT EXISTS meter_readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    voltage REAL NOT NULL,
    current REAL NOT NULL,
    power REAL NOT NULL,
    energy REAL NOT NULL,
    energy_produced REAL NOT NULL,
    energy_consumed REAL NOT NULL,
    power_factor REAL NOT NULL,
    frequency REAL NOT NULL,
    thd_voltage REAL NOT NULL,
    thd_current REAL NOT NULL,
    voltage_stability REAL NOT NULL,
    temperature REAL NOT NULL,
    humidity REAL NOT NULL,
    quality_score REAL NOT NULL,
    data_valid BOOLEAN NOT NULL
);
`

const schemaEnergyOrders = `
CREATE TABLE IF NOT EXISTS energy_orders (
    id TEXT PRIMARY KEY,
    server_id TEXT,
    side TEXT NOT NULL,
    amount_kwh TEXT NOT NULL,
    price_per_kwh TEXT NOT NULL,
    energy_source TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL
);
`

const schemaMeterEvents = `
CREATE TABLE IF NOT EXISTS meter_events (
    id TEXT PRIMARY KEY,
    occurred_at TIMESTAMP NOT NULL,
    type TEXT NOT NULL,
    message TEXT NOT NULL,
    meta TEXT
);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL
);
`

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		// In case of panic, rollback to avoid leaving an open transaction
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaMeterState,
		schemaMeterReadings,
		schemaEnergyOrders,
		schemaMeterEvents,
		schemaUsers,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
