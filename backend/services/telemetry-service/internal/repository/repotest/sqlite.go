// Package repotest provides an in-memory SQLite store mirroring the Postgres schema for tests.
package repotest

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// Schema mirrors internal/db/migrations for SQLite.
const Schema = `
CREATE TABLE IF NOT EXISTS devices (
  device_id  TEXT PRIMARY KEY,
  name       TEXT,
  location   TEXT,
  status     TEXT,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS readings (
  device_id       TEXT NOT NULL REFERENCES devices(device_id),
  timestamp       TIMESTAMP NOT NULL,
  volume_m3       DOUBLE PRECISION NOT NULL,
  battery_percent DOUBLE PRECISION NOT NULL,
  leak_flag       BOOLEAN NOT NULL DEFAULT FALSE,
  tamper_flag     BOOLEAN NOT NULL DEFAULT FALSE,
  UNIQUE (device_id, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_readings_device_ts ON readings(device_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS sync_cursors (
  device_id      TEXT PRIMARY KEY REFERENCES devices(device_id),
  synced_through TIMESTAMP NOT NULL,
  updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// NewDB opens a private in-memory database with the schema applied.
// The pool is pinned to one connection so every query sees the same database.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			t.Fatalf("close db: %v", closeErr)
		}
		t.Fatalf("exec schema: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	return db
}

// CountReadings returns the number of stored readings for a device.
func CountReadings(t *testing.T, db *sql.DB, deviceID string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM readings WHERE device_id = $1`, deviceID).Scan(&n); err != nil {
		t.Fatalf("count readings: %v", err)
	}
	return n
}

// CountDevices returns the number of rows in devices matching id.
func CountDevices(t *testing.T, db *sql.DB, deviceID string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM devices WHERE device_id = $1`, deviceID).Scan(&n); err != nil {
		t.Fatalf("count devices: %v", err)
	}
	return n
}
