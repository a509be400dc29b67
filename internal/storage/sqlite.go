// Package storage provides the optional SQLite archive of received
// telemetry events, useful for offline analysis of long sessions that
// outlive the in-memory ring buffers.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sensorlab/sensorbench/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS telemetry (
    received_at   INTEGER NOT NULL,
    sequence      INTEGER,
    system_status TEXT,
    cpu_usage     REAL,
    free_heap     INTEGER,
    accel_x       REAL,
    accel_y       REAL,
    accel_z       REAL,
    gyro_x        REAL,
    gyro_y        REAL,
    gyro_z        REAL,
    pressure      REAL,
    temperature   REAL,
    humidity      REAL,
    data_valid    INTEGER
)`

// SQLiteArchive stores one row per received event.
type SQLiteArchive struct {
	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteArchive opens (creating if needed) the archive at path and
// ensures the schema exists.
func NewSQLiteArchive(path string) (*SQLiteArchive, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry archive: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	return &SQLiteArchive{db: db}, nil
}

// Append inserts one event row.
func (a *SQLiteArchive) Append(arrival models.ArrivalEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ev := arrival.Event

	var cpu, accelX, accelY, accelZ, gyroX, gyroY, gyroZ, pressure, temperature, humidity any
	var freeHeap, dataValid any

	if ev.CPUUsage != nil {
		cpu = *ev.CPUUsage
	}
	if ev.FreeHeap != nil {
		freeHeap = *ev.FreeHeap
	}
	if s := ev.Sensor; s != nil {
		accelX, accelY, accelZ = s.AccelX, s.AccelY, s.AccelZ
		gyroX, gyroY, gyroZ = s.GyroX, s.GyroY, s.GyroZ
		pressure, temperature, humidity = s.Pressure, s.Temperature, s.Humidity
		dataValid = boolToInt(s.DataValid)
	}

	_, err := a.db.Exec(`
        INSERT INTO telemetry (
            received_at, sequence, system_status, cpu_usage, free_heap,
            accel_x, accel_y, accel_z, gyro_x, gyro_y, gyro_z,
            pressure, temperature, humidity, data_valid
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		arrival.ReceivedAt.UnixMilli(), ev.Sequence, ev.SystemStatus, cpu, freeHeap,
		accelX, accelY, accelZ, gyroX, gyroY, gyroZ,
		pressure, temperature, humidity, dataValid,
	)
	if err != nil {
		return fmt.Errorf("failed to archive telemetry row: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (a *SQLiteArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
