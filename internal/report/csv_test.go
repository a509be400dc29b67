package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sensorlab/sensorbench/internal/models"
	"github.com/stretchr/testify/assert"
)

func readAllRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	assert.NoError(t, err)
	return rows
}

func TestCSVLogger_WritesHeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	logger, err := NewCSVLogger(path)
	assert.NoError(t, err)

	received := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	cpu := 42.5
	heap := int64(31000)

	assert.NoError(t, logger.Append(models.ArrivalEvent{
		Event: models.TelemetryEvent{
			Sequence:     7,
			SystemStatus: "RUNNING",
			CPUUsage:     &cpu,
			FreeHeap:     &heap,
			Sensor: &models.SensorData{
				AccelX: 0.1, AccelY: 0.2, AccelZ: 9.8,
				Pressure: 1013.25, Temperature: 22.5, Humidity: 45,
				DataValid: true,
			},
		},
		ReceivedAt: received,
	}))
	assert.NoError(t, logger.Close())

	rows := readAllRows(t, path)
	assert.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])

	row := rows[1]
	assert.Len(t, row, len(csvHeader))
	assert.Equal(t, "2026-08-26T10:00:00Z", row[0])
	assert.Equal(t, "7", row[1])
	assert.Equal(t, "RUNNING", row[2])
	assert.Equal(t, "42.5", row[3])
	assert.Equal(t, "31000", row[4])
	assert.Equal(t, "9.8", row[7])
	assert.Equal(t, "1013.25", row[11])
	assert.Equal(t, "true", row[14])
}

// Status-only events keep the column shape with empty sensor cells.
func TestCSVLogger_StatusOnlyRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	logger, err := NewCSVLogger(path)
	assert.NoError(t, err)

	assert.NoError(t, logger.Append(models.ArrivalEvent{
		Event:      models.TelemetryEvent{Sequence: 1, SystemStatus: "IDLE"},
		ReceivedAt: time.Now(),
	}))
	assert.NoError(t, logger.Close())

	rows := readAllRows(t, path)
	row := rows[1]
	assert.Len(t, row, len(csvHeader))
	assert.Equal(t, "IDLE", row[2])
	for i := 3; i < len(row); i++ {
		assert.Empty(t, row[i])
	}
}

// Rows written before an interruption must already be on disk: the
// logger flushes per row, so the file is complete without Close.
func TestCSVLogger_FlushesPerRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	logger, err := NewCSVLogger(path)
	assert.NoError(t, err)
	defer logger.Close()

	assert.NoError(t, logger.Append(models.ArrivalEvent{ReceivedAt: time.Now()}))
	assert.NoError(t, logger.Append(models.ArrivalEvent{ReceivedAt: time.Now()}))

	rows := readAllRows(t, path)
	assert.Len(t, rows, 3)
}

func TestCSVLogger_CloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")
	logger, err := NewCSVLogger(path)
	assert.NoError(t, err)

	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
	assert.Error(t, logger.Append(models.ArrivalEvent{ReceivedAt: time.Now()}))
}
