package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sensorlab/sensorbench/internal/models"
)

// csvHeader is the fixed column schema. Fields absent from an event
// are written as empty cells so every row has the same shape.
var csvHeader = []string{
	"timestamp", "sequence", "system_status", "cpu_usage", "free_heap",
	"accel_x", "accel_y", "accel_z",
	"gyro_x", "gyro_y", "gyro_z",
	"pressure", "temperature", "humidity",
	"data_valid",
}

// CSVLogger appends one row per received event. Every row is flushed
// immediately: a session cut short by cancellation must lose nothing
// on disk.
type CSVLogger struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	closed bool
}

// NewCSVLogger creates the file and writes the header row.
func NewCSVLogger(path string) (*CSVLogger, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV log: %w", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		file.Close()
		return nil, err
	}

	return &CSVLogger{file: file, writer: writer}, nil
}

// Append writes and flushes one event row.
func (l *CSVLogger) Append(a models.ArrivalEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("csv logger is closed")
	}

	if err := l.writer.Write(eventRow(a)); err != nil {
		return err
	}
	l.writer.Flush()
	return l.writer.Error()
}

// Close flushes and closes the file. Idempotent.
func (l *CSVLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	l.writer.Flush()
	flushErr := l.writer.Error()
	closeErr := l.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func eventRow(a models.ArrivalEvent) []string {
	row := make([]string, 0, len(csvHeader))
	row = append(row,
		a.ReceivedAt.UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(a.Event.Sequence, 10),
		a.Event.SystemStatus,
		formatOptFloat(a.Event.CPUUsage),
		formatOptInt(a.Event.FreeHeap),
	)

	if s := a.Event.Sensor; s != nil {
		row = append(row,
			formatFloat(s.AccelX), formatFloat(s.AccelY), formatFloat(s.AccelZ),
			formatFloat(s.GyroX), formatFloat(s.GyroY), formatFloat(s.GyroZ),
			formatFloat(s.Pressure), formatFloat(s.Temperature), formatFloat(s.Humidity),
			strconv.FormatBool(s.DataValid),
		)
	} else {
		row = append(row, "", "", "", "", "", "", "", "", "", "")
	}

	return row
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatOptInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
