package models

import (
	"fmt"
	"time"
)

// ConnectionState represents the state of the ingestion transport.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "Disconnected"
	StateConnecting   ConnectionState = "Connecting"
	StateConnected    ConnectionState = "Connected"
	StateFailed       ConnectionState = "Failed"
)

// SensorData holds one IMU/environment sample reported by the device.
type SensorData struct {
	AccelX      float64 `json:"accel_x"`
	AccelY      float64 `json:"accel_y"`
	AccelZ      float64 `json:"accel_z"`
	GyroX       float64 `json:"gyro_x"`
	GyroY       float64 `json:"gyro_y"`
	GyroZ       float64 `json:"gyro_z"`
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	DataValid   bool    `json:"data_valid"`
}

// TelemetryEvent is one decoded device status record. All fields are
// optional on the wire; pointer fields track presence where it matters
// for downstream statistics (latency derivation, CPU and heap series).
// A record with no sensor_data block is a valid status-only message.
type TelemetryEvent struct {
	Sequence     int64       `json:"sequence"`
	TimestampMs  *int64      `json:"timestamp,omitempty"`
	SystemStatus string      `json:"system_status"`
	CPUUsage     *float64    `json:"cpu_usage,omitempty"`
	FreeHeap     *int64      `json:"free_heap,omitempty"`
	Sensor       *SensorData `json:"sensor_data,omitempty"`
}

// MaxLatencyMs bounds plausible device-to-host latency. Values outside
// [0, MaxLatencyMs] are treated as clock noise and excluded from the
// latency series without being counted as errors.
const MaxLatencyMs = 10000.0

// ArrivalEvent pairs a telemetry event with its local receipt time.
type ArrivalEvent struct {
	Event      TelemetryEvent
	ReceivedAt time.Time
}

// LatencyMs derives the device-to-host latency in milliseconds. The
// second return is false when the event carries no device timestamp or
// the derived value falls outside the plausible range.
func (a ArrivalEvent) LatencyMs() (float64, bool) {
	if a.Event.TimestampMs == nil {
		return 0, false
	}
	latency := float64(a.ReceivedAt.UnixMilli() - *a.Event.TimestampMs)
	if latency < 0 || latency > MaxLatencyMs {
		return 0, false
	}
	return latency, true
}

// DecodeError reports a malformed payload or debug line. Decode
// failures are counted and never terminate ingestion.
type DecodeError struct {
	Source string // "mqtt" or "serial"
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
