// Package collector owns the bounded per-metric ring buffers and the
// running session counters. It is the single mutation point between
// the ingestion sources and every reader: all per-event appends happen
// under one mutex, and readers only ever see immutable snapshots.
package collector

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorlab/sensorbench/internal/models"
	"github.com/sensorlab/sensorbench/internal/stats"
)

// latencyEmaAlpha is the smoothing factor for the running latency EMA.
const latencyEmaAlpha = 0.1

// Message intervals outside (0, maxIntervalMs) are treated as gaps or
// clock noise and excluded from the interval series.
const maxIntervalMs = 5000.0

// SessionStats are the running counters for one monitoring or test
// session. Counters are monotonic; the data-loss counter follows the
// decode-failure-only accounting of the device tooling (sequence gaps
// are not inspected).
type SessionStats struct {
	TotalMessages   int64
	DecodeErrors    int64
	DataLoss        int64
	AvgLatencyEmaMs float64
	ConnectionState models.ConnectionState
	LastMessageAt   time.Time
}

// Snapshot is an immutable point-in-time copy of the collector state.
type Snapshot struct {
	Timestamps  []time.Time
	AccelX      []float64
	AccelY      []float64
	AccelZ      []float64
	GyroX       []float64
	GyroY       []float64
	GyroZ       []float64
	Pressure    []float64
	Temperature []float64
	Humidity    []float64
	LatencyMs   []float64
	CPUUsage    []float64
	FreeHeap    []float64
	IntervalMs  []float64
	Stats       SessionStats
}

// Collector accumulates telemetry into fixed-capacity ring buffers.
// Push methods are called from the ingestion goroutine; Snapshot may
// be called concurrently from any number of readers.
type Collector struct {
	mu sync.Mutex

	timestamps  *RingBuffer[time.Time]
	accelX      *RingBuffer[float64]
	accelY      *RingBuffer[float64]
	accelZ      *RingBuffer[float64]
	gyroX       *RingBuffer[float64]
	gyroY       *RingBuffer[float64]
	gyroZ       *RingBuffer[float64]
	pressure    *RingBuffer[float64]
	temperature *RingBuffer[float64]
	humidity    *RingBuffer[float64]
	latencyMs   *RingBuffer[float64]
	cpuUsage    *RingBuffer[float64]
	freeHeap    *RingBuffer[float64]
	intervalMs  *RingBuffer[float64]

	stats       SessionStats
	lastArrival time.Time

	logger zerolog.Logger
}

// New creates a collector whose series each retain at most capacity
// samples.
func New(capacity int, logger zerolog.Logger) *Collector {
	return &Collector{
		timestamps:  NewRingBuffer[time.Time](capacity),
		accelX:      NewRingBuffer[float64](capacity),
		accelY:      NewRingBuffer[float64](capacity),
		accelZ:      NewRingBuffer[float64](capacity),
		gyroX:       NewRingBuffer[float64](capacity),
		gyroY:       NewRingBuffer[float64](capacity),
		gyroZ:       NewRingBuffer[float64](capacity),
		pressure:    NewRingBuffer[float64](capacity),
		temperature: NewRingBuffer[float64](capacity),
		humidity:    NewRingBuffer[float64](capacity),
		latencyMs:   NewRingBuffer[float64](capacity),
		cpuUsage:    NewRingBuffer[float64](capacity),
		freeHeap:    NewRingBuffer[float64](capacity),
		intervalMs:  NewRingBuffer[float64](capacity),
		stats:       SessionStats{ConnectionState: models.StateDisconnected},
		logger:      logger,
	}
}

// Push appends all scalar series derived from one arrival as a single
// atomic group. Series for fields absent from the event are left
// untouched so their windows stay meaningful.
func (c *Collector) Push(a models.ArrivalEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalMessages++
	c.stats.LastMessageAt = a.ReceivedAt
	c.timestamps.Append(a.ReceivedAt)

	if s := a.Event.Sensor; s != nil {
		c.accelX.Append(s.AccelX)
		c.accelY.Append(s.AccelY)
		c.accelZ.Append(s.AccelZ)
		c.gyroX.Append(s.GyroX)
		c.gyroY.Append(s.GyroY)
		c.gyroZ.Append(s.GyroZ)
		c.pressure.Append(s.Pressure)
		c.temperature.Append(s.Temperature)
		c.humidity.Append(s.Humidity)
	}

	if a.Event.CPUUsage != nil {
		c.cpuUsage.Append(*a.Event.CPUUsage)
	}
	if a.Event.FreeHeap != nil {
		c.freeHeap.Append(float64(*a.Event.FreeHeap))
	}

	// Out-of-range latencies are dropped silently; they are clock
	// noise, not decode failures.
	if latency, ok := a.LatencyMs(); ok {
		c.latencyMs.Append(latency)
		c.stats.AvgLatencyEmaMs = stats.Ema(c.stats.AvgLatencyEmaMs, latency, latencyEmaAlpha)
	}

	if !c.lastArrival.IsZero() {
		interval := float64(a.ReceivedAt.Sub(c.lastArrival).Milliseconds())
		if interval > 0 && interval < maxIntervalMs {
			c.intervalMs.Append(interval)
		}
	}
	c.lastArrival = a.ReceivedAt
}

// PushDecodeError counts a malformed payload without touching any
// scalar series.
func (c *Collector) PushDecodeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.DecodeErrors++
	c.stats.DataLoss++
	c.logger.Debug().Err(err).Msg("Telemetry decode failure")
}

// PushLatency records a latency sample in milliseconds reported on the
// debug stream.
func (c *Collector) PushLatency(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latencyMs.Append(ms)
	c.stats.AvgLatencyEmaMs = stats.Ema(c.stats.AvgLatencyEmaMs, ms, latencyEmaAlpha)
}

// PushCPU records a CPU usage sample in percent.
func (c *Collector) PushCPU(pct float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cpuUsage.Append(pct)
}

// PushMemory records a free-heap sample in bytes.
func (c *Collector) PushMemory(bytes float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.freeHeap.Append(bytes)
}

// SetConnectionState records a transport state transition.
func (c *Collector) SetConnectionState(state models.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.ConnectionState = state
}

// Snapshot returns a deep copy of all series and counters. The copy is
// taken under the same mutex as Push, so a snapshot never observes a
// partially appended event.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Timestamps:  c.timestamps.Values(),
		AccelX:      c.accelX.Values(),
		AccelY:      c.accelY.Values(),
		AccelZ:      c.accelZ.Values(),
		GyroX:       c.gyroX.Values(),
		GyroY:       c.gyroY.Values(),
		GyroZ:       c.gyroZ.Values(),
		Pressure:    c.pressure.Values(),
		Temperature: c.temperature.Values(),
		Humidity:    c.humidity.Values(),
		LatencyMs:   c.latencyMs.Values(),
		CPUUsage:    c.cpuUsage.Values(),
		FreeHeap:    c.freeHeap.Values(),
		IntervalMs:  c.intervalMs.Values(),
		Stats:       c.stats,
	}
}
