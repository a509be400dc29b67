package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorlab/sensorbench/internal/collector"
	"github.com/sensorlab/sensorbench/internal/models"
	"github.com/sensorlab/sensorbench/internal/stats"
	"github.com/stretchr/testify/assert"
)

// shortConfig compresses the phase timings so a full run finishes in
// well under a second.
func shortConfig() Config {
	return Config{
		TotalDuration:      120 * time.Millisecond,
		Settle:             5 * time.Millisecond,
		LatencyDuration:    40 * time.Millisecond,
		ThroughputDuration: 40 * time.Millisecond,
		StabilityEntry:     100 * time.Millisecond,
		StabilityCadence:   10 * time.Millisecond,
		SampleInterval:     5 * time.Millisecond,
	}
}

func feedEvents(ctx context.Context, col *collector.Collector, interval time.Duration) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				ts := now.UnixMilli() - 20
				heap := int64(32000)
				col.Push(models.ArrivalEvent{
					Event:      models.TelemetryEvent{TimestampMs: &ts, FreeHeap: &heap},
					ReceivedAt: now,
				})
			case <-ctx.Done():
				return
			}
		}
	}()
	return &wg
}

func TestController_FullRun(t *testing.T) {
	col := collector.New(100, zerolog.Nop())
	feedCtx, stopFeed := context.WithCancel(context.Background())
	wg := feedEvents(feedCtx, col, 5*time.Millisecond)

	ctrl := New(shortConfig(), stats.DefaultThresholds(), col, zerolog.Nop())
	results := ctrl.Run(context.Background())

	stopFeed()
	wg.Wait()

	assert.Equal(t, StateIdle, ctrl.State())
	assert.Len(t, results, 4)
	assert.Equal(t, "latency", results[0].Phase)
	assert.Equal(t, "throughput", results[1].Phase)
	assert.Equal(t, "stability", results[2].Phase)
	assert.Equal(t, "power", results[3].Phase)

	for _, r := range results {
		assert.True(t, r.Completed, "phase %s should complete", r.Phase)
	}

	// Events arrive every 5ms with ~20ms latency: an excellent verdict.
	assert.Equal(t, models.VerdictExcellent, results[0].Verdict)
	assert.Greater(t, results[0].Samples, 0)
	assert.Contains(t, results[0].Summary, "avg=")

	assert.Greater(t, results[1].Samples, 0)
	assert.Equal(t, models.VerdictSimulated, results[3].Verdict)
	assert.Contains(t, results[3].Summary, "simulated")
}

func TestController_SkipsStabilityOnShortRun(t *testing.T) {
	cfg := shortConfig()
	cfg.TotalDuration = 90 * time.Millisecond // below the stability entry point

	col := collector.New(100, zerolog.Nop())
	ctrl := New(cfg, stats.DefaultThresholds(), col, zerolog.Nop())
	results := ctrl.Run(context.Background())

	phases := make([]string, 0, len(results))
	for _, r := range results {
		phases = append(phases, r.Phase)
	}
	assert.Equal(t, []string{"latency", "throughput", "power"}, phases)
}

// TestController_CancellationShortCircuits: cancelling mid-stability
// keeps the finished phases, marks the interrupted one and skips power.
func TestController_CancellationShortCircuits(t *testing.T) {
	cfg := shortConfig()
	cfg.TotalDuration = 10 * time.Second // stability would run ~10s

	col := collector.New(100, zerolog.Nop())
	feedCtx, stopFeed := context.WithCancel(context.Background())
	wg := feedEvents(feedCtx, col, 5*time.Millisecond)
	defer func() {
		stopFeed()
		wg.Wait()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	ctrl := New(cfg, stats.DefaultThresholds(), col, zerolog.Nop())

	go func() {
		for ctrl.State() != StateStability {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results := ctrl.Run(ctx)

	assert.Equal(t, StateIdle, ctrl.State())
	assert.Len(t, results, 3)
	assert.Equal(t, "latency", results[0].Phase)
	assert.True(t, results[0].Completed)
	assert.True(t, results[1].Completed)
	assert.Equal(t, "stability", results[2].Phase)
	assert.False(t, results[2].Completed)
}

// TestController_CancelledBeforeStart still produces a result set: the
// empty one. The reporting path must tolerate it.
func TestController_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	col := collector.New(100, zerolog.Nop())
	ctrl := New(shortConfig(), stats.DefaultThresholds(), col, zerolog.Nop())
	results := ctrl.Run(ctx)

	assert.Empty(t, results)
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestController_NoTrafficLatencyVerdict(t *testing.T) {
	col := collector.New(100, zerolog.Nop())
	ctrl := New(shortConfig(), stats.DefaultThresholds(), col, zerolog.Nop())
	results := ctrl.Run(context.Background())

	assert.Equal(t, "latency", results[0].Phase)
	assert.Equal(t, models.VerdictDegraded, results[0].Verdict)
	assert.Equal(t, "no latency samples received", results[0].Summary)
	assert.Zero(t, results[0].Samples)
}
