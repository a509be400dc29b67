// Package report renders the final session artifacts: the plain-text
// performance report, a console session summary, and the per-event
// CSV log. Rendering is a pure function of its inputs so identical
// snapshots always produce identical text.
package report

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sensorlab/sensorbench/internal/collector"
	"github.com/sensorlab/sensorbench/internal/models"
	"github.com/sensorlab/sensorbench/internal/stats"
	"github.com/sensorlab/sensorbench/internal/utils"
)

const headerRule = "=================================================="

// Render builds the structured text report from a final collector
// snapshot and the phase verdicts. Sections whose source series is
// empty are omitted entirely.
func Render(snap collector.Snapshot, results []models.PhaseResult, startedAt, endedAt time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Sensor Telemetry Performance Report\n")
	fmt.Fprintf(&b, "%s\n", headerRule)
	fmt.Fprintf(&b, "Generated: %s\n", endedAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Session duration: %.1f seconds\n\n", endedAt.Sub(startedAt).Seconds())

	if len(snap.LatencyMs) > 0 {
		fmt.Fprintf(&b, "Latency:\n")
		fmt.Fprintf(&b, "  Average latency: %.2f ms\n", stats.Mean(snap.LatencyMs))
		fmt.Fprintf(&b, "  Maximum latency: %.2f ms\n", stats.Max(snap.LatencyMs))
		fmt.Fprintf(&b, "  Minimum latency: %.2f ms\n", stats.Min(snap.LatencyMs))
		fmt.Fprintf(&b, "  P95 latency: %.2f ms\n\n", stats.Percentile(snap.LatencyMs, 95))
	}

	if len(snap.CPUUsage) > 0 {
		fmt.Fprintf(&b, "CPU:\n")
		fmt.Fprintf(&b, "  Average CPU usage: %.1f%%\n", stats.Mean(snap.CPUUsage))
		fmt.Fprintf(&b, "  Maximum CPU usage: %.1f%%\n", stats.Max(snap.CPUUsage))
		fmt.Fprintf(&b, "  Minimum CPU usage: %.1f%%\n\n", stats.Min(snap.CPUUsage))
	}

	if len(snap.FreeHeap) > 0 {
		fmt.Fprintf(&b, "Memory:\n")
		fmt.Fprintf(&b, "  Average free heap: %.0f bytes\n", stats.Mean(snap.FreeHeap))
		fmt.Fprintf(&b, "  Minimum free heap: %.0f bytes\n", stats.Min(snap.FreeHeap))
		fmt.Fprintf(&b, "  Maximum free heap: %.0f bytes\n\n", stats.Max(snap.FreeHeap))
	}

	fmt.Fprintf(&b, "Communication:\n")
	fmt.Fprintf(&b, "  Total messages: %d\n", snap.Stats.TotalMessages)
	fmt.Fprintf(&b, "  Decode errors: %d\n", snap.Stats.DecodeErrors)
	fmt.Fprintf(&b, "  Success rate: %.2f%%\n", SuccessRate(snap.Stats)*100)
	fmt.Fprintf(&b, "  Connection state: %s\n\n", snap.Stats.ConnectionState)

	if len(snap.IntervalMs) > 0 {
		fmt.Fprintf(&b, "Message intervals:\n")
		fmt.Fprintf(&b, "  Average interval: %.2f ms\n", stats.Mean(snap.IntervalMs))
		fmt.Fprintf(&b, "  Standard deviation: %.2f ms\n\n", stats.StdDev(snap.IntervalMs))
	}

	if len(results) > 0 {
		fmt.Fprintf(&b, "Test phases:\n")
		for _, r := range results {
			status := ""
			if !r.Completed {
				status = " [interrupted]"
			}
			fmt.Fprintf(&b, "  %s: %s%s (%s)\n", r.Phase, r.Verdict, status, r.Summary)
		}
	}

	return b.String()
}

// SuccessRate derives the share of messages that decoded cleanly. With
// no traffic at all the rate is defined as 1.0.
func SuccessRate(s collector.SessionStats) float64 {
	if s.TotalMessages == 0 {
		return 1.0
	}
	return 1.0 - float64(s.DecodeErrors)/float64(s.TotalMessages)
}

// RenderSessionSummary builds the short closing stats block the
// monitor prints on shutdown.
func RenderSessionSummary(snap collector.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session statistics\n")
	fmt.Fprintf(&b, "  Total messages: %d\n", snap.Stats.TotalMessages)
	fmt.Fprintf(&b, "  Data loss count: %d\n", snap.Stats.DataLoss)
	fmt.Fprintf(&b, "  Average latency (EMA): %.1f ms\n", snap.Stats.AvgLatencyEmaMs)
	fmt.Fprintf(&b, "  Success rate: %.1f%%\n", SuccessRate(snap.Stats)*100)

	return b.String()
}

// EmitAll runs each named sink job on the worker pool and waits for
// all of them. A failing sink is logged and does not stop the others;
// the number of failures is returned.
func EmitAll(pool *utils.WorkerPool, logger zerolog.Logger, jobs map[string]func() error) int {
	var wg sync.WaitGroup
	var mu sync.Mutex
	failures := 0

	for name, job := range jobs {
		name, job := name, job
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			if err := job(); err != nil {
				logger.Error().Err(err).Str("sink", name).Msg("Report sink failed")
				mu.Lock()
				failures++
				mu.Unlock()
			}
		})
	}

	wg.Wait()
	return failures
}
