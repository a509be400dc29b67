// Package session runs the sequential performance-test phases over
// the live collector: latency, throughput, an optional stability
// phase for long runs, and a simulated power analysis. Each phase
// polls the collector on its own cadence and never blocks ingestion.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/sensorlab/sensorbench/internal/collector"
	"github.com/sensorlab/sensorbench/internal/models"
	"github.com/sensorlab/sensorbench/internal/stats"
)

// State names the controller's position in the phase state machine.
type State string

const (
	StateIdle          State = "idle"
	StateInitializing  State = "initializing"
	StateLatencyPhase  State = "latency"
	StateThroughput    State = "throughput"
	StateStability     State = "stability"
	StatePowerAnalysis State = "power"
	StateReporting     State = "reporting"
)

// PhaseOrder is the canonical phase ordering used when assembling
// results for the report.
var PhaseOrder = []string{"latency", "throughput", "stability", "power"}

// Config holds the phase timing knobs.
type Config struct {
	TotalDuration      time.Duration
	Settle             time.Duration
	LatencyDuration    time.Duration
	ThroughputDuration time.Duration
	StabilityEntry     time.Duration
	StabilityCadence   time.Duration
	SampleInterval     time.Duration
}

// Controller drives the test phases. Run executes them sequentially on
// the calling goroutine; results become visible in the concurrent map
// as each phase completes, so progress reporting can read them while
// later phases are still running.
type Controller struct {
	cfg        Config
	thresholds stats.Thresholds
	col        *collector.Collector
	results    cmap.ConcurrentMap[string, models.PhaseResult]
	logger     zerolog.Logger

	mu    sync.Mutex
	state State
}

// New initializes a Controller in the idle state.
func New(cfg Config, thresholds stats.Thresholds, col *collector.Collector, logger zerolog.Logger) *Controller {
	return &Controller{
		cfg:        cfg,
		thresholds: thresholds,
		col:        col,
		results:    cmap.New[models.PhaseResult](),
		logger:     logger,
		state:      StateIdle,
	}
}

// State returns the controller's current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.logger.Info().Str("phase", string(s)).Msg("Entering phase")
}

// Results returns the completed phase results in canonical order.
// Safe to call concurrently with Run.
func (c *Controller) Results() []models.PhaseResult {
	out := make([]models.PhaseResult, 0, len(PhaseOrder))
	for _, name := range PhaseOrder {
		if r, ok := c.results.Get(name); ok {
			out = append(out, r)
		}
	}
	return out
}

// Run executes the phase sequence. Cancelling ctx at any point
// short-circuits directly to reporting: the partial results of the
// interrupted phase are kept and the remaining phases are skipped, so
// a report can always be produced. Run returns the results and leaves
// the controller back in the idle state.
func (c *Controller) Run(ctx context.Context) []models.PhaseResult {
	c.setState(StateInitializing)
	c.initialize(ctx)

	if ctx.Err() == nil {
		c.setState(StateLatencyPhase)
		c.runLatencyPhase(ctx)
	}
	if ctx.Err() == nil {
		c.setState(StateThroughput)
		c.runThroughputPhase(ctx)
	}
	if ctx.Err() == nil && c.cfg.TotalDuration > c.cfg.StabilityEntry {
		c.setState(StateStability)
		c.runStabilityPhase(ctx)
	}
	if ctx.Err() == nil {
		c.setState(StatePowerAnalysis)
		c.runPowerAnalysis()
	}

	c.setState(StateReporting)
	results := c.Results()
	c.setState(StateIdle)
	return results
}

// initialize waits for the device to settle and checks that the
// measuring host itself is not saturated, which would skew latency
// figures.
func (c *Controller) initialize(ctx context.Context) {
	busy, err := cpu.Percent(0, false)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Host CPU preflight failed")
	} else if len(busy) > 0 && busy[0] > 80 {
		c.logger.Warn().Float64("cpu_percent", busy[0]).Msg("Measuring host is CPU-loaded; results may be skewed")
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		c.logger.Warn().Err(err).Msg("Host memory preflight failed")
	} else if vm.UsedPercent > 90 {
		c.logger.Warn().Float64("mem_percent", vm.UsedPercent).Msg("Measuring host is memory-loaded; results may be skewed")
	}

	select {
	case <-time.After(c.cfg.Settle):
	case <-ctx.Done():
	}
}

func (c *Controller) record(phase string, verdict models.Verdict, summary string, samples int, elapsed time.Duration, completed bool) {
	result := models.PhaseResult{
		Phase:     phase,
		Verdict:   verdict,
		Summary:   summary,
		Samples:   samples,
		Elapsed:   elapsed,
		Completed: completed,
	}
	c.results.Set(phase, result)
	c.logger.Info().
		Str("phase", phase).
		Str("verdict", string(verdict)).
		Str("summary", summary).
		Bool("completed", completed).
		Msg("Phase finished")
}

// runLatencyPhase samples the newest latency value at the sample
// cadence and classifies the accumulated distribution.
func (c *Controller) runLatencyPhase(ctx context.Context) {
	start := time.Now()
	deadline := time.NewTimer(c.cfg.LatencyDuration)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.SampleInterval)
	defer ticker.Stop()

	var samples []float64
	completed := true

loop:
	for {
		select {
		case <-ticker.C:
			snap := c.col.Snapshot()
			if n := len(snap.LatencyMs); n > 0 {
				samples = append(samples, snap.LatencyMs[n-1])
			}
		case <-deadline.C:
			break loop
		case <-ctx.Done():
			completed = false
			break loop
		}
	}

	elapsed := time.Since(start)
	if len(samples) == 0 {
		c.record("latency", models.VerdictDegraded, "no latency samples received", 0, elapsed, completed)
		return
	}

	avg := stats.Mean(samples)
	summary := fmt.Sprintf("avg=%.2fms min=%.2fms max=%.2fms p95=%.2fms",
		avg, stats.Min(samples), stats.Max(samples), stats.Percentile(samples, 95))
	c.record("latency", c.thresholds.LatencyVerdict(avg), summary, len(samples), elapsed, completed)
}

// runThroughputPhase measures the arrival rate over the phase window.
func (c *Controller) runThroughputPhase(ctx context.Context) {
	start := time.Now()
	startCount := c.col.Snapshot().Stats.TotalMessages
	completed := true

	select {
	case <-time.After(c.cfg.ThroughputDuration):
	case <-ctx.Done():
		completed = false
	}

	elapsed := time.Since(start)
	delta := c.col.Snapshot().Stats.TotalMessages - startCount

	var rate float64
	if elapsed > 0 {
		rate = float64(delta) / elapsed.Seconds()
	}

	summary := fmt.Sprintf("messages=%d rate=%.2fmsg/s expected>=%.1fmsg/s",
		delta, rate, c.thresholds.ExpectedMsgRate*c.thresholds.ThroughputFactor)
	c.record("throughput", c.thresholds.ThroughputVerdict(rate), summary, int(delta), elapsed, completed)
}

// runStabilityPhase samples free heap and the error counter at a slow
// cadence and combines the memory trend with the error rate.
func (c *Controller) runStabilityPhase(ctx context.Context) {
	duration := c.cfg.TotalDuration - c.cfg.LatencyDuration - c.cfg.ThroughputDuration
	if duration <= 0 {
		return
	}

	start := time.Now()
	startErrors := c.col.Snapshot().Stats.DecodeErrors
	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.StabilityCadence)
	defer ticker.Stop()

	var memSamples []float64
	completed := true

loop:
	for {
		select {
		case <-ticker.C:
			snap := c.col.Snapshot()
			if n := len(snap.FreeHeap); n > 0 {
				memSamples = append(memSamples, snap.FreeHeap[n-1])
			}
			progress := time.Since(start).Seconds() / duration.Seconds() * 100
			c.logger.Debug().Float64("progress_percent", progress).Msg("Stability phase progress")
		case <-deadline.C:
			break loop
		case <-ctx.Done():
			completed = false
			break loop
		}
	}

	elapsed := time.Since(start)
	errDelta := c.col.Snapshot().Stats.DecodeErrors - startErrors

	var errPerMinute float64
	if minutes := elapsed.Minutes(); minutes > 0 {
		errPerMinute = float64(errDelta) / minutes
	}
	slope := stats.LinearTrend(memSamples)

	summary := fmt.Sprintf("errors=%d err_rate=%.2f/min mem_trend=%.2fbytes/sample",
		errDelta, errPerMinute, slope)
	c.record("stability", c.thresholds.StabilityVerdict(errPerMinute, slope), summary, len(memSamples), elapsed, completed)
}

// powerMode is one simulated operating point. Real figures require an
// external power measurement device; these placeholders document the
// expected order of magnitude per mode.
type powerMode struct {
	name      string
	currentMA float64
	voltageV  float64
}

var simulatedPowerModes = []powerMode{
	{"active", 15.2, 3.3},
	{"idle", 8.7, 3.3},
	{"sleep", 2.1, 3.3},
}

// runPowerAnalysis reports the simulated per-mode power draw.
func (c *Controller) runPowerAnalysis() {
	start := time.Now()

	summary := ""
	for i, m := range simulatedPowerModes {
		if i > 0 {
			summary += " "
		}
		summary += fmt.Sprintf("%s=%.1fmW", m.name, m.currentMA*m.voltageV)
	}
	summary += " (simulated)"

	c.record("power", models.VerdictSimulated, summary, len(simulatedPowerModes), time.Since(start), true)
}
