package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sensorlab/sensorbench/internal/collector"
)

// LineExtractor recognizes one debug-line marker and routes its
// numeric value into the matching collector series.
type LineExtractor struct {
	Name   string
	Marker string
	Unit   string
	Apply  func(c *collector.Collector, value float64)
}

// DefaultExtractors returns the extractors for the three performance
// markers the firmware prints on its debug UART.
func DefaultExtractors() []LineExtractor {
	return []LineExtractor{
		{
			Name:   "task_latency",
			Marker: "Task latency:",
			Unit:   "ms",
			Apply:  func(c *collector.Collector, v float64) { c.PushLatency(v) },
		},
		{
			Name:   "cpu_usage",
			Marker: "CPU usage:",
			Unit:   "%",
			Apply:  func(c *collector.Collector, v float64) { c.PushCPU(v) },
		},
		{
			Name:   "free_heap",
			Marker: "Free heap:",
			Unit:   "bytes",
			Apply:  func(c *collector.Collector, v float64) { c.PushMemory(v) },
		},
	}
}

// Extract pulls the numeric value between the marker and its unit
// suffix. The bool reports whether the line matched the marker at all;
// a matching line with a malformed number returns an error.
func (e LineExtractor) Extract(line string) (float64, bool, error) {
	idx := strings.Index(line, e.Marker)
	if idx < 0 {
		return 0, false, nil
	}

	rest := line[idx+len(e.Marker):]
	if u := strings.Index(rest, e.Unit); u >= 0 {
		rest = rest[:u]
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
	if err != nil {
		return 0, true, fmt.Errorf("parse %s value %q: %w", e.Name, strings.TrimSpace(rest), err)
	}
	return value, true, nil
}
