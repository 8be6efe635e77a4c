package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/exp/slices"

	"github.com/geomsync/geomsync/internal/engine"
)

type benchLatencyStats struct {
	Min    float64 `json:"minMs"`
	Mean   float64 `json:"meanMs"`
	Median float64 `json:"medianMs"`
	P95    float64 `json:"p95Ms"`
	Max    float64 `json:"maxMs"`
}

type benchAllocationStats struct {
	Total               uint64  `json:"totalAllocations"`
	PerEvent            float64 `json:"allocationsPerEvent"`
	BytesTotal          uint64  `json:"bytesTotal"`
	BytesPerEvent       float64 `json:"bytesPerEvent"`
	MiBTotal            float64 `json:"miBTotal"`
	MiBPerEvent         float64 `json:"miBPerEvent"`
	HeapAllocStart      uint64  `json:"heapAllocStartBytes"`
	HeapAllocEnd        uint64  `json:"heapAllocEndBytes"`
	HeapAllocDelta      int64   `json:"heapAllocDeltaBytes"`
	HeapAllocPerEvent   float64 `json:"heapAllocDeltaPerEvent"`
	HeapObjectsStart    uint64  `json:"heapObjectsStart"`
	HeapObjectsEnd      uint64  `json:"heapObjectsEnd"`
	HeapObjectsDelta    int64   `json:"heapObjectsDelta"`
	HeapObjectsPerEvent float64 `json:"heapObjectsPerEvent"`
}

type benchDispatchStats struct {
	Total        int     `json:"total"`
	PerIteration float64 `json:"perIteration"`
	PerEvent     float64 `json:"perEvent"`
}

// benchCycleStats counts cycle outcomes across the timed iterations.
type benchCycleStats struct {
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
	NoOp      int `json:"noOp"`
	Failed    int `json:"failed"`
}

func (s *benchCycleStats) add(outcome engine.CycleOutcome) {
	switch outcome {
	case engine.CycleOutcomeDelivered:
		s.Delivered++
	case engine.CycleOutcomeSkipped:
		s.Skipped++
	case engine.CycleOutcomeNoOp:
		s.NoOp++
	case engine.CycleOutcomeFailed:
		s.Failed++
	}
}

func (s *benchCycleStats) merge(o benchCycleStats) {
	s.Delivered += o.Delivered
	s.Skipped += o.Skipped
	s.NoOp += o.NoOp
	s.Failed += o.Failed
}

type benchSummary struct {
	Fixture            string               `json:"fixture"`
	Debounce           string               `json:"debounce"`
	Iterations         int                  `json:"iterations"`
	EventsPerIteration int                  `json:"eventsPerIteration"`
	TotalEvents        int                  `json:"totalEvents"`
	WarmupIterations   int                  `json:"warmupIterations"`
	Dispatches         benchDispatchStats   `json:"dispatches"`
	Cycles             benchCycleStats      `json:"cycles"`
	Latency            benchLatencyStats    `json:"latency"`
	IterationDuration  benchLatencyStats    `json:"iterationDuration"`
	Allocations        benchAllocationStats `json:"allocations"`
	TotalDurationMs    float64              `json:"totalDurationMs"`
	EventsPerSecond    float64              `json:"eventsPerSecond"`
}

type benchReport struct {
	Summary     benchSummary     `json:"summary"`
	DurationsMs []float64        `json:"durationsMs"`
	Iterations  []benchIteration `json:"iterations,omitempty"`
}

type benchIteration struct {
	Index      int     `json:"index"`
	DurationMs float64 `json:"durationMs"`
	Dispatches int     `json:"dispatches"`
	Events     int     `json:"events"`
}

type benchEventTrace struct {
	Iteration  int     `json:"iteration"`
	EventIndex int     `json:"eventIndex"`
	Kind       string  `json:"kind"`
	Payload    string  `json:"payload"`
	DurationMs float64 `json:"durationMs"`
	Dispatches int     `json:"dispatches"`
	Outcome    string  `json:"outcome,omitempty"`
}

// benchRun collects the timed iterations of one invocation.
type benchRun struct {
	fixture      benchFixture
	debounce     time.Duration
	iterations   int
	warmup       int
	events       []time.Duration
	perIteration []iterationResult
	start, end   runtime.MemStats
}

func buildReport(run benchRun) benchReport {
	events := len(run.fixture.Events)
	totalEvents := events * run.iterations
	latency, totalEventDuration := buildLatencyStats(run.events)

	iterationDurations := make([]time.Duration, len(run.perIteration))
	iterationsData := make([]benchIteration, len(run.perIteration))
	dispatches := 0
	var cycles benchCycleStats
	for i, it := range run.perIteration {
		iterationDurations[i] = it.duration
		iterationsData[i] = benchIteration{
			Index:      i + 1,
			DurationMs: toMillis(it.duration),
			Dispatches: it.dispatches,
			Events:     events,
		}
		dispatches += it.dispatches
		cycles.merge(it.cycles)
	}
	iterationStats, _ := buildLatencyStats(iterationDurations)

	allocs := run.end.Mallocs - run.start.Mallocs
	bytesAllocated := run.end.TotalAlloc - run.start.TotalAlloc
	heapAllocDelta := int64(run.end.HeapAlloc) - int64(run.start.HeapAlloc)
	heapObjectsDelta := int64(run.end.HeapObjects) - int64(run.start.HeapObjects)
	bytesPerEvent := perEvent(float64(bytesAllocated), totalEvents)

	durationsMs := make([]float64, len(run.events))
	for i, d := range run.events {
		durationsMs[i] = toMillis(d)
	}

	summary := benchSummary{
		Fixture:            run.fixture.Name,
		Debounce:           run.debounce.String(),
		Iterations:         run.iterations,
		WarmupIterations:   run.warmup,
		EventsPerIteration: events,
		TotalEvents:        totalEvents,
		Dispatches: benchDispatchStats{
			Total:        dispatches,
			PerIteration: safeDivide(dispatches, run.iterations),
			PerEvent:     safeDivide(dispatches, totalEvents),
		},
		Cycles:            cycles,
		Latency:           latency,
		IterationDuration: iterationStats,
		Allocations: benchAllocationStats{
			Total:               allocs,
			PerEvent:            perEvent(float64(allocs), totalEvents),
			BytesTotal:          bytesAllocated,
			BytesPerEvent:       bytesPerEvent,
			MiBTotal:            float64(bytesAllocated) / (1024 * 1024),
			MiBPerEvent:         bytesPerEvent / (1024 * 1024),
			HeapAllocStart:      run.start.HeapAlloc,
			HeapAllocEnd:        run.end.HeapAlloc,
			HeapAllocDelta:      heapAllocDelta,
			HeapAllocPerEvent:   perEvent(float64(heapAllocDelta), totalEvents),
			HeapObjectsStart:    run.start.HeapObjects,
			HeapObjectsEnd:      run.end.HeapObjects,
			HeapObjectsDelta:    heapObjectsDelta,
			HeapObjectsPerEvent: perEvent(float64(heapObjectsDelta), totalEvents),
		},
		TotalDurationMs: toMillis(totalEventDuration),
		EventsPerSecond: eventsPerSecond(totalEventDuration, totalEvents),
	}
	return benchReport{Summary: summary, DurationsMs: durationsMs, Iterations: iterationsData}
}

// perEvent divides by events, returning v unchanged when there are none.
func perEvent(v float64, events int) float64 {
	if events <= 0 {
		return v
	}
	return v / float64(events)
}

func buildLatencyStats(durations []time.Duration) (benchLatencyStats, time.Duration) {
	if len(durations) == 0 {
		return benchLatencyStats{}, 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)
	return benchLatencyStats{
		Min:    toMillis(sorted[0]),
		Mean:   toMillis(total / time.Duration(len(durations))),
		Median: toMillis(percentile(sorted, 0.50)),
		P95:    toMillis(percentile(sorted, 0.95)),
		Max:    toMillis(sorted[len(sorted)-1]),
	}, total
}

func safeDivide(total int, count int) float64 {
	if count == 0 {
		return 0
	}
	return float64(total) / float64(count)
}

// openOutput returns stdout for "" or "-", otherwise creates path and its
// directory.
func openOutput(path string) (io.Writer, func() error, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func writeJSON(path string, v any) error {
	w, closeFn, err := openOutput(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		closeFn()
		return err
	}
	return closeFn()
}

func writeReport(report benchReport, outputPath string) error {
	return writeJSON(outputPath, report)
}

func writeEventTrace(events []benchEventTrace, outputPath string) error {
	if strings.TrimSpace(outputPath) == "" {
		return nil
	}
	return writeJSON(outputPath, events)
}

func printHumanSummary(summary benchSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	latency, iteration, allocs := summary.Latency, summary.IterationDuration, summary.Allocations
	rows := []string{
		fmt.Sprintf("Fixture:\t%s", summary.Fixture),
		fmt.Sprintf("Debounce:\t%s", fallback(summary.Debounce, "(default)")),
		fmt.Sprintf("Iterations:\t%d", summary.Iterations),
		fmt.Sprintf("Warmup iterations:\t%d", summary.WarmupIterations),
		fmt.Sprintf("Events/iteration:\t%d", summary.EventsPerIteration),
		fmt.Sprintf("Total events:\t%d", summary.TotalEvents),
		fmt.Sprintf("Dispatches:\t%d (%.2f / iter, %.2f / event)", summary.Dispatches.Total, summary.Dispatches.PerIteration, summary.Dispatches.PerEvent),
		fmt.Sprintf("Cycles:\t%d delivered, %d skipped, %d no-op, %d failed", summary.Cycles.Delivered, summary.Cycles.Skipped, summary.Cycles.NoOp, summary.Cycles.Failed),
		fmt.Sprintf("Latency (ms):\tmin %.2f | mean %.2f | median %.2f | p95 %.2f | max %.2f", latency.Min, latency.Mean, latency.Median, latency.P95, latency.Max),
		fmt.Sprintf("Iteration duration (ms):\tmin %.2f | mean %.2f | median %.2f | p95 %.2f | max %.2f", iteration.Min, iteration.Mean, iteration.Median, iteration.P95, iteration.Max),
		fmt.Sprintf("Allocations:\t%d total (%.2f / event)", allocs.Total, allocs.PerEvent),
		fmt.Sprintf("Bytes allocated:\t%s (%.2f / event)", formatBytesUnsigned(allocs.BytesTotal), allocs.BytesPerEvent),
		fmt.Sprintf("Heap delta:\t%s change, %d objects (%.2f / event)", formatBytesSigned(allocs.HeapAllocDelta), allocs.HeapObjectsDelta, allocs.HeapObjectsPerEvent),
		fmt.Sprintf("Events/sec:\t%.2f", summary.EventsPerSecond),
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, row); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

func formatBytesUnsigned(bytes uint64) string {
	const miB = 1024 * 1024
	if bytes == 0 {
		return "0 B (0.00 MiB)"
	}
	return fmt.Sprintf("%d B (%.2f MiB)", bytes, float64(bytes)/float64(miB))
}

func formatBytesSigned(delta int64) string {
	if delta < 0 {
		return "-" + formatBytesUnsigned(uint64(-delta))
	}
	return formatBytesUnsigned(uint64(delta))
}

func eventsPerSecond(total time.Duration, events int) float64 {
	if total <= 0 || events == 0 {
		return 0
	}
	return float64(events) / total.Seconds()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(p*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
