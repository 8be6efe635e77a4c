package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/geomsync/geomsync/internal/config"
	"github.com/geomsync/geomsync/internal/util"
)

// bench replays a window set and its change events through a fresh engine per
// iteration and reports per-event cycle latency, allocations and dispatches.
func main() {
	defaultFixturePath := filepath.Join("fixtures", "phone.json")

	cfgPath := flag.String("config", "", "path to YAML config (defaults when empty)")
	fixturePath := flag.String("fixture", defaultFixturePath, "path to replay fixture (JSON world or event log)")
	iterations := flag.Int("iterations", 10, "number of times to replay the fixture")
	warmup := flag.Int("warmup", 0, "number of warm-up iterations to run before timing")
	debounce := flag.Duration("debounce", time.Millisecond, "debounce delay for replayed cycles (0 uses the config)")
	cpuProfile := flag.String("cpu-profile", "", "write CPU profile to file")
	memProfile := flag.String("mem-profile", "", "write heap profile to file")
	logLevel := flag.String("log-level", "warn", "log level (trace|debug|info|warn|error)")
	respectDelays := flag.Bool("respect-delays", false, "sleep for event delays declared in the fixture")
	outputPath := flag.String("output", "-", "write JSON report to file ('-' for stdout)")
	humanSummary := flag.Bool("human", false, "print a tabular summary alongside the JSON output")
	eventTracePath := flag.String("event-trace", "", "write per-event timings to file (JSON array, '-' for stdout)")
	explain := flag.Bool("explain", false, "log the cycle each event produced during replay")
	flag.Parse()

	if *iterations <= 0 {
		fmt.Fprintln(os.Stderr, "iterations must be positive")
		os.Exit(1)
	}
	if *warmup < 0 {
		fmt.Fprintln(os.Stderr, "warmup must be zero or positive")
		os.Exit(1)
	}

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			exitErr(fmt.Errorf("load config: %w", err))
		}
		cfg = loaded
	}
	engineOpts := cfg.EngineOptions()
	if *debounce > 0 {
		engineOpts.Debounce = *debounce
	}

	fixture := defaultFixture()
	if *fixturePath != "" {
		loaded, err := loadFixture(*fixturePath, fixture)
		switch {
		case err == nil:
			fixture = loaded
		case errors.Is(err, fs.ErrNotExist) && *fixturePath == defaultFixturePath:
			logger.Warnf("fixture %s not found, using built-in synthetic stream", *fixturePath)
		default:
			exitErr(fmt.Errorf("load fixture: %w", err))
		}
	}
	if len(fixture.Events) == 0 {
		exitErr(errors.New("fixture contains no events"))
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			exitErr(fmt.Errorf("create cpu profile: %w", err))
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			exitErr(fmt.Errorf("start cpu profile: %w", err))
		}
		defer pprof.StopCPUProfile()
	}

	ctx := context.Background()
	opts := replayOptions{
		engine:        engineOpts,
		logger:        logger,
		respectDelays: *respectDelays,
		explain:       *explain,
	}
	for i := 0; i < *warmup; i++ {
		if _, err := replayIteration(ctx, fixture, opts, i+1); err != nil {
			exitErr(fmt.Errorf("warmup iteration %d: %w", i+1, err))
		}
	}

	opts.capture = true
	opts.trace = strings.TrimSpace(*eventTracePath) != ""
	run := benchRun{
		fixture:    fixture,
		debounce:   engineOpts.Debounce,
		iterations: *iterations,
		warmup:     *warmup,
		events:     make([]time.Duration, 0, len(fixture.Events)*(*iterations)),
	}
	var traces []benchEventTrace

	runtime.GC()
	runtime.ReadMemStats(&run.start)
	for i := 0; i < *iterations; i++ {
		res, err := replayIteration(ctx, fixture, opts, i+1)
		if err != nil {
			exitErr(fmt.Errorf("iteration %d: %w", i+1, err))
		}
		run.perIteration = append(run.perIteration, res)
		run.events = append(run.events, res.events...)
		traces = append(traces, res.traces...)
	}
	runtime.GC()
	runtime.ReadMemStats(&run.end)

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			exitErr(fmt.Errorf("create mem profile: %w", err))
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			exitErr(fmt.Errorf("write heap profile: %w", err))
		}
	}

	report := buildReport(run)
	if err := writeReport(report, *outputPath); err != nil {
		exitErr(fmt.Errorf("encode report: %w", err))
	}
	if err := writeEventTrace(traces, *eventTracePath); err != nil {
		exitErr(fmt.Errorf("write event trace: %w", err))
	}
	if *humanSummary {
		if err := printHumanSummary(report.Summary, os.Stdout); err != nil {
			exitErr(fmt.Errorf("print human summary: %w", err))
		}
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
