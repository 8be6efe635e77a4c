package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/geomsync/geomsync/internal/config"
	"github.com/geomsync/geomsync/internal/dispatch"
	"github.com/geomsync/geomsync/internal/ipc"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/state"
	"github.com/geomsync/geomsync/internal/synth"
	"github.com/geomsync/geomsync/internal/util"
)

// smoke snapshots the live window directory once, synthesizes records and
// prints the batch plan without delivering anything.
func main() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "geomsync", "config.yaml")

	cfgPath := flag.String("config", defaultConfig, "path to YAML config")
	logLevel := flag.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	directorySocket := flag.String("directory-socket", "", "window directory socket")
	showWorld := flag.Bool("world", false, "print the raw world snapshot")
	flag.Parse()

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Warnf("using defaults: %v", err)
		cfg = config.Default()
	}
	override := *directorySocket
	if override == "" {
		override = cfg.Sockets.Directory
	}
	path, err := ipc.SocketPath(override, ipc.DirectorySocketName)
	if err != nil {
		exitErr(fmt.Errorf("resolve directory socket: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	world, err := state.NewWorld(ctx, ipc.NewClient(path), nil)
	if err != nil {
		exitErr(fmt.Errorf("build world: %w", err))
	}

	fmt.Println("=== Configuration ===")
	if err := marshalYAML(cfg); err != nil {
		logger.Warnf("failed to print config: %v", err)
	}

	if *showWorld {
		fmt.Println("\n=== World Snapshot ===")
		if err := marshalJSON(world); err != nil {
			logger.Warnf("failed to print world snapshot: %v", err)
		}
	}

	collector := metrics.NewCollector(true)
	opts := cfg.EngineOptions()
	res := synth.New(opts.Synth, logger, collector).Build(world)
	plan := dispatch.New(nil, opts.Dispatch, logger, collector).Plan(res)

	fmt.Printf("\n=== Records (%d displays, %d windows) ===\n", len(res.Displays), len(res.Windows))
	for i, msg := range plan {
		fmt.Printf("batch %d: %s", i+1, msg.Kind)
		if msg.Kind == dispatch.KindIncremental {
			fmt.Printf(" display=%d", msg.DisplayID)
		}
		fmt.Printf(" records=%d\n", len(msg.Windows))
		for _, r := range msg.Windows {
			fmt.Printf("  %-7s id=%d pid=%d z=%.3f rect=%+v hot=%d flags=%s\n",
				r.Action, r.ID, r.OwnerPID, r.ZOrder, r.ScreenRect, r.HotAreaCount(), r.Flags)
		}
	}

	snap := collector.Snapshot()
	if len(snap.Counters) > 0 {
		fmt.Println("\n=== Synthesis Warnings ===")
		for _, c := range snap.Counters {
			fmt.Printf("%s: %d\n", c.Name, c.Value)
		}
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func marshalYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func marshalJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
