package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/thejerf/suture/v4"

	"github.com/geomsync/geomsync/internal/config"
	"github.com/geomsync/geomsync/internal/control"
	"github.com/geomsync/geomsync/internal/engine"
	"github.com/geomsync/geomsync/internal/ipc"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/util"
)

func main() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "geomsync", "config.yaml")

	cfgPath := flag.String("config", defaultConfig, "path to YAML config")
	logLevel := flag.String("log-level", "", "log level override (trace|debug|info|warn|error)")
	directorySocket := flag.String("directory-socket", "", "window directory socket (overrides config)")
	eventsSocket := flag.String("events-socket", "", "event stream socket (overrides config)")
	routerSocket := flag.String("router-socket", "", "input router socket (overrides config)")
	controlSocket := flag.String("control-socket", "", "control socket (overrides config)")
	flag.Parse()

	cfgFullPath, err := filepath.Abs(*cfgPath)
	if err != nil {
		exitErr(fmt.Errorf("resolve config path: %w", err))
	}
	cfgFullPath = filepath.Clean(cfgFullPath)

	cfg, raw, err := loadInitialConfig(cfgFullPath)
	if err != nil {
		exitErr(err)
	}
	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger := util.NewLogger(util.ParseLogLevel(level))
	if raw == nil {
		logger.Warnf("config %s not found, using defaults", cfgFullPath)
	}

	sockets := cfg.Sockets
	overrideSocket(&sockets.Directory, *directorySocket)
	overrideSocket(&sockets.Events, *eventsSocket)
	overrideSocket(&sockets.Router, *routerSocket)
	overrideSocket(&sockets.Control, *controlSocket)
	paths, err := resolveSockets(sockets)
	if err != nil {
		exitErr(fmt.Errorf("resolve sockets: %w", err))
	}

	collector := metrics.NewCollector(cfg.Telemetry.Enabled)
	directory := ipc.NewClient(paths.Directory)
	router := ipc.NewSocketRouter(paths.Router)
	eng := engine.New(directory, nil, router, cfg.EngineOptions(), logger, collector)
	eng.SetEventSource(func(ctx context.Context, logger *util.Logger) (<-chan ipc.Event, error) {
		return ipc.Subscribe(ctx, paths.Events, logger)
	})
	defer eng.Close()
	logger.Infof("directory %s, events %s, router %s", paths.Directory, paths.Events, paths.Router)

	reloader := newConfigReloader(cfgFullPath, logger, eng, collector, cfg, raw)
	reloader.levelPinned = *logLevel != ""

	ctrlSrv, err := control.NewServer(eng, collector, logger, reloader.Reload, paths.Control)
	if err != nil {
		exitErr(fmt.Errorf("start control server: %w", err))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		exitErr(fmt.Errorf("watch config: %w", err))
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(cfgFullPath)); err != nil {
		logger.Warnf("unable to watch config dir: %v", err)
	}
	if err := watcher.Add(cfgFullPath); err != nil {
		logger.Debugf("unable to watch config file directly: %v", err)
	}
	reloadRequests := make(chan string, 1)
	go watchConfig(logger, watcher, cfgFullPath, reloadRequests)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	supervisor := suture.New("geomsyncd", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Warnf("supervisor: %s", ev)
		},
		FailureBackoff: 2 * time.Second,
	})
	supervisor.Add(eng)
	supervisor.Add(ctrlSrv)
	eng.Attach()
	done := supervisor.ServeBackground(ctx)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("supervisor exited: %v", err)
				os.Exit(1)
			}
			logger.Infof("geomsyncd stopped")
			return
		case reason := <-reloadRequests:
			if err := reloader.Reload(reason); err != nil {
				logger.Errorf("reload failed: %v", err)
			}
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reloader.Reload("received SIGHUP"); err != nil {
					logger.Errorf("reload failed: %v", err)
				}
			case os.Interrupt, syscall.SIGTERM:
				logger.Infof("received %s, shutting down", sig)
				flushCtx, flushCancel := context.WithTimeout(ctx, time.Second)
				if _, err := eng.SyncNow(flushCtx, engine.CycleModeFlushEmpty); err != nil {
					logger.Warnf("flush records before exit: %v", err)
				}
				flushCancel()
				cancel()
			}
		}
	}
}

// loadInitialConfig reads the config at path. A missing file yields the
// defaults and a nil payload.
func loadInitialConfig(path string) (*config.Config, []byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, raw, nil
}

func overrideSocket(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}

func resolveSockets(s config.Sockets) (config.Sockets, error) {
	var out config.Sockets
	for _, entry := range []struct {
		dst      *string
		override string
		name     string
	}{
		{&out.Directory, s.Directory, ipc.DirectorySocketName},
		{&out.Events, s.Events, ipc.EventsSocketName},
		{&out.Router, s.Router, ipc.RouterSocketName},
	} {
		path, err := ipc.SocketPath(entry.override, entry.name)
		if err != nil {
			return config.Sockets{}, err
		}
		*entry.dst = path
	}
	out.Control = s.Control
	return out, nil
}

func watchConfig(logger *util.Logger, watcher *fsnotify.Watcher, target string, reloadRequests chan<- string) {
	const debounceWindow = 250 * time.Millisecond
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case reloadRequests <- "config file updated":
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
