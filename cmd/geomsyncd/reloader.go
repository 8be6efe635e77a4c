package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/geomsync/geomsync/internal/config"
	"github.com/geomsync/geomsync/internal/engine"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/util"
)

type configReloader struct {
	path    string
	logger  *util.Logger
	engine  *engine.Engine
	metrics *metrics.Collector
	// levelPinned keeps a -log-level flag in force across reloads
	levelPinned bool

	mu             sync.Mutex
	lastConfig     *config.Config
	lastSerialized []byte
}

func newConfigReloader(path string, logger *util.Logger, eng *engine.Engine, metrics *metrics.Collector, cfg *config.Config, serialized []byte) *configReloader {
	return &configReloader{
		path:           path,
		logger:         logger,
		engine:         eng,
		metrics:        metrics,
		lastConfig:     cfg,
		lastSerialized: append([]byte(nil), serialized...),
	}
}

// Reload reads the config file and applies it to the running engine. A file
// that fails to parse or lint leaves the previous configuration in force.
func (r *configReloader) Reload(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Infof("%s, reloading config", reason)
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		r.logDiff(raw)
		return err
	}
	if lintErrs := cfg.Lint(); len(lintErrs) > 0 {
		r.logLintErrors(lintErrs)
		r.logDiff(raw)
		return lintErrs[0]
	}

	if cfg.Sockets != r.lastConfig.Sockets {
		r.logger.Warnf("socket paths changed; restart geomsyncd to apply them")
	}
	if diff := config.Diff(r.lastConfig, cfg); diff != "" {
		r.logger.Debugf("config changes:\n%s", diff)
	}
	r.engine.Reconfigure(cfg.EngineOptions())
	if !r.levelPinned {
		r.logger.SetLevel(util.ParseLogLevel(cfg.LogLevel))
	}
	if r.metrics != nil {
		r.metrics.SetEnabled(cfg.Telemetry.Enabled)
	}
	r.engine.ForceSynchronize()

	r.lastConfig = cfg
	r.lastSerialized = append([]byte(nil), raw...)
	r.logger.Infof("config reloaded")
	return nil
}

// Current returns the configuration in force.
func (r *configReloader) Current() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastConfig
}

func (r *configReloader) logDiff(current []byte) {
	diff := config.DiffSerialized(r.lastSerialized, current)
	if diff == "" {
		r.logger.Warnf("config change rejected; unable to compute diff vs last valid config")
		return
	}
	r.logger.Warnf("config change rejected; diff vs last valid config:\n%s", diff)
}

func (r *configReloader) logLintErrors(errs []config.LintError) {
	r.logger.Warnf("config validation failed with %d issue(s):", len(errs))
	for _, lintErr := range errs {
		if lintErr.Path != "" {
			r.logger.Warnf(" - %s: %s", lintErr.Path, lintErr.Message)
			continue
		}
		r.logger.Warnf(" - %s", lintErr.Message)
	}
}
