package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/geomsync/geomsync/internal/dispatch"
	"github.com/geomsync/geomsync/internal/engine"
	"github.com/geomsync/geomsync/internal/synth"
)

// Config is the top-level configuration document.
type Config struct {
	LogLevel         string    `yaml:"logLevel"`
	DebounceMs       int       `yaml:"debounceMs"`
	Batch            Batch     `yaml:"batch"`
	HotAreas         HotAreas  `yaml:"hotAreas"`
	Resize           Resize    `yaml:"resize"`
	DefaultDisplayID uint64    `yaml:"defaultDisplayId"`
	HistoryLimit     int       `yaml:"historyLimit"`
	Sockets          Sockets   `yaml:"sockets"`
	Telemetry        Telemetry `yaml:"telemetry"`
}

// UnmarshalYAML handles deprecated fields while decoding configuration files.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig struct {
		LogLevel         string    `yaml:"logLevel"`
		DebounceMs       *int      `yaml:"debounceMs"`
		LegacyDebounceMs *int      `yaml:"debounceDelayMs"`
		Batch            Batch     `yaml:"batch"`
		HotAreas         HotAreas  `yaml:"hotAreas"`
		Resize           Resize    `yaml:"resize"`
		DefaultDisplayID uint64    `yaml:"defaultDisplayId"`
		HistoryLimit     int       `yaml:"historyLimit"`
		Sockets          Sockets   `yaml:"sockets"`
		Telemetry        Telemetry `yaml:"telemetry"`
	}

	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.LogLevel = raw.LogLevel
	c.Batch = raw.Batch
	c.HotAreas = raw.HotAreas
	c.Resize = raw.Resize
	c.DefaultDisplayID = raw.DefaultDisplayID
	c.HistoryLimit = raw.HistoryLimit
	c.Sockets = raw.Sockets
	c.Telemetry = raw.Telemetry

	switch {
	case raw.DebounceMs != nil:
		c.DebounceMs = *raw.DebounceMs
	case raw.LegacyDebounceMs != nil:
		c.DebounceMs = *raw.LegacyDebounceMs
	default:
		c.DebounceMs = 0
	}

	return nil
}

// Batch describes the input service message limits.
type Batch struct {
	DefaultSize     int `yaml:"defaultSize"`
	MaxMessageBytes int `yaml:"maxMessageBytes"`
	DisplayBytes    int `yaml:"displayBytes"`
	WindowBytes     int `yaml:"windowBytes"`
	RectBytes       int `yaml:"rectBytes"`
}

// HotAreas bounds declared hot areas and sizes the default touch margins.
type HotAreas struct {
	DefaultCount  int     `yaml:"defaultCount"`
	MaxCount      int     `yaml:"maxCount"`
	TouchZoneVp   float32 `yaml:"touchZoneVp"`
	PointerZoneVp float32 `yaml:"pointerZoneVp"`
}

// Resize sizes the resize affordance zones in density-independent units.
type Resize struct {
	SmallZoneVp float32 `yaml:"smallZoneVp"`
	LargeZoneVp float32 `yaml:"largeZoneVp"`
}

// Sockets overrides the collaborator socket paths. Empty values resolve under
// the runtime directory.
type Sockets struct {
	Directory string `yaml:"directory"`
	Events    string `yaml:"events"`
	Router    string `yaml:"router"`
	Control   string `yaml:"control"`
}

// Telemetry toggles the in-process metrics collector.
type Telemetry struct {
	Enabled bool `yaml:"enabled"`
}

// LintError describes a configuration problem at a dotted path.
type LintError struct {
	Path    string
	Message string
}

func (e LintError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a configuration document and applies defaults without
// validating it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LintFile parses the file at path and returns every validation issue.
func LintFile(path string) ([]LintError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg.Lint(), nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DebounceMs == 0 {
		c.DebounceMs = int(engine.DefaultDebounce / time.Millisecond)
	}
	d := dispatch.DefaultOptions()
	if c.Batch.DefaultSize == 0 {
		c.Batch.DefaultSize = d.DefaultBatchSize
	}
	if c.Batch.MaxMessageBytes == 0 {
		c.Batch.MaxMessageBytes = d.Size.MaxMessageBytes
	}
	if c.Batch.DisplayBytes == 0 {
		c.Batch.DisplayBytes = d.Size.DisplayBytes
	}
	if c.Batch.WindowBytes == 0 {
		c.Batch.WindowBytes = d.Size.WindowBytes
	}
	if c.Batch.RectBytes == 0 {
		c.Batch.RectBytes = d.Size.RectBytes
	}
	s := synth.DefaultOptions()
	if c.HotAreas.DefaultCount == 0 {
		c.HotAreas.DefaultCount = s.DefaultHotAreaCount
	}
	if c.HotAreas.MaxCount == 0 {
		c.HotAreas.MaxCount = s.MaxHotAreaCount
	}
	if c.HotAreas.TouchZoneVp == 0 {
		c.HotAreas.TouchZoneVp = s.TouchZoneVp
	}
	if c.HotAreas.PointerZoneVp == 0 {
		c.HotAreas.PointerZoneVp = s.PointerZoneVp
	}
	if c.Resize.SmallZoneVp == 0 {
		c.Resize.SmallZoneVp = s.SmallResizeVp
	}
	if c.Resize.LargeZoneVp == 0 {
		c.Resize.LargeZoneVp = s.LargeResizeVp
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = engine.DefaultOptions().HistoryLimit
	}
}

// Validate returns the first lint issue, if any.
func (c *Config) Validate() error {
	if errs := c.Lint(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Lint checks every field and returns all issues in document order.
func (c *Config) Lint() []LintError {
	var errs []LintError
	add := func(path, format string, args ...any) {
		errs = append(errs, LintError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		add("logLevel", "unknown level %q", c.LogLevel)
	}
	if c.DebounceMs < 0 {
		add("debounceMs", "cannot be negative, got %d", c.DebounceMs)
	}
	if c.Batch.DefaultSize < 1 {
		add("batch.defaultSize", "must be at least 1, got %d", c.Batch.DefaultSize)
	}
	for path, v := range map[string]int{
		"batch.displayBytes": c.Batch.DisplayBytes,
		"batch.windowBytes":  c.Batch.WindowBytes,
		"batch.rectBytes":    c.Batch.RectBytes,
	} {
		if v <= 0 {
			add(path, "must be positive, got %d", v)
		}
	}
	if c.Batch.MaxMessageBytes < c.Batch.WindowBytes {
		add("batch.maxMessageBytes", "must hold at least one window record (%d bytes)", c.Batch.WindowBytes)
	}
	if c.HotAreas.DefaultCount < 1 {
		add("hotAreas.defaultCount", "must be at least 1, got %d", c.HotAreas.DefaultCount)
	}
	if c.HotAreas.MaxCount < c.HotAreas.DefaultCount {
		add("hotAreas.maxCount", "cannot be below hotAreas.defaultCount (%d)", c.HotAreas.DefaultCount)
	}
	if c.HotAreas.TouchZoneVp < 0 {
		add("hotAreas.touchZoneVp", "cannot be negative")
	}
	if c.HotAreas.PointerZoneVp < 0 {
		add("hotAreas.pointerZoneVp", "cannot be negative")
	}
	if c.Resize.SmallZoneVp < 0 {
		add("resize.smallZoneVp", "cannot be negative")
	}
	if c.Resize.LargeZoneVp < c.Resize.SmallZoneVp {
		add("resize.largeZoneVp", "cannot be below resize.smallZoneVp")
	}
	if c.HistoryLimit < 0 {
		add("historyLimit", "cannot be negative, got %d", c.HistoryLimit)
	}
	rank := make(map[string]int, len(lintOrder))
	for i, p := range lintOrder {
		rank[p] = i
	}
	slices.SortStableFunc(errs, func(a, b LintError) int { return rank[a.Path] - rank[b.Path] })
	return errs
}

var lintOrder = []string{
	"logLevel", "debounceMs",
	"batch.defaultSize", "batch.maxMessageBytes", "batch.displayBytes", "batch.windowBytes", "batch.rectBytes",
	"hotAreas.defaultCount", "hotAreas.maxCount", "hotAreas.touchZoneVp", "hotAreas.pointerZoneVp",
	"resize.smallZoneVp", "resize.largeZoneVp", "historyLimit",
}

// Debounce returns the scheduler delay.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// EngineOptions converts the document into engine options.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Debounce:     c.Debounce(),
		HistoryLimit: c.HistoryLimit,
		Synth: synth.Options{
			DefaultHotAreaCount: c.HotAreas.DefaultCount,
			MaxHotAreaCount:     c.HotAreas.MaxCount,
			TouchZoneVp:         c.HotAreas.TouchZoneVp,
			PointerZoneVp:       c.HotAreas.PointerZoneVp,
			SmallResizeVp:       c.Resize.SmallZoneVp,
			LargeResizeVp:       c.Resize.LargeZoneVp,
		},
		Dispatch: dispatch.Options{
			DefaultBatchSize:    c.Batch.DefaultSize,
			DefaultHotAreaCount: c.HotAreas.DefaultCount,
			DefaultDisplayID:    c.DefaultDisplayID,
			Size: dispatch.SizeModel{
				MaxMessageBytes: c.Batch.MaxMessageBytes,
				DisplayBytes:    c.Batch.DisplayBytes,
				WindowBytes:     c.Batch.WindowBytes,
				RectBytes:       c.Batch.RectBytes,
			},
		},
	}
}
