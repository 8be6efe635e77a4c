package control

import (
	"os"
	"path/filepath"

	"github.com/geomsync/geomsync/internal/engine"
	"github.com/geomsync/geomsync/internal/ipc"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/state"
	"github.com/geomsync/geomsync/internal/synth"
)

const (
	// Action names supported by the control protocol.
	ActionStatus     = "status"
	ActionSync       = "sync"
	ActionSyncForce  = "sync.force"
	ActionFlushEmpty = "flush.empty"
	ActionInspect    = "inspect"
	ActionMetrics    = "metrics"
	ActionReload     = "reload"

	// Response statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents a control API request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// EngineStatus is the scheduler state reported by the daemon.
type EngineStatus = engine.Status

// CycleRecord describes one completed synchronization cycle.
type CycleRecord = engine.CycleRecord

// MetricsSnapshot is the collector payload.
type MetricsSnapshot = metrics.Snapshot

// InspectSnapshot captures the last world snapshot, the records synthesized
// from it, and the recent cycle history.
type InspectSnapshot struct {
	World    *state.World          `json:"world,omitempty"`
	Displays []synth.DisplayRecord `json:"displays,omitempty"`
	Windows  []synth.WindowRecord  `json:"windows,omitempty"`
	History  []CycleRecord         `json:"history,omitempty"`
}

// DefaultSocketPath returns the expected location of the control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv("GEOMSYNC_CONTROL_SOCKET"); env != "" {
		return env, nil
	}
	if path, err := ipc.SocketPath("", ipc.ControlSocketName); err == nil {
		return path, nil
	}
	return filepath.Join(os.TempDir(), "geomsync", ipc.ControlSocketName), nil
}
