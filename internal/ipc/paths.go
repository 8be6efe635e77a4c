package ipc

import (
	"fmt"
	"os"
	"path/filepath"
)

// Default socket names under the runtime directory.
const (
	DirectorySocketName = "directory.sock"
	EventsSocketName    = "events.sock"
	RouterSocketName    = "router.sock"
	ControlSocketName   = "control.sock"
)

// RuntimeDir returns the directory holding the compositor-side sockets.
// GEOMSYNC_RUNTIME_DIR overrides XDG_RUNTIME_DIR/geomsync.
func RuntimeDir() (string, error) {
	if dir := os.Getenv("GEOMSYNC_RUNTIME_DIR"); dir != "" {
		return dir, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", fmt.Errorf("XDG_RUNTIME_DIR not set")
	}
	return filepath.Join(runtimeDir, "geomsync"), nil
}

// SocketPath resolves override, or name under RuntimeDir when override is empty.
func SocketPath(override, name string) (string, error) {
	if override != "" {
		return override, nil
	}
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
