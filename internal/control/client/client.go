package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/geomsync/geomsync/internal/control"
)

const (
	// defaultTimeout is used when the caller does not provide a context deadline.
	defaultTimeout = 3 * time.Second
)

// Client talks to the running geomsync daemon over its control socket.
type Client struct {
	socketPath string
}

type (
	// EngineStatus mirrors the scheduler status returned by the daemon.
	EngineStatus = control.EngineStatus
	// CycleRecord describes a synchronization cycle run by the daemon.
	CycleRecord = control.CycleRecord
	// InspectSnapshot captures the daemon's inspect payload.
	InspectSnapshot = control.InspectSnapshot
	// MetricsSnapshot mirrors the telemetry counters returned by the daemon.
	MetricsSnapshot = control.MetricsSnapshot
)

// New creates a client that connects to the provided socket path. When path is
// empty, the default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// Status retrieves the scheduler state and the most recent cycle.
func (c *Client) Status(ctx context.Context) (EngineStatus, error) {
	var status EngineStatus
	if err := c.do(ctx, control.Request{Action: control.ActionStatus}, &status); err != nil {
		return EngineStatus{}, err
	}
	return status, nil
}

// Sync runs a cycle immediately. Unchanged record sets are skipped unless
// force is set, in which case the full set is redelivered.
func (c *Client) Sync(ctx context.Context, force bool) (CycleRecord, error) {
	action := control.ActionSync
	if force {
		action = control.ActionSyncForce
	}
	return c.cycle(ctx, action)
}

// FlushEmpty delivers the displays with an empty window set.
func (c *Client) FlushEmpty(ctx context.Context) (CycleRecord, error) {
	return c.cycle(ctx, control.ActionFlushEmpty)
}

func (c *Client) cycle(ctx context.Context, action string) (CycleRecord, error) {
	var rec CycleRecord
	if err := c.do(ctx, control.Request{Action: action}, &rec); err != nil {
		return CycleRecord{}, err
	}
	return rec, nil
}

// Inspect retrieves the daemon's last world snapshot, records and cycle history.
func (c *Client) Inspect(ctx context.Context) (InspectSnapshot, error) {
	var snapshot InspectSnapshot
	if err := c.do(ctx, control.Request{Action: control.ActionInspect}, &snapshot); err != nil {
		return InspectSnapshot{}, err
	}
	return snapshot, nil
}

// Metrics retrieves the telemetry counters.
func (c *Client) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	var snapshot MetricsSnapshot
	if err := c.do(ctx, control.Request{Action: control.ActionMetrics}, &snapshot); err != nil {
		return MetricsSnapshot{}, err
	}
	return snapshot, nil
}

// Reload asks the daemon to reload its configuration.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionReload}, nil)
}

func (c *Client) do(ctx context.Context, req control.Request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != control.StatusOK {
		if resp.Error == "" {
			resp.Error = "unknown control error"
		}
		return errors.New(resp.Error)
	}
	if out == nil || resp.Data == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
