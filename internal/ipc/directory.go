package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/geomsync/geomsync/internal/geom"
	"github.com/geomsync/geomsync/internal/state"
)

const defaultQueryTimeout = 2 * time.Second

// Client queries the window manager's directory socket. Each query dials,
// writes the topic and reads a JSON document until EOF.
type Client struct {
	Path    string
	Timeout time.Duration
}

// NewClient returns a directory client for the socket at path.
func NewClient(path string) *Client {
	return &Client{Path: path, Timeout: defaultQueryTimeout}
}

func (c *Client) queryJSON(ctx context.Context, topic string) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", c.Path)
	if err != nil {
		return nil, fmt.Errorf("connect directory socket: %w", unavailable(err))
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte("j/" + topic + "\n")); err != nil {
		return nil, fmt.Errorf("query %s: %w", topic, err)
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", topic, err)
	}
	return data, nil
}

type rawWindow struct {
	ID                int32                 `json:"id"`
	ParentID          int32                 `json:"parentId"`
	PID               int32                 `json:"pid"`
	UID               int32                 `json:"uid"`
	DisplayID         uint64                `json:"displayId"`
	SurfaceNodeID     uint64                `json:"surfaceNodeId"`
	Type              string                `json:"type"`
	At                []int32               `json:"at"`
	Size              []int32               `json:"size"`
	ZOrder            uint32                `json:"zOrder"`
	Visible           bool                  `json:"visible"`
	Scale             *geom.Vec             `json:"scale"`
	Pivot             geom.Vec              `json:"pivot"`
	Rotation          float32               `json:"rotation"`
	CounterRotate     bool                  `json:"counterRotate"`
	ExtensionPosition *geom.Point           `json:"extensionPosition"`
	HotAreas          []geom.Rect           `json:"hotAreas"`
	ResizeEnabled     bool                  `json:"resizeEnabled"`
	Limits            state.Limits          `json:"limits"`
	CustomResizeZones bool                  `json:"customResizeZones"`
	Untouchable       bool                  `json:"untouchable"`
	Privacy           bool                  `json:"privacy"`
	HandwritingOnly   bool                  `json:"handwritingOnly"`
	Decorated         bool                  `json:"decorated"`
	Modal             bool                  `json:"modal"`
	Topmost           bool                  `json:"topmost"`
	ForceHidden       bool                  `json:"forceHidden"`
	ModalExtension    *state.ModalExtension `json:"modalExtension"`
}

// ListWindows returns all windows in directory order.
func (c *Client) ListWindows(ctx context.Context) ([]state.Window, error) {
	data, err := c.queryJSON(ctx, "windows")
	if err != nil {
		return nil, err
	}
	var raw []rawWindow
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode windows: %w", err)
	}
	windows := make([]state.Window, 0, len(raw))
	for _, rw := range raw {
		typ, err := state.ParseWindowType(rw.Type)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", rw.ID, err)
		}
		w := state.Window{
			ID:                rw.ID,
			ParentID:          rw.ParentID,
			OwnerPID:          rw.PID,
			OwnerUID:          rw.UID,
			DisplayID:         rw.DisplayID,
			SurfaceNodeID:     rw.SurfaceNodeID,
			Type:              typ,
			ZOrder:            rw.ZOrder,
			Visible:           rw.Visible,
			Scale:             geom.Unit,
			Pivot:             rw.Pivot,
			Rotation:          rw.Rotation,
			CounterRotate:     rw.CounterRotate,
			ExtensionPosition: rw.ExtensionPosition,
			HotAreas:          rw.HotAreas,
			ResizeEnabled:     rw.ResizeEnabled,
			Limits:            rw.Limits,
			CustomResizeZones: rw.CustomResizeZones,
			Untouchable:       rw.Untouchable,
			Privacy:           rw.Privacy,
			HandwritingOnly:   rw.HandwritingOnly,
			Decorated:         rw.Decorated,
			Modal:             rw.Modal,
			Topmost:           rw.Topmost,
			ForceHidden:       rw.ForceHidden,
			ModalExtension:    rw.ModalExtension,
		}
		if rw.Scale != nil {
			w.Scale = *rw.Scale
		}
		if len(rw.At) == 2 {
			w.Rect.X, w.Rect.Y = rw.At[0], rw.At[1]
		}
		if len(rw.Size) == 2 {
			w.Rect.Width, w.Rect.Height = rw.Size[0], rw.Size[1]
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// ListDisplays returns display properties keyed by id.
func (c *Client) ListDisplays(ctx context.Context) (map[uint64]state.Display, error) {
	data, err := c.queryJSON(ctx, "displays")
	if err != nil {
		return nil, err
	}
	var raw []state.Display
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode displays: %w", err)
	}
	displays := make(map[uint64]state.Display, len(raw))
	for _, d := range raw {
		if !d.Rotation.Valid() {
			return nil, fmt.Errorf("display %d: invalid rotation %d", d.ID, d.Rotation)
		}
		displays[d.ID] = d
	}
	return displays, nil
}

// ParseSecureSurfaces decodes a secure-surface report keyed by surface node.
func ParseSecureSurfaces(payload string) (map[uint64][]state.SecureSurfaceRect, error) {
	var report map[uint64][]state.SecureSurfaceRect
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("decode secure surfaces: %w", err)
	}
	return report, nil
}

// unavailable marks a missing or refusing socket as state.ErrUnavailable.
func unavailable(err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) {
		return fmt.Errorf("%w: %v", state.ErrUnavailable, err)
	}
	return err
}

var _ state.DataSource = (*Client)(nil)
