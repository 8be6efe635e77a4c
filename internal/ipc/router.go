package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/geomsync/geomsync/internal/dispatch"
	"github.com/geomsync/geomsync/internal/synth"
)

// SocketRouter delivers record messages to the input service socket as
// `replace {json}` and `incremental {json}` lines.
type SocketRouter struct {
	path string
}

// NewSocketRouter returns a router writing to the socket at path.
func NewSocketRouter(path string) *SocketRouter {
	return &SocketRouter{path: path}
}

// Path returns the socket path.
func (r *SocketRouter) Path() string {
	return r.path
}

// ReplaceAll implements dispatch.InputRouter.
func (r *SocketRouter) ReplaceAll(ctx context.Context, displays []synth.DisplayRecord, windows []synth.WindowRecord) error {
	return r.DeliverBatch(ctx, []dispatch.Message{{Kind: dispatch.KindReplaceAll, Displays: displays, Windows: windows}})
}

// ApplyIncremental implements dispatch.InputRouter.
func (r *SocketRouter) ApplyIncremental(ctx context.Context, displayID uint64, windows []synth.WindowRecord) error {
	return r.DeliverBatch(ctx, []dispatch.Message{{Kind: dispatch.KindIncremental, DisplayID: displayID, Windows: windows}})
}

// DeliverBatch writes every message of a cycle over one connection.
func (r *SocketRouter) DeliverBatch(ctx context.Context, msgs []dispatch.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		line, err := encodeMessage(m)
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", r.path)
	if err != nil {
		return fmt.Errorf("connect router socket: %w", unavailable(err))
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	// Multi-message cycles are framed so the input service applies them
	// atomically.
	var payload string
	if len(lines) == 1 {
		payload = lines[0] + "\n"
	} else {
		var b strings.Builder
		totalLen := len("begin\n") + len("commit\n")
		for _, line := range lines {
			totalLen += len(line) + 1
		}
		b.Grow(totalLen)
		b.WriteString("begin\n")
		for _, line := range lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteString("commit\n")
		payload = b.String()
	}
	if _, err := conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("write router payload: %w", err)
	}
	return nil
}

func encodeMessage(m dispatch.Message) (string, error) {
	var verb string
	var body any
	switch m.Kind {
	case dispatch.KindReplaceAll:
		verb = "replace"
		body = struct {
			Displays []synth.DisplayRecord `json:"displays"`
			Windows  []synth.WindowRecord  `json:"windows"`
		}{m.Displays, m.Windows}
	case dispatch.KindIncremental:
		verb = "incremental"
		body = struct {
			DisplayID uint64               `json:"displayId"`
			Windows   []synth.WindowRecord `json:"windows"`
		}{m.DisplayID, m.Windows}
	default:
		return "", fmt.Errorf("unknown message kind %d", m.Kind)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode %s message: %w", verb, err)
	}
	return verb + " " + string(data), nil
}

var (
	_ dispatch.InputRouter = (*SocketRouter)(nil)
	_ dispatch.BatchRouter = (*SocketRouter)(nil)
)
