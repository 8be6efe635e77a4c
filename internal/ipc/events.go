package ipc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/geomsync/geomsync/internal/util"
)

// Event kinds emitted by the window manager event stream.
const (
	EventWindowChanged  = "windowchanged"
	EventDisplayChanged = "displaychanged"
	EventSecureSurface  = "securesurface"
	EventAttach         = "attach"
	EventLock           = "lock"
)

// Event represents one `kind>>payload` line from the event stream.
type Event struct {
	Kind    string
	Payload string
}

// ParseEvent splits a raw event line.
func ParseEvent(line string) Event {
	parts := strings.SplitN(line, ">>", 2)
	ev := Event{Kind: parts[0]}
	if len(parts) == 2 {
		ev.Payload = parts[1]
	}
	return ev
}

// Subscribe connects to the event socket at path and streams events until
// context cancellation or end of stream.
func Subscribe(ctx context.Context, path string, logger *util.Logger) (<-chan Event, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connect event socket: %w", unavailable(err))
	}
	events := make(chan Event)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			select {
			case events <- ParseEvent(line):
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logger.Warnf("event stream error: %v", err)
		}
	}()
	return events, nil
}

// ParseWindowChange decodes an `id,kind` payload.
func ParseWindowChange(payload string) (int32, string, error) {
	parts := strings.SplitN(payload, ",", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("unexpected window change payload %q", payload)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("parse window id: %w", err)
	}
	return int32(id), strings.TrimSpace(parts[1]), nil
}
