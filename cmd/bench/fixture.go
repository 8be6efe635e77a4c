package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/geomsync/geomsync/internal/engine"
	"github.com/geomsync/geomsync/internal/geom"
	"github.com/geomsync/geomsync/internal/ipc"
	"github.com/geomsync/geomsync/internal/state"
)

// step is how far a replayed move or resize shifts a window, in pixels.
const step = 12

type benchFixture struct {
	Name     string
	Displays []state.Display
	Windows  []state.Window
	Events   []benchEvent
}

type benchEvent struct {
	Event ipc.Event
	Delay time.Duration
}

// fixtureWindow accepts the window type by name, as the directory reports it.
type fixtureWindow struct {
	state.Window
	Type string `json:"type"`
}

// benchDirectory is an in-memory window directory that replayed events mutate.
type benchDirectory struct {
	mu       sync.Mutex
	windows  []state.Window
	displays map[uint64]state.Display
}

func (f benchFixture) newDirectory() *benchDirectory {
	windows := make([]state.Window, len(f.Windows))
	for i, w := range f.Windows {
		w.HotAreas = append([]geom.Rect(nil), w.HotAreas...)
		windows[i] = w
	}
	displays := make(map[uint64]state.Display, len(f.Displays))
	for _, d := range f.Displays {
		displays[d.ID] = d
	}
	return &benchDirectory{windows: windows, displays: displays}
}

func (b *benchDirectory) ListWindows(context.Context) ([]state.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	windows := make([]state.Window, len(b.windows))
	copy(windows, b.windows)
	return windows, nil
}

func (b *benchDirectory) ListDisplays(context.Context) (map[uint64]state.Display, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	displays := make(map[uint64]state.Display, len(b.displays))
	for id, d := range b.displays {
		displays[id] = d
	}
	return displays, nil
}

// apply performs the directory-side mutation an event reports, so the cycle
// it triggers has something to deliver.
func (b *benchDirectory) apply(ev ipc.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch ev.Kind {
	case ipc.EventWindowChanged:
		id, kindName, err := ipc.ParseWindowChange(ev.Payload)
		if err != nil {
			return err
		}
		kind, err := engine.ParseChangeKind(kindName)
		if err != nil {
			return err
		}
		w := b.window(id)
		if w == nil {
			return nil
		}
		switch kind {
		case engine.ChangeMove:
			w.Rect.X += step
		case engine.ChangeResize:
			w.Rect.Width += step
			w.Rect.Height += step
		case engine.ChangeAdd:
			w.Visible = true
		case engine.ChangeRemove:
			w.Visible = false
		case engine.ChangeProperty:
			w.Privacy = !w.Privacy
		}
	case ipc.EventDisplayChanged:
		id, err := strconv.ParseUint(strings.TrimSpace(ev.Payload), 10, 64)
		if err != nil {
			return fmt.Errorf("parse display id: %w", err)
		}
		if d, ok := b.displays[id]; ok {
			d.Rotation = d.Rotation.Next()
			b.displays[id] = d
		}
	}
	return nil
}

func (b *benchDirectory) window(id int32) *state.Window {
	for i := range b.windows {
		if b.windows[i].ID == id {
			return &b.windows[i]
		}
	}
	return nil
}

// triggersCycle reports whether the engine answers ev with exactly one cycle.
func triggersCycle(ev ipc.Event) bool {
	switch ev.Kind {
	case ipc.EventWindowChanged, ipc.EventDisplayChanged, ipc.EventSecureSurface, ipc.EventAttach, ipc.EventLock:
		return true
	default:
		return false
	}
}

func loadFixture(path string, base benchFixture) (benchFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return benchFixture{}, err
	}
	if strings.ToLower(filepath.Ext(path)) != ".json" && !looksLikeJSON(data) {
		events, err := parseEventLog(string(data))
		if err != nil {
			return benchFixture{}, err
		}
		base.Name = fallback(base.Name, filepath.Base(path))
		base.Events = events
		return base, nil
	}

	var payload struct {
		Name     string          `json:"name"`
		Displays []state.Display `json:"displays"`
		Windows  []fixtureWindow `json:"windows"`
		Events   []struct {
			Kind    string `json:"kind"`
			Payload string `json:"payload"`
			Delay   string `json:"delay"`
		} `json:"events"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return benchFixture{}, err
	}
	fixture := benchFixture{
		Name:     fallback(payload.Name, filepath.Base(path)),
		Displays: payload.Displays,
	}
	for _, fw := range payload.Windows {
		w := fw.Window
		typ, err := state.ParseWindowType(fw.Type)
		if err != nil {
			return benchFixture{}, fmt.Errorf("window %d: %w", w.ID, err)
		}
		w.Type = typ
		if w.Scale == (geom.Vec{}) {
			w.Scale = geom.Unit
		}
		fixture.Windows = append(fixture.Windows, w)
	}
	if len(fixture.Windows) == 0 {
		fixture.Windows = append([]state.Window(nil), base.Windows...)
	}
	if len(fixture.Displays) == 0 {
		fixture.Displays = append([]state.Display(nil), base.Displays...)
	}
	for _, ev := range payload.Events {
		var delay time.Duration
		if ev.Delay != "" {
			d, err := time.ParseDuration(ev.Delay)
			if err != nil {
				return benchFixture{}, fmt.Errorf("parse delay %q: %w", ev.Delay, err)
			}
			delay = d
		}
		fixture.Events = append(fixture.Events, benchEvent{
			Event: ipc.Event{Kind: strings.TrimSpace(ev.Kind), Payload: strings.TrimSpace(ev.Payload)},
			Delay: delay,
		})
	}
	if len(fixture.Events) == 0 {
		if len(base.Events) == 0 {
			return benchFixture{}, errors.New("fixture contains no events")
		}
		fixture.Events = append([]benchEvent(nil), base.Events...)
	}
	return fixture, nil
}

func looksLikeJSON(data []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(data)), "{")
}

// parseEventLog reads `kind>>payload` lines as the event socket emits them.
func parseEventLog(input string) ([]benchEvent, error) {
	lines := strings.Split(input, "\n")
	events := make([]benchEvent, 0, len(lines))
	for idx, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		ev := ipc.ParseEvent(trimmed)
		ev.Kind = strings.TrimSpace(ev.Kind)
		ev.Payload = strings.TrimSpace(ev.Payload)
		if ev.Kind == "" {
			return nil, fmt.Errorf("line %d: missing event kind", idx+1)
		}
		events = append(events, benchEvent{Event: ev})
	}
	if len(events) == 0 {
		return nil, errors.New("event log produced no events")
	}
	return events, nil
}

func defaultFixture() benchFixture {
	hot := make([]geom.Rect, 24)
	for i := range hot {
		hot[i] = geom.Rect{X: int32(i%4) * 200, Y: int32(i/4) * 120, Width: 180, Height: 100}
	}
	return benchFixture{
		Name: "synthetic-phone",
		Displays: []state.Display{{
			ID:      0,
			Bounds:  geom.Rect{Width: 1080, Height: 2340},
			Density: 2.5,
		}},
		Windows: []state.Window{
			{
				ID: 1, OwnerPID: 100, Type: state.WindowTypeStatusBar, Visible: true,
				Rect: geom.Rect{Width: 1080, Height: 96}, ZOrder: 100, Scale: geom.Unit,
			},
			{
				ID: 2, OwnerPID: 200, Type: state.WindowTypeAppMain, Visible: true, SurfaceNodeID: 700,
				Rect: geom.Rect{Y: 96, Width: 1080, Height: 2244}, ZOrder: 10, Scale: geom.Unit,
				ResizeEnabled: true, HotAreas: hot,
			},
			{
				ID: 3, ParentID: 2, OwnerPID: 200, Type: state.WindowTypeDialog, Visible: true, Modal: true,
				Rect: geom.Rect{X: 140, Y: 900, Width: 800, Height: 500}, ZOrder: 20, Scale: geom.Unit,
			},
			{
				ID: 4, OwnerPID: 300, Type: state.WindowTypePip, Visible: true,
				Rect: geom.Rect{X: 600, Y: 1600, Width: 400, Height: 240}, ZOrder: 30, Scale: geom.Unit,
			},
		},
		Events: []benchEvent{
			{Event: ipc.Event{Kind: ipc.EventWindowChanged, Payload: "4,move"}},
			{Event: ipc.Event{Kind: ipc.EventWindowChanged, Payload: "4,resize"}},
			{Event: ipc.Event{Kind: ipc.EventWindowChanged, Payload: "3,remove"}},
			{Event: ipc.Event{Kind: ipc.EventSecureSurface, Payload: `{"700":[{"hostRect":{"x":0,"y":0,"width":540,"height":400},"embeddedRect":{"x":0,"y":0,"width":200,"height":120},"scale":{"x":1,"y":1},"ownerPid":4242}]}`}},
			{Event: ipc.Event{Kind: ipc.EventWindowChanged, Payload: "2,property"}},
			{Event: ipc.Event{Kind: ipc.EventDisplayChanged, Payload: "0"}},
			{Event: ipc.Event{Kind: ipc.EventWindowChanged, Payload: "3,add"}},
			{Event: ipc.Event{Kind: ipc.EventAttach}},
		},
	}
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return def
}
