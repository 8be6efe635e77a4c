package state

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/geomsync/geomsync/internal/geom"
)

// ErrUnavailable reports that a collaborator has been torn down.
var ErrUnavailable = errors.New("collaborator unavailable")

// WindowType classifies a window for hot-zone and counter-rotation policy.
type WindowType int

const (
	WindowTypeAppMain WindowType = iota + 1
	WindowTypeAppSub
	WindowTypeDialog
	WindowTypePip
	WindowTypeFloat
	WindowTypeSystemOverlay
	WindowTypeStatusBar
	WindowTypeInputMethod
)

var windowTypeNames = map[WindowType]string{
	WindowTypeAppMain:       "app-main",
	WindowTypeAppSub:        "app-sub",
	WindowTypeDialog:        "dialog",
	WindowTypePip:           "pip",
	WindowTypeFloat:         "float",
	WindowTypeSystemOverlay: "system-overlay",
	WindowTypeStatusBar:     "status-bar",
	WindowTypeInputMethod:   "input-method",
}

func (t WindowType) String() string {
	if name, ok := windowTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("window-type(%d)", int(t))
}

// ParseWindowType resolves a window type name as reported by the window manager.
func ParseWindowType(name string) (WindowType, error) {
	for t, n := range windowTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown window type %q", name)
}

// Rotation is a display rotation in degrees.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// Valid reports whether r is one of the four supported quadrants.
func (r Rotation) Valid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	default:
		return false
	}
}

// Next returns the rotation a quarter turn clockwise from r.
func (r Rotation) Next() Rotation {
	return Rotation((int(r) + 90) % 360)
}

// FoldMode describes the folding posture of a foldable display.
type FoldMode int

const (
	FoldModeUnknown FoldMode = iota
	FoldModeExpanded
	FoldModeFolded
	FoldModeHalfFolded
)

// Limits are the window's size constraints in pixels. A zero maximum means
// the dimension is unbounded.
type Limits struct {
	MinWidth  uint32 `json:"minWidth"`
	MaxWidth  uint32 `json:"maxWidth"`
	MinHeight uint32 `json:"minHeight"`
	MaxHeight uint32 `json:"maxHeight"`
}

// WidthFixed reports whether the window cannot be resized horizontally.
func (l Limits) WidthFixed() bool { return l.MaxWidth != 0 && l.MinWidth == l.MaxWidth }

// HeightFixed reports whether the window cannot be resized vertically.
func (l Limits) HeightFixed() bool { return l.MaxHeight != 0 && l.MinHeight == l.MaxHeight }

// ModalExtension is a cross-process UI subtree owning input for part of its host.
type ModalExtension struct {
	ID     int32     `json:"id"`
	PID    int32     `json:"pid"`
	Rect   geom.Rect `json:"rect"` // host-local
	Active bool      `json:"active"`
}

// Window describes one window as tracked by the window directory.
type Window struct {
	ID            int32      `json:"id"`
	ParentID      int32      `json:"parentId,omitempty"`
	OwnerPID      int32      `json:"pid"`
	OwnerUID      int32      `json:"uid"`
	DisplayID     uint64     `json:"displayId"`
	SurfaceNodeID uint64     `json:"surfaceNodeId,omitempty"`
	Type          WindowType `json:"type"`
	Rect          geom.Rect  `json:"rect"`
	ZOrder        uint32     `json:"zOrder"`
	Visible       bool       `json:"visible"`

	Scale             geom.Vec    `json:"scale"`
	Pivot             geom.Vec    `json:"pivot"`
	Rotation          float32     `json:"rotation,omitempty"`
	CounterRotate     bool        `json:"counterRotate,omitempty"`
	ExtensionPosition *geom.Point `json:"extensionPosition,omitempty"`

	HotAreas          []geom.Rect `json:"hotAreas,omitempty"`
	ResizeEnabled     bool        `json:"resizeEnabled,omitempty"`
	Limits            Limits      `json:"limits"`
	CustomResizeZones bool        `json:"customResizeZones,omitempty"`

	Untouchable     bool `json:"untouchable,omitempty"`
	Privacy         bool `json:"privacy,omitempty"`
	HandwritingOnly bool `json:"handwritingOnly,omitempty"`
	Decorated       bool `json:"decorated,omitempty"`

	Modal          bool            `json:"modal,omitempty"`
	Topmost        bool            `json:"topmost,omitempty"`
	ForceHidden    bool            `json:"forceHidden,omitempty"`
	ModalExtension *ModalExtension `json:"modalExtension,omitempty"`
}

// SingleHand describes the single-hand mode shrink applied to a display.
type SingleHand struct {
	Scale   float32 `json:"scale"`
	OffsetX int32   `json:"offsetX"`
	OffsetY int32   `json:"offsetY"`
}

// Display describes a physical or virtual display.
type Display struct {
	ID          uint64      `json:"id"`
	Bounds      geom.Rect   `json:"bounds"`
	Density     float32     `json:"density"`
	Rotation    Rotation    `json:"rotation"`
	FoldMode    FoldMode    `json:"foldMode"`
	Scale       geom.Vec    `json:"scale"`
	Pivot       geom.Vec    `json:"pivot"`
	Untouchable bool        `json:"untouchable,omitempty"`
	SingleHand  *SingleHand `json:"singleHand,omitempty"`
}

// World is one consistent snapshot of windows, displays and secure surfaces.
type World struct {
	Windows        []Window                       `json:"windows"`
	Displays       map[uint64]Display             `json:"displays"`
	SecureSurfaces map[uint64][]SecureSurfaceRect `json:"secureSurfaces,omitempty"`
}

// WindowDirectory supplies the live window set in directory order.
type WindowDirectory interface {
	ListWindows(ctx context.Context) ([]Window, error)
}

// DisplayRegistry supplies per-display properties.
type DisplayRegistry interface {
	ListDisplays(ctx context.Context) (map[uint64]Display, error)
}

// DataSource abstracts queries required to build the world snapshot.
type DataSource interface {
	WindowDirectory
	DisplayRegistry
}

// NewWorld creates a world snapshot using the provided data source. Secure
// surface rects are copied out for the surface nodes present in the snapshot.
func NewWorld(ctx context.Context, src DataSource, secure *SecureSurfaces) (*World, error) {
	if src == nil {
		return nil, ErrUnavailable
	}
	windows, err := src.ListWindows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	displays, err := src.ListDisplays(ctx)
	if err != nil {
		return nil, fmt.Errorf("list displays: %w", err)
	}
	world := &World{
		Windows:  windows,
		Displays: displays,
	}
	nodes := make([]uint64, 0, len(windows))
	for i := range world.Windows {
		w := &world.Windows[i]
		if w.Scale == (geom.Vec{}) {
			w.Scale = geom.Unit
		}
		if w.SurfaceNodeID != 0 {
			nodes = append(nodes, w.SurfaceNodeID)
		}
	}
	for id, d := range world.Displays {
		if d.Scale == (geom.Vec{}) {
			d.Scale = geom.Unit
			world.Displays[id] = d
		}
	}
	world.SecureSurfaces = secure.Lookup(nodes)
	return world, nil
}

// FindWindow returns the window with id, or nil.
func (w *World) FindWindow(id int32) *Window {
	for i := range w.Windows {
		if w.Windows[i].ID == id {
			return &w.Windows[i]
		}
	}
	return nil
}

// Display returns the display with id.
func (w *World) Display(id uint64) (Display, bool) {
	d, ok := w.Displays[id]
	return d, ok
}

// DisplayIDs returns registered display ids in ascending order.
func (w *World) DisplayIDs() []uint64 {
	ids := make([]uint64, 0, len(w.Displays))
	for id := range w.Displays {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CloneWorld returns a deep copy of the provided world snapshot.
func CloneWorld(src *World) *World {
	if src == nil {
		return nil
	}
	copyWorld := &World{}
	if len(src.Windows) > 0 {
		copyWorld.Windows = make([]Window, len(src.Windows))
		for i, win := range src.Windows {
			copyWorld.Windows[i] = cloneWindow(win)
		}
	}
	if src.Displays != nil {
		copyWorld.Displays = make(map[uint64]Display, len(src.Displays))
		for id, d := range src.Displays {
			if d.SingleHand != nil {
				sh := *d.SingleHand
				d.SingleHand = &sh
			}
			copyWorld.Displays[id] = d
		}
	}
	copyWorld.SecureSurfaces = cloneSecureMap(src.SecureSurfaces)
	return copyWorld
}

func cloneWindow(w Window) Window {
	if len(w.HotAreas) > 0 {
		w.HotAreas = append([]geom.Rect(nil), w.HotAreas...)
	}
	if w.ExtensionPosition != nil {
		p := *w.ExtensionPosition
		w.ExtensionPosition = &p
	}
	if w.ModalExtension != nil {
		ext := *w.ModalExtension
		w.ModalExtension = &ext
	}
	return w
}
