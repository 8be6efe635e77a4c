package synth

import (
	"fmt"
	"strings"

	"github.com/geomsync/geomsync/internal/geom"
	"github.com/geomsync/geomsync/internal/state"
)

// Flag is a bitset of per-record input properties.
type Flag uint32

const (
	FlagUntouchable Flag = 1 << iota
	FlagPrivacy
	FlagHandwritingOnly
	FlagSecureComponent
	FlagSynthetic
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagUntouchable, "untouchable"},
	{FlagPrivacy, "privacy"},
	{FlagHandwritingOnly, "handwriting"},
	{FlagSecureComponent, "secure"},
	{FlagSynthetic, "synthetic"},
}

// Has reports whether every bit of other is set.
func (f Flag) Has(other Flag) bool { return f&other == other }

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range flagNames {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Action is the protocol marker assigned by the dispatcher.
type Action uint8

const (
	ActionNone Action = iota
	ActionAdd
	ActionChange
	ActionAddEnd
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "NONE"
	case ActionAdd:
		return "ADD"
	case ActionChange:
		return "CHANGE"
	case ActionAddEnd:
		return "ADD_END"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Resize zone indexes.
const (
	ZoneTopLeft = iota
	ZoneTop
	ZoneTopRight
	ZoneRight
	ZoneBottomRight
	ZoneBottom
	ZoneBottomLeft
	ZoneLeft
	zoneCount
)

// ResizeZones holds edge and corner drag widths in pixels.
type ResizeZones [zoneCount]int32

// WindowRecord is the hit-test record delivered for one window or synthetic
// sub-surface. Transform maps screen points into window-local space.
type WindowRecord struct {
	ID               int32          `json:"id"`
	OwnerPID         int32          `json:"pid"`
	OwnerUID         int32          `json:"uid"`
	ScreenRect       geom.Rect      `json:"screenRect"`
	DefaultHotAreas  []geom.Rect    `json:"defaultHotAreas"`
	PointerHotAreas  []geom.Rect    `json:"pointerHotAreas"`
	ResizeZones      ResizeZones    `json:"resizeZones"`
	Transform        [9]float32     `json:"transform"`
	RoutingTargetID  int32          `json:"routingTargetId"`
	RoutingTargetPID int32          `json:"routingTargetPid"`
	ZOrder           float32        `json:"zOrder"`
	DisplayID        uint64         `json:"displayId"`
	Flags            Flag           `json:"flags"`
	Action           Action         `json:"action"`
	EmbeddedRecords  []WindowRecord `json:"embedded,omitempty"`
}

// HotAreaCount is the number of hit-test rects carried by the record.
func (r WindowRecord) HotAreaCount() int {
	return len(r.DefaultHotAreas)
}

// DisplayRecord is the per-display geometry delivered with every full replace.
type DisplayRecord struct {
	ID               uint64         `json:"id"`
	X                int32          `json:"x"`
	Y                int32          `json:"y"`
	Width            int32          `json:"width"`
	Height           int32          `json:"height"`
	Density          float32        `json:"density"`
	Rotation         state.Rotation `json:"rotation"`
	FoldMode         state.FoldMode `json:"foldMode"`
	Transform        [9]float32     `json:"transform"`
	SingleHandOffset *geom.Point    `json:"singleHandOffset,omitempty"`
}

// Result is one synthesized record set.
type Result struct {
	Displays []DisplayRecord
	Windows  []WindowRecord
}

// Empty returns the result with its window set cleared.
func (r Result) Empty() Result {
	return Result{Displays: r.Displays}
}
