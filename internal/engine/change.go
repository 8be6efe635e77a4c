package engine

import (
	"fmt"
	"strings"
)

// ChangeKind classifies a geometry-relevant mutation.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota + 1
	ChangeRemove
	ChangeMove
	ChangeResize
	ChangeProperty
	ChangeDisplay
	ChangeSecureSurface
)

var changeKindNames = map[ChangeKind]string{
	ChangeAdd:           "add",
	ChangeRemove:        "remove",
	ChangeMove:          "move",
	ChangeResize:        "resize",
	ChangeProperty:      "property",
	ChangeDisplay:       "display",
	ChangeSecureSurface: "secure",
}

func (k ChangeKind) String() string {
	if name, ok := changeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("change(%d)", int(k))
}

// ParseChangeKind resolves a change kind name from the event stream.
func ParseChangeKind(name string) (ChangeKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range changeKindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown change kind %q", name)
}

// ChangeFlag carries extra detail about a mutation. It is recorded in traces
// only; every change marks the whole set dirty.
type ChangeFlag uint32

const (
	ChangeFlagVisibility ChangeFlag = 1 << iota
	ChangeFlagZOrder
	ChangeFlagHotAreas
	ChangeFlagTransform
)
