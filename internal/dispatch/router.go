package dispatch

import (
	"context"
	"errors"

	"github.com/geomsync/geomsync/internal/synth"
)

// ErrBatchUnsupported is returned by a BatchRouter that cannot take the cycle
// as one framed call. The dispatcher falls back to per-message delivery.
var ErrBatchUnsupported = errors.New("router does not accept framed batches")

// InputRouter is the input-routing boundary that consumes hit-test records.
type InputRouter interface {
	ReplaceAll(ctx context.Context, displays []synth.DisplayRecord, windows []synth.WindowRecord) error
	ApplyIncremental(ctx context.Context, displayID uint64, windows []synth.WindowRecord) error
}

// BatchRouter is implemented by routers that can receive every message of a
// cycle in one framed delivery.
type BatchRouter interface {
	DeliverBatch(ctx context.Context, msgs []Message) error
}

// MessageKind distinguishes full replacement from incremental messages.
type MessageKind int

const (
	KindReplaceAll MessageKind = iota + 1
	KindIncremental
)

func (k MessageKind) String() string {
	switch k {
	case KindReplaceAll:
		return "replace"
	case KindIncremental:
		return "incremental"
	default:
		return "unknown"
	}
}

// Message is one size-bounded delivery within a cycle.
type Message struct {
	Kind      MessageKind           `json:"kind"`
	DisplayID uint64                `json:"displayId,omitempty"`
	Displays  []synth.DisplayRecord `json:"displays,omitempty"`
	Windows   []synth.WindowRecord  `json:"windows"`
}

// Send delivers m through r.
func (m Message) Send(ctx context.Context, r InputRouter) error {
	if m.Kind == KindIncremental {
		return r.ApplyIncremental(ctx, m.DisplayID, m.Windows)
	}
	return r.ReplaceAll(ctx, m.Displays, m.Windows)
}
