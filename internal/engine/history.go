package engine

import (
	"sync"
	"time"
)

// CycleMode names how a synchronization cycle was requested.
type CycleMode string

const (
	CycleModeDebounced  CycleMode = "debounced"
	CycleModeForced     CycleMode = "forced"
	CycleModeAttach     CycleMode = "attach"
	CycleModeFlushEmpty CycleMode = "flush-empty"

	cycleHistoryLimit = 128
)

// CycleOutcome is the terminal state of a cycle.
type CycleOutcome string

const (
	CycleOutcomeDelivered CycleOutcome = "delivered"
	CycleOutcomeSkipped   CycleOutcome = "skipped"
	CycleOutcomeNoOp      CycleOutcome = "no-op"
	CycleOutcomeFailed    CycleOutcome = "failed"
)

// CycleRecord captures one completed synchronization cycle.
type CycleRecord struct {
	ID       string        `json:"id"`
	Mode     CycleMode     `json:"mode"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Outcome  CycleOutcome  `json:"outcome"`
	Windows  int           `json:"windows"`
	Displays int           `json:"displays"`
	Batches  int           `json:"batches,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type cycleHistory struct {
	mu       sync.Mutex
	buf      []CycleRecord
	start    int
	count    int
	capacity int
}

func newCycleHistory(limit int) *cycleHistory {
	if limit <= 0 {
		limit = cycleHistoryLimit
	}
	return &cycleHistory{
		buf:      make([]CycleRecord, limit),
		capacity: limit,
	}
}

func (h *cycleHistory) add(record CycleRecord) {
	if h == nil || h.capacity == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count < h.capacity {
		idx := (h.start + h.count) % h.capacity
		h.buf[idx] = record
		h.count++
		return
	}
	h.buf[h.start] = record
	h.start = (h.start + 1) % h.capacity
}

func (h *cycleHistory) snapshot() []CycleRecord {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return nil
	}
	out := make([]CycleRecord, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(h.start+i)%h.capacity]
	}
	return out
}

func (h *cycleHistory) last() (CycleRecord, bool) {
	if h == nil {
		return CycleRecord{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return CycleRecord{}, false
	}
	return h.buf[(h.start+h.count-1)%h.capacity], true
}

// resize changes the capacity, keeping the newest records that fit.
func (h *cycleHistory) resize(limit int) {
	if h == nil || limit <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit == h.capacity {
		return
	}
	keep := h.count
	if keep > limit {
		keep = limit
	}
	buf := make([]CycleRecord, limit)
	for i := 0; i < keep; i++ {
		buf[i] = h.buf[(h.start+h.count-keep+i)%h.capacity]
	}
	h.buf, h.start, h.count, h.capacity = buf, 0, keep, limit
}
