package metrics

import (
	"sort"
	"sync"
	"time"
)

// Counter names one pipeline counter.
type Counter string

const (
	CyclesScheduled   Counter = "cyclesScheduled"
	CyclesDelivered   Counter = "cyclesDelivered"
	CyclesSkipped     Counter = "cyclesSkipped"
	CyclesNoOp        Counter = "cyclesNoOp"
	DeliveryErrors    Counter = "deliveryErrors"
	Batches           Counter = "batches"
	Records           Counter = "records"
	HotAreasTruncated Counter = "hotAreasTruncated"
	RectOverflows     Counter = "rectOverflows"
	DegenerateWindows Counter = "degenerateWindows"
	MissingDisplays   Counter = "missingDisplays"
)

// Collector aggregates counters for synchronization cycles.
type Collector struct {
	mu       sync.RWMutex
	enabled  bool
	started  time.Time
	counters map[Counter]uint64
	displays map[uint64]*DisplayMetrics
}

// DisplayMetrics captures per-display delivery counters.
type DisplayMetrics struct {
	DisplayID     uint64    `json:"displayId"`
	Records       uint64    `json:"records"`
	Deliveries    uint64    `json:"deliveries"`
	LastDelivered time.Time `json:"lastDelivered,omitempty"`
}

// CounterValue is one named counter in a snapshot.
type CounterValue struct {
	Name  Counter `json:"name"`
	Value uint64  `json:"value"`
}

// Snapshot is the serializable view of the current metrics state.
type Snapshot struct {
	Enabled  bool             `json:"enabled"`
	Started  time.Time        `json:"started,omitempty"`
	Counters []CounterValue   `json:"counters,omitempty"`
	Displays []DisplayMetrics `json:"displays,omitempty"`
}

// Value returns the named counter from the snapshot, or zero.
func (s Snapshot) Value(name Counter) uint64 {
	for _, c := range s.Counters {
		if c.Name == name {
			return c.Value
		}
	}
	return 0
}

// NewCollector returns a collector with the provided opt-in state.
func NewCollector(enabled bool) *Collector {
	c := &Collector{}
	c.SetEnabled(enabled)
	return c
}

// Enabled reports whether collection is currently active.
func (c *Collector) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled toggles collection, resetting counters when enabling.
func (c *Collector) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	if !enabled {
		c.counters = nil
		c.displays = nil
		c.started = time.Time{}
		return
	}
	c.started = time.Now()
	c.counters = make(map[Counter]uint64)
	c.displays = make(map[uint64]*DisplayMetrics)
}

// Inc increments the named counter by one.
func (c *Collector) Inc(name Counter) {
	c.Add(name, 1)
}

// Add increments the named counter by n.
func (c *Collector) Add(name Counter, n uint64) {
	if c == nil || n == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if c.counters == nil {
		c.counters = make(map[Counter]uint64)
	}
	c.counters[name] += n
}

// RecordDelivery accounts records delivered for a display.
func (c *Collector) RecordDelivery(displayID uint64, records int) {
	c.updateDisplay(displayID, func(metrics *DisplayMetrics, now time.Time) {
		metrics.Deliveries++
		metrics.Records += uint64(records)
		metrics.LastDelivered = now
	})
}

func (c *Collector) updateDisplay(displayID uint64, mutate func(*DisplayMetrics, time.Time)) {
	if c == nil || mutate == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if c.displays == nil {
		c.displays = make(map[uint64]*DisplayMetrics)
	}
	metrics, exists := c.displays[displayID]
	if !exists {
		metrics = &DisplayMetrics{DisplayID: displayID}
		c.displays[displayID] = metrics
	}
	mutate(metrics, now)
}

// Snapshot returns the current counters for serialization or display.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Enabled: c.enabled}
	if !c.enabled {
		return snap
	}
	snap.Started = c.started
	if len(c.counters) > 0 {
		snap.Counters = make([]CounterValue, 0, len(c.counters))
		for name, value := range c.counters {
			snap.Counters = append(snap.Counters, CounterValue{Name: name, Value: value})
		}
		sort.Slice(snap.Counters, func(i, j int) bool {
			return snap.Counters[i].Name < snap.Counters[j].Name
		})
	}
	if len(c.displays) > 0 {
		snap.Displays = make([]DisplayMetrics, 0, len(c.displays))
		for _, metrics := range c.displays {
			if metrics == nil {
				continue
			}
			snap.Displays = append(snap.Displays, *metrics)
		}
		sort.Slice(snap.Displays, func(i, j int) bool {
			return snap.Displays[i].DisplayID < snap.Displays[j].DisplayID
		})
	}
	return snap
}
