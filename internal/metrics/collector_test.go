package metrics

import (
	"testing"
	"time"
)

func TestCollectorRecordsCounters(t *testing.T) {
	c := NewCollector(true)
	c.Inc(CyclesScheduled)
	c.Inc(CyclesDelivered)
	c.Add(Records, 40)
	c.Add(Batches, 0)
	c.RecordDelivery(2, 15)
	c.RecordDelivery(2, 25)
	c.RecordDelivery(1, 3)
	snap := c.Snapshot()
	if !snap.Enabled {
		t.Fatalf("expected snapshot to be enabled")
	}
	if snap.Value(CyclesScheduled) != 1 || snap.Value(CyclesDelivered) != 1 || snap.Value(Records) != 40 {
		t.Fatalf("unexpected counters: %#v", snap.Counters)
	}
	if snap.Value(Batches) != 0 {
		t.Fatalf("zero add should not create a counter: %#v", snap.Counters)
	}
	if len(snap.Displays) != 2 {
		t.Fatalf("expected two displays in snapshot, got %d", len(snap.Displays))
	}
	if snap.Displays[0].DisplayID != 1 || snap.Displays[1].DisplayID != 2 {
		t.Fatalf("expected displays sorted by id: %#v", snap.Displays)
	}
	display := snap.Displays[1]
	if display.Deliveries != 2 || display.Records != 40 {
		t.Fatalf("unexpected display counters: %#v", display)
	}
	if display.LastDelivered.IsZero() {
		t.Fatalf("expected timestamp to be recorded: %#v", display)
	}
}

func TestCollectorToggle(t *testing.T) {
	c := NewCollector(false)
	c.Inc(CyclesSkipped)
	if snap := c.Snapshot(); snap.Enabled || len(snap.Counters) != 0 {
		t.Fatalf("expected disabled snapshot: %#v", snap)
	}
	c.SetEnabled(true)
	c.Inc(CyclesSkipped)
	c.Inc(DeliveryErrors)
	snap := c.Snapshot()
	if !snap.Enabled || snap.Value(CyclesSkipped) != 1 || snap.Value(DeliveryErrors) != 1 {
		t.Fatalf("unexpected enabled snapshot: %#v", snap)
	}
	c.SetEnabled(false)
	snap = c.Snapshot()
	if snap.Enabled {
		t.Fatalf("expected disabled after toggle")
	}
	if !snap.Started.IsZero() {
		t.Fatalf("expected started timestamp reset, got %v", snap.Started)
	}
	time.Sleep(10 * time.Millisecond)
	c.SetEnabled(true)
	c.Inc(CyclesSkipped)
	snap = c.Snapshot()
	if snap.Value(CyclesSkipped) != 1 {
		t.Fatalf("expected counters to reset after re-enable: %#v", snap)
	}
}

func TestNilCollectorIsInert(t *testing.T) {
	var c *Collector
	c.Inc(Records)
	c.RecordDelivery(0, 1)
	if c.Enabled() {
		t.Fatalf("nil collector reported enabled")
	}
	if snap := c.Snapshot(); snap.Enabled || snap.Counters != nil {
		t.Fatalf("expected empty snapshot, got %#v", snap)
	}
}
