package client

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/geomsync/geomsync/internal/control"
	"github.com/geomsync/geomsync/internal/engine"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/synth"
)

func startTestServer(t *testing.T, handler func(net.Conn)) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "socket")
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen on unix socket: %v", err)
	}
	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handler(conn)
	}()
	return path
}

// respondTo answers a single request after checking its action.
func respondTo(t *testing.T, action string, resp control.Response) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		var req control.Request
		if err := json.NewDecoder(conn).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if req.Action != action {
			t.Errorf("unexpected action %q, want %q", req.Action, action)
			return
		}
		if err := json.NewEncoder(conn).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}
}

func newClient(t *testing.T, path string) *Client {
	t.Helper()
	cli, err := New(path)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return cli
}

func TestStatusSuccess(t *testing.T) {
	last := control.CycleRecord{ID: "c1", Mode: engine.CycleModeDebounced, Outcome: engine.CycleOutcomeDelivered, Windows: 3}
	path := startTestServer(t, respondTo(t, control.ActionStatus, control.Response{
		Status: control.StatusOK,
		Data:   control.EngineStatus{State: "idle", Debounce: "16ms", Windows: 3, LastCycle: &last},
	}))
	status, err := newClient(t, path).Status(context.Background())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.State != "idle" || status.Windows != 3 {
		t.Fatalf("unexpected status: %#v", status)
	}
	if status.LastCycle == nil || status.LastCycle.ID != "c1" || status.LastCycle.Outcome != engine.CycleOutcomeDelivered {
		t.Fatalf("unexpected last cycle: %#v", status.LastCycle)
	}
}

func TestSyncSelectsAction(t *testing.T) {
	for _, tc := range []struct {
		force  bool
		action string
	}{
		{false, control.ActionSync},
		{true, control.ActionSyncForce},
	} {
		path := startTestServer(t, respondTo(t, tc.action, control.Response{
			Status: control.StatusOK,
			Data:   control.CycleRecord{ID: "x", Outcome: engine.CycleOutcomeSkipped},
		}))
		rec, err := newClient(t, path).Sync(context.Background(), tc.force)
		if err != nil {
			t.Fatalf("Sync(force=%v) returned error: %v", tc.force, err)
		}
		if rec.Outcome != engine.CycleOutcomeSkipped {
			t.Fatalf("unexpected record: %#v", rec)
		}
	}
}

func TestFlushEmpty(t *testing.T) {
	path := startTestServer(t, respondTo(t, control.ActionFlushEmpty, control.Response{
		Status: control.StatusOK,
		Data:   control.CycleRecord{Mode: engine.CycleModeFlushEmpty, Outcome: engine.CycleOutcomeDelivered},
	}))
	rec, err := newClient(t, path).FlushEmpty(context.Background())
	if err != nil || rec.Mode != engine.CycleModeFlushEmpty {
		t.Fatalf("FlushEmpty = %#v, %v", rec, err)
	}
}

func TestInspectDecodesRecords(t *testing.T) {
	path := startTestServer(t, respondTo(t, control.ActionInspect, control.Response{
		Status: control.StatusOK,
		Data: control.InspectSnapshot{
			Windows: []synth.WindowRecord{{ID: 9, Flags: synth.FlagPrivacy, Action: synth.ActionAddEnd}},
			History: []control.CycleRecord{{ID: "a"}, {ID: "b"}},
		},
	}))
	snap, err := newClient(t, path).Inspect(context.Background())
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if len(snap.Windows) != 1 || !snap.Windows[0].Flags.Has(synth.FlagPrivacy) || snap.Windows[0].Action != synth.ActionAddEnd {
		t.Fatalf("unexpected records: %#v", snap.Windows)
	}
	if len(snap.History) != 2 || snap.History[1].ID != "b" {
		t.Fatalf("unexpected history: %#v", snap.History)
	}
}

func TestMetricsSuccess(t *testing.T) {
	path := startTestServer(t, respondTo(t, control.ActionMetrics, control.Response{
		Status: control.StatusOK,
		Data: control.MetricsSnapshot{
			Enabled:  true,
			Counters: []metrics.CounterValue{{Name: metrics.CyclesDelivered, Value: 2}},
		},
	}))
	snapshot, err := newClient(t, path).Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics returned error: %v", err)
	}
	if !snapshot.Enabled || snapshot.Value(metrics.CyclesDelivered) != 2 {
		t.Fatalf("unexpected snapshot: %#v", snapshot)
	}
}

func TestServerErrorIsReturned(t *testing.T) {
	path := startTestServer(t, respondTo(t, control.ActionMetrics, control.Response{Status: control.StatusError, Error: "metrics collector not configured"}))
	if _, err := newClient(t, path).Metrics(context.Background()); err == nil || err.Error() != "metrics collector not configured" {
		t.Fatalf("expected server error, got %v", err)
	}

	path = startTestServer(t, respondTo(t, control.ActionReload, control.Response{Status: control.StatusError}))
	if err := newClient(t, path).Reload(context.Background()); err == nil || err.Error() != "unknown control error" {
		t.Fatalf("expected generic error, got %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	cli := newClient(t, filepath.Join(t.TempDir(), "missing.sock"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := cli.Status(ctx); err == nil {
		t.Fatalf("expected dial error")
	}
}
