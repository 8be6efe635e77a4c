package synth

import (
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/geomsync/geomsync/internal/geom"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/state"
	"github.com/geomsync/geomsync/internal/util"
)

func newTestSynth(t *testing.T) (*Synthesizer, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector(true)
	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	return New(DefaultOptions(), logger, collector), collector
}

func portrait() state.Display {
	return state.Display{
		ID:      0,
		Bounds:  geom.Rect{Width: 1080, Height: 2340},
		Density: 2,
		Scale:   geom.Unit,
	}
}

func window(id int32, rect geom.Rect) state.Window {
	return state.Window{
		ID:       id,
		OwnerPID: 1000 + id,
		Type:     state.WindowTypeAppMain,
		Rect:     rect,
		ZOrder:   uint32(id),
		Visible:  true,
		Scale:    geom.Unit,
	}
}

func worldOf(windows ...state.Window) *state.World {
	return &state.World{
		Windows:  windows,
		Displays: map[uint64]state.Display{0: portrait()},
	}
}

func findRecord(t *testing.T, records []WindowRecord, id int32) WindowRecord {
	t.Helper()
	for _, r := range records {
		if r.ID == id && !r.Flags.Has(FlagSynthetic) {
			return r
		}
	}
	t.Fatalf("no record for window %d in %+v", id, records)
	return WindowRecord{}
}

func TestDialogRedirection(t *testing.T) {
	s, _ := newTestSynth(t)
	parent := window(1, geom.Rect{Width: 500, Height: 500})
	dialog := window(2, geom.Rect{X: 50, Y: 50, Width: 200, Height: 100})
	dialog.Type = state.WindowTypeDialog
	dialog.Modal = true
	dialog.ParentID = 1

	res := s.Build(worldOf(parent, dialog))
	rec := findRecord(t, res.Windows, 1)
	if rec.RoutingTargetID != 2 || rec.RoutingTargetPID != dialog.OwnerPID {
		t.Fatalf("expected parent routed to dialog 2, got %d/%d", rec.RoutingTargetID, rec.RoutingTargetPID)
	}
	if len(res.Windows) != 2 {
		t.Fatalf("redirection must not add records, got %d", len(res.Windows))
	}

	topmost := dialog
	topmost.ID = 3
	topmost.OwnerPID = 1003
	topmost.ZOrder = 0
	topmost.Topmost = true
	for _, order := range [][]state.Window{
		{parent, topmost, dialog},
		{parent, dialog, topmost},
	} {
		res = s.Build(worldOf(order...))
		if got := findRecord(t, res.Windows, 1).RoutingTargetID; got != 3 {
			t.Fatalf("expected topmost dialog 3 to win, got %d", got)
		}
	}
}

func TestDialogTieBreaksOnZOrderThenDirectoryOrder(t *testing.T) {
	s, _ := newTestSynth(t)
	parent := window(1, geom.Rect{Width: 500, Height: 500})
	low := window(2, geom.Rect{Width: 10, Height: 10})
	low.Type, low.Modal, low.ParentID, low.ZOrder = state.WindowTypeDialog, true, 1, 5
	high := low
	high.ID, high.ZOrder = 3, 9
	same := low
	same.ID, same.ZOrder = 4, 9

	res := s.Build(worldOf(parent, high, low))
	if got := findRecord(t, res.Windows, 1).RoutingTargetID; got != 3 {
		t.Fatalf("expected higher z dialog to win, got %d", got)
	}
	res = s.Build(worldOf(parent, high, same))
	if got := findRecord(t, res.Windows, 1).RoutingTargetID; got != 4 {
		t.Fatalf("expected later dialog to win a z tie, got %d", got)
	}
}

func TestForceHiddenWindowRoutesToParentDialog(t *testing.T) {
	s, _ := newTestSynth(t)
	parent := window(1, geom.Rect{Width: 500, Height: 500})
	sub := window(5, geom.Rect{Width: 100, Height: 100})
	sub.ParentID = 1
	sub.ForceHidden = true
	dialog := window(2, geom.Rect{Width: 200, Height: 100})
	dialog.Type, dialog.Modal, dialog.ParentID = state.WindowTypeDialog, true, 1
	hiddenDialog := dialog
	hiddenDialog.ID = 6
	hiddenDialog.ForceHidden = true

	res := s.Build(worldOf(parent, sub, dialog, hiddenDialog))
	if got := findRecord(t, res.Windows, 5).RoutingTargetID; got != 2 {
		t.Fatalf("expected force-hidden window routed to dialog 2, got %d", got)
	}
	if got := findRecord(t, res.Windows, 1).RoutingTargetID; got != 2 {
		t.Fatalf("force-hidden dialog must not qualify, got %d", got)
	}
}

func TestSecureOverlayScenario(t *testing.T) {
	s, _ := newTestSynth(t)
	host := window(1, geom.Rect{Width: 200, Height: 200})
	host.ZOrder = 3
	host.SurfaceNodeID = 7
	world := worldOf(host)
	world.SecureSurfaces = map[uint64][]state.SecureSurfaceRect{
		7: {{
			HostRect:     geom.Rect{Width: 100, Height: 100},
			EmbeddedRect: geom.Rect{Width: 50, Height: 50},
			Scale:        geom.Unit,
			OwnerPID:     4242,
		}},
	}

	res := s.Build(world)
	if len(res.Windows) != 3 {
		t.Fatalf("expected host plus two secure records, got %d", len(res.Windows))
	}
	hostRec, passthrough, embedded := res.Windows[0], res.Windows[1], res.Windows[2]
	if !(hostRec.ZOrder < passthrough.ZOrder && passthrough.ZOrder < embedded.ZOrder) {
		t.Fatalf("expected strictly increasing z, got %v %v %v", hostRec.ZOrder, passthrough.ZOrder, embedded.ZOrder)
	}
	if passthrough.ID != 1 || passthrough.RoutingTargetPID != host.OwnerPID || passthrough.Flags.Has(FlagSecureComponent) {
		t.Fatalf("unexpected passthrough record: %+v", passthrough)
	}
	want := []geom.Rect{{Width: 50, Height: 50}}
	if diff := cmp.Diff(want, passthrough.DefaultHotAreas); diff != "" {
		t.Fatalf("passthrough hot area mismatch (-want +got):\n%s", diff)
	}
	if !embedded.Flags.Has(FlagSecureComponent) || embedded.OwnerPID != 4242 || embedded.RoutingTargetPID != 4242 {
		t.Fatalf("unexpected embedded record: %+v", embedded)
	}
	if embedded.ScreenRect != (geom.Rect{Width: 50, Height: 50}) {
		t.Fatalf("unexpected embedded screen rect: %+v", embedded.ScreenRect)
	}
	if len(hostRec.EmbeddedRecords) != 1 || !cmp.Equal(hostRec.EmbeddedRecords[0], embedded) {
		t.Fatalf("expected embedded record attached to host, got %+v", hostRec.EmbeddedRecords)
	}
}

func TestSecureOverlayAnchorAndScale(t *testing.T) {
	s, _ := newTestSynth(t)
	host := window(1, geom.Rect{X: 100, Y: 100, Width: 400, Height: 400})
	host.SurfaceNodeID = 9
	world := worldOf(host)
	world.SecureSurfaces = map[uint64][]state.SecureSurfaceRect{
		9: {
			{EmbeddedRect: geom.Rect{Width: 50, Height: 20}, Anchor: geom.Vec{X: 10, Y: 30}, Scale: geom.Vec{X: 2, Y: 2}, OwnerPID: 7},
			{EmbeddedRect: geom.Rect{Width: 10, Height: 10}, Anchor: geom.Vec{X: 200}, Scale: geom.Unit, OwnerPID: 8},
		},
	}
	res := s.Build(world)
	if len(res.Windows) != 5 {
		t.Fatalf("expected host plus four secure records, got %d", len(res.Windows))
	}
	for i := 1; i < len(res.Windows); i++ {
		if res.Windows[i].ZOrder <= res.Windows[i-1].ZOrder {
			t.Fatalf("z order not increasing at %d: %v", i, res.Windows)
		}
	}
	embedded := res.Windows[2]
	if embedded.ScreenRect != (geom.Rect{X: 110, Y: 130, Width: 100, Height: 40}) {
		t.Fatalf("unexpected scaled component rect: %+v", embedded.ScreenRect)
	}
	local := geom.FromMatrix(embedded.Transform).Apply(geom.Vec{X: 210, Y: 170})
	if !geom.ApproximatelyEqual(local, geom.Vec{X: 50, Y: 20}, 1e-3) {
		t.Fatalf("expected component-space corner, got %+v", local)
	}
	if got := res.Windows[3].DefaultHotAreas[0]; got != (geom.Rect{X: 200, Width: 10, Height: 10}) {
		t.Fatalf("unexpected passthrough host-local area: %+v", got)
	}
	if len(res.Windows[0].EmbeddedRecords) != 2 {
		t.Fatalf("expected two embedded records on host")
	}
}

func TestTransformRoundTrip(t *testing.T) {
	s, _ := newTestSynth(t)
	plain := window(1, geom.Rect{X: 100, Y: 200, Width: 300, Height: 400})
	rotated := window(2, geom.Rect{X: 40, Y: 60, Width: 300, Height: 200})
	rotated.Scale = geom.Vec{X: 2, Y: 0.5}
	rotated.Pivot = geom.Vec{X: 0.5, Y: 0.5}
	rotated.Rotation = 30
	counter := window(3, geom.Rect{X: 10, Y: 20, Width: 100, Height: 50})
	counter.CounterRotate = true
	counter.ExtensionPosition = &geom.Point{X: 15, Y: 25}
	world := worldOf(plain, rotated, counter)
	d := world.Displays[0]
	d.Rotation = state.Rotation90
	d.Bounds = geom.Rect{Width: 2340, Height: 1080}
	world.Displays[0] = d

	res := s.Build(world)
	if len(res.Windows) != 3 {
		t.Fatalf("expected three records, got %d", len(res.Windows))
	}
	for _, rec := range res.Windows {
		toLocal := geom.FromMatrix(rec.Transform)
		toScreen, ok := toLocal.Invert()
		if !ok {
			t.Fatalf("record %d transform not invertible", rec.ID)
		}
		w := world.FindWindow(rec.ID)
		for _, corner := range w.Rect.Local().Corners() {
			back := toLocal.Apply(toScreen.Apply(corner))
			if !geom.ApproximatelyEqual(back, corner, 1e-2) {
				t.Fatalf("window %d corner %+v round-tripped to %+v", rec.ID, corner, back)
			}
		}
	}
	got := geom.FromMatrix(findRecord(t, res.Windows, 1).Transform).Apply(geom.Vec{X: 150, Y: 250})
	if !geom.ApproximatelyEqual(got, geom.Vec{X: 50, Y: 50}, 1e-4) {
		t.Fatalf("expected screen point mapped to window-local (50,50), got %+v", got)
	}
}

func TestRotationConsistency(t *testing.T) {
	s, _ := newTestSynth(t)
	w := window(1, geom.Rect{X: 10, Y: 20, Width: 100, Height: 50})
	w.CounterRotate = true
	world := worldOf(w)

	rotations := []state.Rotation{state.Rotation0, state.Rotation90, state.Rotation180, state.Rotation270, state.Rotation0}
	want := map[state.Rotation]geom.Rect{
		state.Rotation0:   {X: 10, Y: 20, Width: 100, Height: 50},
		state.Rotation90:  {X: 1010, Y: 10, Width: 50, Height: 100},
		state.Rotation180: {X: 970, Y: 2270, Width: 100, Height: 50},
	}
	var rects []geom.Rect
	for _, r := range rotations {
		d := world.Displays[0]
		d.Rotation = r
		d.Bounds = geom.Rect{Width: 1080, Height: 2340}
		if r == state.Rotation90 || r == state.Rotation270 {
			d.Bounds = geom.Rect{Width: 2340, Height: 1080}
		}
		world.Displays[0] = d
		rect := s.Build(world).Windows[0].ScreenRect
		if exp, ok := want[r]; ok && rect != exp {
			t.Fatalf("rotation %d: expected %+v, got %+v", r, exp, rect)
		}
		if rect.X < 0 || rect.Y < 0 || rect.X+rect.Width > 1080 || rect.Y+rect.Height > 2340 {
			t.Fatalf("rotation %d: rect %+v leaves the panel", r, rect)
		}
		rects = append(rects, rect)
	}
	if rects[0] != rects[len(rects)-1] {
		t.Fatalf("full rotation cycle changed rect: %+v -> %+v", rects[0], rects[len(rects)-1])
	}
}

func TestSingleHandAppliesToCounterRotatingWindows(t *testing.T) {
	s, _ := newTestSynth(t)
	counter := window(1, geom.Rect{X: 100, Y: 100, Width: 200, Height: 200})
	counter.CounterRotate = true
	plain := window(2, geom.Rect{X: 100, Y: 100, Width: 200, Height: 200})
	world := worldOf(counter, plain)
	d := world.Displays[0]
	d.SingleHand = &state.SingleHand{Scale: 0.5, OffsetX: 0, OffsetY: 1000}
	world.Displays[0] = d

	res := s.Build(world)
	if got := res.Windows[0].ScreenRect; got != (geom.Rect{X: 50, Y: 1050, Width: 100, Height: 100}) {
		t.Fatalf("unexpected single-hand rect: %+v", got)
	}
	if got := res.Windows[1].ScreenRect; got != plain.Rect {
		t.Fatalf("plain window must ignore single-hand mode: %+v", got)
	}
	if off := res.Displays[0].SingleHandOffset; off == nil || *off != (geom.Point{Y: 1000}) {
		t.Fatalf("expected display single-hand offset, got %+v", off)
	}
}

func TestDefaultHotAreas(t *testing.T) {
	s, _ := newTestSynth(t)
	app := window(1, geom.Rect{X: 5, Y: 5, Width: 100, Height: 100})
	float := window(2, geom.Rect{Width: 100, Height: 100})
	float.Type = state.WindowTypeFloat
	res := s.Build(worldOf(app, float))

	if got := res.Windows[0].DefaultHotAreas; !cmp.Equal(got, []geom.Rect{{X: -48, Y: -48, Width: 196, Height: 196}}) {
		t.Fatalf("unexpected touch area: %+v", got)
	}
	if got := res.Windows[0].PointerHotAreas; !cmp.Equal(got, []geom.Rect{{X: -8, Y: -8, Width: 116, Height: 116}}) {
		t.Fatalf("unexpected pointer area: %+v", got)
	}
	if got := res.Windows[1].DefaultHotAreas; !cmp.Equal(got, []geom.Rect{{Width: 100, Height: 100}}) {
		t.Fatalf("float window should get zero margin: %+v", got)
	}

	world := worldOf(app)
	d := world.Displays[0]
	d.Density = 0
	world.Displays[0] = d
	if got := s.Build(world).Windows[0].DefaultHotAreas[0]; got.X != -36 {
		t.Fatalf("expected fallback density margin of 36, got %+v", got)
	}
}

func TestHotAreaTruncationAndSort(t *testing.T) {
	var buf bytes.Buffer
	collector := metrics.NewCollector(true)
	s := New(DefaultOptions(), util.NewLoggerWithWriter(util.LevelWarn, &buf), collector)

	small := window(1, geom.Rect{Width: 10, Height: 10})
	medium := window(2, geom.Rect{Width: 10, Height: 10})
	medium.HotAreas = make([]geom.Rect, 12)
	big := window(3, geom.Rect{Width: 10, Height: 10})
	big.HotAreas = make([]geom.Rect, 60)
	for i := range big.HotAreas {
		big.HotAreas[i] = geom.Rect{X: int32(i), Width: 1, Height: 1}
	}

	res := s.Build(worldOf(small, medium, big))
	ids := []int32{res.Windows[0].ID, res.Windows[1].ID, res.Windows[2].ID}
	if diff := cmp.Diff([]int32{3, 2, 1}, ids); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if n := res.Windows[0].HotAreaCount(); n != 50 || len(res.Windows[0].PointerHotAreas) != 50 {
		t.Fatalf("expected truncation to 50, got %d", n)
	}
	if res.Windows[0].DefaultHotAreas[49].X != 49 {
		t.Fatalf("truncation must keep the leading rects")
	}
	if collector.Snapshot().Value(metrics.HotAreasTruncated) != 1 {
		t.Fatalf("expected truncation to be counted")
	}
	if !strings.Contains(buf.String(), "truncating") {
		t.Fatalf("expected truncation warning, got %q", buf.String())
	}
}

func TestNoSortBelowDefaultCount(t *testing.T) {
	s, _ := newTestSynth(t)
	a := window(1, geom.Rect{Width: 10, Height: 10})
	b := window(2, geom.Rect{Width: 10, Height: 10})
	b.HotAreas = make([]geom.Rect, 10)
	res := s.Build(worldOf(a, b))
	if res.Windows[0].ID != 1 {
		t.Fatalf("expected directory order to be kept, got %d first", res.Windows[0].ID)
	}
}

func TestResizeZones(t *testing.T) {
	s, _ := newTestSynth(t)
	const small, large = 10, 32
	cases := []struct {
		name   string
		mutate func(*state.Window)
		want   ResizeZones
	}{
		{"disabled", func(w *state.Window) { w.ResizeEnabled = false }, ResizeZones{}},
		{"custom", func(w *state.Window) { w.CustomResizeZones = true }, ResizeZones{0, 0, 0, small, large, small, large, small}},
		{"width fixed", func(w *state.Window) { w.Limits.MinWidth, w.Limits.MaxWidth = 300, 300 }, ResizeZones{0, small, 0, 0, 0, small, 0, 0}},
		{"height fixed", func(w *state.Window) { w.Limits.MinHeight, w.Limits.MaxHeight = 300, 300 }, ResizeZones{0, 0, 0, small, 0, 0, 0, small}},
		{"both fixed", func(w *state.Window) { w.Limits = state.Limits{MinWidth: 300, MaxWidth: 300, MinHeight: 300, MaxHeight: 300} }, ResizeZones{}},
		{"unset limits", func(w *state.Window) { w.Limits = state.Limits{} }, ResizeZones{large, small, large, small, large, small, large, small}},
		{"free", func(*state.Window) {}, ResizeZones{large, small, large, small, large, small, large, small}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := window(1, geom.Rect{Width: 300, Height: 300})
			w.ResizeEnabled = true
			w.Limits = state.Limits{MinWidth: 100, MaxWidth: 1000, MinHeight: 100, MaxHeight: 1000}
			tc.mutate(&w)
			got := s.Build(worldOf(w)).Windows[0].ResizeZones
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestFlags(t *testing.T) {
	s, _ := newTestSynth(t)
	w := window(1, geom.Rect{Width: 10, Height: 10})
	w.Privacy = true
	w.HandwritingOnly = true
	world := worldOf(w)
	d := world.Displays[0]
	d.Untouchable = true
	world.Displays[0] = d
	got := s.Build(world).Windows[0].Flags
	if got != FlagUntouchable|FlagPrivacy|FlagHandwritingOnly {
		t.Fatalf("unexpected flags: %v", got)
	}
}

func TestModalExtension(t *testing.T) {
	s, _ := newTestSynth(t)
	host := window(1, geom.Rect{X: 100, Y: 100, Width: 400, Height: 400})
	host.ZOrder = 2
	host.ModalExtension = &state.ModalExtension{ID: 9, PID: 900, Rect: geom.Rect{X: 10, Y: 20, Width: 50, Height: 60}, Active: true}

	host.Decorated = true
	res := s.Build(worldOf(host))
	if len(res.Windows) != 2 {
		t.Fatalf("expected host plus extension record, got %d", len(res.Windows))
	}
	ext := res.Windows[1]
	if ext.ID != 9 || ext.RoutingTargetPID != 900 || math.Abs(float64(ext.ZOrder)-2.1) > 1e-5 {
		t.Fatalf("unexpected extension record: %+v", ext)
	}
	if ext.ScreenRect != (geom.Rect{X: 110, Y: 120, Width: 50, Height: 60}) {
		t.Fatalf("unexpected extension screen rect: %+v", ext.ScreenRect)
	}
	origin := geom.FromMatrix(ext.Transform).Apply(geom.Vec{X: 110, Y: 120})
	if !geom.ApproximatelyEqual(origin, geom.Vec{}, 1e-4) {
		t.Fatalf("expected extension origin at local (0,0), got %+v", origin)
	}
	if res.Windows[0].RoutingTargetID != 1 {
		t.Fatalf("decorated host must keep its own routing target")
	}

	host.Decorated = false
	res = s.Build(worldOf(host))
	if len(res.Windows) != 1 {
		t.Fatalf("undecorated host must not add records, got %d", len(res.Windows))
	}
	if res.Windows[0].RoutingTargetID != 9 || res.Windows[0].RoutingTargetPID != 900 {
		t.Fatalf("expected host redirected to extension, got %+v", res.Windows[0])
	}

	host.ModalExtension.Active = false
	if got := s.Build(worldOf(host)).Windows[0].RoutingTargetID; got != 1 {
		t.Fatalf("inactive extension must not redirect, got %d", got)
	}
}

func TestDegenerateAndMissingInputsAreSkipped(t *testing.T) {
	s, collector := newTestSynth(t)
	flat := window(1, geom.Rect{Width: 10, Height: 10})
	flat.Scale = geom.Vec{X: 0, Y: 1}
	orphan := window(2, geom.Rect{Width: 10, Height: 10})
	orphan.DisplayID = 42
	hidden := window(3, geom.Rect{Width: 10, Height: 10})
	hidden.Visible = false
	ok := window(4, geom.Rect{Width: 10, Height: 10})

	res := s.Build(worldOf(flat, orphan, hidden, ok))
	if len(res.Windows) != 1 || res.Windows[0].ID != 4 {
		t.Fatalf("expected only window 4, got %+v", res.Windows)
	}
	snap := collector.Snapshot()
	if snap.Value(metrics.DegenerateWindows) != 1 || snap.Value(metrics.MissingDisplays) != 1 {
		t.Fatalf("unexpected counters: %+v", snap.Counters)
	}
}

func TestOverflowingRectBecomesEmpty(t *testing.T) {
	s, collector := newTestSynth(t)
	huge := window(1, geom.Rect{X: math.MaxInt32 - 10, Width: 100, Height: 10})
	huge.Scale = geom.Vec{X: 4, Y: 1}
	res := s.Build(worldOf(huge))
	if res.Windows[0].ScreenRect != (geom.Rect{}) {
		t.Fatalf("expected empty rect on overflow, got %+v", res.Windows[0].ScreenRect)
	}
	if collector.Snapshot().Value(metrics.RectOverflows) != 1 {
		t.Fatalf("expected overflow to be counted")
	}
}

func TestDisplayRecords(t *testing.T) {
	s, _ := newTestSynth(t)
	world := worldOf()
	world.Displays[5] = state.Display{ID: 5, Bounds: geom.Rect{X: 1080, Width: 100, Height: 100}, Scale: geom.Vec{X: 2, Y: 2}, Pivot: geom.Vec{X: 0.5, Y: 0.5}, Rotation: state.Rotation90}
	res := s.Build(world)
	if len(res.Displays) != 2 || res.Displays[0].ID != 0 || res.Displays[1].ID != 5 {
		t.Fatalf("expected displays in id order, got %+v", res.Displays)
	}
	d := res.Displays[1]
	if d.Density != fallbackDensity || d.Rotation != state.Rotation90 || d.X != 1080 {
		t.Fatalf("unexpected display record: %+v", d)
	}
	// inverse of a 2x scale about (50,50) maps (150,150) back to (100,100)
	got := geom.FromMatrix(d.Transform).Apply(geom.Vec{X: 150, Y: 150})
	if !geom.ApproximatelyEqual(got, geom.Vec{X: 100, Y: 100}, 1e-4) {
		t.Fatalf("unexpected display transform: %+v", got)
	}
	if res.Windows != nil {
		t.Fatalf("expected no windows")
	}
}
