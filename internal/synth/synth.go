package synth

import (
	"cmp"

	"golang.org/x/exp/slices"

	"github.com/geomsync/geomsync/internal/geom"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/state"
	"github.com/geomsync/geomsync/internal/util"
)

const fallbackDensity float32 = 1.5

// Options are the protocol limits and density-scaled zone sizes.
type Options struct {
	DefaultHotAreaCount int
	MaxHotAreaCount     int
	TouchZoneVp         float32
	PointerZoneVp       float32
	SmallResizeVp       float32
	LargeResizeVp       float32
}

// DefaultOptions returns the limits used by the input service.
func DefaultOptions() Options {
	return Options{
		DefaultHotAreaCount: 10,
		MaxHotAreaCount:     50,
		TouchZoneVp:         24,
		PointerZoneVp:       4,
		SmallResizeVp:       5,
		LargeResizeVp:       16,
	}
}

// Synthesizer turns a world snapshot into hit-test records. It holds no
// per-cycle state.
type Synthesizer struct {
	opts    Options
	logger  *util.Logger
	metrics *metrics.Collector
}

// New returns a synthesizer. A nil logger logs to stderr at info.
func New(opts Options, logger *util.Logger, collector *metrics.Collector) *Synthesizer {
	if logger == nil {
		logger = util.NewLogger(util.LevelInfo)
	}
	if opts.MaxHotAreaCount <= 0 {
		opts.MaxHotAreaCount = DefaultOptions().MaxHotAreaCount
	}
	if opts.DefaultHotAreaCount <= 0 {
		opts.DefaultHotAreaCount = DefaultOptions().DefaultHotAreaCount
	}
	return &Synthesizer{opts: opts, logger: logger, metrics: collector}
}

// Options returns the active options.
func (s *Synthesizer) Options() Options {
	return s.opts
}

// Build synthesizes display records in id order and window records in
// directory order, then moves windows with many hot areas to the front.
func (s *Synthesizer) Build(world *state.World) Result {
	var res Result
	if world == nil {
		return res
	}
	for _, id := range world.DisplayIDs() {
		res.Displays = append(res.Displays, s.displayRecord(world.Displays[id]))
	}
	dialogs := bestDialogs(world.Windows)
	for i := range world.Windows {
		w := &world.Windows[i]
		if !w.Visible {
			continue
		}
		display, ok := world.Display(w.DisplayID)
		if !ok {
			s.logger.Warnf("window %d references unknown display %d; skipping", w.ID, w.DisplayID)
			s.metrics.Inc(metrics.MissingDisplays)
			continue
		}
		res.Windows = append(res.Windows, s.windowRecords(world, w, display, dialogs)...)
	}
	if s.needsSort(res.Windows) {
		slices.SortStableFunc(res.Windows, func(a, b WindowRecord) int {
			return cmp.Compare(b.HotAreaCount(), a.HotAreaCount())
		})
	}
	return res
}

func (s *Synthesizer) needsSort(records []WindowRecord) bool {
	for _, r := range records {
		if r.HotAreaCount() > s.opts.DefaultHotAreaCount {
			return true
		}
	}
	return false
}

func (s *Synthesizer) displayRecord(d state.Display) DisplayRecord {
	rec := DisplayRecord{
		ID:       d.ID,
		X:        d.Bounds.X,
		Y:        d.Bounds.Y,
		Width:    d.Bounds.Width,
		Height:   d.Bounds.Height,
		Density:  densityOf(d),
		Rotation: d.Rotation,
		FoldMode: d.FoldMode,
	}
	pivot := geom.Vec{X: d.Pivot.X * float32(d.Bounds.Width), Y: d.Pivot.Y * float32(d.Bounds.Height)}
	scale := d.Scale
	if scale == (geom.Vec{}) {
		scale = geom.Unit
	}
	inv, ok := geom.ScaleAbout(pivot, scale).Invert()
	if !ok {
		s.logger.Warnf("display %d has degenerate scale %+v; using identity", d.ID, d.Scale)
		inv = geom.Identity()
	}
	rec.Transform = inv.Matrix()
	if d.SingleHand != nil {
		rec.SingleHandOffset = &geom.Point{X: d.SingleHand.OffsetX, Y: d.SingleHand.OffsetY}
	}
	return rec
}

// windowRecords returns the host record followed by any synthetic records.
func (s *Synthesizer) windowRecords(world *state.World, w *state.Window, d state.Display, dialogs map[int32]*state.Window) []WindowRecord {
	place := placement(w, d)
	inv, ok := place.Invert()
	if !ok {
		s.logger.Errorf("window %d has degenerate placement (scale %+v); dropping record", w.ID, w.Scale)
		s.metrics.Inc(metrics.DegenerateWindows)
		return nil
	}
	density := densityOf(d)
	flags := baseFlags(w, d)
	host := WindowRecord{
		ID:               w.ID,
		OwnerPID:         w.OwnerPID,
		OwnerUID:         w.OwnerUID,
		ScreenRect:       s.mapRect(place, w.Rect.Local(), w.ID),
		ResizeZones:      s.resizeZones(w, density),
		Transform:        inv.Matrix(),
		RoutingTargetID:  w.ID,
		RoutingTargetPID: w.OwnerPID,
		ZOrder:           float32(w.ZOrder),
		DisplayID:        w.DisplayID,
		Flags:            flags,
	}
	host.DefaultHotAreas, host.PointerHotAreas = s.hotAreas(w, density)
	if dialog := redirectTarget(w, dialogs); dialog != nil {
		host.RoutingTargetID = dialog.ID
		host.RoutingTargetPID = dialog.OwnerPID
	}

	var extra []WindowRecord
	if ext := w.ModalExtension; ext != nil && ext.Active {
		if w.Decorated {
			extra = append(extra, s.extensionRecord(w, ext, place, inv, flags))
		} else {
			host.RoutingTargetID = ext.ID
			host.RoutingTargetPID = ext.PID
		}
	}
	if w.SurfaceNodeID != 0 {
		secure := s.secureRecords(w, world.SecureSurfaces[w.SurfaceNodeID], place, inv, flags)
		for _, r := range secure {
			if r.Flags.Has(FlagSecureComponent) {
				host.EmbeddedRecords = append(host.EmbeddedRecords, r)
			}
		}
		extra = append(extra, secure...)
	}
	return append([]WindowRecord{host}, extra...)
}

func (s *Synthesizer) mapRect(t geom.Transform, r geom.Rect, windowID int32) geom.Rect {
	out, ok := t.MapRect(r)
	if !ok {
		s.logger.Warnf("window %d rect %+v overflows screen space; using empty rect", windowID, r)
		s.metrics.Inc(metrics.RectOverflows)
		return geom.Rect{}
	}
	return out
}

func baseFlags(w *state.Window, d state.Display) Flag {
	var f Flag
	if w.Untouchable || d.Untouchable {
		f |= FlagUntouchable
	}
	if w.Privacy {
		f |= FlagPrivacy
	}
	if w.HandwritingOnly {
		f |= FlagHandwritingOnly
	}
	return f
}

func densityOf(d state.Display) float32 {
	if d.Density <= 0 {
		return fallbackDensity
	}
	return d.Density
}
