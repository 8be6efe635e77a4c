package synth

import (
	"github.com/geomsync/geomsync/internal/geom"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/state"
)

// hotAreas returns the touch and pointer hit-test rects in window-local space.
func (s *Synthesizer) hotAreas(w *state.Window, density float32) (touch, pointer []geom.Rect) {
	if declared := w.HotAreas; len(declared) > 0 {
		if len(declared) > s.opts.MaxHotAreaCount {
			s.logger.Warnf("window %d declares %d hot areas; truncating to %d", w.ID, len(declared), s.opts.MaxHotAreaCount)
			s.metrics.Inc(metrics.HotAreasTruncated)
			declared = declared[:s.opts.MaxHotAreaCount]
		}
		touch = append([]geom.Rect(nil), declared...)
		pointer = append([]geom.Rect(nil), declared...)
		return touch, pointer
	}
	local := w.Rect.Local()
	if !expandsHotZone(w.Type) {
		return []geom.Rect{local}, []geom.Rect{local}
	}
	touch = []geom.Rect{local.Expand(geom.Density(s.opts.TouchZoneVp, density))}
	pointer = []geom.Rect{local.Expand(geom.Density(s.opts.PointerZoneVp, density))}
	return touch, pointer
}

func expandsHotZone(t state.WindowType) bool {
	return t == state.WindowTypeAppMain || t == state.WindowTypePip
}
