package synth

import (
	"github.com/geomsync/geomsync/internal/geom"
	"github.com/geomsync/geomsync/internal/state"
)

func (s *Synthesizer) resizeZones(w *state.Window, density float32) ResizeZones {
	var z ResizeZones
	if !w.ResizeEnabled {
		return z
	}
	small := geom.Density(s.opts.SmallResizeVp, density)
	large := geom.Density(s.opts.LargeResizeVp, density)
	widthFixed, heightFixed := w.Limits.WidthFixed(), w.Limits.HeightFixed()
	switch {
	case w.CustomResizeZones:
		z[ZoneRight] = small
		z[ZoneBottomRight] = large
		z[ZoneBottom] = small
		z[ZoneBottomLeft] = large
		z[ZoneLeft] = small
	case widthFixed && heightFixed:
	case widthFixed:
		z[ZoneTop] = small
		z[ZoneBottom] = small
	case heightFixed:
		z[ZoneRight] = small
		z[ZoneLeft] = small
	default:
		for i := range z {
			if i%2 == 0 {
				z[i] = large
			} else {
				z[i] = small
			}
		}
	}
	return z
}
