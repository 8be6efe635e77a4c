package synth

import (
	"github.com/geomsync/geomsync/internal/geom"
	"github.com/geomsync/geomsync/internal/metrics"
	"github.com/geomsync/geomsync/internal/state"
)

const (
	extensionZOffset = 0.1
	secureZBase      = 0.5
	secureZStep      = 0.001
)

// extensionRecord is the synthetic record for a modal extension drawn inside
// a decorated host. The extension rect is host-local.
func (s *Synthesizer) extensionRecord(w *state.Window, ext *state.ModalExtension, place, hostInv geom.Transform, flags Flag) WindowRecord {
	local := ext.Rect.Local()
	inv := geom.Translate(-float32(ext.Rect.X), -float32(ext.Rect.Y)).Compose(hostInv)
	return WindowRecord{
		ID:               ext.ID,
		OwnerPID:         ext.PID,
		OwnerUID:         w.OwnerUID,
		ScreenRect:       s.mapRect(place, ext.Rect, ext.ID),
		DefaultHotAreas:  []geom.Rect{local},
		PointerHotAreas:  []geom.Rect{local},
		Transform:        inv.Matrix(),
		RoutingTargetID:  ext.ID,
		RoutingTargetPID: ext.PID,
		ZOrder:           float32(w.ZOrder) + extensionZOffset,
		DisplayID:        w.DisplayID,
		Flags:            flags | FlagSynthetic,
	}
}

// secureRecords emits a host passthrough record followed by an embedded
// component record for each reported secure rect, with strictly increasing z.
func (s *Synthesizer) secureRecords(w *state.Window, rects []state.SecureSurfaceRect, place, hostInv geom.Transform, flags Flag) []WindowRecord {
	if len(rects) == 0 {
		return nil
	}
	out := make([]WindowRecord, 0, len(rects)*2)
	step := 0
	nextZ := func() float32 {
		step++
		return float32(w.ZOrder) + secureZBase + float32(step)*secureZStep
	}
	for _, sr := range rects {
		scale := sr.Scale
		if scale == (geom.Vec{}) {
			scale = geom.Unit
		}
		toHost := geom.Translate(sr.Anchor.X, sr.Anchor.Y).Compose(geom.ScaleAbout(geom.Vec{}, scale))
		component := place.Compose(toHost)
		componentInv, ok := component.Invert()
		if !ok {
			s.logger.Errorf("window %d secure surface has degenerate scale %+v; skipping", w.ID, sr.Scale)
			s.metrics.Inc(metrics.DegenerateWindows)
			continue
		}
		world := s.mapRect(component, sr.EmbeddedRect, w.ID)
		hostArea := s.mapRect(toHost, sr.EmbeddedRect, w.ID)
		if !sr.HostRect.Empty() {
			hostArea = hostArea.Intersect(sr.HostRect)
		}
		local := sr.EmbeddedRect

		out = append(out, WindowRecord{
			ID:               w.ID,
			OwnerPID:         w.OwnerPID,
			OwnerUID:         w.OwnerUID,
			ScreenRect:       world,
			DefaultHotAreas:  []geom.Rect{hostArea},
			PointerHotAreas:  []geom.Rect{hostArea},
			Transform:        hostInv.Matrix(),
			RoutingTargetID:  w.ID,
			RoutingTargetPID: w.OwnerPID,
			ZOrder:           nextZ(),
			DisplayID:        w.DisplayID,
			Flags:            flags | FlagSynthetic,
		})
		out = append(out, WindowRecord{
			ID:               w.ID,
			OwnerPID:         sr.OwnerPID,
			OwnerUID:         w.OwnerUID,
			ScreenRect:       world,
			DefaultHotAreas:  []geom.Rect{local},
			PointerHotAreas:  []geom.Rect{local},
			Transform:        componentInv.Matrix(),
			RoutingTargetID:  w.ID,
			RoutingTargetPID: sr.OwnerPID,
			ZOrder:           nextZ(),
			DisplayID:        w.DisplayID,
			Flags:            flags | FlagSynthetic | FlagSecureComponent,
		})
	}
	return out
}
