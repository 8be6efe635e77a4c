package synth

import (
	"github.com/geomsync/geomsync/internal/geom"
	"github.com/geomsync/geomsync/internal/state"
)

// placement maps window-local points to physical screen points:
//
//	C(rotation) · SH · T(pos) · R(θ, pivot) · S(scale, pivot)
//
// C and SH apply only to counter-rotating windows.
func placement(w *state.Window, d state.Display) geom.Transform {
	pos := w.Rect.Origin()
	if w.ExtensionPosition != nil {
		pos = *w.ExtensionPosition
	}
	pivot := geom.Vec{
		X: w.Pivot.X * float32(w.Rect.Width),
		Y: w.Pivot.Y * float32(w.Rect.Height),
	}
	scale := w.Scale
	if scale == (geom.Vec{}) {
		scale = geom.Unit
	}
	local := geom.RotateAbout(pivot, w.Rotation).Compose(geom.ScaleAbout(pivot, scale))
	p := geom.Translate(float32(pos.X), float32(pos.Y)).Compose(local)
	if w.CounterRotate {
		p = rotationCompensation(d).Compose(singleHand(d)).Compose(p)
	}
	return p
}

// rotationCompensation maps logical display coordinates onto the physical
// panel for the display's rotation.
func rotationCompensation(d state.Display) geom.Transform {
	w, h := float32(d.Bounds.Width), float32(d.Bounds.Height)
	switch d.Rotation {
	case state.Rotation90:
		// panel width is the logical height
		return geom.NewTransform(0, -1, h, 1, 0, 0)
	case state.Rotation180:
		return geom.NewTransform(-1, 0, w, 0, -1, h)
	case state.Rotation270:
		return geom.NewTransform(0, 1, 0, -1, 0, w)
	default:
		return geom.Identity()
	}
}

func singleHand(d state.Display) geom.Transform {
	sh := d.SingleHand
	if sh == nil {
		return geom.Identity()
	}
	scale := sh.Scale
	if scale <= 0 {
		scale = 1
	}
	return geom.Translate(float32(sh.OffsetX), float32(sh.OffsetY)).
		Compose(geom.ScaleAbout(geom.Vec{}, geom.Vec{X: scale, Y: scale}))
}
