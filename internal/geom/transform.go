package geom

import (
	"math"

	"gioui.org/f32"
)

// Transform is an immutable 2D affine transform. The zero value is the identity.
//
// Compose follows matrix order: a.Compose(b) applies b first, then a.
type Transform struct {
	m f32.Affine2D
}

// degenerateDeterminant is the smallest |det| treated as invertible.
const degenerateDeterminant = 1e-12

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{}
}

// NewTransform builds a transform from row-major elements [sx hx ox] [hy sy oy].
func NewTransform(sx, hx, ox, hy, sy, oy float32) Transform {
	return Transform{m: f32.NewAffine2D(sx, hx, ox, hy, sy, oy)}
}

// Translate returns a pure translation.
func Translate(x, y float32) Transform {
	return Transform{m: f32.Affine2D{}.Offset(f32.Pt(x, y))}
}

// ScaleAbout scales by factor around pivot.
func ScaleAbout(pivot, factor Vec) Transform {
	return Transform{m: f32.Affine2D{}.Scale(f32.Pt(pivot.X, pivot.Y), f32.Pt(factor.X, factor.Y))}
}

// RotateAbout rotates clockwise on screen (y axis pointing down) by degrees
// around pivot. Quarter turns are built from exact matrices.
func RotateAbout(pivot Vec, degrees float32) Transform {
	turn := math.Mod(float64(degrees), 360)
	if turn < 0 {
		turn += 360
	}
	if turn == 0 {
		return Identity()
	}
	var q Transform
	switch turn {
	case 90:
		q = NewTransform(0, -1, 0, 1, 0, 0)
	case 180:
		q = NewTransform(-1, 0, 0, 0, -1, 0)
	case 270:
		q = NewTransform(0, 1, 0, -1, 0, 0)
	default:
		radians := float32(turn * math.Pi / 180)
		return Transform{m: f32.Affine2D{}.Rotate(f32.Pt(pivot.X, pivot.Y), radians)}
	}
	if pivot == (Vec{}) {
		return q
	}
	return Translate(pivot.X, pivot.Y).Compose(q).Compose(Translate(-pivot.X, -pivot.Y))
}

// Compose returns t·inner: inner is applied first.
func (t Transform) Compose(inner Transform) Transform {
	return Transform{m: t.m.Mul(inner.m)}
}

// Then returns a transform that applies t and then next.
func (t Transform) Then(next Transform) Transform {
	return next.Compose(t)
}

// Determinant of the linear part.
func (t Transform) Determinant() float64 {
	sx, hx, _, hy, sy, _ := t.m.Elems()
	return float64(sx)*float64(sy) - float64(hx)*float64(hy)
}

// Invert returns the inverse transform, or false when the linear part is
// singular.
func (t Transform) Invert() (Transform, bool) {
	det := t.Determinant()
	if math.IsNaN(det) || math.IsInf(det, 0) || math.Abs(det) < degenerateDeterminant {
		return Transform{}, false
	}
	return Transform{m: t.m.Invert()}, true
}

// Apply maps a point through the transform.
func (t Transform) Apply(p Vec) Vec {
	out := t.m.Transform(f32.Pt(p.X, p.Y))
	return Vec{X: out.X, Y: out.Y}
}

// Elems returns the row-major elements [sx hx ox] [hy sy oy].
func (t Transform) Elems() (sx, hx, ox, hy, sy, oy float32) {
	return t.m.Elems()
}

// Matrix flattens the transform into a row-major 3x3 matrix.
func (t Transform) Matrix() [9]float32 {
	sx, hx, ox, hy, sy, oy := t.m.Elems()
	return [9]float32{sx, hx, ox, hy, sy, oy, 0, 0, 1}
}

// FromMatrix rebuilds a transform from a row-major 3x3 matrix. The last row is ignored.
func FromMatrix(m [9]float32) Transform {
	return NewTransform(m[0], m[1], m[2], m[3], m[4], m[5])
}

// MapRect transforms r's corners and returns their normalized integer bounds.
// It returns false when a corner is not finite or the bounds do not fit int32.
func (t Transform) MapRect(r Rect) (Rect, bool) {
	sx, hx, ox, hy, sy, oy := t.m.Elems()
	a, b, c := float64(sx), float64(hx), float64(ox)
	d, e, f := float64(hy), float64(sy), float64(oy)
	x0, y0 := float64(r.X), float64(r.Y)
	x1, y1 := x0+float64(r.Width), y0+float64(r.Height)
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range [4][2]float64{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}} {
		x := a*p[0] + b*p[1] + c
		y := d*p[0] + e*p[1] + f
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	left, top := math.Round(minX), math.Round(minY)
	right, bottom := math.Round(maxX), math.Round(maxY)
	for _, v := range [4]float64{left, top, right, bottom} {
		if math.IsNaN(v) || v < math.MinInt32 || v > math.MaxInt32 {
			return Rect{}, false
		}
	}
	width := int64(right) - int64(left)
	height := int64(bottom) - int64(top)
	if width > math.MaxInt32 || height > math.MaxInt32 {
		return Rect{}, false
	}
	return Rect{X: int32(left), Y: int32(top), Width: int32(width), Height: int32(height)}, true
}

// Near reports whether every element of a and b differs by at most tolerance.
func Near(a, b Transform, tolerance float64) bool {
	am, bm := a.Matrix(), b.Matrix()
	for i := range am {
		if math.Abs(float64(am[i]-bm[i])) > tolerance {
			return false
		}
	}
	return true
}
