package geom

import "math"

// Rect is an axis-aligned rectangle in integer pixels.
type Rect struct {
	X      int32 `json:"x" yaml:"x"`
	Y      int32 `json:"y" yaml:"y"`
	Width  int32 `json:"width" yaml:"width"`
	Height int32 `json:"height" yaml:"height"`
}

// Vec is a pair of float components, used for scale factors, pivots and anchors.
type Vec struct {
	X float32 `json:"x" yaml:"x"`
	Y float32 `json:"y" yaml:"y"`
}

// Point is an integer pixel position.
type Point struct {
	X int32 `json:"x" yaml:"x"`
	Y int32 `json:"y" yaml:"y"`
}

// Empty reports whether the rect covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Origin returns the top-left corner.
func (r Rect) Origin() Point {
	return Point{X: r.X, Y: r.Y}
}

// Local returns the rect translated so its origin sits at (0,0).
func (r Rect) Local() Rect {
	return Rect{Width: r.Width, Height: r.Height}
}

// Expand grows the rect outward by margin on every side.
func (r Rect) Expand(margin int32) Rect {
	return Rect{
		X:      r.X - margin,
		Y:      r.Y - margin,
		Width:  r.Width + margin*2,
		Height: r.Height + margin*2,
	}
}

// Corners returns the four corners clockwise from the top-left.
func (r Rect) Corners() [4]Vec {
	x0, y0 := float32(r.X), float32(r.Y)
	x1, y1 := x0+float32(r.Width), y0+float32(r.Height)
	return [4]Vec{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

// Unit is the identity scale.
var Unit = Vec{X: 1, Y: 1}

// ApproximatelyEqual reports whether two vectors are almost equal.
func ApproximatelyEqual(a, b Vec, tolerance float64) bool {
	return math.Abs(float64(a.X-b.X)) <= tolerance && math.Abs(float64(a.Y-b.Y)) <= tolerance
}

// Density scales a virtual-pixel length to physical pixels, truncating like the
// input service does.
func Density(vp, density float32) int32 {
	if vp <= 0 || density <= 0 {
		return 0
	}
	return int32(vp * density)
}

// Intersect returns the overlap of r and o, or the zero rect when they do not overlap.
func (r Rect) Intersect(o Rect) Rect {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1 := min(int64(r.X)+int64(r.Width), int64(o.X)+int64(o.Width))
	y1 := min(int64(r.Y)+int64(r.Height), int64(o.Y)+int64(o.Height))
	if x1 <= int64(x0) || y1 <= int64(y0) {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: int32(x1 - int64(x0)), Height: int32(y1 - int64(y0))}
}
