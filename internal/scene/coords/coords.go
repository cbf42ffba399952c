package coords

import "fmt"

// GridSize is the edge length of the loaded grid window.
const GridSize = 104

// WorldPoint identifies one tile in the persistent world.
type WorldPoint struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Layer int `json:"layer"`
}

func (p WorldPoint) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Layer) }

// LocalCell identifies one tile inside the loaded grid window.
type LocalCell struct {
	X int `json:"lx"`
	Y int `json:"ly"`
}

func (c LocalCell) String() string { return fmt.Sprintf("[%d,%d]", c.X, c.Y) }

// Add returns c offset by (dx, dy). The result may be out of bounds.
func (c LocalCell) Add(dx, dy int) LocalCell { return LocalCell{X: c.X + dx, Y: c.Y + dy} }

// InBounds reports whether c lies in [0, GridSize) on both axes.
func (c LocalCell) InBounds() bool {
	return c.X >= 0 && c.Y >= 0 && c.X < GridSize && c.Y < GridSize
}

// Origin anchors the grid window in world space for one layer.
type Origin struct {
	BaseX int `json:"base_x"`
	BaseY int `json:"base_y"`
	Layer int `json:"layer"`
}

// ToLocal is the only world->local conversion. The cell is returned even
// when it falls outside the window; callers check InBounds.
func (o Origin) ToLocal(p WorldPoint) LocalCell {
	return LocalCell{X: p.X - o.BaseX, Y: p.Y - o.BaseY}
}

// ToWorld maps a local cell back onto the origin's layer.
func (o Origin) ToWorld(c LocalCell) WorldPoint {
	return WorldPoint{X: c.X + o.BaseX, Y: c.Y + o.BaseY, Layer: o.Layer}
}

// Contains reports whether p is on the origin's layer and inside the window.
func (o Origin) Contains(p WorldPoint) bool {
	return p.Layer == o.Layer && o.ToLocal(p).InBounds()
}

// Manhattan is |dx|+|dy| between two cells.
func Manhattan(a, b LocalCell) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

// Chebyshev is max(|dx|,|dy|) between two cells.
func Chebyshev(a, b LocalCell) int {
	dx, dy := abs(a.X-b.X), abs(a.Y-b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Rect is an inclusive world-space rectangle. It carries no layer; the
// layer comes from the point it is resolved against.
type Rect struct {
	MinX int `json:"min_x"`
	MinY int `json:"min_y"`
	MaxX int `json:"max_x"`
	MaxY int `json:"max_y"`
}

// Normalize swaps inverted bounds.
func (r Rect) Normalize() Rect {
	if r.MinX > r.MaxX {
		r.MinX, r.MaxX = r.MaxX, r.MinX
	}
	if r.MinY > r.MaxY {
		r.MinY, r.MaxY = r.MaxY, r.MinY
	}
	return r
}

// Centroid returns the integer center of the rectangle on layer, clamped
// into the rectangle.
func (r Rect) Centroid(layer int) WorldPoint {
	r = r.Normalize()
	return r.Clamp(WorldPoint{X: (r.MinX + r.MaxX) / 2, Y: (r.MinY + r.MaxY) / 2, Layer: layer})
}

// Clamp pulls p into the rectangle bounds, keeping its layer.
func (r Rect) Clamp(p WorldPoint) WorldPoint {
	r = r.Normalize()
	p.X = clamp(p.X, r.MinX, r.MaxX)
	p.Y = clamp(p.Y, r.MinY, r.MaxY)
	return p
}

// Contains reports whether p's x/y lie inside the rectangle.
func (r Rect) Contains(p WorldPoint) bool {
	r = r.Normalize()
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
