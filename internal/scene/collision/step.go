package collision

import "tilebridge.ai/internal/scene/coords"

// Direction is one of the 8 unit steps. North is +Y, east is +X.
type Direction struct {
	DX, DY int
	Name   string
}

var (
	North     = Direction{DX: 0, DY: 1, Name: "N"}
	South     = Direction{DX: 0, DY: -1, Name: "S"}
	East      = Direction{DX: 1, DY: 0, Name: "E"}
	West      = Direction{DX: -1, DY: 0, Name: "W"}
	NorthEast = Direction{DX: 1, DY: 1, Name: "NE"}
	NorthWest = Direction{DX: -1, DY: 1, Name: "NW"}
	SouthEast = Direction{DX: 1, DY: -1, Name: "SE"}
	SouthWest = Direction{DX: -1, DY: -1, Name: "SW"}
)

// Directions is the fixed neighbour visit order used by the planner.
// Cardinals come first so straight moves win ties.
var Directions = [8]Direction{West, East, South, North, SouthWest, SouthEast, NorthWest, NorthEast}

// Diagonal reports whether d changes both axes.
func (d Direction) Diagonal() bool { return d.DX != 0 && d.DY != 0 }

// Doors answers whether a door-like obstruction sits on a cell.
// A nil Doors means no doors anywhere.
type Doors interface {
	HasDoor(c coords.LocalCell) bool
}

func hasDoor(doors Doors, c coords.LocalCell) bool {
	return doors != nil && doors.HasDoor(c)
}

// edgeBits returns the bit the source must not carry and the bit the
// destination must not carry for a cardinal step.
func edgeBits(d Direction) (out, in Flags) {
	switch {
	case d.DY > 0:
		return BlockNorth, BlockSouth
	case d.DY < 0:
		return BlockSouth, BlockNorth
	case d.DX > 0:
		return BlockEast, BlockWest
	default:
		return BlockWest, BlockEast
	}
}

// CanStep reports whether a single step from `from` in direction d is legal.
//
// Doors on either endpoint override a hard-blocked destination and blocked
// cardinal edges. The diagonal corner check is not door-overridable.
func CanStep(m *Mask, doors Doors, from coords.LocalCell, d Direction) bool {
	if !d.Diagonal() {
		return canStepCardinal(m, doors, from, d)
	}

	to := from.Add(d.DX, d.DY)
	if !to.InBounds() {
		return false
	}
	if !IsWalkable(m, to) && !hasDoor(doors, from) && !hasDoor(doors, to) {
		return false
	}

	vertical := Direction{DY: d.DY}
	horizontal := Direction{DX: d.DX}
	if !canStepCardinal(m, doors, from, vertical) || !canStepCardinal(m, doors, from, horizontal) {
		return false
	}

	// The cell reached vertically must not wall off its horizontal edge, and
	// the cell reached horizontally must not wall off its vertical edge.
	hOut, _ := edgeBits(horizontal)
	vOut, _ := edgeBits(vertical)
	if m.At(from.Add(0, d.DY))&hOut != 0 {
		return false
	}
	if m.At(from.Add(d.DX, 0))&vOut != 0 {
		return false
	}
	return true
}

func canStepCardinal(m *Mask, doors Doors, from coords.LocalCell, d Direction) bool {
	to := from.Add(d.DX, d.DY)
	if !to.InBounds() {
		return false
	}
	door := hasDoor(doors, from) || hasDoor(doors, to)
	if !IsWalkable(m, to) && !door {
		return false
	}
	out, in := edgeBits(d)
	if (m.At(from)&out != 0 || m.At(to)&in != 0) && !door {
		return false
	}
	return true
}
