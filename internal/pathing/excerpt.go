package pathing

import (
	"strings"

	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
	"tilebridge.ai/internal/scene/doors"
)

// Excerpt glyphs.
const (
	glyphOpen    = '.'
	glyphSolid   = '#'
	glyphEdge    = '+'
	glyphDoor    = 'D'
	glyphOutside = '~'
	glyphStart   = 'S'
	glyphGoal    = 'G'
	glyphBest    = 'B'
)

type excerptMarks struct {
	start, goal, best coords.LocalCell
}

// renderExcerpt draws a (2r+1)^2 window centred on c, north at the top.
// Markers win over terrain; start wins over goal wins over best.
func renderExcerpt(m *collision.Mask, d *doors.Mask, c coords.LocalCell, r int, marks excerptMarks) string {
	if r <= 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow((2*r + 2) * (2*r + 1))
	for y := c.Y + r; y >= c.Y-r; y-- {
		for x := c.X - r; x <= c.X+r; x++ {
			sb.WriteByte(glyphAt(m, d, coords.LocalCell{X: x, Y: y}, marks))
		}
		if y > c.Y-r {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func glyphAt(m *collision.Mask, d *doors.Mask, cell coords.LocalCell, marks excerptMarks) byte {
	switch cell {
	case marks.start:
		return glyphStart
	case marks.goal:
		return glyphGoal
	case marks.best:
		return glyphBest
	}
	if !cell.InBounds() {
		return glyphOutside
	}
	if d.HasDoor(cell) {
		return glyphDoor
	}
	f := m.At(cell)
	switch {
	case f&collision.BlockSolid != 0:
		return glyphSolid
	case f&collision.BlockEdges != 0:
		return glyphEdge
	default:
		return glyphOpen
	}
}
