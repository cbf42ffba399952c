package collision

import "tilebridge.ai/internal/scene/coords"

// Flags is the per-cell movement bitmask.
type Flags uint32

const (
	BlockNorth Flags = 1 << iota
	BlockEast
	BlockSouth
	BlockWest
	BlockObject
	BlockFloor

	// BlockSolid marks a cell as hard-blocked.
	BlockSolid = BlockObject | BlockFloor
	// BlockEdges covers every directional bit.
	BlockEdges = BlockNorth | BlockEast | BlockSouth | BlockWest
)

const cells = coords.GridSize * coords.GridSize

// Mask is a GridSize x GridSize snapshot of movement flags, indexed by
// local cell. The zero value is a fully open grid.
type Mask struct {
	flags [cells]Flags
}

func index(c coords.LocalCell) int { return c.X*coords.GridSize + c.Y }

// At returns the flags for c. Cells outside the window read as solid so
// that nothing can step or snap onto them.
func (m *Mask) At(c coords.LocalCell) Flags {
	if !c.InBounds() {
		return BlockSolid
	}
	return m.flags[index(c)]
}

// Set overwrites the flags of c. Out-of-bounds writes are ignored.
func (m *Mask) Set(c coords.LocalCell, f Flags) {
	if c.InBounds() {
		m.flags[index(c)] = f
	}
}

// Add ORs f into the flags of c.
func (m *Mask) Add(c coords.LocalCell, f Flags) {
	if c.InBounds() {
		m.flags[index(c)] |= f
	}
}

// Clone returns an independent copy.
func (m *Mask) Clone() *Mask {
	out := *m
	return &out
}

// Raw exposes the flags in x-major order for persistence.
func (m *Mask) Raw() []Flags { return m.flags[:] }

// FromRaw builds a mask from x-major flags; short input leaves the tail open.
func FromRaw(raw []Flags) *Mask {
	m := &Mask{}
	copy(m.flags[:], raw)
	return m
}

// IsWalkable reports whether neither floor nor object bit is set on c.
func IsWalkable(m *Mask, c coords.LocalCell) bool {
	return m.At(c)&BlockSolid == 0
}

// WalkableCount counts open cells; used by scene summaries.
func WalkableCount(m *Mask) int {
	n := 0
	for _, f := range m.flags {
		if f&BlockSolid == 0 {
			n++
		}
	}
	return n
}
