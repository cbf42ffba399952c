package scene

import (
	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
	"tilebridge.ai/internal/scene/doors"
)

// Static is an in-memory Source. It backs snapshot files, fixtures and
// tests. It is not safe for concurrent use; hand it to a Loop.
type Static struct {
	Layer   int
	Origins map[int]coords.Origin
	Masks   map[int]*collision.Mask
	Walls   map[int]map[coords.LocalCell]doors.ObjectID
	Names   map[doors.ObjectID]string
	Player  coords.WorldPoint
}

// NewStatic returns a single-layer scene anchored at (baseX, baseY) with an
// open collision mask.
func NewStatic(layer, baseX, baseY int) *Static {
	return &Static{
		Layer:   layer,
		Origins: map[int]coords.Origin{layer: {BaseX: baseX, BaseY: baseY, Layer: layer}},
		Masks:   map[int]*collision.Mask{layer: {}},
		Walls:   map[int]map[coords.LocalCell]doors.ObjectID{},
		Names:   map[doors.ObjectID]string{},
		Player:  coords.WorldPoint{X: baseX, Y: baseY, Layer: layer},
	}
}

func (s *Static) CurrentLayer() int { return s.Layer }

func (s *Static) GridOrigin(layer int) (int, int) {
	o := s.Origins[layer]
	return o.BaseX, o.BaseY
}

func (s *Static) CollisionMask(layer int) (*collision.Mask, bool) {
	m, ok := s.Masks[layer]
	return m, ok && m != nil
}

func (s *Static) WallObjectAt(layer int, c coords.LocalCell) (doors.ObjectID, bool) {
	id, ok := s.Walls[layer][c]
	return id, ok
}

func (s *Static) ObjectDisplayName(id doors.ObjectID) (string, bool) {
	n, ok := s.Names[id]
	return n, ok
}

func (s *Static) LocalPlayerWorldPosition() coords.WorldPoint { return s.Player }

// Mask returns the mask for the current layer, creating an open one if
// needed.
func (s *Static) Mask() *collision.Mask {
	if s.Masks == nil {
		s.Masks = map[int]*collision.Mask{}
	}
	m := s.Masks[s.Layer]
	if m == nil {
		m = &collision.Mask{}
		s.Masks[s.Layer] = m
	}
	return m
}

// PlaceWall registers a named wall object on the current layer.
func (s *Static) PlaceWall(c coords.LocalCell, id doors.ObjectID, name string) {
	if s.Walls == nil {
		s.Walls = map[int]map[coords.LocalCell]doors.ObjectID{}
	}
	if s.Walls[s.Layer] == nil {
		s.Walls[s.Layer] = map[coords.LocalCell]doors.ObjectID{}
	}
	if s.Names == nil {
		s.Names = map[doors.ObjectID]string{}
	}
	s.Walls[s.Layer][c] = id
	s.Names[id] = name
}

// SetFlags overwrites one cell of an existing layer mask.
func (s *Static) SetFlags(layer int, c coords.LocalCell, f collision.Flags) bool {
	m := s.Masks[layer]
	if m == nil || !c.InBounds() {
		return false
	}
	m.Set(c, f)
	return true
}

func (s *Static) SetPlayer(p coords.WorldPoint) { s.Player = p }
