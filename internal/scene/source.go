package scene

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
	"tilebridge.ai/internal/scene/doors"
)

// Source is the game-client boundary. Every method reads live simulation
// state and must only be called from the goroutine that owns the scene
// (see Loop).
type Source interface {
	doors.Lookup

	CurrentLayer() int
	GridOrigin(layer int) (baseX, baseY int)
	// CollisionMask returns the live mask for layer, or false when the
	// client has no collision data for it.
	CollisionMask(layer int) (*collision.Mask, bool)
	LocalPlayerWorldPosition() coords.WorldPoint
}

// Snapshot is an immutable copy of everything one planning call reads.
type Snapshot struct {
	Origin     coords.Origin
	Mask       *collision.Mask // nil when the layer has no collision data
	Doors      *doors.Mask
	Player     coords.WorldPoint
	CapturedAt time.Time
}

// Layer is the active layer the snapshot was taken on.
func (s *Snapshot) Layer() int { return s.Origin.Layer }

// HasCollision reports whether collision data was available.
func (s *Snapshot) HasCollision() bool { return s != nil && s.Mask != nil }

// Capture copies the collision mask and builds the door mask for the
// current layer. It must run on the scene-owning goroutine.
func Capture(src Source, cls doors.Classifier) Snapshot {
	layer := src.CurrentLayer()
	bx, by := src.GridOrigin(layer)
	snap := Snapshot{
		Origin:     coords.Origin{BaseX: bx, BaseY: by, Layer: layer},
		Player:     src.LocalPlayerWorldPosition(),
		CapturedAt: time.Now(),
	}
	if m, ok := src.CollisionMask(layer); ok && m != nil {
		snap.Mask = m.Clone()
	}
	snap.Doors = doors.Build(src, layer, cls)
	return snap
}

// Summary is a small description of a snapshot for status replies.
type Summary struct {
	Layer         int               `json:"layer"`
	Origin        coords.Origin     `json:"origin"`
	GridSize      int               `json:"grid_size"`
	Player        coords.WorldPoint `json:"player"`
	HasCollision  bool              `json:"has_collision"`
	WalkableCells int               `json:"walkable_cells"`
	DoorCells     int               `json:"door_cells"`
}

func (s *Snapshot) Summarize() Summary {
	sum := Summary{
		Layer:        s.Layer(),
		Origin:       s.Origin,
		GridSize:     coords.GridSize,
		Player:       s.Player,
		HasCollision: s.HasCollision(),
		DoorCells:    s.Doors.Count(),
	}
	if s.Mask != nil {
		sum.WalkableCells = collision.WalkableCount(s.Mask)
	}
	return sum
}

// Digest identifies the planning-relevant content of a snapshot: origin,
// collision flags and door cells. Player position and capture time are
// excluded.
func (s *Snapshot) Digest() string {
	h := sha256.New()
	var buf [4]byte
	put := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	put(uint32(int32(s.Origin.BaseX)))
	put(uint32(int32(s.Origin.BaseY)))
	put(uint32(int32(s.Origin.Layer)))
	if s.Mask != nil {
		put(1)
		for _, f := range s.Mask.Raw() {
			put(uint32(f))
		}
	} else {
		put(0)
	}
	for _, c := range s.Doors.Cells() {
		put(uint32(c.X))
		put(uint32(c.Y))
	}
	return hex.EncodeToString(h.Sum(nil))
}
