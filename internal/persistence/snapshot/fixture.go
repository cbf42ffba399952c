package snapshot

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
	"tilebridge.ai/internal/scene/doors"
)

// Fixture is a hand-written scene. Rows are drawn north-up: the first row
// is the highest local y. Glyphs:
//
//	.  open          #  solid floor     O  object
//	^  wall north    >  wall east       v  wall south    <  wall west
//	D  door object   G  gate object
type Fixture struct {
	ID     string   `yaml:"id"`
	Layer  int      `yaml:"layer"`
	Base   [2]int   `yaml:"base"`
	Player [3]int   `yaml:"player"`
	Rows   []string `yaml:"rows"`
	// NoCollision drops the mask for the layer entirely.
	NoCollision bool          `yaml:"no_collision"`
	Walls       []FixtureWall `yaml:"walls"`
}

type FixtureWall struct {
	At   [2]int `yaml:"at"`
	Name string `yaml:"name"`
}

func LoadYAML(path string) (*scene.Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	st, err := fx.Static()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}

func (fx Fixture) Static() (*scene.Static, error) {
	if len(fx.Rows) > coords.GridSize {
		return nil, fmt.Errorf("too many rows: %d", len(fx.Rows))
	}
	st := scene.NewStatic(fx.Layer, fx.Base[0], fx.Base[1])
	st.Player = coords.WorldPoint{X: fx.Player[0], Y: fx.Player[1], Layer: fx.Player[2]}
	m := st.Mask()

	nextID := doors.ObjectID(1)
	place := func(c coords.LocalCell, name string) {
		st.PlaceWall(c, nextID, name)
		nextID++
	}

	for i, row := range fx.Rows {
		row = strings.TrimRight(row, " ")
		if len(row) > coords.GridSize {
			return nil, fmt.Errorf("row %d too wide: %d", i, len(row))
		}
		y := len(fx.Rows) - 1 - i
		for x := 0; x < len(row); x++ {
			c := coords.LocalCell{X: x, Y: y}
			switch row[x] {
			case '.', ' ':
			case '#':
				m.Add(c, collision.BlockFloor)
			case 'O':
				m.Add(c, collision.BlockObject)
			case '^':
				m.Add(c, collision.BlockNorth)
			case '>':
				m.Add(c, collision.BlockEast)
			case 'v':
				m.Add(c, collision.BlockSouth)
			case '<':
				m.Add(c, collision.BlockWest)
			case 'D':
				m.Add(c, collision.BlockObject)
				place(c, "Door")
			case 'G':
				m.Add(c, collision.BlockObject)
				place(c, "Gate")
			default:
				return nil, fmt.Errorf("row %d col %d: unknown glyph %q", i, x, row[x])
			}
		}
	}
	for _, w := range fx.Walls {
		c := coords.LocalCell{X: w.At[0], Y: w.At[1]}
		if !c.InBounds() {
			return nil, fmt.Errorf("wall %q out of bounds at %v", w.Name, c)
		}
		place(c, w.Name)
	}
	if fx.NoCollision {
		delete(st.Masks, fx.Layer)
	}
	return st, nil
}
