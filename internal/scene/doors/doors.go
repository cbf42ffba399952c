package doors

import (
	"strings"

	"tilebridge.ai/internal/scene/coords"
)

const cells = coords.GridSize * coords.GridSize

// ObjectID identifies a wall-spanning object in the host client.
type ObjectID int

// Lookup is the slice of the game-client collaborator the builder needs.
// Both calls must be made on the simulation thread.
type Lookup interface {
	WallObjectAt(layer int, c coords.LocalCell) (ObjectID, bool)
	ObjectDisplayName(id ObjectID) (string, bool)
}

// Classifier decides whether a wall object is door-like.
type Classifier interface {
	IsDoor(id ObjectID, name string) bool
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(id ObjectID, name string) bool

func (f ClassifierFunc) IsDoor(id ObjectID, name string) bool { return f(id, name) }

// DefaultKeywords are matched case-insensitively against display names.
var DefaultKeywords = []string{"door", "gate"}

// NameClassifier matches lowercased display names against substrings.
// It is a heuristic: unnamed doors are missed and unrelated names that
// contain a keyword are accepted.
type NameClassifier struct {
	keywords []string
}

func NewNameClassifier(keywords ...string) *NameClassifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	c := &NameClassifier{keywords: make([]string, 0, len(keywords))}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			c.keywords = append(c.keywords, k)
		}
	}
	return c
}

func (c *NameClassifier) IsDoor(_ ObjectID, name string) bool {
	name = strings.ToLower(name)
	for _, k := range c.keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// Mask marks cells that host a door-like obstruction.
type Mask struct {
	doors [cells]bool
	count int
}

func (m *Mask) HasDoor(c coords.LocalCell) bool {
	if m == nil || !c.InBounds() {
		return false
	}
	return m.doors[c.X*coords.GridSize+c.Y]
}

// Mark flags c as a door cell.
func (m *Mask) Mark(c coords.LocalCell) {
	if !c.InBounds() {
		return
	}
	i := c.X*coords.GridSize + c.Y
	if !m.doors[i] {
		m.doors[i] = true
		m.count++
	}
}

// Count is the number of door cells.
func (m *Mask) Count() int {
	if m == nil {
		return 0
	}
	return m.count
}

// Cells lists door cells in x-major order.
func (m *Mask) Cells() []coords.LocalCell {
	if m == nil {
		return nil
	}
	out := make([]coords.LocalCell, 0, m.count)
	for i, ok := range m.doors {
		if ok {
			out = append(out, coords.LocalCell{X: i / coords.GridSize, Y: i % coords.GridSize})
		}
	}
	return out
}

// Build scans every cell of the layer once and marks those whose wall
// object the classifier accepts. A nil classifier uses the default keywords.
func Build(src Lookup, layer int, cls Classifier) *Mask {
	if cls == nil {
		cls = NewNameClassifier()
	}
	m := &Mask{}
	if src == nil {
		return m
	}
	for x := 0; x < coords.GridSize; x++ {
		for y := 0; y < coords.GridSize; y++ {
			c := coords.LocalCell{X: x, Y: y}
			id, ok := src.WallObjectAt(layer, c)
			if !ok {
				continue
			}
			name, ok := src.ObjectDisplayName(id)
			if !ok {
				continue
			}
			if cls.IsDoor(id, name) {
				m.Mark(c)
			}
		}
	}
	return m
}
