package collision

import "tilebridge.ai/internal/scene/coords"

// probeDirs is the fixed 4-neighbour expansion order for NearestWalkable.
var probeDirs = [4]coords.LocalCell{{X: 0, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: -1}, {X: -1, Y: 0}}

// NearestWalkable returns the closest walkable cell to origin by 4-connected
// grid steps, searching at most maxRadius rings. Ties resolve by the fixed
// expansion order, so the answer is reproducible for a given mask.
func NearestWalkable(m *Mask, origin coords.LocalCell, maxRadius int) (coords.LocalCell, bool) {
	if !origin.InBounds() {
		return coords.LocalCell{}, false
	}
	if IsWalkable(m, origin) {
		return origin, true
	}
	if maxRadius <= 0 {
		return coords.LocalCell{}, false
	}

	type qItem struct {
		c     coords.LocalCell
		depth int
	}

	var seen [cells]bool
	seen[index(origin)] = true
	queue := make([]qItem, 0, 64)
	queue = append(queue, qItem{c: origin})

	for head := 0; head < len(queue); head++ {
		it := queue[head]
		if it.depth > 0 && IsWalkable(m, it.c) {
			return it.c, true
		}
		if it.depth >= maxRadius {
			continue
		}
		for _, d := range probeDirs {
			np := it.c.Add(d.X, d.Y)
			if !np.InBounds() || seen[index(np)] {
				continue
			}
			seen[index(np)] = true
			queue = append(queue, qItem{c: np, depth: it.depth + 1})
		}
	}
	return coords.LocalCell{}, false
}
