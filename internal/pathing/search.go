package pathing

import (
	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
)

const noPred = -1

type searchState struct {
	pred []int32

	best       coords.LocalCell
	found      bool
	capped     bool
	expansions int
	enqueued   int
	seen       int
}

func cellIndex(c coords.LocalCell) int { return c.X*coords.GridSize + c.Y }

func cellAt(i int) coords.LocalCell {
	return coords.LocalCell{X: i / coords.GridSize, Y: i % coords.GridSize}
}

// search is a FIFO breadth-first search from start. Neighbours are visited
// in collision.Directions order, so equal-length routes resolve the same
// way on every run. best tracks the first dequeued cell with the smallest
// Manhattan distance to goal. The goal only terminates the search when it
// lies inside the window.
func search(m *collision.Mask, doors collision.Doors, start, goal coords.LocalCell, goalInScene bool, expansionCap int) *searchState {
	const n = coords.GridSize * coords.GridSize
	s := &searchState{pred: make([]int32, n), best: start}
	for i := range s.pred {
		s.pred[i] = noPred
	}
	seen := make([]bool, n)

	seen[cellIndex(start)] = true
	s.seen = 1
	queue := make([]int32, 0, 1024)
	queue = append(queue, int32(cellIndex(start)))
	s.enqueued = 1
	bestDist := coords.Manhattan(start, goal)

	for head := 0; head < len(queue); head++ {
		if s.expansions >= expansionCap {
			s.capped = true
			break
		}
		cur := cellAt(int(queue[head]))
		s.expansions++

		if d := coords.Manhattan(cur, goal); d < bestDist {
			bestDist = d
			s.best = cur
		}
		if goalInScene && cur == goal {
			s.found = true
			return s
		}

		for _, dir := range collision.Directions {
			if !collision.CanStep(m, doors, cur, dir) {
				continue
			}
			next := cur.Add(dir.DX, dir.DY)
			ni := cellIndex(next)
			if seen[ni] {
				continue
			}
			seen[ni] = true
			s.seen++
			s.pred[ni] = int32(cellIndex(cur))
			queue = append(queue, int32(ni))
			s.enqueued++
		}
	}
	return s
}

// reconstruct walks predecessor links back from end and returns the route
// in start->end order, mapped to world space.
func (s *searchState) reconstruct(origin coords.Origin, start coords.WorldPoint, startCell, end coords.LocalCell) []coords.WorldPoint {
	if end == startCell {
		return []coords.WorldPoint{start}
	}
	cells := []coords.LocalCell{end}
	for i := s.pred[cellIndex(end)]; i != noPred; i = s.pred[i] {
		cells = append(cells, cellAt(int(i)))
	}
	path := make([]coords.WorldPoint, len(cells))
	for i, c := range cells {
		path[len(cells)-1-i] = origin.ToWorld(c)
	}
	path[0] = start
	return path
}
