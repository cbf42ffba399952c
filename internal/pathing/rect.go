package pathing

import (
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
)

// PickGoalInRect resolves an area target to one deterministic point: the
// rectangle centroid on from's layer, moved to the nearest walkable cell
// when it is blocked and re-clamped into the rectangle. Without collision
// data the raw centroid is returned.
func (p *Planner) PickGoalInRect(snap *scene.Snapshot, from coords.WorldPoint, rect coords.Rect) coords.WorldPoint {
	goal := rect.Centroid(from.Layer)
	if !snap.HasCollision() {
		return goal
	}
	if !snap.Origin.Contains(goal) {
		return goal
	}
	cell := snap.Origin.ToLocal(goal)
	if collision.IsWalkable(snap.Mask, cell) {
		return goal
	}
	snapped, ok := collision.NearestWalkable(snap.Mask, cell, p.opts.RectSnapRadius)
	if !ok {
		return goal
	}
	return rect.Clamp(snap.Origin.ToWorld(snapped))
}
