package pathing

import (
	"time"

	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/coords"
)

const (
	// DefaultSnapRadius bounds the ring search used to move a blocked goal
	// onto a walkable cell.
	DefaultSnapRadius = 20
	// DefaultExpansionCap allows a full traversal of the grid window.
	DefaultExpansionCap = coords.GridSize * coords.GridSize
	// DefaultExcerptRadius gives 11x11 excerpts.
	DefaultExcerptRadius = 5
)

type Options struct {
	SnapRadius     int
	RectSnapRadius int
	ExpansionCap   int
	// ExcerptRadius <= 0 disables excerpts.
	ExcerptRadius int
}

func DefaultOptions() Options {
	return Options{
		SnapRadius:     DefaultSnapRadius,
		RectSnapRadius: DefaultSnapRadius,
		ExpansionCap:   DefaultExpansionCap,
		ExcerptRadius:  DefaultExcerptRadius,
	}
}

// Planner runs breadth-first searches over captured snapshots. It holds no
// per-call state, so one Planner can serve concurrent callers.
type Planner struct {
	opts Options
	now  func() time.Time
}

func NewPlanner(opts Options) *Planner {
	if opts.SnapRadius < 0 {
		opts.SnapRadius = 0
	}
	if opts.RectSnapRadius < 0 {
		opts.RectSnapRadius = 0
	}
	if opts.ExpansionCap <= 0 {
		opts.ExpansionCap = DefaultExpansionCap
	}
	return &Planner{opts: opts, now: time.Now}
}

func (p *Planner) Options() Options { return p.opts }

// Plan computes a route from start to goal over snap. expansionCap <= 0
// uses the planner default.
//
// The returned path always begins at start. When the goal cannot be
// reached the path ends at the reachable cell closest to the goal by
// Manhattan distance, and Diagnostics.ReturnedBest is set.
func (p *Planner) Plan(snap *scene.Snapshot, start, goal coords.WorldPoint, expansionCap int) Result {
	began := p.now()
	if expansionCap <= 0 {
		expansionCap = p.opts.ExpansionCap
	}

	d := Diagnostics{
		Start:        start,
		Goal:         goal,
		OriginalGoal: goal,
		Best:         start,
		ExpansionCap: expansionCap,
	}
	res := Result{Path: []coords.WorldPoint{start}}
	finish := func() Result {
		d.PathLength = len(res.Path)
		d.Elapsed = p.now().Sub(began)
		res.Diagnostics = d
		return res
	}

	if !snap.HasCollision() {
		if snap != nil {
			d.Layer = snap.Layer()
			d.Origin = snap.Origin
		}
		d.FailureReason = ReasonNoCollisionData
		return finish()
	}

	origin := snap.Origin
	mask := snap.Mask
	d.Layer = origin.Layer
	d.Origin = origin
	d.DoorCells = snap.Doors.Count()

	startCell := origin.ToLocal(start)
	goalCell := origin.ToLocal(goal)
	d.StartLocal, d.GoalLocal, d.BestLocal = startCell, goalCell, startCell
	d.StartInScene = origin.Contains(start)
	d.GoalInScene = origin.Contains(goal)

	if !d.StartInScene {
		d.FailureReason = ReasonStartOffScene
		return finish()
	}
	d.StartWalkable = collision.IsWalkable(mask, startCell)
	if !d.StartWalkable {
		d.FailureReason = ReasonStartBlocked
		d.Excerpts = p.excerpts(snap, startCell, goalCell, startCell, d.GoalInScene)
		return finish()
	}

	if d.GoalInScene && !collision.IsWalkable(mask, goalCell) {
		if snapped, ok := collision.NearestWalkable(mask, goalCell, p.opts.SnapRadius); ok {
			goalCell = snapped
			d.Goal = origin.ToWorld(snapped)
			d.GoalLocal = snapped
			d.GoalSnapped = true
		}
	}

	s := search(mask, snap.Doors, startCell, goalCell, d.GoalInScene, expansionCap)
	d.Expansions = s.expansions
	d.Enqueued = s.enqueued
	d.SeenCells = s.seen

	end := s.best
	switch {
	case s.found:
		end = goalCell
		d.FoundGoal = true
	default:
		d.ReturnedBest = true
		switch {
		case !d.GoalInScene:
			d.FailureReason = ReasonGoalOffScene
		case s.capped:
			d.FailureReason = ReasonExpansionCap
		default:
			d.FailureReason = ReasonGoalUnreachable
		}
	}

	d.BestLocal = end
	d.Best = origin.ToWorld(end)
	d.BestDistance = coords.Manhattan(end, goalCell)
	res.Path = s.reconstruct(origin, start, startCell, end)
	d.Excerpts = p.excerpts(snap, startCell, goalCell, end, d.GoalInScene)
	return finish()
}

func (p *Planner) excerpts(snap *scene.Snapshot, start, goal, best coords.LocalCell, goalInScene bool) *Excerpts {
	r := p.opts.ExcerptRadius
	if r <= 0 {
		return nil
	}
	marks := excerptMarks{start: start, goal: goal, best: best}
	ex := &Excerpts{
		Start: renderExcerpt(snap.Mask, snap.Doors, start, r, marks),
		Best:  renderExcerpt(snap.Mask, snap.Doors, best, r, marks),
	}
	if goalInScene {
		ex.Goal = renderExcerpt(snap.Mask, snap.Doors, goal, r, marks)
	}
	return ex
}
