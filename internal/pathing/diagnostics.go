package pathing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"tilebridge.ai/internal/scene/coords"
)

// FailureReason is the typed outcome of a plan that did not reach its goal.
type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonNoCollisionData FailureReason = "no-collision-data"
	ReasonStartOffScene   FailureReason = "start-off-scene"
	ReasonStartBlocked    FailureReason = "start-blocked"
	ReasonGoalOffScene    FailureReason = "goal-off-scene"
	ReasonGoalUnreachable FailureReason = "goal-unreachable"
	ReasonExpansionCap    FailureReason = "expansion-cap"
)

// Precondition reports whether the planner refused to search at all.
func (r FailureReason) Precondition() bool {
	switch r {
	case ReasonNoCollisionData, ReasonStartOffScene, ReasonStartBlocked:
		return true
	default:
		return false
	}
}

// Excerpts are small ASCII renderings of the grid around key cells.
type Excerpts struct {
	Start string `json:"start,omitempty"`
	Goal  string `json:"goal,omitempty"`
	Best  string `json:"best,omitempty"`
}

// Diagnostics describes one planning run.
type Diagnostics struct {
	Layer  int           `json:"layer"`
	Origin coords.Origin `json:"origin"`

	Start        coords.WorldPoint `json:"start"`
	Goal         coords.WorldPoint `json:"goal"`
	OriginalGoal coords.WorldPoint `json:"original_goal"`
	Best         coords.WorldPoint `json:"best"`

	StartLocal coords.LocalCell `json:"start_local"`
	GoalLocal  coords.LocalCell `json:"goal_local"`
	BestLocal  coords.LocalCell `json:"best_local"`

	StartInScene  bool `json:"start_in_scene"`
	GoalInScene   bool `json:"goal_in_scene"`
	StartWalkable bool `json:"start_walkable"`
	GoalSnapped   bool `json:"goal_snapped"`

	Expansions   int `json:"expansions"`
	Enqueued     int `json:"enqueued"`
	SeenCells    int `json:"seen_cells"`
	ExpansionCap int `json:"expansion_cap"`
	BestDistance int `json:"best_distance"`
	PathLength   int `json:"path_length"`
	DoorCells    int `json:"door_cells"`

	FoundGoal     bool          `json:"found_goal"`
	ReturnedBest  bool          `json:"returned_best"`
	FailureReason FailureReason `json:"failure_reason,omitempty"`

	Elapsed  time.Duration `json:"elapsed_ns"`
	Excerpts *Excerpts     `json:"excerpts,omitempty"`
}

// Fingerprint hashes everything except wall-clock timing. Two runs over the
// same snapshot and inputs produce the same fingerprint.
func (d Diagnostics) Fingerprint(path []coords.WorldPoint) string {
	d.Elapsed = 0
	b, _ := json.Marshal(struct {
		Diag Diagnostics         `json:"diag"`
		Path []coords.WorldPoint `json:"path"`
	}{d, path})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Result is a route plus the diagnostics of the run that produced it.
// Path is never empty and Path[0] is always the requested start.
type Result struct {
	Path        []coords.WorldPoint `json:"path"`
	Diagnostics Diagnostics         `json:"diagnostics"`
}

// Last is the route endpoint.
func (r Result) Last() coords.WorldPoint { return r.Path[len(r.Path)-1] }
