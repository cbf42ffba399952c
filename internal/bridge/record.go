package bridge

import (
	"tilebridge.ai/internal/pathing"
	"tilebridge.ai/internal/protocol"
	"tilebridge.ai/internal/scene/coords"
)

// PlanRecord is one planning run as written to the plan log and index.
type PlanRecord struct {
	Time         string              `json:"time"`
	SessionID    string              `json:"session_id"`
	RequestID    string              `json:"request_id"`
	Kind         string              `json:"kind"`
	Start        protocol.Point      `json:"start"`
	Goal         protocol.Point      `json:"goal"`
	Rect         *coords.Rect        `json:"rect,omitempty"`
	ExpansionCap int                 `json:"expansion_cap"`
	SceneDigest  string              `json:"scene_digest"`
	Path         []protocol.Point    `json:"path"`
	Diagnostics  pathing.Diagnostics `json:"diagnostics"`
	Fingerprint  string              `json:"fingerprint"`
}

// PlanSink receives every PlanRecord. Implementations must not block the
// caller for long; the plan reply waits on them.
type PlanSink interface {
	WritePlan(PlanRecord) error
}
