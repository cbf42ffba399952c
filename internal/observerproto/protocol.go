package observerproto

import (
	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/scene"
)

// Version is the observer protocol version (separate from the client protocol).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection; may be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional filters.
	SessionID    string `json:"session_id,omitempty"`
	FailuresOnly bool   `json:"failures_only,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	GridSize        int           `json:"grid_size"`
	TuningDigest    string        `json:"tuning_digest"`
	Scene           scene.Summary `json:"scene"`
	Stats           bridge.Stats  `json:"stats"`
}

// Server -> Client. One per planning request.
type PlanMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Seq             uint64            `json:"seq"`
	Record          bridge.PlanRecord `json:"record"`
}
