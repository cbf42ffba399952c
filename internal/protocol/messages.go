package protocol

import (
	"tilebridge.ai/internal/pathing"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/coords"
)

// Point is a world tile on the wire: [x, y, layer].
type Point [3]int

func PointOf(p coords.WorldPoint) Point { return Point{p.X, p.Y, p.Layer} }

func (p Point) World() coords.WorldPoint {
	return coords.WorldPoint{X: p[0], Y: p[1], Layer: p[2]}
}

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	GridSize        int    `json:"grid_size"`
	TuningDigest    string `json:"tuning_digest,omitempty"`
}

// PATH (client -> server). Start defaults to the local player position.
type PathMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Start           *Point `json:"start,omitempty"`
	Goal            Point  `json:"goal"`
	ExpansionCap    int    `json:"expansion_cap,omitempty"`
	IncludeExcerpts bool   `json:"include_excerpts,omitempty"`
}

// PATH_RECT (client -> server)
type PathRectMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ID              string      `json:"id,omitempty"`
	Start           *Point      `json:"start,omitempty"`
	Rect            coords.Rect `json:"rect"`
	ExpansionCap    int         `json:"expansion_cap,omitempty"`
	IncludeExcerpts bool        `json:"include_excerpts,omitempty"`
}

// SCENE (client -> server)
type SceneMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
}

// PATH_RESULT (server -> client)
type PathResultMsg struct {
	Type            string              `json:"type"`
	ProtocolVersion string              `json:"protocol_version"`
	ID              string              `json:"id"`
	Path            []Point             `json:"path"`
	Goal            Point               `json:"goal"`
	Diagnostics     pathing.Diagnostics `json:"diagnostics"`
}

// SCENE_INFO (server -> client)
type SceneInfoMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	ID              string        `json:"id"`
	Scene           scene.Summary `json:"scene"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(id, code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, ID: id, Code: code, Message: msg}
}
