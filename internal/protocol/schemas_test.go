package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tilebridge.ai/internal/pathing"
	"tilebridge.ai/internal/protocol"
)

func TestValidator_AcceptsSamples(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	samples := map[string]string{
		protocol.TypeHello:    `{"type":"HELLO","protocol_version":"1.0","client_name":"bot","capabilities":{"max_queue":8}}`,
		protocol.TypePath:     `{"type":"PATH","protocol_version":"1.0","id":"p1","start":[3200,3200,0],"goal":[3210,3205,0],"include_excerpts":true}`,
		protocol.TypePathRect: `{"type":"PATH_RECT","protocol_version":"1.0","rect":{"min_x":1,"min_y":2,"max_x":3,"max_y":4}}`,
		protocol.TypeScene:    `{"type":"SCENE","protocol_version":"1.0","id":"s"}`,
	}
	for typ, raw := range samples {
		if err := v.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}
}

func TestValidator_RejectsMalformed(t *testing.T) {
	v, err := protocol.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	bad := []struct {
		typ string
		raw string
	}{
		{protocol.TypePath, `{"type":"PATH","protocol_version":"1.0"}`},
		{protocol.TypePath, `{"type":"PATH","protocol_version":"1.0","goal":[1,2]}`},
		{protocol.TypePath, `{"type":"PATH","protocol_version":"1.0","goal":[1,2,0],"goal_radius":3}`},
		{protocol.TypePath, `{"type":"PATH","protocol_version":"1.0","goal":[1.5,2,0]}`},
		{protocol.TypePathRect, `{"type":"PATH_RECT","protocol_version":"1.0","rect":{"min_x":1}}`},
		{protocol.TypeScene, `{"type":"PATH","protocol_version":"1.0"}`},
		{protocol.TypeHello, `{"type":"HELLO","protocol_version":"","client_name":"x"}`},
	}
	for _, tc := range bad {
		if err := v.Validate(tc.typ, []byte(tc.raw)); err == nil {
			t.Fatalf("expected rejection: %s", tc.raw)
		}
	}
	if err := v.Validate("NOPE", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown type rejected")
	}
}

func TestSchemas_PathResultSample(t *testing.T) {
	s, err := jsonschema.Compile(filepath.Join("schemas", "path_result.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	msg := protocol.PathResultMsg{
		Type:            protocol.TypePathResult,
		ProtocolVersion: protocol.Version,
		ID:              "p1",
		Path:            []protocol.Point{{1, 1, 0}, {2, 2, 0}},
		Goal:            protocol.Point{2, 2, 0},
		Diagnostics: pathing.Diagnostics{
			FoundGoal:    true,
			Expansions:   4,
			ExpansionCap: 10816,
			PathLength:   2,
		},
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		t.Fatalf("validate: %v", err)
	}

	msg.Diagnostics.FailureReason = "teleported"
	b, _ = json.Marshal(msg)
	_ = json.Unmarshal(b, &doc)
	if err := s.Validate(doc); err == nil {
		t.Fatalf("expected unknown failure reason rejected")
	}
}
