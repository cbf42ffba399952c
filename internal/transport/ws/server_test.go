package ws

import (
	"context"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/protocol"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/tuning"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	loop := scene.NewLoop(scene.NewStatic(0, 0, 0), nil)
	go func() { _ = loop.Run(ctx) }()

	logger := log.New(io.Discard, "", 0)
	svc, err := bridge.New(bridge.Config{Tuning: tuning.Defaults(), Loop: loop, Logger: logger})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	ts := httptest.NewServer(NewServer(svc, logger).Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestHandshakeThenPath(t *testing.T) {
	url := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "t"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.SessionID == "" || welcome.GridSize != 104 {
		t.Fatalf("welcome=%+v", welcome)
	}

	start := protocol.Point{0, 0, 0}
	if err := conn.WriteJSON(protocol.PathMsg{
		Type:            protocol.TypePath,
		ProtocolVersion: protocol.Version,
		ID:              "p1",
		Start:           &start,
		Goal:            protocol.Point{0, 4, 0},
	}); err != nil {
		t.Fatalf("path: %v", err)
	}
	var res protocol.PathResultMsg
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.Type != protocol.TypePathResult || res.ID != "p1" || len(res.Path) != 5 {
		t.Fatalf("result=%+v", res)
	}
}

func TestHandshakeRequiresHello(t *testing.T) {
	url := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SCENE","protocol_version":"1.0"}`))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}
