package observer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/observerproto"
	"tilebridge.ai/internal/pathing"
	"tilebridge.ai/internal/protocol"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/tuning"
)

func TestHubFiltersAndDrops(t *testing.T) {
	h := NewHub()
	all := &subscriber{out: make(chan []byte, 1)}
	mine := &subscriber{filter: observerproto.SubscribeMsg{SessionID: "s1", FailuresOnly: true}, out: make(chan []byte, 4)}
	h.join("a", all)
	h.join("b", mine)
	if h.Subscribers() != 2 {
		t.Fatalf("subscribers=%d", h.Subscribers())
	}

	ok := bridge.PlanRecord{SessionID: "s1"}
	failed := bridge.PlanRecord{SessionID: "s1", Diagnostics: pathing.Diagnostics{FailureReason: pathing.ReasonGoalUnreachable}}
	other := bridge.PlanRecord{SessionID: "s2", Diagnostics: pathing.Diagnostics{FailureReason: pathing.ReasonStartBlocked}}
	for _, r := range []bridge.PlanRecord{ok, failed, other} {
		if err := h.WritePlan(r); err != nil {
			t.Fatalf("WritePlan: %v", err)
		}
	}

	if got := len(mine.out); got != 1 {
		t.Fatalf("filtered subscriber got %d messages, want 1", got)
	}
	var msg observerproto.PlanMsg
	if err := json.Unmarshal(<-mine.out, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "PLAN" || msg.Seq != 2 || msg.Record.Diagnostics.FailureReason != pathing.ReasonGoalUnreachable {
		t.Fatalf("msg=%+v", msg)
	}
	if all.drops.Load() != 2 {
		t.Fatalf("drops=%d want 2", all.drops.Load())
	}

	h.leave("a")
	h.leave("b")
	if h.Subscribers() != 0 {
		t.Fatalf("subscribers=%d", h.Subscribers())
	}
}

func newTestServer(t *testing.T) (*bridge.Service, *Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	loop := scene.NewLoop(scene.NewStatic(0, 3200, 3200), nil)
	go func() { _ = loop.Run(ctx) }()

	logger := log.New(io.Discard, "", 0)
	hub := NewHub()
	svc, err := bridge.New(bridge.Config{Tuning: tuning.Defaults(), Loop: loop, Sinks: []bridge.PlanSink{hub}, Logger: logger})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	srv := NewServer(svc, hub, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/bootstrap", srv.BootstrapHandler())
	mux.HandleFunc("/ws", srv.WSHandler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return svc, hub, ts
}

func TestBootstrap(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var b observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.ProtocolVersion != observerproto.Version || b.GridSize != 104 || b.TuningDigest == "" {
		t.Fatalf("bootstrap=%+v", b)
	}
	if b.Scene.Origin.BaseX != 3200 || !b.Scene.HasCollision {
		t.Fatalf("scene=%+v", b.Scene)
	}

	post, err := http.Post(ts.URL+"/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status=%d", post.StatusCode)
	}
}

func TestStreamDeliversPlans(t *testing.T) {
	svc, hub, ts := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never joined")
		}
		time.Sleep(5 * time.Millisecond)
	}

	start := protocol.Point{3205, 3205, 0}
	if _, err := svc.Path(context.Background(), "s1", protocol.PathMsg{
		Type:            protocol.TypePath,
		ProtocolVersion: protocol.Version,
		ID:              "p1",
		Start:           &start,
		Goal:            protocol.Point{3207, 3205, 0},
	}); err != nil {
		t.Fatalf("Path: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg observerproto.PlanMsg
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Record.SessionID != "s1" || msg.Record.RequestID != "p1" || len(msg.Record.Path) != 3 {
		t.Fatalf("record=%+v", msg.Record)
	}
}

func TestStreamRequiresSubscribe(t *testing.T) {
	_, _, ts := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]string{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation", err)
	}
}
