package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/protocol"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/transport/ws"
	"tilebridge.ai/internal/tuning"
)

func testBridgeURL(t *testing.T) string {
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
	ts := httptest.NewServer(ws.NewServer(svc, logger).Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestUpstreamForwardsAndReusesSessions(t *testing.T) {
	up := newUpstream(testBridgeURL(t), 1, time.Minute, log.New(io.Discard, "", 0))
	defer up.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := []byte(`{"type":"SCENE","protocol_version":"` + protocol.Version + `"}`)
	out := up.Handle(ctx, "client_1", req)
	raw, ok := out.(json.RawMessage)
	if !ok {
		t.Fatalf("out=%#v", out)
	}
	var info protocol.SceneInfoMsg
	if err := json.Unmarshal(raw, &info); err != nil || info.Type != protocol.TypeSceneInfo {
		t.Fatalf("info=%+v err=%v", info, err)
	}

	// Same client reuses its session; a second client is over the limit.
	if _, ok := up.Handle(ctx, "client_1", req).(json.RawMessage); !ok {
		t.Fatalf("second call failed")
	}
	busy, ok := up.Handle(ctx, "client_2", req).(protocol.ErrorMsg)
	if !ok || busy.Code != protocol.ErrBusy {
		t.Fatalf("busy=%#v", busy)
	}

	up.drop("client_1")
	if _, ok := up.Handle(ctx, "client_2", req).(json.RawMessage); !ok {
		t.Fatalf("client_2 after drop failed")
	}
}

func TestUpstreamRelaysRemoteErrors(t *testing.T) {
	up := newUpstream(testBridgeURL(t), 4, 0, log.New(io.Discard, "", 0))
	defer up.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := up.Handle(ctx, "c", []byte(`{"type":"PATH","protocol_version":"`+protocol.Version+`","goal":[1,1,0],"expansion_cap":-1}`))
	e, ok := out.(protocol.ErrorMsg)
	if !ok || e.Code != protocol.ErrBadRequest {
		t.Fatalf("out=%#v", out)
	}
}

func TestIsLoopbackListenAddress(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:8090": true,
		"localhost:8090": true,
		"[::1]:8090":     true,
		"0.0.0.0:8090":   false,
		":8090":          false,
	} {
		if got := isLoopbackListenAddress(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
