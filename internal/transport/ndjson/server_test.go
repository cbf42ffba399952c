package ndjson

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"strings"
	"testing"
	"time"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/protocol"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/tuning"
)

func startServer(t *testing.T, tune tuning.Tuning) net.Addr {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	loop := scene.NewLoop(scene.NewStatic(0, 3200, 3200), nil)
	go func() { _ = loop.Run(ctx) }()

	logger := log.New(io.Discard, "", 0)
	svc, err := bridge.New(bridge.Config{Tuning: tune, Loop: loop, Logger: logger})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := NewServer(svc, logger)
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr()
}

func TestServerAnswersInOrder(t *testing.T) {
	addr := startServer(t, tuning.Defaults())
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	reqs := []string{
		`{"type":"PATH","protocol_version":"1.0","id":"a","start":[3200,3200,0],"goal":[3203,3200,0]}`,
		``,
		`{"type":"SCENE","protocol_version":"1.0","id":"b"}`,
		`{"type":"PATH","protocol_version":"2.0","id":"c","goal":[1,1,0]}`,
		`{"type":"HELLO","protocol_version":"1.0","client_name":"t"}`,
	}
	if _, err := io.WriteString(conn, strings.Join(reqs, "\n")+"\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := bufio.NewReader(conn)
	want := []string{protocol.TypePathResult, protocol.TypeSceneInfo, protocol.TypeError, protocol.TypeWelcome}
	wantID := []string{"a", "b", "c", ""}
	for i, typ := range want {
		line, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatalf("read reply %d: %v", i, err)
		}
		base, err := protocol.DecodeBase(line)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type != typ || base.ID != wantID[i] {
			t.Fatalf("reply %d: type=%s id=%s want %s/%s", i, base.Type, base.ID, typ, wantID[i])
		}
		if i == 0 {
			var res protocol.PathResultMsg
			if err := json.Unmarshal(line, &res); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(res.Path) != 4 || !res.Diagnostics.FoundGoal {
				t.Fatalf("path=%v diag=%+v", res.Path, res.Diagnostics)
			}
		}
	}
}

func TestServerRejectsLongLines(t *testing.T) {
	tune := tuning.Defaults()
	tune.Transport.MaxLineBytes = 256
	addr := startServer(t, tune)

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, _ = io.WriteString(conn, `{"type":"SCENE","protocol_version":"1.0","id":"`+strings.Repeat("x", 400)+`"}`+"\n")
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e protocol.ErrorMsg
	if err := json.Unmarshal(line, &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code=%s", e.Code)
	}
}
