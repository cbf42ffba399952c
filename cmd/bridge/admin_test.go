package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tilebridge.ai/internal/persistence/archive"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/scene/collision"
	"tilebridge.ai/internal/scene/doors"
)

func TestAdminCellEditArchivesScene(t *testing.T) {
	dataDir := t.TempDir()
	cls := doors.NewNameClassifier()
	loop := scene.NewLoop(scene.NewStatic(0, 3200, 3200), cls)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()
	defer func() {
		cancel()
		<-errCh
	}()

	mux := http.NewServeMux()
	registerAdmin(mux, nil, loop, nil, func(ctx context.Context) (string, error) {
		return archiveLive(ctx, loop, dataDir, cls)
	})

	body := `{"layer":0,"x":4,"y":7,"flags":` + jsonUint(uint32(collision.BlockObject)) + `}`
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/scene/cell", strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:40000"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK           bool   `json:"ok"`
		Digest       string `json:"digest"`
		ArchiveError string `json:"archive_error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.ArchiveError != "" {
		t.Fatalf("resp=%+v", resp)
	}

	snap, err := loop.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if resp.Digest != snap.Digest() {
		t.Fatalf("archived digest=%s live digest=%s", resp.Digest, snap.Digest())
	}
	if _, err := archive.FindScene(dataDir, snap.Digest()); err != nil {
		t.Fatalf("edited scene not archived: %v", err)
	}
}

func TestAdminCellRejectsRemote(t *testing.T) {
	mux := http.NewServeMux()
	registerAdmin(mux, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/scene/cell", strings.NewReader(`{}`))
	req.RemoteAddr = "203.0.113.9:5000"
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status=%d want=%d", rr.Code, http.StatusForbidden)
	}
}

func jsonUint(v uint32) string {
	b, _ := json.Marshal(v)
	return string(b)
}
