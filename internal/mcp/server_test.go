package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/protocol"
	"tilebridge.ai/internal/scene"
	"tilebridge.ai/internal/tuning"
)

func newService(t *testing.T) *bridge.Service {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	src := scene.NewStatic(0, 100, 100)
	loop := scene.NewLoop(src, nil)
	go func() { _ = loop.Run(ctx) }()
	svc, err := bridge.New(bridge.Config{Tuning: tuning.Defaults(), Loop: loop, Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	return svc
}

func rpcPost(t *testing.T, base string, payload any, headers map[string]string) (int, rpcResponse) {
	t.Helper()
	b, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", base+"/mcp", bytes.NewReader(b))
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	var out rpcResponse
	if res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return res.StatusCode, out
}

func callTool(name string, args any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "call_tool",
		"params":  map[string]any{"name": name, "arguments": args},
	}
}

func TestMCP_Initialize_And_ListTools(t *testing.T) {
	s, err := NewServer(Config{Handler: newService(t)})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, initResp := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 1, "method": "initialize"}, nil)
	if initResp.Error != nil {
		t.Fatalf("initialize error: %+v", initResp.Error)
	}
	rm, _ := initResp.Result.(map[string]any)
	if rm["protocolVersion"] == "" {
		t.Fatalf("missing protocolVersion in result")
	}

	_, lt := rpcPost(t, ts.URL, map[string]any{"jsonrpc": "2.0", "id": 2, "method": "list_tools"}, nil)
	if lt.Error != nil {
		t.Fatalf("list_tools error: %+v", lt.Error)
	}
	rm2, _ := lt.Result.(map[string]any)
	tools, ok := rm2["tools"].([]any)
	if !ok || len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %v", rm2["tools"])
	}
}

func TestMCP_CallTool(t *testing.T) {
	s, _ := NewServer(Config{Handler: newService(t)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, resp := rpcPost(t, ts.URL, callTool("tilebridge.plan", map[string]any{
		"id":    "m1",
		"start": []int{100, 100, 0},
		"goal":  []int{103, 103, 0},
	}), nil)
	if resp.Error != nil {
		t.Fatalf("plan error: %+v", resp.Error)
	}
	res, _ := resp.Result.(map[string]any)
	if res["type"] != protocol.TypePathResult || res["id"] != "m1" {
		t.Fatalf("result=%v", res)
	}
	if path, _ := res["path"].([]any); len(path) != 4 {
		t.Fatalf("path=%v", res["path"])
	}

	_, resp = rpcPost(t, ts.URL, callTool("tilebridge.scene", nil), nil)
	if resp.Error != nil {
		t.Fatalf("scene error: %+v", resp.Error)
	}

	_, resp = rpcPost(t, ts.URL, callTool("tilebridge.plan", map[string]any{"goal": []int{1, 2}}), nil)
	if resp.Error == nil || resp.Error.Code != codeToolFailed {
		t.Fatalf("expected tool failure, got %+v", resp.Error)
	}
	data, _ := resp.Error.Data.(map[string]any)
	if data["code"] != protocol.ErrBadRequest {
		t.Fatalf("error data=%v", resp.Error.Data)
	}
}

func TestMCP_CallTool_Unknown(t *testing.T) {
	s, _ := NewServer(Config{Handler: newService(t)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, resp := rpcPost(t, ts.URL, callTool("nope", map[string]any{}), nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected tool not found (-32601), got %+v", resp.Error)
	}
}

func TestMCP_HMACAndReplay(t *testing.T) {
	s, _ := NewServer(Config{Handler: newService(t), HMACSecret: "k"})
	now := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return now }
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	payload := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "list_tools"}
	body, _ := json.Marshal(payload)
	tsStr := strconv.FormatInt(now.UnixMilli(), 10)
	headers := map[string]string{
		headerClientID:  "c1",
		headerTS:        tsStr,
		headerNonce:     "abc",
		headerSignature: signHMAC([]byte("k"), canonicalString(tsStr, "POST", "/mcp", "c1", "abc", body)),
	}

	if code, _ := rpcPost(t, ts.URL, payload, nil); code != http.StatusUnauthorized {
		t.Fatalf("unsigned request: status=%d", code)
	}
	if code, resp := rpcPost(t, ts.URL, payload, headers); code != http.StatusOK || resp.Error != nil {
		t.Fatalf("signed request: status=%d err=%+v", code, resp.Error)
	}
	if code, _ := rpcPost(t, ts.URL, payload, headers); code != http.StatusUnauthorized {
		t.Fatalf("replayed request: status=%d", code)
	}
}
