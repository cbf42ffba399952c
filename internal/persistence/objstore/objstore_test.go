package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStorePutFileSigns(t *testing.T) {
	var (
		gotPath, gotAuth, gotHash, gotDate string
		gotBody                            []byte
	)
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotDate = r.Header.Get("x-amz-date")
		gotBody, _ = io.ReadAll(r.Body)
		rw.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s, err := New(Config{Endpoint: ts.URL, Bucket: "logs", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "seg.jsonl.zst")
	if err := os.WriteFile(local, []byte("segment"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.PutFile(context.Background(), "/plans/a b.jsonl.zst", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	sum := sha256.Sum256([]byte("segment"))
	if gotHash != hex.EncodeToString(sum[:]) || string(gotBody) != "segment" {
		t.Fatalf("hash=%s body=%q", gotHash, gotBody)
	}
	if gotPath != "/logs/plans/a%20b.jsonl.zst" {
		t.Fatalf("path=%s", gotPath)
	}
	if gotDate != "20260301T100000Z" {
		t.Fatalf("date=%s", gotDate)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("auth=%s", gotAuth)
	}
}

func TestStoreRejectsIncompleteConfig(t *testing.T) {
	if _, err := New(Config{Endpoint: "example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error")
	}
	if k := cleanKey("../../etc"); k != "etc" {
		t.Fatalf("cleanKey=%q", k)
	}
}

type fakePutter struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakePutter) PutFile(ctx context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("unavailable")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestUploaderKeysAndRetries(t *testing.T) {
	dir := t.TempDir()
	seg := filepath.Join(dir, "plans", "plans-2026-03-01-10.jsonl.zst")
	if err := os.MkdirAll(filepath.Dir(seg), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(seg, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &fakePutter{fails: 2}
	u := NewUploader(p, dir, "/bridge-1/", 1, nil)
	u.backoff = time.Millisecond
	u.Enqueue(seg)
	u.Enqueue(filepath.Join(os.TempDir(), "elsewhere.zst"))
	u.Close()

	if len(p.keys) != 1 || p.keys[0] != "bridge-1/plans/plans-2026-03-01-10.jsonl.zst" {
		t.Fatalf("keys=%v", p.keys)
	}
	st := u.Stats()
	if st.UploadTotal != 1 || st.FailTotal != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestUploaderEnqueueDuringClose(t *testing.T) {
	dir := t.TempDir()
	u := NewUploader(&fakePutter{}, dir, "", 2, nil)
	u.backoff = time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				u.Enqueue(filepath.Join(dir, "missing.zst"))
			}
		}()
	}
	u.Close()
	wg.Wait()
	u.Close()

	depth := u.Stats().QueueDepth
	u.Enqueue(filepath.Join(dir, "late.zst"))
	if got := u.Stats().QueueDepth; got != depth {
		t.Fatalf("enqueue after Close changed queue depth: %d -> %d", depth, got)
	}
}
