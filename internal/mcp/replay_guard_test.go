package mcp

import (
	"testing"
	"time"
)

func TestReplayGuard_RejectsDuplicateWithinWindow(t *testing.T) {
	g := newReplayGuard(10 * time.Second)
	now := time.Unix(1700000000, 0)
	if !g.allow("client_1", "n1", now) {
		t.Fatalf("expected first request to pass")
	}
	if g.allow("client_1", "n1", now.Add(time.Second)) {
		t.Fatalf("expected duplicate nonce to be rejected")
	}
	if !g.allow("client_1", "n2", now.Add(time.Second)) {
		t.Fatalf("expected different nonce to pass")
	}
	if !g.allow("client_2", "n1", now.Add(time.Second)) {
		t.Fatalf("nonces are scoped per client")
	}
}

func TestReplayGuard_AllowsAfterExpiry(t *testing.T) {
	g := newReplayGuard(2 * time.Second)
	now := time.Unix(1700000000, 0)
	if !g.allow("client_1", "n1", now) {
		t.Fatalf("expected first request to pass")
	}
	if g.allow("client_1", "n1", now.Add(time.Second)) {
		t.Fatalf("expected duplicate request in ttl to fail")
	}
	if !g.allow("client_1", "n1", now.Add(3*time.Second)) {
		t.Fatalf("expected request after ttl expiry to pass")
	}
}
