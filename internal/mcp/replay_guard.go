package mcp

import (
	"sync"
	"time"
)

// replayGuard remembers (client, nonce) pairs for ttl so a captured signed
// request cannot be re-sent inside the timestamp window.
type replayGuard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	max       int
	lastPrune time.Time
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 2 * tsWindow
	}
	return &replayGuard{seen: map[string]time.Time{}, ttl: ttl, max: 65536}
}

func (g *replayGuard) allow(clientID, nonce string, now time.Time) bool {
	if g == nil || nonce == "" {
		return true
	}
	key := clientID + "|" + nonce

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.seen) > 4096 || now.Sub(g.lastPrune) > g.ttl/2 {
		for k, exp := range g.seen {
			if !exp.After(now) {
				delete(g.seen, k)
			}
		}
		g.lastPrune = now
	}
	if exp, ok := g.seen[key]; ok && exp.After(now) {
		return false
	}
	if len(g.seen) >= g.max {
		g.seen = map[string]time.Time{}
	}
	g.seen[key] = now.Add(g.ttl)
	return true
}
