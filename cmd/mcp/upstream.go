package main

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tilebridge.ai/internal/client"
	"tilebridge.ai/internal/protocol"
)

// upstream keeps one bridge session per MCP client and forwards tool calls.
type upstream struct {
	url  string
	max  int
	idle time.Duration
	log  *log.Logger

	mu       sync.Mutex
	sessions map[string]*upstreamSession
}

type upstreamSession struct {
	sess     *client.Session
	lastUsed time.Time
}

func newUpstream(url string, limit int, idle time.Duration, logger *log.Logger) *upstream {
	if limit <= 0 {
		limit = 256
	}
	return &upstream{url: url, max: limit, idle: idle, log: logger, sessions: map[string]*upstreamSession{}}
}

func (u *upstream) Handle(ctx context.Context, sessionID string, raw []byte) any {
	sess, err := u.get(ctx, sessionID)
	if err != nil {
		return errorMsg(err)
	}
	out, err := sess.Forward(ctx, raw)
	if errors.Is(err, client.ErrClosed) {
		// One retry on a fresh connection.
		u.drop(sessionID)
		if sess, err = u.get(ctx, sessionID); err == nil {
			out, err = sess.Forward(ctx, raw)
		}
	}
	if err != nil {
		return errorMsg(err)
	}
	return out
}

func (u *upstream) get(ctx context.Context, id string) (*client.Session, error) {
	u.mu.Lock()
	if s, ok := u.sessions[id]; ok {
		s.lastUsed = time.Now()
		u.mu.Unlock()
		return s.sess, nil
	}
	if len(u.sessions) >= u.max {
		u.mu.Unlock()
		return nil, &client.RemoteError{Code: protocol.ErrBusy, Message: "too many sessions"}
	}
	u.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sess, err := client.Dial(dctx, client.Config{URL: u.url, ClientName: "mcp:" + id})
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if s, ok := u.sessions[id]; ok {
		_ = sess.Close()
		s.lastUsed = time.Now()
		return s.sess, nil
	}
	u.sessions[id] = &upstreamSession{sess: sess, lastUsed: time.Now()}
	u.log.Printf("upstream session for %s: %s", id, sess.Welcome().SessionID)
	return sess, nil
}

func (u *upstream) drop(id string) {
	u.mu.Lock()
	s := u.sessions[id]
	delete(u.sessions, id)
	u.mu.Unlock()
	if s != nil {
		_ = s.sess.Close()
	}
}

func (u *upstream) reap(ctx context.Context) {
	if u.idle <= 0 {
		return
	}
	t := time.NewTicker(u.idle / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			var stale []string
			u.mu.Lock()
			for id, s := range u.sessions {
				if now.Sub(s.lastUsed) > u.idle {
					stale = append(stale, id)
				}
			}
			u.mu.Unlock()
			for _, id := range stale {
				u.drop(id)
			}
		}
	}
}

func (u *upstream) Close() {
	u.mu.Lock()
	sessions := u.sessions
	u.sessions = map[string]*upstreamSession{}
	u.mu.Unlock()
	for _, s := range sessions {
		_ = s.sess.Close()
	}
}

func errorMsg(err error) protocol.ErrorMsg {
	var re *client.RemoteError
	if errors.As(err, &re) {
		return protocol.NewError("", re.Code, re.Message)
	}
	return protocol.NewError("", protocol.ErrInternal, err.Error())
}
