package ndjson

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/protocol"
)

// Server speaks newline-delimited JSON over TCP: one request object per
// line in, one reply object per line out, in request order. HELLO is
// optional on this transport.
type Server struct {
	svc *bridge.Service
	log *log.Logger

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed bool
}

func NewServer(svc *bridge.Service, logger *log.Logger) *Server {
	return &Server{svc: svc, log: logger, conns: map[net.Conn]struct{}{}}
}

// Serve accepts connections on ln until ctx is cancelled or Close is
// called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.ServeConn(ctx, conn)
		}()
	}
}

// Close stops accepting and closes all open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
	return err
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

// ServeConn runs one session on conn and returns when the peer hangs up,
// the read deadline passes or a line exceeds the size limit.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	tr := s.svc.Tuning().Transport
	sessionID := uuid.NewString()
	readTimeout := time.Duration(tr.ReadTimeoutMs) * time.Millisecond

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, min(64*1024, tr.MaxLineBytes)), tr.MaxLineBytes)
	w := bufio.NewWriter(conn)
	enc := json.NewEncoder(w)

	reply := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := enc.Encode(v); err != nil {
			return false
		}
		return w.Flush() == nil
	}

	s.log.Printf("ndjson session %s from %s", sessionID, conn.RemoteAddr())
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if !sc.Scan() {
			break
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !reply(s.svc.Handle(ctx, sessionID, line)) {
			return
		}
	}
	if err := sc.Err(); errors.Is(err, bufio.ErrTooLong) {
		reply(protocol.NewError("", protocol.ErrProtoBadRequest, "line too long"))
	}
	s.log.Printf("ndjson session %s closed", sessionID)
}
