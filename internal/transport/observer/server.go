package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tilebridge.ai/internal/bridge"
	"tilebridge.ai/internal/observerproto"
	"tilebridge.ai/internal/scene/coords"
)

// Hub fans plan records out to observer connections. It is a PlanSink;
// slow observers lose messages rather than stall planning.
type Hub struct {
	mu   sync.Mutex
	subs map[string]*subscriber
	seq  atomic.Uint64
}

type subscriber struct {
	mu     sync.Mutex
	filter observerproto.SubscribeMsg
	out    chan []byte
	drops  atomic.Uint64
}

func NewHub() *Hub { return &Hub{subs: map[string]*subscriber{}} }

func (h *Hub) WritePlan(r bridge.PlanRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return nil
	}
	b, err := json.Marshal(observerproto.PlanMsg{
		Type:            "PLAN",
		ProtocolVersion: observerproto.Version,
		Seq:             h.seq.Add(1),
		Record:          r,
	})
	if err != nil {
		return err
	}
	for _, sub := range h.subs {
		if !sub.wants(r) {
			continue
		}
		select {
		case sub.out <- b:
		default:
			sub.drops.Add(1)
		}
	}
	return nil
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) join(id string, sub *subscriber) {
	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()
}

func (h *Hub) leave(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (s *subscriber) setFilter(f observerproto.SubscribeMsg) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

func (s *subscriber) wants(r bridge.PlanRecord) bool {
	s.mu.Lock()
	f := s.filter
	s.mu.Unlock()
	if f.SessionID != "" && f.SessionID != r.SessionID {
		return false
	}
	if f.FailuresOnly && r.Diagnostics.FailureReason == "" {
		return false
	}
	return true
}

type Server struct {
	svc *bridge.Service
	hub *Hub
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(svc *bridge.Service, hub *Hub, logger *log.Logger) *Server {
	return &Server{
		svc: svc,
		hub: hub,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		info, err := s.svc.Scene(r.Context(), "bootstrap")
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			GridSize:        coords.GridSize,
			TuningDigest:    s.svc.TuningDigest(),
			Scene:           info.Scene,
			Stats:           s.svc.Stats(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		state := &subscriber{filter: sub, out: make(chan []byte, 256)}
		s.hub.join(sid, state)
		defer func() {
			s.hub.leave(sid)
			if n := state.drops.Load(); n > 0 && s.log != nil {
				s.log.Printf("observer %s dropped %d plan messages", sid, n)
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-state.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if next, ok := parseSubscribe(msg); ok {
				state.setFilter(next)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	sub.SessionID = strings.TrimSpace(sub.SessionID)
	return sub, true
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
