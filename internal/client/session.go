package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tilebridge.ai/internal/protocol"
)

// ErrClosed is returned for requests on a closed or broken session.
var ErrClosed = errors.New("session closed")

// RemoteError is an ERROR reply from the bridge.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string { return e.Code + ": " + e.Message }

type Config struct {
	URL        string
	ClientName string
	MaxQueue   int
}

// Session is one websocket connection to a bridge. Requests may be issued
// from several goroutines; replies are matched by id.
type Session struct {
	conn    *websocket.Conn
	welcome protocol.WelcomeMsg

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan json.RawMessage
	lastErr error

	seq       atomic.Uint64
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects and completes the HELLO/WELCOME handshake.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.DialContext(ctx, cfg.URL, http.Header{})
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      cfg.ClientName,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: cfg.MaxQueue},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if base.Type == protocol.TypeError {
		_ = conn.Close()
		return nil, decodeRemoteError(msg)
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &w); err != nil || w.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: expected WELCOME, got %q", base.Type)
	}
	if w.ProtocolVersion != protocol.Version {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake: server protocol_version %q", w.ProtocolVersion)
	}
	_ = conn.SetReadDeadline(time.Time{})

	s := &Session{
		conn:    conn,
		welcome: w,
		pending: map[string]chan json.RawMessage{},
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) Welcome() protocol.WelcomeMsg { return s.welcome }

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		err = s.conn.Close()
		<-s.done
	})
	return err
}

// Path sends a PATH request. An empty msg.ID is filled in.
func (s *Session) Path(ctx context.Context, msg protocol.PathMsg) (protocol.PathResultMsg, error) {
	msg.Type = protocol.TypePath
	msg.ProtocolVersion = protocol.Version
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = s.nextID()
	}
	var out protocol.PathResultMsg
	err := s.roundTrip(ctx, msg.ID, msg, &out)
	return out, err
}

func (s *Session) PathRect(ctx context.Context, msg protocol.PathRectMsg) (protocol.PathResultMsg, error) {
	msg.Type = protocol.TypePathRect
	msg.ProtocolVersion = protocol.Version
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = s.nextID()
	}
	var out protocol.PathResultMsg
	err := s.roundTrip(ctx, msg.ID, msg, &out)
	return out, err
}

func (s *Session) Scene(ctx context.Context) (protocol.SceneInfoMsg, error) {
	msg := protocol.SceneMsg{Type: protocol.TypeScene, ProtocolVersion: protocol.Version, ID: s.nextID()}
	var out protocol.SceneInfoMsg
	err := s.roundTrip(ctx, msg.ID, msg, &out)
	return out, err
}

// Forward sends an already-encoded request and returns the raw reply. An
// id is assigned when raw has none.
func (s *Session) Forward(ctx context.Context, raw []byte) (json.RawMessage, error) {
	m := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	id, _ := m["id"].(string)
	if strings.TrimSpace(id) == "" {
		id = s.nextID()
		m["id"] = id
	}
	var out json.RawMessage
	err := s.roundTrip(ctx, id, m, &out)
	return out, err
}

func (s *Session) nextID() string {
	return fmt.Sprintf("c%d", s.seq.Add(1))
}

func (s *Session) roundTrip(ctx context.Context, id string, req any, out any) error {
	ch := make(chan json.RawMessage, 1)
	s.mu.Lock()
	if s.pending == nil {
		err := s.lastErr
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.pending != nil {
			delete(s.pending, id)
		}
		s.mu.Unlock()
	}()

	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err = s.conn.WriteMessage(websocket.TextMessage, b)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case raw, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil {
			return err
		}
		if base.Type == protocol.TypeError {
			return decodeRemoteError(raw)
		}
		return json.Unmarshal(raw, out)
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.lastErr = err
			for _, ch := range s.pending {
				close(ch)
			}
			s.pending = nil
			s.mu.Unlock()
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.ID == "" {
			continue
		}
		s.mu.Lock()
		ch := s.pending[base.ID]
		if ch != nil {
			delete(s.pending, base.ID)
		}
		s.mu.Unlock()
		if ch != nil {
			ch <- msg
		}
	}
}

func decodeRemoteError(raw []byte) error {
	var e protocol.ErrorMsg
	if err := json.Unmarshal(raw, &e); err != nil {
		return err
	}
	return &RemoteError{Code: e.Code, Message: e.Message}
}
