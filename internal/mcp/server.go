package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"tilebridge.ai/internal/protocol"
)

// Handler runs one protocol message for a session and returns the reply.
// *bridge.Service implements it.
type Handler interface {
	Handle(ctx context.Context, sessionID string, raw []byte) any
}

type Config struct {
	Handler      Handler
	HMACSecret   string
	LoopbackOnly bool
	Logger       *log.Logger
}

type Server struct {
	handler      Handler
	hmacSecret   []byte
	loopbackOnly bool
	replay       *replayGuard
	log          *log.Logger
	now          func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("nil handler")
	}
	s := &Server{
		handler:      cfg.Handler,
		loopbackOnly: cfg.LoopbackOnly,
		log:          cfg.Logger,
		now:          time.Now,
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.hmacSecret = []byte(cfg.HMACSecret)
		s.replay = newReplayGuard(0)
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/mcp", s.handleMCP)
	return mux
}

func (s *Server) handleMCP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.loopbackOnly && !isLoopback(r.RemoteAddr) {
		http.Error(rw, "forbidden: non-loopback client", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		http.Error(rw, "bad body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	// Optional HMAC auth.
	sessionID := strings.TrimSpace(r.Header.Get(headerClientID))
	if len(s.hmacSecret) > 0 {
		ar := verifyHMAC(r, body, s.hmacSecret, s.now())
		if ar.HTTPStatus != 0 {
			http.Error(rw, ar.Message, ar.HTTPStatus)
			return
		}
		if !s.replay.allow(ar.ClientID, ar.Nonce, s.now()) {
			http.Error(rw, "replayed request", http.StatusUnauthorized)
			return
		}
		sessionID = ar.ClientID
	}
	if sessionID == "" {
		sessionID = "mcp"
	}

	var resp rpcResponse
	if req, perr := parseRPCRequest(body); perr != nil {
		resp = rpcResponse{JSONRPC: "2.0", Error: perr}
	} else {
		resp = s.dispatch(r.Context(), sessionID, req)
	}
	rw.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, sessionID string, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcOK(req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]any{"name": "tilebridge", "version": protocol.Version},
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
		})

	case "list_tools":
		return rpcOK(req.ID, map[string]any{"tools": toolsList()})

	case "call_tool":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) == 0 {
			return rpcErr(req.ID, codeInvalidParams, "missing params", nil)
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcErr(req.ID, codeInvalidParams, "bad params", err.Error())
		}
		if p.Name == "" {
			return rpcErr(req.ID, codeInvalidParams, "missing tool name", nil)
		}
		msgType, ok := toolMessageType(p.Name)
		if !ok {
			return rpcErr(req.ID, codeMethodNotFound, "tool not found", map[string]any{"name": p.Name})
		}
		raw, err := buildMessage(msgType, p.Arguments)
		if err != nil {
			return rpcErr(req.ID, codeInvalidParams, err.Error(), nil)
		}
		out := s.handler.Handle(ctx, sessionID, raw)
		if e, isErr := out.(protocol.ErrorMsg); isErr {
			if s.log != nil && e.Code == protocol.ErrInternal {
				s.log.Printf("mcp %s %s: %s", sessionID, p.Name, e.Message)
			}
			return rpcErr(req.ID, codeToolFailed, e.Message, map[string]any{"code": e.Code})
		}
		return rpcOK(req.ID, out)

	default:
		return rpcErr(req.ID, codeMethodNotFound, "method not found", nil)
	}
}

// buildMessage turns tool arguments into a protocol message of msgType.
func buildMessage(msgType string, args json.RawMessage) ([]byte, error) {
	m := map[string]any{}
	if len(args) > 0 && string(args) != "null" {
		dec := json.NewDecoder(strings.NewReader(string(args)))
		dec.UseNumber()
		if err := dec.Decode(&m); err != nil {
			return nil, fmt.Errorf("bad arguments: %w", err)
		}
	}
	m["type"] = msgType
	m["protocol_version"] = protocol.Version
	return json.Marshal(m)
}

func toolMessageType(name string) (string, bool) {
	switch name {
	case "tilebridge.plan":
		return protocol.TypePath, true
	case "tilebridge.plan_rect":
		return protocol.TypePathRect, true
	case "tilebridge.scene":
		return protocol.TypeScene, true
	default:
		return "", false
	}
}

var pointSchema = map[string]any{
	"type":     "array",
	"items":    map[string]any{"type": "integer"},
	"minItems": 3,
	"maxItems": 3,
}

func toolsList() []map[string]any {
	return []map[string]any{
		{
			"name":        "tilebridge.plan",
			"description": "Plan a walking route to a world tile [x,y,layer]. Start defaults to the local player.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":               map[string]any{"type": "string"},
					"start":            pointSchema,
					"goal":             pointSchema,
					"expansion_cap":    map[string]any{"type": "integer", "minimum": 0},
					"include_excerpts": map[string]any{"type": "boolean"},
				},
				"required": []string{"goal"},
			},
		},
		{
			"name":        "tilebridge.plan_rect",
			"description": "Pick a walkable goal inside a rectangle and plan a route to it.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":    map[string]any{"type": "string"},
					"start": pointSchema,
					"rect": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"min_x": map[string]any{"type": "integer"},
							"min_y": map[string]any{"type": "integer"},
							"max_x": map[string]any{"type": "integer"},
							"max_y": map[string]any{"type": "integer"},
						},
						"required": []string{"min_x", "min_y", "max_x", "max_y"},
					},
					"expansion_cap":    map[string]any{"type": "integer", "minimum": 0},
					"include_excerpts": map[string]any{"type": "boolean"},
				},
				"required": []string{"rect"},
			},
		},
		{
			"name":        "tilebridge.scene",
			"description": "Summarize the loaded scene: layer, origin, player, door and walkable cell counts.",
			"inputSchema": map[string]any{
				"type":                 "object",
				"properties":           map[string]any{"id": map[string]any{"type": "string"}},
				"additionalProperties": false,
			},
		},
	}
}
