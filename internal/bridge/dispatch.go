package bridge

import (
	"context"
	"encoding/json"

	"tilebridge.ai/internal/protocol"
)

// Handle decodes one inbound message, runs it and returns the reply to
// encode. It never returns nil.
func (s *Service) Handle(ctx context.Context, sessionID string, raw []byte) any {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return protocol.NewError("", protocol.ErrProtoBadRequest, "malformed json")
	}
	id := requestID(base.ID)
	if base.ProtocolVersion != protocol.Version {
		return protocol.NewError(id, protocol.ErrProtoVersion, "bad protocol_version")
	}

	switch base.Type {
	case protocol.TypeHello, protocol.TypePath, protocol.TypePathRect, protocol.TypeScene:
	default:
		return protocol.NewError(id, protocol.ErrProtoUnknown, "unknown message type")
	}
	if err := s.validator.Validate(base.Type, raw); err != nil {
		return protocol.NewError(id, protocol.ErrBadRequest, err.Error())
	}

	var (
		out  any
		herr error
	)
	switch base.Type {
	case protocol.TypeHello:
		out = s.Welcome(sessionID)

	case protocol.TypePath:
		var msg protocol.PathMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return protocol.NewError(id, protocol.ErrBadRequest, err.Error())
		}
		msg.ID = id
		out, herr = s.Path(ctx, sessionID, msg)

	case protocol.TypePathRect:
		var msg protocol.PathRectMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return protocol.NewError(id, protocol.ErrBadRequest, err.Error())
		}
		msg.ID = id
		out, herr = s.PathRect(ctx, sessionID, msg)

	case protocol.TypeScene:
		out, herr = s.Scene(ctx, id)
	}
	if herr != nil {
		return protocol.NewError(id, CodeOf(herr), herr.Error())
	}
	return out
}
