package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/chatsync/core"
)

type PacketType string

const (
	// client to server
	SubscribePacket   PacketType = "subscribe"
	UnsubscribePacket PacketType = "unsubscribe"
	JoinPacket        PacketType = "join"
	LeavePacket       PacketType = "leave"
	TrackPacket       PacketType = "track"

	// server to client
	ChangePacket   PacketType = "change"
	PresencePacket PacketType = "presence_state"
	ReplyPacket    PacketType = "reply"
	ErrorPacket    PacketType = "error"
)

// Packet is the envelope of every frame in both directions.
// Requests carrying a ref are answered with a reply or an error packet with the same ref.
type Packet struct {
	Type    PacketType      `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	Key string `json:"key"`
}

// Error codes carried by error packets.
const (
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeInvalid      = "invalid"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
	CodeFeedClosed   = "feed_closed"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newPacket(t PacketType, ref, room string, payload any) (Packet, error) {
	p := Packet{Type: t, Ref: ref, Room: room}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Packet{}, fmt.Errorf("json.Marshal: %w", err)
		}
		p.Payload = b
	}
	return p, nil
}

func errorPacket(ref, room string, err error) Packet {
	b, _ := json.Marshal(ErrorPayload{Code: errorCode(err), Message: err.Error()})
	return Packet{Type: ErrorPacket, Ref: ref, Room: room, Payload: b}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, core.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, core.ErrInvalidInput):
		return CodeInvalid
	case errors.Is(err, core.ErrTransientIO):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// decodeError turns an error payload back into an error matching the core error kinds.
func decodeError(op string, payload json.RawMessage) error {
	var e ErrorPayload
	if err := json.Unmarshal(payload, &e); err != nil {
		return core.NewError(core.ErrTransientIO, op, fmt.Errorf("json.Unmarshal: %w", err))
	}
	kind := core.ErrTransientIO
	switch e.Code {
	case CodeNotFound:
		kind = core.ErrNotFound
	case CodeUnauthorized:
		kind = core.ErrUnauthorized
	case CodeInvalid:
		kind = core.ErrInvalidInput
	}
	return core.NewError(kind, op, errors.New(e.Message))
}

func decodePacket(t int, r io.Reader) (*Packet, error) {
	if t != websocket.TextMessage {
		return nil, fmt.Errorf("unexpected message type: %d", t)
	}

	var packet Packet
	if err := json.NewDecoder(r).Decode(&packet); err != nil {
		return nil, fmt.Errorf("json.Decoder.Decode: %w", err)
	}
	if packet.Type == "" {
		return nil, errors.New("missing packet type")
	}
	return &packet, nil
}

func encodePacket(f func(t int) (io.WriteCloser, error), packet Packet) error {
	w, err := f(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("NextWriter: %w", err)
	}
	defer w.Close()

	if err := json.NewEncoder(w).Encode(packet); err != nil {
		return fmt.Errorf("json.Encoder.Encode: %w", err)
	}

	return nil
}
