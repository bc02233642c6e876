package core

import "context"

// PresenceState is the ephemeral state a client publishes on a room's presence channel.
type PresenceState struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceSnapshot is the full presence state of a room, one entry per tracked client
// in the order the clients joined.
type PresenceSnapshot []PresenceState

// PresenceChannel is a client's membership in a room's presence channel.
// A full snapshot is delivered after every join, leave or track on the channel.
type PresenceChannel interface {
	Track(ctx context.Context, state PresenceState) error
	Snapshots() <-chan PresenceSnapshot
	Leave()
}

type Presence interface {
	// JoinPresence joins the presence channel of the room. key identifies the client;
	// joining twice with the same key replaces the previous membership.
	JoinPresence(ctx context.Context, roomID, key string) (PresenceChannel, error)
}
