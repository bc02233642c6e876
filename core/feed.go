package core

import (
	"context"
	"fmt"
)

type ChangeType string

const (
	InsertChange ChangeType = "INSERT"
	UpdateChange ChangeType = "UPDATE"
	DeleteChange ChangeType = "DELETE"
)

// ChangeEvent is a row level mutation of the messages table.
// New is set for inserts and updates, Old for deletes.
type ChangeEvent struct {
	Type ChangeType     `json:"eventType"`
	New  *MessageRecord `json:"new,omitempty"`
	Old  *MessageRecord `json:"old,omitempty"`
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("ChangeEvent{Type: %s, Room: %s, Message: %s}", e.Type, e.RoomID(), e.MessageID())
}

func (e ChangeEvent) record() *MessageRecord {
	if e.New != nil {
		return e.New
	}
	return e.Old
}

// RoomID returns the room the changed message belongs to.
func (e ChangeEvent) RoomID() string {
	if r := e.record(); r != nil {
		return r.RoomID
	}
	return ""
}

// MessageID returns the id of the changed message.
func (e ChangeEvent) MessageID() string {
	if r := e.record(); r != nil {
		return r.ID
	}
	return ""
}

// Subscription delivers the change events of one room in the order the store emitted them.
// The events channel is closed after Unsubscribe or when the feed drops the subscriber.
type Subscription interface {
	Events() <-chan ChangeEvent
	Unsubscribe()
}

type ChangeFeed interface {
	SubscribeRoomMessages(ctx context.Context, roomID string) (Subscription, error)
}

// ChangePublisher receives the changes committed by a store.
type ChangePublisher interface {
	PublishChange(e ChangeEvent)
}
