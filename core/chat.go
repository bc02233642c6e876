package core

import (
	"context"
	"time"
)

// MessageType determines how the message content and file fields should be interpreted.
type MessageType string

const (
	TextMessage  MessageType = "text"
	ImageMessage MessageType = "image"
	FileMessage  MessageType = "file"
)

type MemberRole string

const (
	Admin  MemberRole = "admin"
	Member MemberRole = "member"
)

// DeletedMessageContent replaces the content of a soft deleted message.
const DeletedMessageContent = "This message was deleted"

// RoomMember represents the membership of a user in a room.
// Profile is attached when the member is loaded together with the room.
type RoomMember struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"room_id"`
	UserID     string     `json:"user_id"`
	Role       MemberRole `json:"role"`
	IsMuted    bool       `json:"is_muted"`
	JoinedAt   time.Time  `json:"joined_at"`
	LastReadAt time.Time  `json:"last_read_at"`
	Profile    *Profile   `json:"profile,omitempty"`
}

// Room represents a chat room.
// A direct room has exactly two members, a group room has at least one member besides the creator.
// UpdatedAt is touched whenever a message is sent and is used to order rooms by activity.
type Room struct {
	ID          string       `json:"id"`
	Name        *string      `json:"name"`
	Description *string      `json:"description"`
	AvatarURL   *string      `json:"avatar_url"`
	IsGroup     bool         `json:"is_group"`
	CreatedBy   *string      `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Members     []RoomMember `json:"members,omitempty"`
	LastMessage *Message     `json:"last_message,omitempty"`
}

// MessageRecord holds the columns of a message row.
// It is what the change feed carries: it never includes the sender profile or reactions.
type MessageRecord struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	SenderID  string      `json:"sender_id"`
	Content   *string     `json:"content"`
	Type      MessageType `json:"message_type"`
	FileURL   *string     `json:"file_url"`
	FileName  *string     `json:"file_name"`
	FileSize  *int64      `json:"file_size"`
	ReplyToID *string     `json:"reply_to_id"`
	IsEdited  bool        `json:"is_edited"`
	IsDeleted bool        `json:"is_deleted"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Message is a message row with its sender profile and reactions attached.
type Message struct {
	MessageRecord
	Sender    *Profile   `json:"sender,omitempty"`
	Reactions []Reaction `json:"reactions"`
}

// Reaction is a single emoji reaction of a user on a message.
type Reaction struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// TypingUser is a remote user currently composing a message in the active room.
type TypingUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// MessageCreateInput represents the input for creating a message.
type MessageCreateInput struct {
	RoomID    string      `json:"room_id" validate:"required"`
	SenderID  string      `json:"sender_id" validate:"required"`
	Content   string      `json:"content" validate:"required_without=FileURL,max=4000"`
	Type      MessageType `json:"message_type" validate:"omitempty,oneof=text image file"`
	FileURL   *string     `json:"file_url" validate:"omitempty,url"`
	FileName  *string     `json:"file_name"`
	FileSize  *int64      `json:"file_size" validate:"omitempty,gte=0"`
	ReplyToID *string     `json:"reply_to_id"`
}

func (m *MessageCreateInput) Validate() error {
	return validate.Struct(m)
}

// RoomCreateInput represents the input for creating a room.
// MemberIDs may or may not contain the creator, duplicates are removed.
type RoomCreateInput struct {
	Name      *string  `json:"name"`
	IsGroup   bool     `json:"is_group"`
	CreatedBy string   `json:"created_by" validate:"required"`
	MemberIDs []string `json:"member_ids" validate:"required,min=1,dive,required"`
}

func (r *RoomCreateInput) Validate() error {
	return validate.Struct(r)
}

// ReactionInput identifies a reaction by its natural key.
type ReactionInput struct {
	MessageID string `json:"message_id" validate:"required"`
	UserID    string `json:"user_id" validate:"required"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
}

func (r *ReactionInput) Validate() error {
	return validate.Struct(r)
}

// ChatStore is the relational store over rooms, room_members, messages and message_reactions.
// Store failures are reported as *Error values whose kind is one of ErrNotFound,
// ErrUnauthorized, ErrInvalidInput or ErrTransientIO.
type ChatStore interface {
	// GetMemberRoomIDs returns the ids of the rooms the user belongs to.
	GetMemberRoomIDs(ctx context.Context, userID string) ([]string, error)

	// GetRoomsByIDs returns the rooms with the given ids ordered by updated_at descending.
	// Unknown ids are skipped.
	GetRoomsByIDs(ctx context.Context, ids []string) ([]Room, error)

	// GetRoomByID returns the room without members or last message.
	// If the room does not exist, it returns ErrNotFound.
	GetRoomByID(ctx context.Context, roomID string) (*Room, error)

	// GetLastMessage returns the most recent message record of the room, or nil if the room has no messages.
	GetLastMessage(ctx context.Context, roomID string) (*MessageRecord, error)

	// GetRoomMembers returns the members of the room with their profiles attached.
	GetRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error)

	// IsRoomMember returns true and the role of the member if the user belongs to the room.
	IsRoomMember(ctx context.Context, roomID, userID string) (bool, MemberRole, error)

	// GetRoomMessages returns up to limit messages of the room ordered newest first,
	// skipping offset messages, together with the total number of messages in the room.
	// Sender profiles and reactions are attached.
	GetRoomMessages(ctx context.Context, roomID string, offset, limit int) ([]Message, int, error)

	// GetMessage returns a message with its sender and reactions.
	// If the message does not exist, it returns ErrNotFound.
	GetMessage(ctx context.Context, messageID string) (*Message, error)

	// CreateMessage inserts a message. The sender must be a member of the room,
	// otherwise it returns ErrUnauthorized.
	CreateMessage(ctx context.Context, input MessageCreateInput) (*MessageRecord, error)

	// EditMessage replaces the content of a message sent by senderID and marks it as edited.
	EditMessage(ctx context.Context, messageID, senderID, content string) (*MessageRecord, error)

	// SoftDeleteMessage tombstones a message sent by senderID.
	SoftDeleteMessage(ctx context.Context, messageID, senderID string) (*MessageRecord, error)

	// TouchRoom sets the updated_at of the room.
	TouchRoom(ctx context.Context, roomID string, at time.Time) error

	// CreateRoom creates a room and its memberships in one transaction.
	// The creator becomes an admin, the other members plain members.
	CreateRoom(ctx context.Context, input RoomCreateInput) (*Room, error)

	// AddRoomMember adds the user to the room. Adding an existing member is a no-op.
	AddRoomMember(ctx context.Context, roomID, userID string, role MemberRole) error

	// RemoveRoomMember removes the user from the room.
	// If the user is not a member, it returns ErrNotFound.
	RemoveRoomMember(ctx context.Context, roomID, userID string) error

	// CreateReaction inserts a reaction. Inserting the same (message, user, emoji) twice is a no-op.
	CreateReaction(ctx context.Context, input ReactionInput) error

	// DeleteReaction removes the reaction of the user. Removing a missing reaction is a no-op.
	DeleteReaction(ctx context.Context, input ReactionInput) error

	// GetMessageReactions returns the reactions of a message in insertion order.
	GetMessageReactions(ctx context.Context, messageID string) ([]Reaction, error)
}
