package client

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/putto11262002/chatsync/core"
)

const (
	searchLimit     = 10
	minSearchLength = 2
)

// Draft is a message composed in the active room.
type Draft struct {
	Content   string
	Type      core.MessageType
	FileURL   *string
	FileName  *string
	FileSize  *int64
	ReplyToID *string
}

// SendMessage sends the draft to the active room and bumps the room's activity timestamp.
// The window is not touched: the message shows up through the change feed.
func (c *Client) SendMessage(ctx context.Context, draft Draft) (*core.MessageRecord, error) {
	user, err := c.signedIn()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, ErrNoActiveRoom
	}

	if err := s.typing.stop(ctx); err != nil {
		c.logger.Warn("clearing typing state", slog.Any("error", err))
	}

	record, err := c.store.CreateMessage(ctx, core.MessageCreateInput{
		RoomID:    s.roomID,
		SenderID:  user.ID,
		Content:   draft.Content,
		Type:      draft.Type,
		FileURL:   draft.FileURL,
		FileName:  draft.FileName,
		FileSize:  draft.FileSize,
		ReplyToID: draft.ReplyToID,
	})
	if err != nil {
		return nil, fmt.Errorf("CreateMessage: %w", err)
	}

	if err := c.store.TouchRoom(ctx, s.roomID, time.Now()); err != nil {
		c.logger.Warn("touching room", slog.String("room", s.roomID), slog.Any("error", err))
	}
	return record, nil
}

// EditMessage replaces the content of one of the local user's messages.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*core.MessageRecord, error) {
	user, err := c.signedIn()
	if err != nil {
		return nil, err
	}
	record, err := c.store.EditMessage(ctx, messageID, user.ID, content)
	if err != nil {
		return nil, fmt.Errorf("EditMessage: %w", err)
	}
	return record, nil
}

// DeleteMessage tombstones one of the local user's messages.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) (*core.MessageRecord, error) {
	user, err := c.signedIn()
	if err != nil {
		return nil, err
	}
	record, err := c.store.SoftDeleteMessage(ctx, messageID, user.ID)
	if err != nil {
		return nil, fmt.Errorf("SoftDeleteMessage: %w", err)
	}
	return record, nil
}

// CreateRoom creates a room with the local user as admin and refreshes the directory.
// Direct rooms take exactly one other member and have no name.
func (c *Client) CreateRoom(ctx context.Context, name *string, isGroup bool, memberIDs []string) (*core.Room, error) {
	user, err := c.signedIn()
	if err != nil {
		return nil, err
	}
	if !isGroup {
		name = nil
	}
	room, err := c.store.CreateRoom(ctx, core.RoomCreateInput{
		Name:      name,
		IsGroup:   isGroup,
		CreatedBy: user.ID,
		MemberIDs: memberIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("CreateRoom: %w", err)
	}
	if err := c.RefreshRooms(ctx); err != nil {
		c.logger.Warn("refreshing rooms after create", slog.Any("error", err))
	}
	return room, nil
}

// JoinRoom adds the local user to the room as a member and refreshes the directory.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	user, err := c.signedIn()
	if err != nil {
		return err
	}
	if err := c.store.AddRoomMember(ctx, roomID, user.ID, core.Member); err != nil {
		return fmt.Errorf("AddRoomMember: %w", err)
	}
	if err := c.RefreshRooms(ctx); err != nil {
		c.logger.Warn("refreshing rooms after join", slog.Any("error", err))
	}
	return nil
}

// LeaveRoom removes the local user from the room, deselecting it if it is active,
// and refreshes the directory.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	user, err := c.signedIn()
	if err != nil {
		return err
	}
	if err := c.store.RemoveRoomMember(ctx, roomID, user.ID); err != nil {
		return fmt.Errorf("RemoveRoomMember: %w", err)
	}

	c.mu.Lock()
	active := c.current != nil && c.current.ID == roomID
	c.mu.Unlock()
	if active {
		c.Deselect()
	}

	if err := c.RefreshRooms(ctx); err != nil {
		c.logger.Warn("refreshing rooms after leave", slog.Any("error", err))
	}
	return nil
}

// SearchUsers finds up to ten profiles whose username or display name contains the query.
// Queries shorter than two characters return nothing.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]core.Profile, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSearchLength {
		return []core.Profile{}, nil
	}
	profiles, err := c.profiles.SearchProfiles(ctx, query, searchLimit)
	if err != nil {
		return []core.Profile{}, fmt.Errorf("SearchProfiles: %w", err)
	}
	return profiles, nil
}
