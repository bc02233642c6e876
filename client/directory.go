package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/putto11262002/chatsync/core"
	"golang.org/x/sync/errgroup"
)

// enrichConcurrency bounds the number of rooms enriched at the same time.
const enrichConcurrency = 8

// ListRooms loads every room the user belongs to, most recently active first,
// each with its last message and its members. The full set is loaded at once.
// On failure it returns an empty list together with the error.
func ListRooms(ctx context.Context, store core.ChatStore, userID string) ([]core.Room, error) {
	ids, err := store.GetMemberRoomIDs(ctx, userID)
	if err != nil {
		return []core.Room{}, fmt.Errorf("GetMemberRoomIDs: %w", err)
	}
	if len(ids) == 0 {
		return []core.Room{}, nil
	}

	rooms, err := store.GetRoomsByIDs(ctx, ids)
	if err != nil {
		return []core.Room{}, fmt.Errorf("GetRoomsByIDs: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i := range rooms {
		room := &rooms[i]
		g.Go(func() error {
			last, err := store.GetLastMessage(gctx, room.ID)
			if err != nil {
				return fmt.Errorf("GetLastMessage: %w", err)
			}
			if last != nil {
				room.LastMessage = &core.Message{MessageRecord: *last}
			}

			members, err := store.GetRoomMembers(gctx, room.ID)
			if err != nil {
				return fmt.Errorf("GetRoomMembers: %w", err)
			}
			room.Members = members
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return []core.Room{}, err
	}
	return rooms, nil
}

// DisplayName returns the name shown for the room: the group name, or for a direct room
// the name of the other member.
func DisplayName(room core.Room, localUserID string) string {
	if room.IsGroup {
		if room.Name != nil && *room.Name != "" {
			return *room.Name
		}
		return "Group chat"
	}
	for _, m := range room.Members {
		if m.UserID != localUserID && m.Profile != nil {
			return m.Profile.Name()
		}
	}
	return "Unknown"
}

// RefreshRooms reloads the room directory of the signed in user.
// On failure the directory is emptied and marked LoadFailed; calling it again retries.
func (c *Client) RefreshRooms(ctx context.Context) error {
	user, err := c.signedIn()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.directory = Loading
	c.mu.Unlock()
	c.notify()

	rooms, err := ListRooms(ctx, c.store, user.ID)

	c.mu.Lock()
	if c.user == nil || c.user.ID != user.ID {
		c.mu.Unlock()
		return nil
	}
	c.rooms = rooms
	if err != nil {
		c.directory = LoadFailed
	} else {
		c.directory = Loaded
	}
	c.mu.Unlock()
	c.notify()

	if err != nil {
		c.logger.Error("loading rooms", slog.Any("error", err))
		return err
	}
	return nil
}
