package client

import (
	"context"
	"fmt"
	"slices"

	"github.com/putto11262002/chatsync/core"
)

// ReactionGroup is the set of users that reacted to a message with one emoji.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Users []string `json:"users"`
}

func (g ReactionGroup) Count() int {
	return len(g.Users)
}

func (g ReactionGroup) Has(userID string) bool {
	return slices.Contains(g.Users, userID)
}

// GroupReactions groups reactions by emoji. Groups are ordered by the first appearance
// of their emoji and users keep the order in which they reacted.
func GroupReactions(reactions []core.Reaction) []ReactionGroup {
	groups := []ReactionGroup{}
	index := make(map[string]int)
	for _, r := range reactions {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}

func hasReaction(reactions []core.Reaction, userID, emoji string) bool {
	return slices.ContainsFunc(reactions, func(r core.Reaction) bool {
		return r.UserID == userID && r.Emoji == emoji
	})
}

// ToggleReaction removes the local user's emoji reaction from the message if present,
// otherwise adds it. Either way the message's reactions are then fetched fresh from the store.
func (c *Client) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	user, err := c.signedIn()
	if err != nil {
		return err
	}

	c.mu.Lock()
	m, ok := c.window.Get(messageID)
	c.mu.Unlock()

	reactions := m.Reactions
	if !ok {
		reactions, err = c.store.GetMessageReactions(ctx, messageID)
		if err != nil {
			return fmt.Errorf("GetMessageReactions: %w", err)
		}
	}

	if hasReaction(reactions, user.ID, emoji) {
		return c.RemoveReaction(ctx, messageID, emoji)
	}
	return c.AddReaction(ctx, messageID, emoji)
}

func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	user, err := c.signedIn()
	if err != nil {
		return err
	}
	gen := c.generation()
	input := core.ReactionInput{MessageID: messageID, UserID: user.ID, Emoji: emoji}
	if err := c.store.CreateReaction(ctx, input); err != nil {
		return fmt.Errorf("CreateReaction: %w", err)
	}
	return c.refreshReactions(ctx, gen, messageID)
}

func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	user, err := c.signedIn()
	if err != nil {
		return err
	}
	gen := c.generation()
	input := core.ReactionInput{MessageID: messageID, UserID: user.ID, Emoji: emoji}
	if err := c.store.DeleteReaction(ctx, input); err != nil {
		return fmt.Errorf("DeleteReaction: %w", err)
	}
	return c.refreshReactions(ctx, gen, messageID)
}

func (c *Client) refreshReactions(ctx context.Context, gen uint64, messageID string) error {
	reactions, err := c.store.GetMessageReactions(ctx, messageID)
	if err != nil {
		return fmt.Errorf("GetMessageReactions: %w", err)
	}

	c.mu.Lock()
	changed := c.gen == gen && c.window.SetReactions(messageID, reactions)
	c.mu.Unlock()
	if changed {
		c.notify()
	}
	return nil
}
