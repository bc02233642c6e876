package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/putto11262002/chatsync/core"
)

// typingDebouncer publishes the local typing state of one room session.
// Every keystroke publishes isTyping=true and restarts the idle timer;
// only the expiry of the timer after the last keystroke publishes isTyping=false.
type typingDebouncer struct {
	mu     sync.Mutex
	ctx    context.Context
	idle   time.Duration
	track  func(ctx context.Context, typing bool) error
	logger *slog.Logger
	timer  *time.Timer
	// seq identifies the latest keystroke so that a timer that fired late is ignored.
	seq    uint64
	typing bool
	closed bool
}

func newTypingDebouncer(ctx context.Context, idle time.Duration, logger *slog.Logger,
	track func(ctx context.Context, typing bool) error) *typingDebouncer {
	return &typingDebouncer{
		ctx:    ctx,
		idle:   idle,
		track:  track,
		logger: logger,
	}
}

func (d *typingDebouncer) keystroke(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrNoActiveRoom
	}

	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.idle, func() {
		d.expire(seq)
	})

	d.typing = true
	if err := d.track(ctx, true); err != nil {
		return fmt.Errorf("Track: %w", err)
	}
	return nil
}

func (d *typingDebouncer) expire(seq uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || seq != d.seq || !d.typing {
		return
	}
	d.typing = false
	if err := d.track(d.ctx, false); err != nil {
		d.logger.Warn("publishing idle typing state", slog.Any("error", err))
	}
}

// stop cancels the idle timer and publishes isTyping=false right away if the user was typing.
func (d *typingDebouncer) stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if !d.typing {
		return nil
	}
	d.typing = false
	if err := d.track(ctx, false); err != nil {
		return fmt.Errorf("Track: %w", err)
	}
	return nil
}

// close stops the timer without publishing; leaving the presence channel removes the state.
func (d *typingDebouncer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// TypingRoster returns the users flagged as typing in the snapshot, excluding the local user,
// in snapshot order and without duplicates.
func TypingRoster(snapshot core.PresenceSnapshot, localUserID string) []core.TypingUser {
	roster := []core.TypingUser{}
	seen := make(map[string]bool)
	for _, state := range snapshot {
		if !state.IsTyping || state.UserID == localUserID || seen[state.UserID] {
			continue
		}
		seen[state.UserID] = true
		roster = append(roster, core.TypingUser{ID: state.UserID, Username: state.Username})
	}
	return roster
}

// TypingText renders the typing indicator line, or "" when nobody is typing.
func TypingText(users []core.TypingUser) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing", users[0].Username)
	case 2:
		return fmt.Sprintf("%s and %s are typing", users[0].Username, users[1].Username)
	default:
		return fmt.Sprintf("%s and %d others are typing", users[0].Username, len(users)-1)
	}
}

// pumpPresence rebuilds the typing roster from every presence snapshot of the session's room.
func (c *Client) pumpPresence(s *roomSession) {
	defer s.wg.Done()
	for snapshot := range s.presence.Snapshots() {
		roster := TypingRoster(snapshot, s.userID)

		c.mu.Lock()
		if c.gen != s.gen {
			c.mu.Unlock()
			return
		}
		c.typing = roster
		c.mu.Unlock()
		c.notify()
	}
}

// Typing reports a local composition change in the active room.
func (c *Client) Typing(ctx context.Context) error {
	s, err := c.activeSession()
	if err != nil {
		return err
	}
	return s.typing.keystroke(ctx)
}

// StopTyping publishes that the local user stopped composing in the active room.
func (c *Client) StopTyping(ctx context.Context) error {
	s, err := c.activeSession()
	if err != nil {
		return err
	}
	return s.typing.stop(ctx)
}
