package client

import (
	"context"
	"errors"
	"log/slog"

	"github.com/putto11262002/chatsync/core"
)

// Apply merges a change event into the window.
//
// Inserts need the full message, re-fetched with its sender and reactions, because the
// event only carries the row. Inserts are appended without re-sorting: the feed is trusted
// to deliver in commit order. With dedup, an insert of a message already in the window
// replaces it in place instead of appending a duplicate.
// Updates overwrite the row columns of a loaded message and deletes remove it;
// both are no-ops for messages outside the window.
func (w *Window) Apply(e core.ChangeEvent, inserted *core.Message, dedup bool) bool {
	switch e.Type {
	case core.InsertChange:
		if inserted == nil {
			return false
		}
		if dedup {
			w.Upsert(*inserted)
		} else {
			w.Append(*inserted)
		}
		return true
	case core.UpdateChange:
		if e.New == nil {
			return false
		}
		return w.Merge(*e.New)
	case core.DeleteChange:
		return w.Remove(e.MessageID())
	default:
		return false
	}
}

// pumpMessages applies the change events of the session's room to the window,
// one at a time and in delivery order. It returns when the subscription is closed.
func (c *Client) pumpMessages(s *roomSession) {
	defer s.wg.Done()
	logger := c.logger.With(slog.String("room", s.roomID))

	for e := range s.messages.Events() {
		if e.RoomID() != s.roomID {
			continue
		}

		var inserted *core.Message
		if e.Type == core.InsertChange {
			m, err := c.store.GetMessage(s.ctx, e.MessageID())
			if err != nil {
				if errors.Is(err, core.ErrNotFound) || errors.Is(err, context.Canceled) {
					continue
				}
				logger.Error("fetching inserted message", slog.String("message", e.MessageID()), slog.Any("error", err))
				continue
			}
			inserted = m
		}

		c.mu.Lock()
		if c.gen != s.gen {
			c.mu.Unlock()
			return
		}
		changed := c.window.Apply(e, inserted, c.insertDedup)
		c.mu.Unlock()

		logger.Debug("applied change", slog.String("event", e.String()), slog.Bool("changed", changed))
		if changed {
			c.notify()
		}
	}

	if s.ctx.Err() == nil {
		logger.Warn("change feed closed")
	}
}
