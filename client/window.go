package client

import (
	"github.com/putto11262002/chatsync/core"
)

// Window is the ordered, oldest first list of messages loaded for the active room.
// It is not safe for concurrent use; the Client guards it with its own lock.
// Entries are replaced, never mutated in place, so copies handed out stay stable.
// Updates and removals apply to every entry with the id, duplicates included.
type Window struct {
	messages []core.Message
}

func (w *Window) index(id string) int {
	for i := range w.messages {
		if w.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Replace discards the window and replaces it with messages.
func (w *Window) Replace(messages []core.Message) {
	w.messages = append([]core.Message(nil), messages...)
}

// Prepend inserts an older page in front of the window.
// Messages already present are skipped.
func (w *Window) Prepend(messages []core.Message) int {
	older := make([]core.Message, 0, len(messages))
	for _, m := range messages {
		if w.index(m.ID) == -1 {
			older = append(older, m)
		}
	}
	w.messages = append(older, w.messages...)
	return len(older)
}

// Append adds the message to the end of the window without reordering.
func (w *Window) Append(m core.Message) {
	w.messages = append(w.messages, m)
}

// Upsert replaces the message with the same id in place, or appends it.
func (w *Window) Upsert(m core.Message) {
	if i := w.index(m.ID); i >= 0 {
		w.messages[i] = m
		return
	}
	w.messages = append(w.messages, m)
}

// Merge overwrites the row columns of the message with the same id,
// keeping its sender and reactions. It reports whether the message was found.
func (w *Window) Merge(record core.MessageRecord) bool {
	found := false
	for i := range w.messages {
		if w.messages[i].ID == record.ID {
			m := w.messages[i]
			m.MessageRecord = record
			w.messages[i] = m
			found = true
		}
	}
	return found
}

// Remove deletes the message with the id. It reports whether the message was found.
func (w *Window) Remove(id string) bool {
	kept := make([]core.Message, 0, len(w.messages))
	for _, m := range w.messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	found := len(kept) != len(w.messages)
	if found {
		w.messages = kept
	}
	return found
}

// SetReactions replaces the reactions of the message with the id.
func (w *Window) SetReactions(id string, reactions []core.Reaction) bool {
	found := false
	for i := range w.messages {
		if w.messages[i].ID == id {
			m := w.messages[i]
			m.Reactions = append([]core.Reaction{}, reactions...)
			w.messages[i] = m
			found = true
		}
	}
	return found
}

func (w *Window) Get(id string) (core.Message, bool) {
	i := w.index(id)
	if i == -1 {
		return core.Message{}, false
	}
	return w.messages[i], true
}

func (w *Window) Contains(id string) bool {
	return w.index(id) >= 0
}

// Messages returns a copy of the window.
func (w *Window) Messages() []core.Message {
	return append([]core.Message{}, w.messages...)
}

func (w *Window) Len() int {
	return len(w.messages)
}
