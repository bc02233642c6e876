package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoom(t *testing.T) {
	t.Run("create group room", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob, carol)

		name := "Team"
		room, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
			Name:      &name,
			IsGroup:   true,
			CreatedBy: ids[0].ID,
			MemberIDs: []string{ids[1].ID, ids[0].ID, ids[2].ID, ids[1].ID},
		})
		require.NoError(t, err)
		require.NotEmpty(t, room.ID)
		require.NotNil(t, room.Name)
		assert.Equal(t, name, *room.Name)
		assert.True(t, room.IsGroup)

		members, err := f.chatStore.GetRoomMembers(f.ctx, room.ID)
		require.NoError(t, err)
		require.Len(t, members, 3)
		roles := map[string]MemberRole{}
		for _, m := range members {
			roles[m.UserID] = m.Role
			require.NotNil(t, m.Profile)
		}
		assert.Equal(t, Admin, roles[ids[0].ID])
		assert.Equal(t, Member, roles[ids[1].ID])
		assert.Equal(t, Member, roles[ids[2].ID])
	})

	t.Run("direct room has no name and is unique per pair", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob)

		name := "ignored"
		room, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
			Name:      &name,
			CreatedBy: ids[0].ID,
			MemberIDs: []string{ids[1].ID},
		})
		require.NoError(t, err)
		assert.Nil(t, room.Name)
		assert.False(t, room.IsGroup)

		again, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
			CreatedBy: ids[1].ID,
			MemberIDs: []string{ids[0].ID},
		})
		require.NoError(t, err)
		assert.Equal(t, room.ID, again.ID)
	})

	t.Run("direct room with more than two members", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob, carol)

		_, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
			CreatedBy: ids[0].ID,
			MemberIDs: []string{ids[1].ID, ids[2].ID},
		})
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("room with only the creator", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice)

		_, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
			IsGroup:   true,
			CreatedBy: ids[0].ID,
			MemberIDs: []string{ids[0].ID},
		})
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("unknown member", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice)

		_, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
			IsGroup:   true,
			CreatedBy: ids[0].ID,
			MemberIDs: []string{"random"},
		})
		require.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestGetRoomByID(t *testing.T) {
	t.Run("room exist", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob)
		r := seedGroupRoom(f, "Team", ids[0], ids[1])

		room, err := f.chatStore.GetRoomByID(f.ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, room.ID)
		assert.Equal(t, *r.Name, *room.Name)
		require.NotNil(t, room.CreatedBy)
		assert.Equal(t, ids[0].ID, *room.CreatedBy)
	})

	t.Run("room does not exist", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		room, err := f.chatStore.GetRoomByID(f.ctx, "random")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Nil(t, room)
	})
}

func TestGetRoomsByIDs(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	ids := seedUsers(f.ctx, t, f.userStore, alice, bob)
	first := seedGroupRoom(f, "First", ids[0], ids[1])
	second := seedGroupRoom(f, "Second", ids[0], ids[1])

	require.NoError(t, f.chatStore.TouchRoom(f.ctx, first.ID, time.Now().Add(time.Minute)))

	roomIDs, err := f.chatStore.GetMemberRoomIDs(f.ctx, ids[1].ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.ID, second.ID}, roomIDs)

	rooms, err := f.chatStore.GetRoomsByIDs(f.ctx, append(roomIDs, "random"))
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, first.ID, rooms[0].ID)
	assert.Equal(t, second.ID, rooms[1].ID)

	rooms, err = f.chatStore.GetRoomsByIDs(f.ctx, nil)
	require.NoError(t, err)
	assert.NotNil(t, rooms)
	assert.Empty(t, rooms)
}

func TestRoomMembership(t *testing.T) {
	t.Run("add and remove member", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob, carol)
		room := seedGroupRoom(f, "Team", ids[0], ids[1])

		ok, _, err := f.chatStore.IsRoomMember(f.ctx, room.ID, ids[2].ID)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, f.chatStore.AddRoomMember(f.ctx, room.ID, ids[2].ID, Member))
		// adding twice is a no-op
		require.NoError(t, f.chatStore.AddRoomMember(f.ctx, room.ID, ids[2].ID, Admin))

		ok, role, err := f.chatStore.IsRoomMember(f.ctx, room.ID, ids[2].ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, Member, role)

		require.NoError(t, f.chatStore.RemoveRoomMember(f.ctx, room.ID, ids[2].ID))
		ok, _, err = f.chatStore.IsRoomMember(f.ctx, room.ID, ids[2].ID)
		require.NoError(t, err)
		assert.False(t, ok)

		err = f.chatStore.RemoveRoomMember(f.ctx, room.ID, ids[2].ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("add member to missing room", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice)

		err := f.chatStore.AddRoomMember(f.ctx, "random", ids[0].ID, Member)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateMessage(t *testing.T) {
	t.Run("member sends message", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob)
		room := seedGroupRoom(f, "Team", ids[0], ids[1])

		sub, err := f.broker.SubscribeRoomMessages(f.ctx, room.ID)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		record, err := f.chatStore.CreateMessage(f.ctx, MessageCreateInput{
			RoomID:   room.ID,
			SenderID: ids[1].ID,
			Content:  "hello",
		})
		require.NoError(t, err)
		require.NotNil(t, record.Content)
		assert.Equal(t, "hello", *record.Content)
		assert.Equal(t, TextMessage, record.Type)
		assert.False(t, record.IsEdited)
		assert.False(t, record.IsDeleted)

		select {
		case e := <-sub.Events():
			assert.Equal(t, InsertChange, e.Type)
			assert.Equal(t, record.ID, e.MessageID())
			assert.Equal(t, room.ID, e.RoomID())
		case <-time.After(baseTimeout):
			t.Fatal("timeout waiting for insert event")
		}

		last, err := f.chatStore.GetLastMessage(f.ctx, room.ID)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, record.ID, last.ID)
	})

	t.Run("non member is rejected", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob, carol)
		room := seedGroupRoom(f, "Team", ids[0], ids[1])

		record, err := f.chatStore.CreateMessage(f.ctx, MessageCreateInput{
			RoomID:   room.ID,
			SenderID: ids[2].ID,
			Content:  "hello",
		})
		require.ErrorIs(t, err, ErrUnauthorized)
		assert.Nil(t, record)
	})

	t.Run("empty content", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob)
		room := seedGroupRoom(f, "Team", ids[0], ids[1])

		_, err := f.chatStore.CreateMessage(f.ctx, MessageCreateInput{
			RoomID:   room.ID,
			SenderID: ids[0].ID,
		})
		require.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("room without messages", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob)
		room := seedGroupRoom(f, "Team", ids[0], ids[1])

		last, err := f.chatStore.GetLastMessage(f.ctx, room.ID)
		require.NoError(t, err)
		assert.Nil(t, last)
	})
}

func TestGetRoomMessages(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	ids := seedUsers(f.ctx, t, f.userStore, alice, bob)
	room := seedGroupRoom(f, "Team", ids[0], ids[1])

	contents := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		contents = append(contents, fmt.Sprintf("message %d", i))
	}
	records := seedMessages(f, room.ID, ids[0], contents...)

	page, total, err := f.chatStore.GetRoomMessages(f.ctx, room.ID, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, page, 5)
	// newest first
	for i, m := range page {
		assert.Equal(t, records[11-i].ID, m.ID)
		require.NotNil(t, m.Sender)
		assert.Equal(t, "alice", m.Sender.Username)
		assert.NotNil(t, m.Reactions)
	}

	page, _, err = f.chatStore.GetRoomMessages(f.ctx, room.ID, 10, 5)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, records[1].ID, page[0].ID)
	assert.Equal(t, records[0].ID, page[1].ID)

	page, total, err = f.chatStore.GetRoomMessages(f.ctx, "random", 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, page)
}

func TestEditAndDeleteMessage(t *testing.T) {
	t.Run("sender edits then deletes", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob)
		room := seedGroupRoom(f, "Team", ids[0], ids[1])
		record := seedMessages(f, room.ID, ids[0], "helo")[0]

		sub, err := f.broker.SubscribeRoomMessages(f.ctx, room.ID)
		require.NoError(t, err)
		defer sub.Unsubscribe()

		edited, err := f.chatStore.EditMessage(f.ctx, record.ID, ids[0].ID, "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello", *edited.Content)
		assert.True(t, edited.IsEdited)

		deleted, err := f.chatStore.SoftDeleteMessage(f.ctx, record.ID, ids[0].ID)
		require.NoError(t, err)
		assert.True(t, deleted.IsDeleted)
		assert.Equal(t, DeletedMessageContent, *deleted.Content)

		for _, want := range []*MessageRecord{edited, deleted} {
			select {
			case e := <-sub.Events():
				assert.Equal(t, UpdateChange, e.Type, "soft deletes are published as updates")
				assert.Nil(t, e.Old)
				require.NotNil(t, e.New)
				assert.Equal(t, want.Content, e.New.Content)
			case <-time.After(baseTimeout):
				t.Fatal("timeout waiting for update event")
			}
		}

		// the record is retained
		m, err := f.chatStore.GetMessage(f.ctx, record.ID)
		require.NoError(t, err)
		assert.True(t, m.IsDeleted)

		_, err = f.chatStore.EditMessage(f.ctx, record.ID, ids[0].ID, "again")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("other user cannot edit", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice, bob)
		room := seedGroupRoom(f, "Team", ids[0], ids[1])
		record := seedMessages(f, room.ID, ids[0], "hello")[0]

		_, err := f.chatStore.EditMessage(f.ctx, record.ID, ids[1].ID, "hijack")
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, err = f.chatStore.SoftDeleteMessage(f.ctx, record.ID, ids[1].ID)
		assert.ErrorIs(t, err, ErrUnauthorized)

		m, err := f.chatStore.GetMessage(f.ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", *m.Content)
	})

	t.Run("missing message", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		ids := seedUsers(f.ctx, t, f.userStore, alice)

		_, err := f.chatStore.EditMessage(f.ctx, "random", ids[0].ID, "hello")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = f.chatStore.GetMessage(f.ctx, "random")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReactions(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	ids := seedUsers(f.ctx, t, f.userStore, alice, bob, carol)
	room := seedGroupRoom(f, "Team", ids[0], ids[1])
	record := seedMessages(f, room.ID, ids[0], "hello")[0]

	react := func(userID, emoji string) ReactionInput {
		return ReactionInput{MessageID: record.ID, UserID: userID, Emoji: emoji}
	}

	require.NoError(t, f.chatStore.CreateReaction(f.ctx, react(ids[1].ID, "👍")))
	require.NoError(t, f.chatStore.CreateReaction(f.ctx, react(ids[0].ID, "🎉")))
	require.NoError(t, f.chatStore.CreateReaction(f.ctx, react(ids[0].ID, "👍")))
	// duplicate is ignored
	require.NoError(t, f.chatStore.CreateReaction(f.ctx, react(ids[1].ID, "👍")))

	reactions, err := f.chatStore.GetMessageReactions(f.ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 3)
	assert.Equal(t, ids[1].ID, reactions[0].UserID)
	assert.Equal(t, "🎉", reactions[1].Emoji)
	assert.Equal(t, ids[0].ID, reactions[2].UserID)

	m, err := f.chatStore.GetMessage(f.ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, reactions, m.Reactions)

	err = f.chatStore.CreateReaction(f.ctx, react(ids[2].ID, "👍"))
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.chatStore.DeleteReaction(f.ctx, react(ids[1].ID, "👍")))
	require.NoError(t, f.chatStore.DeleteReaction(f.ctx, react(ids[1].ID, "👍")))

	reactions, err = f.chatStore.GetMessageReactions(f.ctx, record.ID)
	require.NoError(t, err)
	assert.Len(t, reactions, 2)

	reactions, err = f.chatStore.GetMessageReactions(f.ctx, "random")
	require.NoError(t, err)
	assert.NotNil(t, reactions)
	assert.Empty(t, reactions)
}
