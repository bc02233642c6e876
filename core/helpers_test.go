package core

import (
	"context"
	"testing"
)

var (
	alice = User{Email: "alice@example.com", Password: "password", Username: "alice", DisplayName: strPtr("Alice")}
	bob   = User{Email: "bob@example.com", Password: "password", Username: "bob"}
	carol = User{Email: "carol@example.com", Password: "password", Username: "carol", DisplayName: strPtr("Carol C")}
)

func strPtr(s string) *string {
	return &s
}

// seedUsers creates the users and returns their identities in the same order.
func seedUsers(ctx context.Context, t *testing.T, userStore UserStore, users ...User) []Identity {
	t.Helper()
	identities := make([]Identity, 0, len(users))
	for _, u := range users {
		identity, err := userStore.CreateUser(ctx, u)
		if err != nil {
			t.Fatal(err)
		}
		identities = append(identities, *identity)
	}
	return identities
}

func seedGroupRoom(f *ChatFixture, name string, creator Identity, members ...Identity) *Room {
	f.t.Helper()
	memberIDs := make([]string, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.ID)
	}
	room, err := f.chatStore.CreateRoom(f.ctx, RoomCreateInput{
		Name:      &name,
		IsGroup:   true,
		CreatedBy: creator.ID,
		MemberIDs: memberIDs,
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return room
}

func seedMessages(f *ChatFixture, roomID string, sender Identity, contents ...string) []MessageRecord {
	f.t.Helper()
	records := make([]MessageRecord, 0, len(contents))
	for _, content := range contents {
		record, err := f.chatStore.CreateMessage(f.ctx, MessageCreateInput{
			RoomID:   roomID,
			SenderID: sender.ID,
			Content:  content,
		})
		if err != nil {
			f.t.Fatal(err)
		}
		records = append(records, *record)
	}
	return records
}
