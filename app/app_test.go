package chatsync

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/putto11262002/chatsync/client"
	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/pkg/router"
	"github.com/putto11262002/chatsync/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthRoutes(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()

	user := core.User{Email: "alice@example.com", Password: "password", Username: "alice"}

	res := f.do(http.MethodPost, "/api/auth/signup", nil, user, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode)

	t.Run("duplicate signup", func(t *testing.T) {
		res := f.do(http.MethodPost, "/api/auth/signup", nil, user, nil)
		assert.Equal(t, http.StatusConflict, res.StatusCode)
	})

	t.Run("invalid signup", func(t *testing.T) {
		var resErr router.JsonError
		res := f.do(http.MethodPost, "/api/auth/signup", nil,
			core.User{Email: "not-an-email", Password: "password", Username: "bob"}, &resErr)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.Equal(t, map[string]string{"email": "email"}, resErr.Details)
	})

	t.Run("bad credentials", func(t *testing.T) {
		res := f.do(http.MethodPost, "/api/auth/signin", nil,
			SigninPayload{Email: user.Email, Password: "wrong-password"}, nil)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		res := f.do(http.MethodGet, "/api/users/me", nil, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	var session core.Session
	res = f.do(http.MethodPost, "/api/auth/signin", nil,
		SigninPayload{Email: user.Email, Password: user.Password}, &session)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotEmpty(t, session.Token)

	var cookie *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == core.AuthCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, session.Token, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	var profile core.Profile
	res = f.do(http.MethodGet, "/api/users/me", &session, nil, &profile)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, session.ID, profile.UserID)
	assert.Equal(t, "alice", profile.Username)

	res = f.do(http.MethodPost, "/api/auth/signout", &session, nil, nil)
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res = f.do(http.MethodGet, "/api/users/me", &session, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestSearchUsersRoute(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()

	alice := f.signup("alice")
	f.signup("alicia")
	f.signup("bob")

	tcs := []struct {
		name  string
		query string
		exp   []string
	}{
		{name: "too short", query: "a", exp: []string{}},
		{name: "blank", query: "%20%20", exp: []string{}},
		{name: "prefix", query: "ali", exp: []string{"alice", "alicia"}},
		{name: "case insensitive", query: "BOB", exp: []string{"bob"}},
		{name: "no match", query: "zed", exp: []string{}},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var profiles []core.Profile
			res := f.do(http.MethodGet, "/api/users?q="+tc.query, alice, nil, &profiles)
			require.Equal(t, http.StatusOK, res.StatusCode)
			usernames := []string{}
			for _, p := range profiles {
				usernames = append(usernames, p.Username)
			}
			assert.Equal(t, tc.exp, usernames)
		})
	}
}

func TestRoomRoutes(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()

	alice := f.signup("alice")
	bob := f.signup("bob")
	carol := f.signup("carol")

	direct := f.createRoom(alice, false, bob.ID)
	group := f.createRoom(alice, true, bob.ID)

	t.Run("direct room is unique per pair", func(t *testing.T) {
		again := f.createRoom(bob, false, alice.ID)
		assert.Equal(t, direct.ID, again.ID)
	})

	t.Run("list rooms", func(t *testing.T) {
		f.sendMessage(bob, direct.ID, "hi alice")

		var rooms []core.Room
		res := f.do(http.MethodGet, "/api/rooms", alice, nil, &rooms)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Len(t, rooms, 2)
		assert.Equal(t, direct.ID, rooms[0].ID)
		require.NotNil(t, rooms[0].LastMessage)
		assert.Equal(t, "hi alice", *rooms[0].LastMessage.Content)
		assert.Equal(t, "bob", client.DisplayName(rooms[0], alice.ID))
		assert.Len(t, rooms[0].Members, 2)

		var none []core.Room
		res = f.do(http.MethodGet, "/api/rooms", carol, nil, &none)
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Empty(t, none)
	})

	t.Run("only admins add members", func(t *testing.T) {
		res := f.do(http.MethodPost, "/api/rooms/"+group.ID+"/members", bob, AddRoomMemberPayload{UserID: carol.ID}, nil)
		assert.Equal(t, http.StatusForbidden, res.StatusCode)

		res = f.do(http.MethodPost, "/api/rooms/"+group.ID+"/members", alice, AddRoomMemberPayload{UserID: carol.ID}, nil)
		require.Equal(t, http.StatusNoContent, res.StatusCode)

		res = f.do(http.MethodPost, "/api/rooms/"+group.ID+"/members", alice,
			AddRoomMemberPayload{UserID: carol.ID, Role: "owner"}, nil)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode)

		res = f.do(http.MethodPost, "/api/rooms/unknown/members", alice, AddRoomMemberPayload{UserID: carol.ID}, nil)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("leave room", func(t *testing.T) {
		res := f.do(http.MethodDelete, "/api/rooms/"+group.ID+"/members/me", carol, nil, nil)
		require.Equal(t, http.StatusNoContent, res.StatusCode)

		res = f.do(http.MethodDelete, "/api/rooms/"+group.ID+"/members/me", carol, nil, nil)
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestMessageRoutes(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()

	alice := f.signup("alice")
	bob := f.signup("bob")
	carol := f.signup("carol")
	room := f.createRoom(alice, false, bob.ID)

	var sent []core.MessageRecord
	for _, content := range []string{"one", "two", "three"} {
		sent = append(sent, f.sendMessage(alice, room.ID, content))
	}

	t.Run("pages newest first", func(t *testing.T) {
		var page MessagesPage
		res := f.do(http.MethodGet, "/api/rooms/"+room.ID+"/messages?limit=2", bob, nil, &page)
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, 3, page.Total)
		assert.True(t, page.HasMore)
		require.Len(t, page.Messages, 2)
		assert.Equal(t, sent[2].ID, page.Messages[0].ID)
		assert.Equal(t, sent[1].ID, page.Messages[1].ID)
		require.NotNil(t, page.Messages[0].Sender)
		assert.Equal(t, "alice", page.Messages[0].Sender.Username)

		res = f.do(http.MethodGet, "/api/rooms/"+room.ID+"/messages?offset=2&limit=2", bob, nil, &page)
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.False(t, page.HasMore)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, sent[0].ID, page.Messages[0].ID)
	})

	t.Run("message errors", func(t *testing.T) {
		tcs := []struct {
			name    string
			method  string
			path    string
			session *core.Session
			body    any
			code    int
		}{
			{"non member reads", http.MethodGet, "/api/rooms/" + room.ID + "/messages", carol, nil, http.StatusForbidden},
			{"unknown room", http.MethodGet, "/api/rooms/unknown/messages", alice, nil, http.StatusNotFound},
			{"invalid limit", http.MethodGet, "/api/rooms/" + room.ID + "/messages?limit=x", alice, nil, http.StatusBadRequest},
			{"negative offset", http.MethodGet, "/api/rooms/" + room.ID + "/messages?offset=-1", alice, nil, http.StatusBadRequest},
			{"non member sends", http.MethodPost, "/api/rooms/" + room.ID + "/messages", carol, SendMessagePayload{Content: "hi"}, http.StatusForbidden},
			{"empty message", http.MethodPost, "/api/rooms/" + room.ID + "/messages", alice, SendMessagePayload{}, http.StatusBadRequest},
			{"edit by other user", http.MethodPatch, "/api/messages/" + sent[0].ID, bob, EditMessagePayload{Content: "x"}, http.StatusForbidden},
			{"edit unknown message", http.MethodPatch, "/api/messages/unknown", alice, EditMessagePayload{Content: "x"}, http.StatusNotFound},
			{"delete by other user", http.MethodDelete, "/api/messages/" + sent[0].ID, bob, nil, http.StatusForbidden},
		}
		for _, tc := range tcs {
			t.Run(tc.name, func(t *testing.T) {
				res := f.do(tc.method, tc.path, tc.session, tc.body, nil)
				assert.Equal(t, tc.code, res.StatusCode)
			})
		}
	})

	t.Run("edit and delete", func(t *testing.T) {
		var edited core.MessageRecord
		res := f.do(http.MethodPatch, "/api/messages/"+sent[0].ID, alice, EditMessagePayload{Content: "uno"}, &edited)
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.True(t, edited.IsEdited)
		assert.Equal(t, "uno", *edited.Content)

		var deleted core.MessageRecord
		res = f.do(http.MethodDelete, "/api/messages/"+sent[1].ID, alice, nil, &deleted)
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.True(t, deleted.IsDeleted)
		assert.Equal(t, core.DeletedMessageContent, *deleted.Content)
	})
}

func TestToggleReactionRoute(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()

	alice := f.signup("alice")
	bob := f.signup("bob")
	carol := f.signup("carol")
	room := f.createRoom(alice, false, bob.ID)
	message := f.sendMessage(alice, room.ID, "hello")
	path := "/api/messages/" + message.ID + "/reactions"

	var groups []client.ReactionGroup
	res := f.do(http.MethodPost, path, alice, ReactionPayload{Emoji: "👍"}, &groups)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []client.ReactionGroup{{Emoji: "👍", Users: []string{alice.ID}}}, groups)

	res = f.do(http.MethodPost, path, bob, ReactionPayload{Emoji: "👍"}, &groups)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []client.ReactionGroup{{Emoji: "👍", Users: []string{alice.ID, bob.ID}}}, groups)

	res = f.do(http.MethodPost, path, alice, ReactionPayload{Emoji: "👍"}, &groups)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []client.ReactionGroup{{Emoji: "👍", Users: []string{bob.ID}}}, groups)

	res = f.do(http.MethodPost, path, carol, ReactionPayload{Emoji: "👍"}, nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res = f.do(http.MethodPost, "/api/messages/unknown/reactions", alice, ReactionPayload{Emoji: "👍"}, nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res = f.do(http.MethodPost, path, alice, ReactionPayload{}, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestWebsocketRoute(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()

	alice := f.signup("alice")
	bob := f.signup("bob")
	room := f.createRoom(alice, false, bob.ID)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	remote, err := ws.Dial(f.ctx, url, bob.Token)
	require.NoError(t, err)
	defer remote.Close()

	sub, err := remote.SubscribeRoomMessages(f.ctx, room.ID)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sent := f.sendMessage(alice, room.ID, "over the wire")

	select {
	case e := <-sub.Events():
		assert.Equal(t, core.InsertChange, e.Type)
		assert.Equal(t, sent.ID, e.MessageID())
	case <-time.After(baseTimeout):
		t.Fatal("no change event received")
	}

	_, err = ws.Dial(f.ctx, url, "invalid")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
}

func TestMetricsRoute(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()

	f.signup("alice")

	res, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chatsync_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
