package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/pkg/router"
	"github.com/stretchr/testify/require"
)

var baseTimeout = 2 * time.Second

type appFixture struct {
	ctx      context.Context
	t        *testing.T
	app      *App
	server   *httptest.Server
	tearDown func()
}

func newAppFixture(t *testing.T) *appFixture {
	ctx, cancel := context.WithCancel(context.Background())

	loader := &DefaultConfigLoader{SQLiteFile: filepath.Join(t.TempDir(), "app.db")}
	config, err := loader.Load()
	require.NoError(t, err)

	app, err := New(ctx, config, WithLogOutput(io.Discard))
	require.NoError(t, err)

	server := httptest.NewServer(app.Handler())
	return &appFixture{
		ctx:    ctx,
		t:      t,
		app:    app,
		server: server,
		tearDown: func() {
			server.Close()
			closeCtx, closeCancel := context.WithTimeout(context.Background(), baseTimeout)
			defer closeCancel()
			app.Close(closeCtx)
			cancel()
		},
	}
}

// do sends a JSON request authenticated with the session token when session is not nil
// and decodes the response body into out when out is not nil. Error responses are decoded
// only when out is a *router.JsonError.
func (f *appFixture) do(method, path string, session *core.Session, body any, out any) *http.Response {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(f.ctx, method, f.server.URL+path, reader)
	require.NoError(f.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		req.Header.Set("Authorization", "Bearer "+session.Token)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer res.Body.Close()
	_, wantsError := out.(*router.JsonError)
	if out != nil && (res.StatusCode < http.StatusBadRequest) != wantsError {
		require.NoError(f.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res
}

func (f *appFixture) signup(username string) *core.Session {
	f.t.Helper()
	user := core.User{
		Email:    username + "@example.com",
		Password: "password",
		Username: username,
	}
	res := f.do(http.MethodPost, "/api/auth/signup", nil, user, nil)
	require.Equal(f.t, http.StatusCreated, res.StatusCode)

	var session core.Session
	res = f.do(http.MethodPost, "/api/auth/signin", nil,
		SigninPayload{Email: user.Email, Password: user.Password}, &session)
	require.Equal(f.t, http.StatusOK, res.StatusCode)
	return &session
}

func (f *appFixture) createRoom(owner *core.Session, isGroup bool, members ...string) core.Room {
	f.t.Helper()
	var room core.Room
	res := f.do(http.MethodPost, "/api/rooms", owner, CreateRoomPayload{IsGroup: isGroup, MemberIDs: members}, &room)
	require.Equal(f.t, http.StatusCreated, res.StatusCode)
	return room
}

func (f *appFixture) sendMessage(sender *core.Session, roomID, content string) core.MessageRecord {
	f.t.Helper()
	var record core.MessageRecord
	res := f.do(http.MethodPost, "/api/rooms/"+roomID+"/messages", sender, SendMessagePayload{Content: content}, &record)
	require.Equal(f.t, http.StatusCreated, res.StatusCode)
	return record
}
