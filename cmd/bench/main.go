// Command bench measures how long a message takes to reach the change feed subscribers of a room.
// It runs the server in process on a temporary database, connects every client over the
// websocket transport and has each of them post messages over the HTTP API at a fixed interval.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	chatsync "github.com/putto11262002/chatsync/app"
	"github.com/putto11262002/chatsync/core"
	"github.com/putto11262002/chatsync/ws"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	numberOfClients int
	messageSize     int
	interval        time.Duration
	testDuration    time.Duration
	grace           time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure change feed delivery latency",
	Long: `bench starts the server in process, signs up a number of clients that share one group room,
subscribes every client to the room over websocket and has each client post messages at a fixed interval.
It reports how many deliveries arrived and their latency percentiles.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().IntVar(&numberOfClients, "clients", 20, "number of clients in the room")
	rootCmd.Flags().IntVar(&messageSize, "message-size", 100, "message content size in bytes")
	rootCmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "interval between two messages of one client")
	rootCmd.Flags().DurationVar(&testDuration, "duration", 10*time.Second, "how long clients keep sending")
	rootCmd.Flags().DurationVar(&grace, "grace", time.Second, "how long to wait for outstanding deliveries")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if numberOfClients < 2 {
		return errors.New("at least two clients are needed")
	}
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	dir, err := os.MkdirTemp("", "chatsync-bench")
	if err != nil {
		return fmt.Errorf("MkdirTemp: %w", err)
	}
	defer os.RemoveAll(dir)

	config, err := (&chatsync.DefaultConfigLoader{SQLiteFile: filepath.Join(dir, "bench.db")}).Load()
	if err != nil {
		return err
	}
	config.LogLevel = "error"

	app, err := chatsync.New(ctx, config, chatsync.WithLogOutput(io.Discard))
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("Listen: %w", err)
	}
	server := &http.Server{Handler: app.Handler()}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server closed", slog.Any("error", err))
		}
	}()
	defer server.Shutdown(context.Background())

	baseURL := "http://" + ln.Addr().String()
	clients, room, err := setup(ctx, baseURL, numberOfClients)
	if err != nil {
		return err
	}

	tracker := newTracker()
	for _, c := range clients {
		go c.startReading(tracker)
	}

	writeCtx, stopWriting := context.WithTimeout(ctx, testDuration)
	defer stopWriting()
	var writers sync.WaitGroup
	for i, c := range clients {
		writers.Add(1)
		go func() {
			defer writers.Done()
			c.startWriting(writeCtx, i, room.ID, tracker)
		}()
	}
	writers.Wait()

	time.Sleep(grace)
	for _, c := range clients {
		c.remote.Close()
	}

	report(cmd.OutOrStdout(), tracker.stats(numberOfClients))
	return nil
}

// setup signs up the clients, puts them in one group room and subscribes each of them to it.
func setup(ctx context.Context, baseURL string, n int) ([]*benchClient, *core.Room, error) {
	clients := make([]*benchClient, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range clients {
		g.Go(func() error {
			c, err := signup(gctx, baseURL, fmt.Sprintf("bench%d", i))
			if err != nil {
				return fmt.Errorf("client %d: %w", i, err)
			}
			clients[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	memberIDs := make([]string, 0, n-1)
	for _, c := range clients[1:] {
		memberIDs = append(memberIDs, c.session.ID)
	}
	var room core.Room
	err := clients[0].post(ctx, "/api/rooms", chatsync.CreateRoomPayload{IsGroup: true, MemberIDs: memberIDs}, &room)
	if err != nil {
		return nil, nil, fmt.Errorf("create room: %w", err)
	}

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	for i, c := range clients {
		c.remote, err = ws.Dial(ctx, wsURL, c.session.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("client %d: Dial: %w", i, err)
		}
		c.sub, err = c.remote.SubscribeRoomMessages(ctx, room.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("client %d: SubscribeRoomMessages: %w", i, err)
		}
	}
	return clients, &room, nil
}

type benchClient struct {
	baseURL string
	session core.Session
	remote  *ws.Remote
	sub     core.Subscription
}

func signup(ctx context.Context, baseURL, username string) (*benchClient, error) {
	c := &benchClient{baseURL: baseURL}
	user := core.User{Email: username + "@bench.test", Password: "password", Username: username}
	if err := c.post(ctx, "/api/auth/signup", user, nil); err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	signin := chatsync.SigninPayload{Email: user.Email, Password: user.Password}
	if err := c.post(ctx, "/api/auth/signin", signin, &c.session); err != nil {
		return nil, fmt.Errorf("signin: %w", err)
	}
	return c, nil
}

func (c *benchClient) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s: %s", res.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func (c *benchClient) startReading(t *tracker) {
	for e := range c.sub.Events() {
		if e.Type != core.InsertChange || e.New.Content == nil {
			continue
		}
		t.received(*e.New.Content, time.Now())
	}
}

func (c *benchClient) startWriting(ctx context.Context, id int, roomID string, t *tracker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	padding := strings.Repeat("a", messageSize)
	for seq := 0; ; seq++ {
		select {
		case <-ticker.C:
			content := fmt.Sprintf("%d-%d %s", id, seq, padding)
			t.sent(content, time.Now())
			err := c.post(ctx, "/api/rooms/"+roomID+"/messages", chatsync.SendMessagePayload{Content: content}, nil)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("sending message", slog.Int("client", id), slog.Any("error", err))
				}
				t.failed(content)
			}
		case <-ctx.Done():
			return
		}
	}
}
