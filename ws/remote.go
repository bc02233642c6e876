package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/putto11262002/chatsync/core"
)

// ErrRemoteClosed is returned by requests on a closed Remote.
var ErrRemoteClosed = errors.New("remote connection closed")

const remoteBufferSize = 64

// Remote is the client end of a websocket connection served by Handler.
// It implements core.ChangeFeed and core.Presence with at most one subscription
// and one presence membership per room: subscribing to or joining a room again
// closes the previous subscription or channel of that room. Clients that need
// their own subscriptions to the same room dial their own Remote.
type Remote struct {
	ws     *websocket.Conn
	logger *slog.Logger

	// writeMu serializes writers; gorilla connections support a single concurrent writer.
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan Packet
	subs     map[string]*remoteSubscription
	presence map[string]*remotePresence
	closed   bool

	done chan struct{}
}

type RemoteOption func(*Remote)

func WithRemoteLogger(logger *slog.Logger) RemoteOption {
	return func(r *Remote) {
		r.logger = logger
	}
}

// Dial connects to the websocket endpoint at url authenticating with the session token.
func Dial(ctx context.Context, url, token string, opts ...RemoteOption) (*Remote, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	wsConn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("Dial: %w", core.ErrUnauthenticated)
		}
		return nil, core.NewError(core.ErrTransientIO, "Dial", err)
	}

	r := &Remote{
		ws:       wsConn,
		logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
		pending:  make(map[string]chan Packet),
		subs:     make(map[string]*remoteSubscription),
		presence: make(map[string]*remotePresence),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPingHandler(func(data string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		err := wsConn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	go r.readLoop()
	return r, nil
}

// Done is closed when the connection is gone.
func (r *Remote) Done() <-chan struct{} {
	return r.done
}

// Close closes the connection. Open subscriptions and presence channels are closed.
func (r *Remote) Close() error {
	r.writeMu.Lock()
	r.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := r.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	r.writeMu.Unlock()

	select {
	case <-r.done:
	case <-time.After(writeWait):
	}
	r.ws.Close()
	<-r.done
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("WriteMessage: %w", err)
	}
	return nil
}

func (r *Remote) write(p Packet) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := encodePacket(r.ws.NextWriter, p); err != nil {
		return core.NewError(core.ErrTransientIO, "encodePacket", err)
	}
	return nil
}

// request sends the packet and waits for the server's reply.
func (r *Remote) request(ctx context.Context, p Packet) error {
	p.Ref = uuid.New().String()
	reply := make(chan Packet, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRemoteClosed
	}
	r.pending[p.Ref] = reply
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, p.Ref)
		r.mu.Unlock()
	}()

	if err := r.write(p); err != nil {
		return err
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return ErrRemoteClosed
		}
		if resp.Type == ErrorPacket {
			return decodeError(string(p.Type), resp.Payload)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify sends a packet without waiting for a reply.
func (r *Remote) notify(p Packet) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	if err := r.write(p); err != nil {
		r.logger.Warn("sending packet", slog.String("type", string(p.Type)), slog.Any("error", err))
	}
}

func (r *Remote) readLoop() {
	defer r.shutdown()

	for {
		mt, rd, err := r.ws.NextReader()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Debug(fmt.Sprintf("NextReader: %v", err))
			}
			return
		}
		r.ws.SetReadDeadline(time.Now().Add(pongWait))

		packet, err := decodePacket(mt, rd)
		if err != nil {
			r.logger.Error(fmt.Sprintf("decodePacket: %v", err))
			continue
		}
		r.route(packet)
	}
}

func (r *Remote) route(p *Packet) {
	if p.Ref != "" {
		r.mu.Lock()
		reply, ok := r.pending[p.Ref]
		r.mu.Unlock()
		if ok {
			reply <- *p
		}
		return
	}

	switch p.Type {
	case ChangePacket:
		var e core.ChangeEvent
		if err := json.Unmarshal(p.Payload, &e); err != nil {
			r.logger.Error("decoding change", slog.Any("error", err))
			return
		}
		r.mu.Lock()
		sub := r.subs[p.Room]
		r.mu.Unlock()
		if sub != nil {
			sub.deliver(e)
		}
	case PresencePacket:
		var snapshot core.PresenceSnapshot
		if err := json.Unmarshal(p.Payload, &snapshot); err != nil {
			r.logger.Error("decoding presence", slog.Any("error", err))
			return
		}
		r.mu.Lock()
		ch := r.presence[p.Room]
		r.mu.Unlock()
		if ch != nil {
			ch.deliver(snapshot)
		}
	case ErrorPacket:
		var e ErrorPayload
		_ = json.Unmarshal(p.Payload, &e)
		if e.Code == CodeFeedClosed {
			r.mu.Lock()
			sub := r.subs[p.Room]
			r.mu.Unlock()
			if sub != nil {
				sub.drop()
			}
			return
		}
		r.logger.Warn("server error", slog.String("room", p.Room), slog.String("code", e.Code),
			slog.String("message", e.Message))
	}
}

// shutdown closes every subscription, presence channel and pending request.
func (r *Remote) shutdown() {
	r.mu.Lock()
	r.closed = true
	subs, presence, pending := r.subs, r.presence, r.pending
	r.subs = make(map[string]*remoteSubscription)
	r.presence = make(map[string]*remotePresence)
	r.pending = make(map[string]chan Packet)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	for _, ch := range presence {
		ch.close()
	}
	for _, reply := range pending {
		close(reply)
	}
	close(r.done)
}

func (r *Remote) SubscribeRoomMessages(ctx context.Context, roomID string) (core.Subscription, error) {
	sub := &remoteSubscription{
		remote: r,
		roomID: roomID,
		events: make(chan core.ChangeEvent, remoteBufferSize),
	}

	// registered before the request so that no event sent right after the server subscribed is lost
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRemoteClosed
	}
	prev := r.subs[roomID]
	r.subs[roomID] = sub
	r.mu.Unlock()
	if prev != nil {
		prev.close()
	}

	if err := r.request(ctx, Packet{Type: SubscribePacket, Room: roomID}); err != nil {
		r.removeSub(sub)
		sub.close()
		return nil, err
	}
	return sub, nil
}

func (r *Remote) removeSub(sub *remoteSubscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[sub.roomID] != sub {
		return false
	}
	delete(r.subs, sub.roomID)
	return true
}

type remoteSubscription struct {
	remote *Remote
	roomID string
	events chan core.ChangeEvent
	mu     sync.Mutex
	closed bool
}

func (s *remoteSubscription) Events() <-chan core.ChangeEvent {
	return s.events
}

func (s *remoteSubscription) Unsubscribe() {
	if s.remote.removeSub(s) {
		s.remote.notify(Packet{Type: UnsubscribePacket, Room: s.roomID})
	}
	s.close()
}

// deliver drops the subscription instead of blocking the read loop when the consumer falls behind.
func (s *remoteSubscription) deliver(e core.ChangeEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	select {
	case s.events <- e:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.remote.logger.Warn("dropping slow subscription", slog.String("room", s.roomID))
		go s.Unsubscribe()
	}
}

// drop closes a subscription the server ended.
func (s *remoteSubscription) drop() {
	s.remote.removeSub(s)
	s.close()
}

func (s *remoteSubscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (r *Remote) JoinPresence(ctx context.Context, roomID, key string) (core.PresenceChannel, error) {
	ch := &remotePresence{
		remote:    r,
		roomID:    roomID,
		snapshots: make(chan core.PresenceSnapshot, 1),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRemoteClosed
	}
	prev := r.presence[roomID]
	r.presence[roomID] = ch
	r.mu.Unlock()
	if prev != nil {
		prev.close()
	}

	p, err := newPacket(JoinPacket, "", roomID, JoinPayload{Key: key})
	if err != nil {
		return nil, err
	}
	if err := r.request(ctx, p); err != nil {
		r.removePresence(ch)
		ch.close()
		return nil, err
	}
	return ch, nil
}

func (r *Remote) removePresence(ch *remotePresence) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presence[ch.roomID] != ch {
		return false
	}
	delete(r.presence, ch.roomID)
	return true
}

type remotePresence struct {
	remote    *Remote
	roomID    string
	snapshots chan core.PresenceSnapshot
	mu        sync.Mutex
	closed    bool
}

func (p *remotePresence) Snapshots() <-chan core.PresenceSnapshot {
	return p.snapshots
}

func (p *remotePresence) Track(ctx context.Context, state core.PresenceState) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return core.ErrPresenceLeft
	}
	packet, err := newPacket(TrackPacket, "", p.roomID, state)
	if err != nil {
		return err
	}
	return p.remote.request(ctx, packet)
}

func (p *remotePresence) Leave() {
	if p.remote.removePresence(p) {
		p.remote.notify(Packet{Type: LeavePacket, Room: p.roomID})
	}
	p.close()
}

// deliver keeps only the latest snapshot when the consumer falls behind.
func (p *remotePresence) deliver(snapshot core.PresenceSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.snapshots <- snapshot:
	default:
		select {
		case <-p.snapshots:
		default:
		}
		p.snapshots <- snapshot
	}
}

func (p *remotePresence) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.snapshots)
	}
}
