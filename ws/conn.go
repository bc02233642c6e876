package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/chatsync/core"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBufferSize = 256
)

// conn serves one authenticated websocket connection. It holds the connection's
// message subscriptions and presence memberships, at most one of each per room.
type conn struct {
	ws       *websocket.Conn
	handler  *Handler
	identity core.Identity
	out      chan Packet
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	mu       sync.Mutex
	subs     map[string]core.Subscription
	presence map[string]core.PresenceChannel
	// forwarders copy subscriptions and presence channels to out.
	forwarders sync.WaitGroup
}

func newConn(ctx context.Context, ws *websocket.Conn, h *Handler, identity core.Identity) *conn {
	ctx, cancel := context.WithCancel(ctx)
	return &conn{
		ws:       ws,
		handler:  h,
		identity: identity,
		out:      make(chan Packet, sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		logger:   h.logger.With(slog.String("user", identity.ID)),
		subs:     make(map[string]core.Subscription),
		presence: make(map[string]core.PresenceChannel),
	}
}

// send queues the packet for the write loop. A connection that does not keep up is closed.
func (c *conn) send(p Packet) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.out <- p:
		return true
	case <-c.ctx.Done():
		return false
	default:
		c.logger.Warn("send buffer full, closing connection")
		c.cancel()
		return false
	}
}

func (c *conn) readLoop() {
	defer func() {
		c.cancel()
		c.release()
		c.ws.Close()
		c.logger.Debug("exited read loop")
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		mt, r, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}

		packet, err := decodePacket(mt, r)
		if err != nil {
			c.logger.Error(fmt.Sprintf("decodePacket: %v", err))
			c.send(errorPacket("", "", core.NewError(core.ErrInvalidInput, "decodePacket", err)))
			continue
		}

		if err := c.dispatch(packet); err != nil {
			c.logger.Debug("request failed", slog.String("type", string(packet.Type)),
				slog.String("room", packet.Room), slog.Any("error", err))
			c.send(errorPacket(packet.Ref, packet.Room, err))
			continue
		}
		if packet.Ref != "" {
			c.send(Packet{Type: ReplyPacket, Ref: packet.Ref, Room: packet.Room})
		}
	}
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.logger.Debug("exited write loop")
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case packet := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := encodePacket(c.ws.NextWriter, packet); err != nil {
				c.logger.Error(fmt.Sprintf("encodePacket: %v", err))
				c.cancel()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("WritePing: %v", err))
				c.cancel()
				return
			}
		}
	}
}

func (c *conn) dispatch(p *Packet) error {
	if p.Room == "" {
		return core.NewError(core.ErrInvalidInput, string(p.Type), errors.New("missing room"))
	}
	switch p.Type {
	case SubscribePacket:
		return c.subscribe(p.Room)
	case UnsubscribePacket:
		c.unsubscribe(p.Room)
		return nil
	case JoinPacket:
		var payload JoinPayload
		if err := json.Unmarshal(p.Payload, &payload); err != nil || payload.Key == "" {
			return core.NewError(core.ErrInvalidInput, "join", errors.New("missing presence key"))
		}
		return c.join(p.Room, payload.Key)
	case LeavePacket:
		c.leave(p.Room)
		return nil
	case TrackPacket:
		var state core.PresenceState
		if err := json.Unmarshal(p.Payload, &state); err != nil {
			return core.NewError(core.ErrInvalidInput, "track", err)
		}
		return c.track(p.Room, state)
	default:
		return core.NewError(core.ErrInvalidInput, "dispatch", fmt.Errorf("unknown packet type %q", p.Type))
	}
}

func (c *conn) authorize(roomID string) error {
	ok, _, err := c.handler.members.IsRoomMember(c.ctx, roomID, c.identity.ID)
	if err != nil {
		return fmt.Errorf("IsRoomMember: %w", err)
	}
	if !ok {
		return core.NewError(core.ErrUnauthorized, "authorize", fmt.Errorf("not a member of room %s", roomID))
	}
	return nil
}

func (c *conn) subscribe(roomID string) error {
	c.mu.Lock()
	_, ok := c.subs[roomID]
	c.mu.Unlock()
	if ok {
		return nil
	}

	if err := c.authorize(roomID); err != nil {
		return err
	}
	sub, err := c.handler.feed.SubscribeRoomMessages(c.ctx, roomID)
	if err != nil {
		return fmt.Errorf("SubscribeRoomMessages: %w", err)
	}

	c.mu.Lock()
	c.subs[roomID] = sub
	c.mu.Unlock()

	c.forwarders.Add(1)
	go func() {
		defer c.forwarders.Done()
		for e := range sub.Events() {
			p, err := newPacket(ChangePacket, "", roomID, e)
			if err != nil {
				c.logger.Error("encoding change", slog.Any("error", err))
				continue
			}
			if !c.send(p) {
				return
			}
		}

		c.mu.Lock()
		dropped := c.subs[roomID] == sub
		if dropped {
			delete(c.subs, roomID)
		}
		c.mu.Unlock()
		if dropped {
			// the feed closed the subscription on its own
			b, _ := json.Marshal(ErrorPayload{Code: CodeFeedClosed, Message: "subscription closed by the feed"})
			c.send(Packet{Type: ErrorPacket, Room: roomID, Payload: b})
		}
	}()
	return nil
}

func (c *conn) unsubscribe(roomID string) {
	c.mu.Lock()
	sub, ok := c.subs[roomID]
	delete(c.subs, roomID)
	c.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

func (c *conn) join(roomID, key string) error {
	if err := c.authorize(roomID); err != nil {
		return err
	}
	// keys are scoped to the user so a client can never replace another user's membership
	ch, err := c.handler.presence.JoinPresence(c.ctx, roomID, c.identity.ID+"/"+key)
	if err != nil {
		return fmt.Errorf("JoinPresence: %w", err)
	}

	c.mu.Lock()
	prev := c.presence[roomID]
	c.presence[roomID] = ch
	c.mu.Unlock()
	if prev != nil {
		prev.Leave()
	}

	c.forwarders.Add(1)
	go func() {
		defer c.forwarders.Done()
		for snapshot := range ch.Snapshots() {
			p, err := newPacket(PresencePacket, "", roomID, snapshot)
			if err != nil {
				c.logger.Error("encoding presence", slog.Any("error", err))
				continue
			}
			if !c.send(p) {
				return
			}
		}
	}()
	return nil
}

func (c *conn) leave(roomID string) {
	c.mu.Lock()
	ch, ok := c.presence[roomID]
	delete(c.presence, roomID)
	c.mu.Unlock()
	if ok {
		ch.Leave()
	}
}

func (c *conn) track(roomID string, state core.PresenceState) error {
	c.mu.Lock()
	ch, ok := c.presence[roomID]
	c.mu.Unlock()
	if !ok {
		return core.NewError(core.ErrNotFound, "track", fmt.Errorf("not joined to room %s", roomID))
	}
	state.UserID = c.identity.ID
	if err := ch.Track(c.ctx, state); err != nil {
		return fmt.Errorf("Track: %w", err)
	}
	return nil
}

// release unsubscribes and leaves everything the connection holds and waits for the forwarders.
func (c *conn) release() {
	c.mu.Lock()
	subs, presence := c.subs, c.presence
	c.subs = make(map[string]core.Subscription)
	c.presence = make(map[string]core.PresenceChannel)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, ch := range presence {
		ch.Leave()
	}
	c.forwarders.Wait()
}
