package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// ErrPresenceLeft is returned when tracking state on a presence channel that was left.
var ErrPresenceLeft = errors.New("presence channel left")

// Broker is an in-process change feed and presence service.
// Each room has a topic holding its message subscribers and its presence members.
type Broker struct {
	topics     *SyncMap[string, *topic]
	logger     *slog.Logger
	metrics    *FeedMetrics
	bufferSize int
	nextID     atomic.Uint64
}

type BrokerOption func(*Broker)

func WithBrokerLogger(logger *slog.Logger) BrokerOption {
	return func(b *Broker) {
		b.logger = logger
	}
}

func WithMetrics(m *FeedMetrics) BrokerOption {
	return func(b *Broker) {
		b.metrics = m
	}
}

// WithBufferSize sets the number of events buffered per subscriber.
func WithBufferSize(n int) BrokerOption {
	return func(b *Broker) {
		b.bufferSize = n
	}
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:     NewSyncMap[string, *topic](),
		logger:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
		metrics:    NewFeedMetrics(nil),
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type topic struct {
	mu      sync.Mutex
	subs    map[uint64]*brokerSubscription
	members []*presenceMember
}

func (b *Broker) topic(roomID string) *topic {
	return b.topics.LoadOrStore(roomID, func() *topic {
		return &topic{subs: make(map[uint64]*brokerSubscription)}
	})
}

type brokerSubscription struct {
	broker *Broker
	roomID string
	id     uint64
	events chan ChangeEvent
}

func (s *brokerSubscription) Events() <-chan ChangeEvent {
	return s.events
}

func (s *brokerSubscription) Unsubscribe() {
	s.broker.unsubscribe(s.roomID, s.id)
}

func (b *Broker) SubscribeRoomMessages(ctx context.Context, roomID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &brokerSubscription{
		broker: b,
		roomID: roomID,
		id:     b.nextID.Add(1),
		events: make(chan ChangeEvent, b.bufferSize),
	}

	t := b.topic(roomID)
	t.mu.Lock()
	t.subs[sub.id] = sub
	t.mu.Unlock()

	b.metrics.Subscriptions.WithLabelValues(messagesKind).Inc()
	b.logger.Debug("subscribed", slog.String("room", roomID), slog.Uint64("subscription", sub.id))
	return sub, nil
}

func (b *Broker) unsubscribe(roomID string, id uint64) {
	t, ok := b.topics.Load(roomID)
	if !ok {
		return
	}
	t.mu.Lock()
	sub, ok := t.subs[id]
	if ok {
		delete(t.subs, id)
		close(sub.events)
	}
	t.mu.Unlock()

	if ok {
		b.metrics.Subscriptions.WithLabelValues(messagesKind).Dec()
		b.logger.Debug("unsubscribed", slog.String("room", roomID), slog.Uint64("subscription", id))
	}
}

// PublishChange delivers the event to every subscriber of the event's room.
// A subscriber whose buffer is full is disconnected instead of blocking the publisher.
func (b *Broker) PublishChange(e ChangeEvent) {
	b.metrics.Events.WithLabelValues(string(e.Type)).Inc()

	t, ok := b.topics.Load(e.RoomID())
	if !ok {
		return
	}

	var dropped int
	t.mu.Lock()
	for id, sub := range t.subs {
		select {
		case sub.events <- e:
		default:
			delete(t.subs, id)
			close(sub.events)
			dropped++
			b.logger.Warn("dropping slow subscriber",
				slog.String("room", e.RoomID()), slog.Uint64("subscription", id))
		}
	}
	t.mu.Unlock()

	if dropped > 0 {
		b.metrics.Subscriptions.WithLabelValues(messagesKind).Sub(float64(dropped))
		b.metrics.Dropped.Add(float64(dropped))
	}
}

// SubscriberCount returns the number of open message subscriptions of the room.
func (b *Broker) SubscriberCount(roomID string) int {
	t, ok := b.topics.Load(roomID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

type presenceMember struct {
	key       string
	state     PresenceState
	tracked   bool
	snapshots chan PresenceSnapshot
}

type brokerPresence struct {
	broker *Broker
	roomID string
	member *presenceMember
}

func (b *Broker) JoinPresence(ctx context.Context, roomID, key string) (PresenceChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	member := &presenceMember{
		key:       key,
		snapshots: make(chan PresenceSnapshot, b.bufferSize),
	}

	t := b.topic(roomID)
	t.mu.Lock()
	replaced := t.removeMember(key)
	t.members = append(t.members, member)
	t.broadcastSnapshot()
	t.mu.Unlock()

	if !replaced {
		b.metrics.Subscriptions.WithLabelValues(presenceKind).Inc()
	}
	return &brokerPresence{broker: b, roomID: roomID, member: member}, nil
}

func (p *brokerPresence) Snapshots() <-chan PresenceSnapshot {
	return p.member.snapshots
}

func (p *brokerPresence) Track(ctx context.Context, state PresenceState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := p.broker.topic(p.roomID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasMember(p.member) {
		return ErrPresenceLeft
	}
	p.member.state = state
	p.member.tracked = true
	t.broadcastSnapshot()
	return nil
}

func (p *brokerPresence) Leave() {
	t := p.broker.topic(p.roomID)
	t.mu.Lock()
	left := t.hasMember(p.member)
	if left {
		t.removeMember(p.member.key)
		t.broadcastSnapshot()
	}
	t.mu.Unlock()

	if left {
		p.broker.metrics.Subscriptions.WithLabelValues(presenceKind).Dec()
	}
}

// PresenceCount returns the number of clients joined to the room's presence channel.
func (b *Broker) PresenceCount(roomID string) int {
	t, ok := b.topics.Load(roomID)
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.members)
}

func (t *topic) hasMember(m *presenceMember) bool {
	for _, member := range t.members {
		if member == m {
			return true
		}
	}
	return false
}

// removeMember must be called with t.mu held.
func (t *topic) removeMember(key string) bool {
	for i, member := range t.members {
		if member.key == key {
			close(member.snapshots)
			t.members = append(t.members[:i], t.members[i+1:]...)
			return true
		}
	}
	return false
}

// broadcastSnapshot must be called with t.mu held.
// Snapshots are full states, so a member that has not consumed the previous
// snapshot has it replaced by the newer one.
func (t *topic) broadcastSnapshot() {
	snapshot := make(PresenceSnapshot, 0, len(t.members))
	for _, member := range t.members {
		if member.tracked {
			snapshot = append(snapshot, member.state)
		}
	}

	for _, member := range t.members {
		s := append(PresenceSnapshot(nil), snapshot...)
		select {
		case member.snapshots <- s:
		default:
			select {
			case <-member.snapshots:
			default:
			}
			select {
			case member.snapshots <- s:
			default:
			}
		}
	}
}
