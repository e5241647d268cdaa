package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Broadcaster is what producers depend on.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic string, ev Event)
}

// Publisher mirrors broadcasts to an external sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Subscriber is one realtime consumer (typically a websocket connection).
// Events arrive on C; Done is closed once the subscriber is dropped.
type Subscriber struct {
	ID string

	ch     chan Event
	done   chan struct{}
	topics map[string]struct{} // guarded by Hub.mu
}

// C returns the subscriber's event stream.
func (s *Subscriber) C() <-chan Event { return s.ch }

// Done is closed when the subscriber has been dropped from the hub.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Hub is a topic-keyed registry of subscribers.
type Hub struct {
	buffer  int
	mirrors []Publisher
	timeout time.Duration

	mu     sync.RWMutex
	topics map[string]map[*Subscriber]struct{}
	subs   map[*Subscriber]struct{}
}

// NewHub returns a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int, mirrors ...Publisher) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		buffer:  buffer,
		mirrors: mirrors,
		timeout: 5 * time.Second,
		topics:  make(map[string]map[*Subscriber]struct{}),
		subs:    make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new subscriber with no topics.
func (h *Hub) Subscribe() *Subscriber {
	s := &Subscriber{
		ID:     uuid.NewString(),
		ch:     make(chan Event, h.buffer),
		done:   make(chan struct{}),
		topics: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	subscribersGauge.Set(float64(n))
	return s
}

// Join adds s to topic. Joining twice is a no-op.
func (h *Hub) Join(s *Subscriber, topic string) {
	if s == nil || topic == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.topics[topic] = set
	}
	set[s] = struct{}{}
	s.topics[topic] = struct{}{}
}

// Leave removes s from topic.
func (h *Hub) Leave(s *Subscriber, topic string) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, topic)
}

func (h *Hub) leaveLocked(s *Subscriber, topic string) {
	if set, ok := h.topics[topic]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
	delete(s.topics, topic)
}

// Drop removes s from every topic and unregisters it. Done is closed.
func (h *Hub) Drop(s *Subscriber) {
	if s == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.subs[s]; !ok {
		h.mu.Unlock()
		return
	}
	for topic := range s.topics {
		h.leaveLocked(s, topic)
	}
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	close(s.done)
	subscribersGauge.Set(float64(n))
}

// Broadcast delivers ev to every subscriber of topic and to the mirrors.
// Delivery never blocks: a subscriber with a full buffer misses the event.
func (h *Hub) Broadcast(ctx context.Context, topic string, ev Event) {
	ev.Topic = topic
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	h.mu.RLock()
	targets := make([]*Subscriber, 0, len(h.topics[topic]))
	for s := range h.topics[topic] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- ev:
		default:
			droppedTotal.WithLabelValues(ev.Type).Inc()
			log.Warn().Str("subscriber", s.ID).Str("topic", topic).Str("event", ev.Type).Msg("subscriber buffer full; event dropped")
		}
	}
	broadcastsTotal.WithLabelValues(ev.Type).Inc()

	for _, m := range h.mirrors {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
		if err := m.Publish(mctx, ev); err != nil {
			log.Error().Err(err).Str("event", ev.Type).Str("topic", topic).Msg("mirror publish failed")
		}
		cancel()
	}
}

// SubscriberCount returns the number of registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// TopicSize returns the number of subscribers joined to topic.
func (h *Hub) TopicSize(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close closes every mirror.
func (h *Hub) Close() error {
	var first error
	for _, m := range h.mirrors {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
