// Package stream fans broadcast ticks out from the feed transport to the
// in-process consumers: live price stores, the candle aggregator, and
// channel subscribers keyed by instrument.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"xts-terminal/internal/models"
)

// Key identifies one instrument on the wire.
type Key struct {
	Segment int
	Token   int64
}

// HubConfig holds configuration for the tick hub.
type HubConfig struct {
	// BufferSize is the size of the internal tick channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           4096,
		SubscriberBufferSize: 128,
	}
}

// Consumer processes every tick that flows through the hub. Consumers
// run on the hub's broadcast goroutine and must not block; anything slow
// belongs behind a channel subscription instead.
type Consumer interface {
	OnTick(tick models.Tick)
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(models.Tick)

// OnTick implements Consumer.
func (f ConsumerFunc) OnTick(tick models.Tick) { f(tick) }

// Subscriber is one channel subscription for an instrument.
type Subscriber struct {
	ID        string
	Channel   chan models.Tick
	Dropped   uint64
	CreatedAt time.Time
}

// Hub distributes ticks from a single feed to many consumers. Channel
// sends are non-blocking: a slow subscriber loses ticks rather than
// stalling the feed.
type Hub struct {
	config HubConfig
	log    zerolog.Logger

	mu          sync.RWMutex
	subscribers map[Key][]*Subscriber
	started     bool

	consumersMu sync.RWMutex
	consumers   []Consumer

	tickChan chan models.Tick
	done     chan struct{}

	metricsMu      sync.Mutex
	ticksReceived  uint64
	ticksBroadcast uint64
	ticksDropped   uint64
}

// NewHub creates a hub with the default configuration.
func NewHub(log zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), log)
}

// NewHubWithConfig creates a hub with a custom configuration.
func NewHubWithConfig(config HubConfig, log zerolog.Logger) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		log:         log.With().Str("component", "tickhub").Logger(),
		subscribers: make(map[Key][]*Subscriber),
		tickChan:    make(chan models.Tick, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start launches the broadcast loop. Idempotent.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()
	go h.broadcastLoop(ctx)
}

// Stop terminates the broadcast loop and closes every subscriber channel.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return
	}
	close(h.done)
	h.started = false
	for key, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, key)
	}
}

// IsStarted reports whether the broadcast loop is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Publish hands one tick to the hub. Non-blocking: when the internal
// buffer is full the tick is dropped and counted.
func (h *Hub) Publish(tick models.Tick) {
	select {
	case h.tickChan <- tick:
	default:
		h.metricsMu.Lock()
		h.ticksDropped++
		h.metricsMu.Unlock()
	}
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case tick := <-h.tickChan:
			h.metricsMu.Lock()
			h.ticksReceived++
			h.metricsMu.Unlock()

			h.notifyConsumers(tick)
			h.broadcast(tick)
		}
	}
}

// Drain synchronously dispatches one tick to consumers and subscribers,
// bypassing the internal buffer. Meant for tests and replay tooling.
func (h *Hub) Drain(tick models.Tick) {
	h.notifyConsumers(tick)
	h.broadcast(tick)
}

// RegisterConsumer adds a consumer receiving every tick.
func (h *Hub) RegisterConsumer(c Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, c)
	h.consumersMu.Unlock()
}

// UnregisterConsumer removes a previously registered consumer.
func (h *Hub) UnregisterConsumer(c Consumer) {
	h.consumersMu.Lock()
	defer h.consumersMu.Unlock()
	for i, existing := range h.consumers {
		if existing == c {
			h.consumers = append(h.consumers[:i], h.consumers[i+1:]...)
			break
		}
	}
}

func (h *Hub) notifyConsumers(tick models.Tick) {
	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()
	for _, c := range consumers {
		c.OnTick(tick)
	}
}

// Subscribe opens a buffered channel carrying every tick for one
// instrument.
func (h *Hub) Subscribe(segment int, token int64) <-chan models.Tick {
	return h.SubscribeWithID(segment, token, "")
}

// SubscribeWithID is Subscribe with a caller-chosen id for diagnostics.
func (h *Hub) SubscribeWithID(segment int, token int64, id string) <-chan models.Tick {
	ch := make(chan models.Tick, h.config.SubscriberBufferSize)
	sub := &Subscriber{ID: id, Channel: ch, CreatedAt: time.Now()}
	key := Key{Segment: segment, Token: token}
	h.mu.Lock()
	h.subscribers[key] = append(h.subscribers[key], sub)
	h.mu.Unlock()
	return ch
}

// Unsubscribe closes and removes one subscription channel.
func (h *Hub) Unsubscribe(segment int, token int64, ch <-chan models.Tick) {
	key := Key{Segment: segment, Token: token}
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[key]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[key]) == 0 {
		delete(h.subscribers, key)
	}
}

// UnsubscribeAll closes every subscription for one instrument.
func (h *Hub) UnsubscribeAll(segment int, token int64) {
	key := Key{Segment: segment, Token: token}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subscribers[key] {
		close(sub.Channel)
	}
	delete(h.subscribers, key)
}

func (h *Hub) broadcast(tick models.Tick) {
	key := Key{Segment: tick.ExchangeSegment, Token: tick.ExchangeInstrumentID}
	h.mu.RLock()
	subs := h.subscribers[key]
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.Channel <- tick:
			h.metricsMu.Lock()
			h.ticksBroadcast++
			h.metricsMu.Unlock()
		default:
			sub.Dropped++
			h.metricsMu.Lock()
			h.ticksDropped++
			h.metricsMu.Unlock()
		}
	}
}

// SubscriberCount returns the subscriptions open for one instrument.
func (h *Hub) SubscriberCount(segment int, token int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[Key{Segment: segment, Token: token}])
}

// TotalSubscriberCount returns the subscriptions open across all
// instruments.
func (h *Hub) TotalSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// SubscribedKeys returns every instrument with at least one open
// subscription.
func (h *Hub) SubscribedKeys() []Key {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]Key, 0, len(h.subscribers))
	for key := range h.subscribers {
		keys = append(keys, key)
	}
	return keys
}

// HubMetrics is a snapshot of the hub's counters.
type HubMetrics struct {
	TicksReceived  uint64
	TicksBroadcast uint64
	TicksDropped   uint64
	Subscribers    int
	Instruments    int
}

// Metrics returns the hub's counters.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.Lock()
	received, broadcast, dropped := h.ticksReceived, h.ticksBroadcast, h.ticksDropped
	h.metricsMu.Unlock()

	h.mu.RLock()
	subscribers := 0
	for _, subs := range h.subscribers {
		subscribers += len(subs)
	}
	instruments := len(h.subscribers)
	h.mu.RUnlock()

	return HubMetrics{
		TicksReceived:  received,
		TicksBroadcast: broadcast,
		TicksDropped:   dropped,
		Subscribers:    subscribers,
		Instruments:    instruments,
	}
}
