// Package memory provides an in-process implementation of the collaboration
// channel. A Hub holds named channels; every node opened on the same Hub and
// channel name sees every event published there. It is suitable for tests
// and single-host deployments where durability is not required.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/caseflow/internal/domain/collaboration"
	"github.com/ahrav/caseflow/internal/domain/events"
)

// ErrBusClosed is returned by operations on a closed Bus.
var ErrBusClosed = errors.New("event bus closed")

// Codec round-trips envelopes through a wire representation. When a Hub has a
// codec, every delivery receives an independently decoded copy of the event.
type Codec interface {
	Encode(events.EventEnvelope) ([]byte, error)
	Decode([]byte) (events.EventEnvelope, error)
}

var _ collaboration.ChannelOpener = (*Hub)(nil)

// Hub owns the named channels.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*channel
	codec    Codec
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithCodec makes the hub encode each published event once and decode it for
// every receiving bus.
func WithCodec(c Codec) HubOption { return func(h *Hub) { h.codec = c } }

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{channels: make(map[string]*channel)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type channel struct {
	mu    sync.RWMutex
	buses map[*Bus]struct{}
}

// OpenChannel attaches a new Bus to the named channel, creating the channel
// on first use.
func (h *Hub) OpenChannel(ctx context.Context, name string) (events.EventBus, error) {
	return h.Open(ctx, name)
}

// Open is OpenChannel returning the concrete type.
func (h *Hub) Open(ctx context.Context, name string) (*Bus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New("channel name cannot be empty")
	}

	h.mu.Lock()
	ch, ok := h.channels[name]
	if !ok {
		ch = &channel{buses: make(map[*Bus]struct{})}
		h.channels[name] = ch
	}
	h.mu.Unlock()

	b := &Bus{
		hub:  h,
		name: name,
		ch:   ch,
		subs: make(map[uint64]subscription),
		done: make(chan struct{}),
	}
	ch.mu.Lock()
	ch.buses[b] = struct{}{}
	ch.mu.Unlock()
	return b, nil
}

// Members reports how many open buses are attached to the named channel.
func (h *Hub) Members(name string) int {
	h.mu.Lock()
	ch, ok := h.channels[name]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.buses)
}

type subscription struct {
	types   map[events.EventType]struct{}
	handler events.HandlerFunc
}

func (s subscription) wants(t events.EventType) bool {
	_, ok := s.types[t]
	return ok
}

var _ events.EventBus = (*Bus)(nil)

// Bus is one node's attachment to a hub channel.
type Bus struct {
	hub  *Hub
	name string
	ch   *channel

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
	closed bool

	closeOnce sync.Once
	done      chan struct{}
}

// Publish delivers evt synchronously to every matching handler of every bus
// attached to the channel, this one included. Delivery stops at the first
// handler error, which is returned.
func (b *Bus) Publish(ctx context.Context, evt events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.isClosed() {
		return ErrBusClosed
	}

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		evt.Key = params.Key
	}
	if params.Headers != nil {
		evt.Headers = params.Headers
	}

	var wire []byte
	if b.hub.codec != nil {
		var err error
		if wire, err = b.hub.codec.Encode(evt); err != nil {
			return err
		}
	}

	b.ch.mu.RLock()
	targets := make([]*Bus, 0, len(b.ch.buses))
	for bus := range b.ch.buses {
		targets = append(targets, bus)
	}
	b.ch.mu.RUnlock()

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		delivered := evt
		if wire != nil {
			var err error
			if delivered, err = b.hub.codec.Decode(wire); err != nil {
				return err
			}
		}
		if err := target.deliver(ctx, delivered); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, evt events.EventEnvelope) error {
	b.mu.RLock()
	// Copy the handlers so none run while the lock is held.
	handlers := make([]events.HandlerFunc, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.wants(evt.Type) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers handler for eventTypes until ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	types := make(map[events.EventType]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{types: types, handler: handler}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	return nil
}

// Close detaches the bus from its channel and drops its subscriptions. It is
// safe to call more than once.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.subs = make(map[uint64]subscription)
		b.mu.Unlock()

		b.ch.mu.Lock()
		delete(b.ch.buses, b)
		b.ch.mu.Unlock()

		close(b.done)
	})
	return nil
}

func (b *Bus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
