// Package bus carries change notifications from the simulation goroutine to
// readers such as the observation API. Publishing never blocks the writer.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type names a kind of change notification.
type Type string

const (
	TypeTaskChanged    Type = "task_changed"
	TypePhaseChanged   Type = "phase_changed"
	TypeMissionStarted Type = "mission_started"
	TypeMissionEnded   Type = "mission_ended"
	TypeMemberJoined   Type = "member_joined"
	TypeMemberLeft     Type = "member_left"
	TypeReview         Type = "mission_review"
)

// AllTypes lists every event type the colony publishes.
func AllTypes() []Type {
	return []Type{
		TypeTaskChanged, TypePhaseChanged, TypeMissionStarted, TypeMissionEnded,
		TypeMemberJoined, TypeMemberLeft, TypeReview,
	}
}

// Event is the envelope delivered to subscribers and listeners.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Pulse     uint64    `json:"pulse"`
	Type      Type      `json:"type"`
	AgentID   uint64    `json:"agent_id,omitempty"`
	MissionID uint64    `json:"mission_id,omitempty"`
	Detail    string    `json:"detail"`
}

// Listener is called synchronously for every published event.
type Listener func(Event)

// Bus fans events out to buffered channel subscribers and synchronous
// listeners. A full subscriber buffer drops the event for that subscriber.
type Bus struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[Type][]chan Event
	listeners   map[uint64]Listener
	order       []uint64
	nextID      uint64
	bufferSize  int
	dropped     atomic.Uint64

	shutdownOnce sync.Once
	isShutdown   bool
}

// New creates a Bus whose subscriber channels hold bufferSize events.
func New(logger *slog.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:      logger.With("component", "bus"),
		subscribers: make(map[Type][]chan Event),
		listeners:   make(map[uint64]Listener),
		bufferSize:  bufferSize,
	}
}

// Publish stamps and delivers an event. It returns the stamped copy.
func (b *Bus) Publish(e Event) Event {
	if b == nil {
		return e
	}
	e.ID = uuid.New().String()
	e.Timestamp = time.Now().UTC()

	// Sends happen under the read lock so an unsubscribe cannot close a
	// channel mid-send; they never block.
	b.mu.RLock()
	if b.isShutdown {
		b.mu.RUnlock()
		return e
	}
	for _, ch := range b.subscribers[e.Type] {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			b.logger.Debug("subscriber buffer full, event dropped", "type", e.Type, "id", e.ID)
		}
	}
	listeners := make([]Listener, 0, len(b.listeners))
	for _, id := range b.order {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		b.notify(l, e)
	}
	return e
}

// notify runs one listener, containing any panic so the remaining
// listeners still receive the event.
func (b *Bus) notify(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panicked", "type", e.Type, "panic", fmt.Sprint(r))
		}
	}()
	l(e)
}

// Subscribe returns a channel receiving the given event types and a function
// that detaches it.
func (b *Bus) Subscribe(types ...Type) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdown {
		closed := make(chan Event)
		close(closed)
		return closed, func() {}
	}
	if len(types) == 0 {
		panic("bus: must subscribe to at least one event type")
	}

	ch := make(chan Event, b.bufferSize)
	subscribed := make([]Type, len(types))
	copy(subscribed, types)
	for _, t := range subscribed {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.isShutdown {
				return
			}
			for _, t := range subscribed {
				subs := b.subscribers[t]
				for i, c := range subs {
					if c == ch {
						b.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
				if len(b.subscribers[t]) == 0 {
					delete(b.subscribers, t)
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

// AddListener registers a synchronous listener and returns its remover.
func (b *Bus) AddListener(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.listeners[id]; !ok {
			return
		}
		delete(b.listeners, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber
// buffer was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Shutdown closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.isShutdown = true

		unique := make(map[chan Event]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		for ch := range unique {
			close(ch)
		}
		b.subscribers = make(map[Type][]chan Event)
		b.listeners = make(map[uint64]Listener)
		b.order = nil
		b.logger.Info("event bus shut down")
	})
}
