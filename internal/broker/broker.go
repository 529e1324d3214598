// Package broker is the process-wide pub/sub bus. Subscribers register on
// glob topic patterns ("agent.*"); publish fans out to every matching
// subscriber. Delivery is best-effort, in-process and ordered per subscriber;
// a panicking subscriber is isolated from the rest.
package broker

import (
	"log/slog"
	"path"
	"sync"
	"time"
)

// Event is one published payload.
type Event struct {
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload,omitempty"`
	Sender    string      `json:"sender,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handler receives events matching a subscription's pattern.
type Handler func(Event)

const subscriberQueueSize = 256

type subscription struct {
	id      string
	pattern string
	queue   chan Event
	done    chan struct{}
}

// Broker owns no application state; it only routes events.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]*subscription
}

func New() *Broker {
	return &Broker{subs: make(map[string]*subscription)}
}

// Subscribe registers a handler on a glob topic pattern. The id must be
// unique per subscriber; re-subscribing with the same id replaces the old
// subscription. Events are delivered in publish order on a dedicated
// goroutine so a slow or panicking handler never blocks the publisher.
func (b *Broker) Subscribe(id, pattern string, h Handler) {
	sub := &subscription{
		id:      id,
		pattern: pattern,
		queue:   make(chan Event, subscriberQueueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if old, ok := b.subs[id]; ok {
		close(old.done)
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.drain(h)
}

// Unsubscribe removes a subscriber and stops its delivery goroutine.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.done)
		delete(b.subs, id)
	}
}

// Publish fans an event out to all subscribers whose pattern matches topic.
// A subscriber whose queue is full drops the event (best-effort delivery).
func (b *Broker) Publish(topic string, payload interface{}, sender string) {
	ev := Event{Topic: topic, Payload: payload, Sender: sender, Timestamp: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !matchTopic(sub.pattern, topic) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			slog.Warn("broker: subscriber queue full, dropping event", "subscriber", sub.id, "topic", topic)
		}
	}
}

// Close stops all subscriptions.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
}

func (s *subscription) drain(h Handler) {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			deliver(s.id, h, ev)
		}
	}
}

func deliver(id string, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("broker: subscriber panicked", "subscriber", id, "topic", ev.Topic, "panic", r)
		}
	}()
	h(ev)
}

// matchTopic matches dot-separated topics against glob patterns.
// "agent.*" matches "agent.started" but not "workflow.started".
func matchTopic(pattern, topic string) bool {
	if pattern == topic || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, topic)
	return err == nil && ok
}
