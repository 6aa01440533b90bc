// Package events is a minimal in-process pub/sub target shared between the
// page-realm interceptor and the content-script bridge. It mirrors the DOM
// event model the two sides communicate through: named topics, an opaque
// detail payload, at-most-once fan-out, and no backpressure: emitting never
// blocks and never fails.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Topic names one interceptor observation kind.
type Topic string

const (
	TopicHeaders           Topic = "chatrelay:headers"
	TopicAuthSession       Topic = "chatrelay:auth-session"
	TopicAccountCheck      Topic = "chatrelay:account-check"
	TopicConversationLimit Topic = "chatrelay:conversation-limit"
	TopicModels            Topic = "chatrelay:models"
)

// Event carries one observation. Detail is structured-clone compatible
// (already serialized), so listeners across realms cannot share memory
// through it.
type Event struct {
	Topic  Topic
	Detail json.RawMessage
}

// Listener receives events for a single topic. Listeners must not block.
type Listener func(Event)

// Target dispatches events to per-topic listeners.
type Target struct {
	mu        sync.RWMutex
	listeners map[Topic][]Listener
}

func NewTarget() *Target {
	return &Target{listeners: make(map[Topic][]Listener)}
}

// Listen registers l for topic. There is no removal; listeners live as long
// as the target, matching the page-lifetime registration they model.
func (t *Target) Listen(topic Topic, l Listener) {
	t.mu.Lock()
	t.listeners[topic] = append(t.listeners[topic], l)
	t.mu.Unlock()
}

// Dispatch delivers ev to every listener of its topic. A panicking listener
// is logged and skipped; the emitter is never affected.
func (t *Target) Dispatch(ev Event) {
	t.mu.RLock()
	ls := t.listeners[ev.Topic]
	t.mu.RUnlock()
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event listener panicked", "topic", ev.Topic, "panic", r)
				}
			}()
			l(ev)
		}()
	}
}
