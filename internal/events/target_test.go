package events

import (
	"encoding/json"
	"testing"
)

func TestTarget_DispatchByTopic(t *testing.T) {
	tgt := NewTarget()

	var headers, models int
	tgt.Listen(TopicHeaders, func(Event) { headers++ })
	tgt.Listen(TopicModels, func(Event) { models++ })

	tgt.Dispatch(Event{Topic: TopicHeaders, Detail: json.RawMessage(`{}`)})
	tgt.Dispatch(Event{Topic: TopicHeaders, Detail: json.RawMessage(`{}`)})

	if headers != 2 {
		t.Errorf("headers listener fired %d times, want 2", headers)
	}
	if models != 0 {
		t.Errorf("models listener fired %d times, want 0", models)
	}
}

func TestTarget_MultipleListenersPerTopic(t *testing.T) {
	tgt := NewTarget()
	var a, b bool
	tgt.Listen(TopicAuthSession, func(Event) { a = true })
	tgt.Listen(TopicAuthSession, func(Event) { b = true })

	tgt.Dispatch(Event{Topic: TopicAuthSession})
	if !a || !b {
		t.Errorf("a=%v b=%v, want both true", a, b)
	}
}

func TestTarget_PanickingListenerIsIsolated(t *testing.T) {
	tgt := NewTarget()
	var after bool
	tgt.Listen(TopicHeaders, func(Event) { panic("boom") })
	tgt.Listen(TopicHeaders, func(Event) { after = true })

	tgt.Dispatch(Event{Topic: TopicHeaders})
	if !after {
		t.Error("listener after the panicking one did not run")
	}
}
