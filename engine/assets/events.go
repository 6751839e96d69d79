package assets

import (
	"github.com/spaghettifunk/anima-rt/engine/containers"
)

type Kind uint8

const (
	KindNone Kind = iota
	KindTexture
	KindMesh
	KindShader
	KindRayTracingPipeline
	KindScene
)

func (k Kind) String() string {
	switch k {
	case KindTexture:
		return "texture"
	case KindMesh:
		return "mesh"
	case KindShader:
		return "shader"
	case KindRayTracingPipeline:
		return "ray tracing pipeline"
	case KindScene:
		return "scene"
	}
	return "none"
}

type EventType uint8

const (
	EventCreated EventType = iota
	EventModified
	EventRemoved
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

type Event struct {
	Type   EventType
	Kind   Kind
	Handle Handle
}

/**
 * @brief The change stream of one asset kind. Events are queued from the
 * moment of subscription until drained; every subscriber sees every event.
 */
type Subscription struct {
	kind  Kind
	queue *containers.UnboundedQueue[Event]
}

func newSubscription(kind Kind) *Subscription {
	return &Subscription{kind: kind, queue: containers.NewUnboundedQueue[Event]()}
}

func (s *Subscription) Kind() Kind {
	return s.kind
}

// Drain returns the queued events in the order they happened.
func (s *Subscription) Drain() []Event {
	var events []Event
	for {
		e, ok := s.queue.TryPop()
		if !ok {
			return events
		}
		events = append(events, e)
	}
}

func (s *Subscription) Len() int {
	return s.queue.Len()
}

func (s *Subscription) send(e Event) {
	// closed subscriptions drop events
	_ = s.queue.Push(e)
}

func (s *Subscription) close() {
	s.queue.Close()
}
