// Package bus replicates undo history changes between cooperating instances.
package bus

import (
	"context"
	"errors"
)

// Topic names one replicated history event.
type Topic string

const (
	TopicPush   Topic = "push"
	TopicPop    Topic = "pop"
	TopicLock   Topic = "lock"
	TopicUnlock Topic = "unlock"
)

// Event is one broadcast. Payload carries the encoded command for push and is
// empty otherwise. Origin identifies the publishing instance.
type Event struct {
	Topic   Topic  `json:"topic"`
	Payload []byte `json:"payload,omitempty"`
	Origin  string `json:"origin"`
}

// Handler receives events. It runs on the bus delivery goroutine and must not
// block.
type Handler func(Event)

// Bus delivers every published event to every subscriber, the publisher
// included, in publish order.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(h Handler) (unsubscribe func())
}

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus: closed")
