// Package messagequeue defines the port for durable event publication.
package messagequeue

import "context"

// Handler processes one message from a subject.
type Handler func(subject string, data []byte) error

// Queue is the port interface for the message queue.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject and
	// returns a stop function.
	Subscribe(ctx context.Context, subject string, handler Handler) (func(), error)

	// Close shuts down the queue connection.
	Close() error
}
