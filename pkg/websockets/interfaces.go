package websockets

import (
	"context"
)

// ConnectionManager tracks connected clients.
type ConnectionManager interface {
	AddConnection(ctx context.Context, connectionID string) error
	RemoveConnection(ctx context.Context, connectionID string) error
}

// Publisher pushes messages to connected clients.
type Publisher interface {
	Publish(ctx context.Context, message Message) error
}

// NoOpPublisher drops every message.
type NoOpPublisher struct{}

func (p *NoOpPublisher) Publish(ctx context.Context, message Message) error {
	return nil
}
