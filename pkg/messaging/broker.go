package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Message is the envelope published for cross-process signals.
type Message struct {
	Type   string `json:"type"`
	Origin string `json:"origin"`
	SentAt int64  `json:"sent_at"`
}
