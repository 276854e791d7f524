package eventlog

import (
	"context"
	"time"
)

// Delivery is one stream entry handed to a consumer. ID is the ack token.
type Delivery struct {
	ID   string
	Data []byte
}

// Stream is an ordered log shared by a consumer group. Each entry is
// delivered to one consumer and stays pending until acked.
type Stream interface {
	Publish(ctx context.Context, data []byte) (string, error)
	Read(ctx context.Context, consumer string, count int, block time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, id string) error
	// Nack makes the entry deliverable again right away.
	Nack(ctx context.Context, d Delivery) error
	// Reclaim takes over entries another consumer left pending for minIdle.
	Reclaim(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]Delivery, error)
}
