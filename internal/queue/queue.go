// Package queue routes job identifiers onto priority lanes and hands them to
// workers through a pluggable broker.
package queue

import (
	"context"
	"errors"
	"time"
)

// Lane is a priority partition of the work queue
type Lane string

const (
	LaneHigh    Lane = "high"
	LaneDefault Lane = "default"
)

// Lanes lists every lane, highest priority first
var Lanes = []Lane{LaneHigh, LaneDefault}

var (
	// ErrClosed is returned once the broker has shut down
	ErrClosed = errors.New("queue closed")

	// ErrSettled is returned when a delivery was already acked, nacked or expired
	ErrSettled = errors.New("delivery already settled")
)

// LaneFor picks the lane for a job priority
func LaneFor(priority, threshold int) Lane {
	if priority >= threshold {
		return LaneHigh
	}
	return LaneDefault
}

// Message is the queue payload. The job itself lives in the job store.
type Message struct {
	JobID      string    `json:"job_id"`
	Priority   int       `json:"priority"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is a received message. Exactly one of Ack or Nack settles it; an
// unsettled delivery is redelivered after the broker's visibility timeout.
type Delivery interface {
	Message() Message
	Lane() Lane
	Ack() error
	Nack(requeue bool) error
}

// Broker is a durable at-least-once queue with one FIFO per lane
type Broker interface {
	Publish(ctx context.Context, lane Lane, msg Message) error

	// Deliveries returns the lane's delivery channel. It is closed when the
	// broker closes.
	Deliveries(lane Lane) (<-chan Delivery, error)

	// Depth counts messages waiting on the lane, excluding unacked ones
	Depth(ctx context.Context, lane Lane) (int, error)

	Health() error
	Close() error
}
