package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Dispatcher publishes jobs onto lanes and pulls them back out in priority
// order. Every laneEvery-th pull prefers the default lane so a steady stream
// of high-priority work cannot starve it.
type Dispatcher struct {
	broker    Broker
	threshold int
	laneEvery int

	high <-chan Delivery
	low  <-chan Delivery

	pulls atomic.Uint64
}

// NewDispatcher subscribes to both lanes of broker
func NewDispatcher(broker Broker, threshold, laneEvery int) (*Dispatcher, error) {
	high, err := broker.Deliveries(LaneHigh)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s lane: %w", LaneHigh, err)
	}
	low, err := broker.Deliveries(LaneDefault)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s lane: %w", LaneDefault, err)
	}

	return &Dispatcher{
		broker:    broker,
		threshold: threshold,
		laneEvery: laneEvery,
		high:      high,
		low:       low,
	}, nil
}

// Enqueue publishes jobID on the lane matching priority
func (d *Dispatcher) Enqueue(ctx context.Context, jobID string, priority int) (Lane, error) {
	lane := LaneFor(priority, d.threshold)
	msg := Message{
		JobID:      jobID,
		Priority:   priority,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := d.broker.Publish(ctx, lane, msg); err != nil {
		return lane, fmt.Errorf("publishing job %s: %w", jobID, err)
	}

	log.Info().
		Str("jobId", jobID).
		Int("priority", priority).
		Str("lane", string(lane)).
		Msg("Job enqueued")

	return lane, nil
}

// Next blocks until a delivery is available on either lane, the context is
// cancelled, or the broker closes.
func (d *Dispatcher) Next(ctx context.Context) (Delivery, error) {
	first, second := d.high, d.low
	if d.laneEvery > 0 && d.pulls.Add(1)%uint64(d.laneEvery) == 0 {
		first, second = d.low, d.high
	}

	for _, ch := range []<-chan Delivery{first, second} {
		select {
		case del, ok := <-ch:
			if !ok {
				return nil, ErrClosed
			}
			return del, nil
		default:
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case del, ok := <-d.high:
		if !ok {
			return nil, ErrClosed
		}
		return del, nil
	case del, ok := <-d.low:
		if !ok {
			return nil, ErrClosed
		}
		return del, nil
	}
}

// Depths reports the waiting messages per lane
func (d *Dispatcher) Depths(ctx context.Context) (map[Lane]int, error) {
	depths := make(map[Lane]int, len(Lanes))
	for _, lane := range Lanes {
		n, err := d.broker.Depth(ctx, lane)
		if err != nil {
			return nil, fmt.Errorf("reading %s lane depth: %w", lane, err)
		}
		depths[lane] = n
	}
	return depths, nil
}
