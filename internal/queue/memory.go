package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type memoryLane struct {
	name Lane

	mu      sync.Mutex
	ready   []Message
	holding int // popped by the feeder, not yet received

	signal chan struct{}
	out    chan Delivery
}

func (l *memoryLane) push(msg Message, front bool) {
	l.mu.Lock()
	if front {
		l.ready = append([]Message{msg}, l.ready...)
	} else {
		l.ready = append(l.ready, msg)
	}
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// MemoryBroker is an in-process Broker. Received messages stay invisible
// until acked, nacked or the visibility timeout elapses.
type MemoryBroker struct {
	lanes      map[Lane]*memoryLane
	visibility time.Duration

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMemoryBroker creates a broker and starts one feeder per lane
func NewMemoryBroker(visibility time.Duration) *MemoryBroker {
	b := &MemoryBroker{
		lanes:      make(map[Lane]*memoryLane, len(Lanes)),
		visibility: visibility,
		done:       make(chan struct{}),
	}

	for _, lane := range Lanes {
		l := &memoryLane{
			name:   lane,
			signal: make(chan struct{}, 1),
			out:    make(chan Delivery),
		}
		b.lanes[lane] = l

		b.wg.Add(1)
		go b.feed(l)
	}

	return b
}

func (b *MemoryBroker) feed(l *memoryLane) {
	defer b.wg.Done()
	defer close(l.out)

	for {
		l.mu.Lock()
		if len(l.ready) == 0 {
			l.mu.Unlock()
			select {
			case <-l.signal:
				continue
			case <-b.done:
				return
			}
		}
		msg := l.ready[0]
		l.ready = l.ready[1:]
		l.holding++
		l.mu.Unlock()

		d := &memoryDelivery{broker: b, lane: l, msg: msg}

		select {
		case l.out <- d:
			l.mu.Lock()
			l.holding--
			l.mu.Unlock()
			d.arm(b.visibility)
		case <-b.done:
			return
		}
	}
}

func (b *MemoryBroker) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, lane Lane, msg Message) error {
	if b.closed() {
		return ErrClosed
	}
	l, ok := b.lanes[lane]
	if !ok {
		l = b.lanes[LaneDefault]
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	l.push(msg, false)

	log.Debug().Str("jobId", msg.JobID).Str("lane", string(lane)).Msg("Published message")
	return nil
}

func (b *MemoryBroker) Deliveries(lane Lane) (<-chan Delivery, error) {
	l, ok := b.lanes[lane]
	if !ok {
		return nil, ErrClosed
	}
	return l.out, nil
}

func (b *MemoryBroker) Depth(ctx context.Context, lane Lane) (int, error) {
	l, ok := b.lanes[lane]
	if !ok {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ready) + l.holding, nil
}

func (b *MemoryBroker) Health() error {
	if b.closed() {
		return ErrClosed
	}
	return nil
}

// Close stops the feeders and closes every delivery channel
func (b *MemoryBroker) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
	return nil
}

type memoryDelivery struct {
	broker *MemoryBroker
	lane   *memoryLane
	msg    Message

	mu      sync.Mutex
	settled bool
	timer   *time.Timer
}

func (d *memoryDelivery) Message() Message {
	return d.msg
}

func (d *memoryDelivery) Lane() Lane {
	return d.lane.name
}

// arm starts the visibility timeout once the message has been received
func (d *memoryDelivery) arm(visibility time.Duration) {
	if visibility <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return
	}
	d.timer = time.AfterFunc(visibility, d.expire)
}

func (d *memoryDelivery) expire() {
	d.mu.Lock()
	if d.settled {
		d.mu.Unlock()
		return
	}
	d.settled = true
	d.mu.Unlock()

	if d.broker.closed() {
		return
	}
	log.Warn().
		Str("jobId", d.msg.JobID).
		Str("lane", string(d.lane.name)).
		Msg("Visibility timeout elapsed, redelivering message")
	d.lane.push(d.msg, true)
}

func (d *memoryDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrSettled
	}
	d.settled = true
	if d.timer != nil {
		d.timer.Stop()
	}
	return nil
}

func (d *memoryDelivery) Ack() error {
	return d.settle()
}

func (d *memoryDelivery) Nack(requeue bool) error {
	if err := d.settle(); err != nil {
		return err
	}
	if requeue && !d.broker.closed() {
		d.lane.push(d.msg, true)
	}
	return nil
}
