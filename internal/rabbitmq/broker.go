package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"translator/internal/config"
	"translator/internal/queue"
)

// Broker is a queue.Broker over a durable direct exchange with one queue per
// lane. Unacked deliveries return to their queue when the consumer's channel
// closes or the per-queue consumer timeout elapses.
type Broker struct {
	client     Client
	exchange   string
	prefix     string
	prefetch   int
	visibility time.Duration

	mu        sync.Mutex
	consumers map[queue.Lane]chan queue.Delivery
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBroker declares the exchange and lane queues on client
func NewBroker(client Client, cfg config.RabbitMQConfig, visibility time.Duration) (*Broker, error) {
	b := &Broker{
		client:     client,
		exchange:   cfg.ExchangeName,
		prefix:     cfg.QueuePrefix,
		prefetch:   cfg.PrefetchCount,
		visibility: visibility,
		consumers:  make(map[queue.Lane]chan queue.Delivery),
		shutdown:   make(chan struct{}),
	}

	if err := b.setup(); err != nil {
		return nil, err
	}
	return b, nil
}

// ConsumerPrefetch returns the prefetch each lane consumer needs so that a
// pool of workers can hold that many jobs from one lane at once. Workers keep
// their delivery unacked until the job ends.
func ConsumerPrefetch(configured, workers int) int {
	if workers > configured {
		return workers
	}
	return configured
}

// QueueName returns the queue backing lane
func (b *Broker) QueueName(lane queue.Lane) string {
	return b.prefix + "." + string(lane)
}

func (b *Broker) setup() error {
	if b.prefetch > 0 {
		if err := b.client.SetPrefetch(b.prefetch); err != nil {
			return err
		}
	}

	if err := b.client.DeclareExchange(b.exchange, "direct"); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	args := amqp.Table{}
	if b.visibility > 0 {
		args["x-consumer-timeout"] = b.visibility.Milliseconds()
	}

	for _, lane := range queue.Lanes {
		name := b.QueueName(lane)
		if _, err := b.client.DeclareQueue(name, args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		if err := b.client.BindQueue(name, b.exchange, string(lane)); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", name, err)
		}
	}
	return nil
}

func (b *Broker) Publish(ctx context.Context, lane queue.Lane, msg queue.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := amqp.Table{
		"job_id":   msg.JobID,
		"priority": int32(msg.Priority),
	}

	if err := b.client.Publish(ctx, b.exchange, string(lane), body, headers); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Deliveries starts a consumer for lane on first use
func (b *Broker) Deliveries(lane queue.Lane) (<-chan queue.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.shutdown:
		return nil, queue.ErrClosed
	default:
	}

	if out, ok := b.consumers[lane]; ok {
		return out, nil
	}

	out := make(chan queue.Delivery)
	b.consumers[lane] = out

	tag := fmt.Sprintf("%s-%s-%s", b.prefix, lane, uuid.NewString()[:8])
	b.startConsumer(lane, tag, out)

	return out, nil
}

// startConsumer re-subscribes whenever the delivery channel closes
func (b *Broker) startConsumer(lane queue.Lane, consumerTag string, out chan queue.Delivery) {
	queueName := b.QueueName(lane)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)

		log.Info().
			Str("queue", queueName).
			Str("consumerTag", consumerTag).
			Msg("Starting lane consumer")

		for {
			select {
			case <-b.shutdown:
				log.Info().
					Str("consumerTag", consumerTag).
					Msg("Shutdown signal received, stopping consumer")
				return
			default:
			}

			deliveries, err := b.client.Consume(queueName, consumerTag)
			if err != nil {
				log.Error().
					Err(err).
					Str("queue", queueName).
					Str("consumerTag", consumerTag).
					Msg("Failed to consume from queue")

				if !b.sleep(5 * time.Second) {
					return
				}
				continue
			}

			if !b.forward(lane, deliveries, out) {
				return
			}

			log.Warn().
				Str("queue", queueName).
				Str("consumerTag", consumerTag).
				Msg("Consumer channel closed, reconnecting...")

			if !b.sleep(5 * time.Second) {
				return
			}
		}
	}()
}

// forward relays deliveries until the AMQP channel closes. It returns false
// on shutdown.
func (b *Broker) forward(lane queue.Lane, deliveries <-chan amqp.Delivery, out chan<- queue.Delivery) bool {
	for {
		select {
		case <-b.shutdown:
			return false
		case raw, ok := <-deliveries:
			if !ok {
				return true
			}

			var msg queue.Message
			if err := json.Unmarshal(raw.Body, &msg); err != nil || msg.JobID == "" {
				log.Error().Err(err).Str("lane", string(lane)).Msg("Malformed queue message, rejecting")
				raw.Nack(false, false)
				continue
			}

			d := &delivery{raw: raw, msg: msg, lane: lane}
			select {
			case out <- d:
			case <-b.shutdown:
				raw.Nack(false, true)
				return false
			}
		}
	}
}

func (b *Broker) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-b.shutdown:
		return false
	}
}

func (b *Broker) Depth(ctx context.Context, lane queue.Lane) (int, error) {
	q, err := b.client.InspectQueue(b.QueueName(lane))
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return q.Messages, nil
}

func (b *Broker) Health() error {
	return b.client.Health()
}

// Close stops the consumers. The underlying client is closed by its owner.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		close(b.shutdown)
	})
	b.wg.Wait()
	return nil
}

type delivery struct {
	raw  amqp.Delivery
	msg  queue.Message
	lane queue.Lane
}

func (d *delivery) Message() queue.Message {
	return d.msg
}

func (d *delivery) Lane() queue.Lane {
	return d.lane
}

func (d *delivery) Ack() error {
	return d.raw.Ack(false)
}

func (d *delivery) Nack(requeue bool) error {
	return d.raw.Nack(false, requeue)
}
