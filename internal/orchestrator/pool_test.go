package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"translator/internal/model"
	"translator/internal/queue"
	"translator/internal/store"
)

type harness struct {
	ctx        context.Context
	jobs       *store.MemoryJobStore
	broker     *queue.MemoryBroker
	dispatcher *queue.Dispatcher

	mu  sync.Mutex
	ran []string
}

func newHarness() *harness {
	broker := queue.NewMemoryBroker(time.Minute)
	dispatcher, _ := queue.NewDispatcher(broker, 5, 4)
	return &harness{
		ctx:        context.Background(),
		jobs:       store.NewMemoryJobStore(),
		broker:     broker,
		dispatcher: dispatcher,
	}
}

func (h *harness) submit(id string, priority int) {
	h.jobs.CreateJob(h.ctx, &model.Job{ID: id, Content: "x", Model: "echo", Priority: priority})
	h.dispatcher.Enqueue(h.ctx, id, priority)
}

func (h *harness) runs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ran...)
}

// completing records the job and marks it completed
func (h *harness) completing(delay time.Duration) JobRunner {
	return RunnerFunc(func(ctx context.Context, job *model.Job) error {
		time.Sleep(delay)
		h.mu.Lock()
		h.ran = append(h.ran, job.ID)
		h.mu.Unlock()
		_, err := h.jobs.MarkCompleted(ctx, job.ID, store.Completion{Result: "ok"})
		return err
	})
}

// countingSource counts requeues of the deliveries it hands out
type countingSource struct {
	src      Source
	requeued atomic.Int32
}

func (s *countingSource) Next(ctx context.Context) (queue.Delivery, error) {
	d, err := s.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	return &countingDelivery{Delivery: d, source: s}, nil
}

type countingDelivery struct {
	queue.Delivery
	source *countingSource
}

func (d *countingDelivery) Nack(requeue bool) error {
	if requeue {
		d.source.requeued.Add(1)
	}
	return d.Delivery.Nack(requeue)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestPool(t *testing.T) {
	Convey("Given a worker pool over a memory broker", t, func() {
		h := newHarness()
		defer h.broker.Close()

		Convey("a single worker takes the high priority job first", func() {
			h.submit("low", 1)
			h.submit("high", 8)
			time.Sleep(30 * time.Millisecond)

			pool := NewPool(h.dispatcher, h.jobs, h.completing(0), 1, time.Minute)
			pool.Start(h.ctx)
			defer pool.Stop()

			So(waitFor(func() bool { return len(h.runs()) == 2 }), ShouldBeTrue)
			So(h.runs(), ShouldResemble, []string{"high", "low"})
		})

		Convey("a redelivered job runs only once", func() {
			h.submit("job-1", 1)
			h.dispatcher.Enqueue(h.ctx, "job-1", 1)

			pool := NewPool(h.dispatcher, h.jobs, h.completing(50*time.Millisecond), 2, time.Minute)
			pool.Start(h.ctx)

			So(waitFor(func() bool {
				j, _ := h.jobs.GetJob(h.ctx, "job-1")
				return j.Status == model.StatusCompleted
			}), ShouldBeTrue)
			time.Sleep(50 * time.Millisecond)
			pool.Stop()

			So(h.runs(), ShouldResemble, []string{"job-1"})
		})

		Convey("messages for unknown jobs are dropped", func() {
			h.dispatcher.Enqueue(h.ctx, "ghost", 1)

			pool := NewPool(h.dispatcher, h.jobs, h.completing(0), 1, time.Minute)
			pool.Start(h.ctx)
			defer pool.Stop()

			So(waitFor(func() bool {
				depths, _ := h.dispatcher.Depths(h.ctx)
				return depths[queue.LaneDefault] == 0
			}), ShouldBeTrue)
			So(h.runs(), ShouldBeEmpty)
		})

		Convey("a panicking runner fails the job and the worker carries on", func() {
			h.submit("bad", 1)
			h.submit("good", 1)

			runner := RunnerFunc(func(ctx context.Context, job *model.Job) error {
				if job.ID == "bad" {
					panic("nil map")
				}
				return h.completing(0).Run(ctx, job)
			})

			pool := NewPool(h.dispatcher, h.jobs, runner, 1, time.Minute)
			pool.Start(h.ctx)
			defer pool.Stop()

			So(waitFor(func() bool { return len(h.runs()) == 1 }), ShouldBeTrue)

			bad, _ := h.jobs.GetJob(h.ctx, "bad")
			So(bad.Status, ShouldEqual, model.StatusFailed)
			So(bad.Message, ShouldContainSubstring, "internal error")
		})

		Convey("the lease is renewed while the job runs", func() {
			h.submit("long", 1)
			release := make(chan struct{})
			started := make(chan struct{})

			runner := RunnerFunc(func(ctx context.Context, job *model.Job) error {
				close(started)
				<-release
				return nil
			})

			pool := NewPool(h.dispatcher, h.jobs, runner, 1, 150*time.Millisecond)
			pool.Start(h.ctx)
			defer pool.Stop()

			<-started
			So(pool.Registry().Active(), ShouldEqual, 1)

			time.Sleep(300 * time.Millisecond)
			claimed, err := h.jobs.Claim(h.ctx, "long", "intruder", time.Minute)
			So(err, ShouldBeNil)
			So(claimed, ShouldBeFalse)

			close(release)
			So(waitFor(func() bool { return pool.Registry().Active() == 0 }), ShouldBeTrue)
		})
	
		Convey("a delivery for a job leased elsewhere is requeued well before the lease ends", func() {
			h.submit("busy", 1)
			claimed, _ := h.jobs.Claim(h.ctx, "busy", "other-process", time.Minute)
			So(claimed, ShouldBeTrue)

			source := &countingSource{src: h.dispatcher}
			pool := NewPool(source, h.jobs, h.completing(0), 2, time.Minute)
			pool.requeue = 20 * time.Millisecond
			pool.Start(h.ctx)
			defer pool.Stop()

			So(waitFor(func() bool { return source.requeued.Load() >= 1 }), ShouldBeTrue)
			So(h.runs(), ShouldBeEmpty)

			_, err := h.jobs.MarkCompleted(h.ctx, "busy", store.Completion{Result: "done elsewhere"})
			So(err, ShouldBeNil)

			time.Sleep(50 * time.Millisecond)
			settled := source.requeued.Load()
			time.Sleep(100 * time.Millisecond)
			So(source.requeued.Load(), ShouldEqual, settled)
			So(h.runs(), ShouldBeEmpty)
		})
	})
}
