package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"translator/internal/model"
	"translator/internal/orchestrator"
	"translator/internal/queue"
	"translator/internal/segment"
	"translator/internal/store"
)

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(ctx context.Context, jobID string, priority int) (queue.Lane, error) {
	return "", errors.New("broker unreachable")
}

func (failingEnqueuer) Depths(ctx context.Context) (map[queue.Lane]int, error) {
	return nil, errors.New("broker unreachable")
}

func TestJobController(t *testing.T) {
	Convey("Given a job controller over memory stores", t, func() {
		ctx := context.Background()
		jobs := store.NewMemoryJobStore()
		partials := store.NewMemoryPartialStore()
		broker := queue.NewMemoryBroker(time.Minute)
		defer broker.Close()
		dispatcher, err := queue.NewDispatcher(broker, 5, 4)
		So(err, ShouldBeNil)

		workers := orchestrator.NewWorkerRegistry()
		workers.Register("w1")
		workers.Register("w2")
		workers.SetActive("w1", "some-job")

		c := NewJobController(jobs, partials, dispatcher, workers)

		Convey("empty content is rejected and nothing is queued", func() {
			_, err := c.Submit(ctx, SubmitRequest{Content: "  \n\t", Model: "gpt-4o"})
			So(errors.Is(err, segment.ErrEmptyContent), ShouldBeTrue)

			depths, _ := dispatcher.Depths(ctx)
			So(depths[queue.LaneDefault]+depths[queue.LaneHigh], ShouldEqual, 0)
			counts, _ := jobs.CountByStatus(ctx)
			So(counts[model.StatusPending], ShouldEqual, 0)
		})

		Convey("a missing model is rejected", func() {
			_, err := c.Submit(ctx, SubmitRequest{Content: "Hello."})
			So(err, ShouldEqual, ErrModelRequired)
		})

		Convey("a submitted job is pending and queued on its lane", func() {
			job, err := c.Submit(ctx, SubmitRequest{
				Content:  "Hello.",
				Model:    "gpt-4o",
				Priority: 9,
				Metadata: map[string]interface{}{"webhook": "http://hooks.local/done"},
			})
			So(err, ShouldBeNil)
			So(job.ID, ShouldNotBeEmpty)
			So(job.WebhookURL, ShouldEqual, "http://hooks.local/done")

			status, err := c.GetStatus(ctx, job.ID)
			So(err, ShouldBeNil)
			So(status.StatusType, ShouldEqual, model.StatusPending)
			So(status.Progress, ShouldEqual, 0)

			So(waitForDepth(ctx, dispatcher, queue.LaneHigh, 1), ShouldBeTrue)
		})

		Convey("an enqueue failure marks the job failed", func() {
			c := NewJobController(jobs, partials, failingEnqueuer{}, nil)
			_, err := c.Submit(ctx, SubmitRequest{Content: "Hello.", Model: "gpt-4o"})
			So(err, ShouldNotBeNil)

			counts, _ := jobs.CountByStatus(ctx)
			So(counts[model.StatusFailed], ShouldEqual, 1)
		})

		Convey("unknown ids are not found", func() {
			_, err := c.GetStatus(ctx, "nope")
			So(errors.Is(err, store.ErrNotFound), ShouldBeTrue)
			_, err = c.GetPartialResults(ctx, "nope")
			So(errors.Is(err, store.ErrNotFound), ShouldBeTrue)
			_, err = c.GetJob(ctx, "nope")
			So(errors.Is(err, store.ErrNotFound), ShouldBeTrue)
		})

		Convey("partial results are readable while the job runs", func() {
			job, _ := c.Submit(ctx, SubmitRequest{Content: "One. Two.", Model: "gpt-4o"})
			So(partials.PutPartial(ctx, job.ID, 1, "DEUX. ", time.Hour), ShouldBeNil)

			rec, err := c.GetPartialResults(ctx, job.ID)
			So(err, ShouldBeNil)
			So(rec.Batches, ShouldResemble, map[int]string{1: "DEUX. "})
		})

		Convey("stats count jobs, lanes and workers", func() {
			c.Submit(ctx, SubmitRequest{Content: "a.", Model: "m", Priority: 1})
			c.Submit(ctx, SubmitRequest{Content: "b.", Model: "m", Priority: 1})

			stats, err := c.QueueStats(ctx)
			So(err, ShouldBeNil)
			So(stats.Jobs[model.StatusPending], ShouldEqual, 2)
			So(stats.Workers, ShouldEqual, 2)
			So(stats.ActiveWorkers, ShouldEqual, 1)
			So(stats.System.CPUs, ShouldBeGreaterThan, 0)
		})
	})
}

func waitForDepth(ctx context.Context, d *queue.Dispatcher, lane queue.Lane, want int) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		depths, err := d.Depths(ctx)
		if err == nil && depths[lane] == want {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
