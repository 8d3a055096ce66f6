package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"translator/internal/adapter"
)

func newTestController(policy Policy) (*Controller, *[]time.Duration) {
	c := New(policy)
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return c, &slept
}

func TestBackoff(t *testing.T) {
	Convey("Backoff doubles, clamps at the ceiling and adds bounded jitter", t, func() {
		c := New(Policy{MaxAttempts: 5, Base: 100 * time.Millisecond, Ceiling: 500 * time.Millisecond})

		for i := 0; i < 50; i++ {
			d0 := c.Backoff(0)
			So(d0, ShouldBeBetweenOrEqual, 100*time.Millisecond, 150*time.Millisecond)

			d2 := c.Backoff(2)
			So(d2, ShouldBeBetweenOrEqual, 400*time.Millisecond, 600*time.Millisecond)

			d9 := c.Backoff(9)
			So(d9, ShouldBeBetweenOrEqual, 500*time.Millisecond, 750*time.Millisecond)
		}
	})
}

func TestDo(t *testing.T) {
	Convey("Given a controller allowing five attempts", t, func() {
		c, slept := newTestController(Policy{MaxAttempts: 5, Base: time.Millisecond, Ceiling: 10 * time.Millisecond})
		ctx := context.Background()

		Convey("a transient failure is retried exactly MaxAttempts times", func() {
			calls := 0
			attempts, err := c.Do(ctx, nil, func(ctx context.Context, attempt int) error {
				So(attempt, ShouldEqual, calls)
				calls++
				return adapter.Transient(errors.New("timeout"))
			})

			So(calls, ShouldEqual, 5)
			So(attempts, ShouldEqual, 5)
			So(*slept, ShouldHaveLength, 4)

			var bf *BatchFailure
			So(errors.As(err, &bf), ShouldBeTrue)
			So(bf.Attempts, ShouldEqual, 5)
		})

		Convey("a permanent failure is not retried", func() {
			calls := 0
			attempts, err := c.Do(ctx, nil, func(ctx context.Context, attempt int) error {
				calls++
				return adapter.Permanent(errors.New("bad credential"))
			})

			So(calls, ShouldEqual, 1)
			So(attempts, ShouldEqual, 1)
			So(*slept, ShouldBeEmpty)
			So(adapter.IsPermanent(err), ShouldBeTrue)
		})

		Convey("success after a transient failure stops retrying", func() {
			calls := 0
			attempts, err := c.Do(ctx, nil, func(ctx context.Context, attempt int) error {
				calls++
				if calls < 3 {
					return adapter.Transient(errors.New("429"))
				}
				return nil
			})

			So(err, ShouldBeNil)
			So(attempts, ShouldEqual, 3)
		})

		Convey("abort stops further attempts", func() {
			calls := 0
			_, err := c.Do(ctx, func() bool { return calls >= 2 }, func(ctx context.Context, attempt int) error {
				calls++
				return adapter.Transient(errors.New("timeout"))
			})

			So(calls, ShouldEqual, 2)
			So(errors.Is(err, ErrAborted), ShouldBeTrue)
		})

		Convey("a cancelled context ends the wait", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			calls := 0
			_, err := c.Do(cctx, nil, func(ctx context.Context, attempt int) error {
				calls++
				return adapter.Transient(errors.New("timeout"))
			})

			So(calls, ShouldEqual, 1)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}
