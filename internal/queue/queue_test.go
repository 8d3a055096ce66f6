package queue

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// settle gives the lane feeders time to pick up freshly published messages
func settle() {
	time.Sleep(30 * time.Millisecond)
}

func TestLaneFor(t *testing.T) {
	Convey("Priorities at or above the threshold go to the high lane", t, func() {
		So(LaneFor(5, 5), ShouldEqual, LaneHigh)
		So(LaneFor(9, 5), ShouldEqual, LaneHigh)
		So(LaneFor(4, 5), ShouldEqual, LaneDefault)
		So(LaneFor(0, 5), ShouldEqual, LaneDefault)
	})
}

func TestDispatcher(t *testing.T) {
	Convey("Given a dispatcher over a memory broker", t, func() {
		ctx := context.Background()
		broker := NewMemoryBroker(time.Minute)
		defer broker.Close()

		d, err := NewDispatcher(broker, 5, 4)
		So(err, ShouldBeNil)

		Convey("high priority work is pulled first", func() {
			_, err := d.Enqueue(ctx, "low", 1)
			So(err, ShouldBeNil)
			lane, err := d.Enqueue(ctx, "high", 8)
			So(err, ShouldBeNil)
			So(lane, ShouldEqual, LaneHigh)
			settle()

			del, err := d.Next(ctx)
			So(err, ShouldBeNil)
			So(del.Message().JobID, ShouldEqual, "high")
			So(del.Lane(), ShouldEqual, LaneHigh)
			So(del.Ack(), ShouldBeNil)

			del, err = d.Next(ctx)
			So(err, ShouldBeNil)
			So(del.Message().JobID, ShouldEqual, "low")
		})

		Convey("every fourth pull serves the default lane", func() {
			for _, id := range []string{"h1", "h2", "h3", "h4", "h5"} {
				d.Enqueue(ctx, id, 9)
			}
			d.Enqueue(ctx, "d1", 1)
			settle()

			var order []string
			for i := 0; i < 4; i++ {
				del, err := d.Next(ctx)
				So(err, ShouldBeNil)
				order = append(order, del.Message().JobID)
				del.Ack()
				settle()
			}
			So(order, ShouldResemble, []string{"h1", "h2", "h3", "d1"})
		})

		Convey("lanes are FIFO", func() {
			d.Enqueue(ctx, "a", 1)
			d.Enqueue(ctx, "b", 1)
			d.Enqueue(ctx, "c", 1)

			for _, want := range []string{"a", "b", "c"} {
				del, err := d.Next(ctx)
				So(err, ShouldBeNil)
				So(del.Message().JobID, ShouldEqual, want)
				del.Ack()
			}
		})

		Convey("Next honours cancellation", func() {
			cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err := d.Next(cctx)
			So(err, ShouldEqual, context.DeadlineExceeded)
		})

		Convey("depths count waiting messages", func() {
			d.Enqueue(ctx, "a", 1)
			d.Enqueue(ctx, "b", 1)
			d.Enqueue(ctx, "c", 7)
			settle()

			depths, err := d.Depths(ctx)
			So(err, ShouldBeNil)
			So(depths[LaneDefault], ShouldEqual, 2)
			So(depths[LaneHigh], ShouldEqual, 1)
		})
	})
}

func TestMemoryBrokerRedelivery(t *testing.T) {
	Convey("Given a memory broker with a short visibility timeout", t, func() {
		ctx := context.Background()
		broker := NewMemoryBroker(50 * time.Millisecond)
		defer broker.Close()

		d, _ := NewDispatcher(broker, 5, 4)
		d.Enqueue(ctx, "job-1", 1)

		del, err := d.Next(ctx)
		So(err, ShouldBeNil)

		Convey("an unacked message comes back after the timeout", func() {
			again, err := d.Next(ctx)
			So(err, ShouldBeNil)
			So(again.Message().JobID, ShouldEqual, "job-1")
			So(del.Ack(), ShouldEqual, ErrSettled)
		})

		Convey("an acked message is gone for good", func() {
			So(del.Ack(), ShouldBeNil)

			cctx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
			defer cancel()
			_, err := d.Next(cctx)
			So(err, ShouldEqual, context.DeadlineExceeded)
		})

		Convey("a requeued message is delivered again", func() {
			So(del.Nack(true), ShouldBeNil)
			again, err := d.Next(ctx)
			So(err, ShouldBeNil)
			So(again.Message().JobID, ShouldEqual, "job-1")
			again.Ack()
		})

		Convey("closing the broker ends Next", func() {
			del.Ack()
			broker.Close()
			_, err := d.Next(ctx)
			So(err, ShouldEqual, ErrClosed)
		})
	})
}
