package orchestrator

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestWorkerRegistry(t *testing.T) {
	Convey("Given a registry with two workers", t, func() {
		r := NewWorkerRegistry()
		r.Register("w2")
		r.Register("w1")

		Convey("workers start idle", func() {
			So(r.Active(), ShouldEqual, 0)
			_, ok := r.ActiveJobID("w1")
			So(ok, ShouldBeFalse)
		})

		Convey("active jobs are tracked per worker", func() {
			r.SetActive("w1", "job-9")
			id, ok := r.ActiveJobID("w1")
			So(ok, ShouldBeTrue)
			So(id, ShouldEqual, "job-9")
			So(r.Active(), ShouldEqual, 1)

			r.SetIdle("w1")
			So(r.Active(), ShouldEqual, 0)
		})

		Convey("snapshots are ordered by id", func() {
			snap := r.Snapshot()
			So(snap, ShouldHaveLength, 2)
			So(snap[0].ID, ShouldEqual, "w1")

			r.Unregister("w1")
			So(r.Snapshot(), ShouldHaveLength, 1)
		})
	})
}
