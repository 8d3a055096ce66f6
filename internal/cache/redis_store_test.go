package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/smartystreets/goconvey/convey"

	"translator/internal/config"
	"translator/internal/store"
)

func TestRedisPartialStore(t *testing.T) {
	Convey("Given a partial store on an in-process Redis", t, func() {
		ctx := context.Background()
		mr := miniredis.RunT(t)

		s, err := NewRedisPartialStore(config.RedisConfig{Address: mr.Addr(), Prefix: "translator"})
		So(err, ShouldBeNil)
		defer s.Close()

		key := s.formatKey("job-1")

		Convey("a missing job is not found", func() {
			_, err := s.GetPartials(ctx, "job-1")
			So(err, ShouldEqual, store.ErrNotFound)
		})

		Convey("writes only add batches, never overwrite them", func() {
			So(s.PutPartial(ctx, "job-1", 0, "first", time.Hour), ShouldBeNil)
			So(s.PutPartial(ctx, "job-1", 0, "second", time.Hour), ShouldBeNil)
			So(s.PutPartial(ctx, "job-1", 2, "third", time.Hour), ShouldBeNil)

			rec, err := s.GetPartials(ctx, "job-1")
			So(err, ShouldBeNil)
			So(rec.Batches, ShouldResemble, map[int]string{0: "first", 2: "third"})
			So(rec.UpdatedAt.IsZero(), ShouldBeFalse)
		})

		Convey("retention runs from the first write", func() {
			So(s.PutPartial(ctx, "job-1", 0, "a", time.Hour), ShouldBeNil)
			mr.FastForward(40 * time.Minute)
			So(s.PutPartial(ctx, "job-1", 1, "b", time.Hour), ShouldBeNil)

			So(mr.TTL(key), ShouldBeLessThanOrEqualTo, 20*time.Minute)

			mr.FastForward(30 * time.Minute)
			_, err := s.GetPartials(ctx, "job-1")
			So(err, ShouldEqual, store.ErrNotFound)
		})

		Convey("health reflects the connection", func() {
			So(s.Health(), ShouldBeNil)
			mr.Close()
			So(s.Health(), ShouldNotBeNil)
		})
	})
}
