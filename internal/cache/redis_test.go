package cache

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"translator/internal/store"
)

func TestDecodePartials(t *testing.T) {
	Convey("Given a job hash read from Redis", t, func() {
		Convey("batch fields and the update time are decoded", func() {
			rec, err := decodePartials("job-1", map[string]string{
				"0":            "hola ",
				"3":            "mundo",
				updatedAtField: "2026-03-01T10:00:00Z",
			})
			So(err, ShouldBeNil)
			So(rec.JobID, ShouldEqual, "job-1")
			So(rec.Batches, ShouldResemble, map[int]string{0: "hola ", 3: "mundo"})
			So(rec.UpdatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)), ShouldBeTrue)
		})

		Convey("a hash without batches is not found", func() {
			_, err := decodePartials("job-1", map[string]string{updatedAtField: "2026-03-01T10:00:00Z"})
			So(err, ShouldEqual, store.ErrNotFound)
		})

		Convey("unknown fields are rejected", func() {
			_, err := decodePartials("job-1", map[string]string{"batch-x": "?"})
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Keys are namespaced by prefix", t, func() {
		s := &RedisPartialStore{prefix: "translator"}
		So(s.formatKey("abc"), ShouldEqual, "translator:partial:abc")
	})
}
