package aws

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestResultLocation(t *testing.T) {
	Convey("Results are stored under results/<job id>.txt", t, func() {
		So(ResultKey("abc-123"), ShouldEqual, "results/abc-123.txt")
		So(ObjectURL("bucket", "eu-west-1", ResultKey("abc-123")), ShouldEqual,
			"https://bucket.s3.eu-west-1.amazonaws.com/results/abc-123.txt")
	})
}
