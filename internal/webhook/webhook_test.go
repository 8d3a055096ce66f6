package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"translator/internal/model"
)

func TestNotifier(t *testing.T) {
	Convey("Given a webhook receiver", t, func() {
		received := make(chan Payload, 1)
		status := http.StatusOK

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var p Payload
			json.NewDecoder(r.Body).Decode(&p)
			received <- p
			w.WriteHeader(status)
		}))
		defer srv.Close()

		now := time.Now().UTC()
		job := &model.Job{
			ID:          "job-1",
			Model:       "gpt-4o",
			Status:      model.StatusCompleted,
			Progress:    100,
			Result:      "hola",
			WebhookURL:  srv.URL,
			CompletedAt: &now,
			Metadata:    map[string]interface{}{"target_language": "es"},
		}
		n := NewNotifier(time.Second)

		Convey("the job outcome is posted", func() {
			So(n.Notify(context.Background(), job), ShouldBeNil)

			p := <-received
			So(p.MessageID, ShouldEqual, "job-1")
			So(p.Status, ShouldEqual, model.StatusCompleted)
			So(p.TranslatedText, ShouldEqual, "hola")
			So(p.ModelUsed, ShouldEqual, "gpt-4o")
			So(p.Metadata["target_language"], ShouldEqual, "es")
		})

		Convey("a non-2xx answer is reported", func() {
			status = http.StatusBadGateway
			So(n.Notify(context.Background(), job), ShouldNotBeNil)
		})

		Convey("jobs without a webhook are skipped", func() {
			job.WebhookURL = ""
			So(n.Notify(context.Background(), job), ShouldBeNil)
			So(received, ShouldBeEmpty)
		})
	})
}
