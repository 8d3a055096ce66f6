package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"

	"translator/internal/config"
	"translator/internal/controller"
	"translator/internal/queue"
	"translator/internal/store"
)

type downChecker struct{}

func (downChecker) Health() error { return errors.New("connection refused") }

func TestRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	Convey("Given the API over memory stores", t, func() {
		ctx := context.Background()
		jobs := store.NewMemoryJobStore()
		partials := store.NewMemoryPartialStore()
		broker := queue.NewMemoryBroker(time.Minute)
		defer broker.Close()
		dispatcher, _ := queue.NewDispatcher(broker, 5, 4)

		jc := controller.NewJobController(jobs, partials, dispatcher, nil)
		sc := controller.NewServer(jobs, partials, broker, nil)
		handler := NewServer(config.Config{}, jc, sc).RegisterRoutes()

		do := func(method, path, body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(method, path, strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			return rec
		}

		Convey("submitting a job returns 202 with its id", func() {
			rec := do(http.MethodPost, "/jobs", `{"content":"Hello there.","model":"gpt-4o","api_key":"sk-abcdefghijkl","priority":7}`)
			So(rec.Code, ShouldEqual, http.StatusAccepted)
			So(rec.Header().Get(requestIDHeader), ShouldNotBeEmpty)

			var body map[string]string
			So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
			id := body["job_id"]
			So(id, ShouldNotBeEmpty)

			Convey("its status is pending", func() {
				rec := do(http.MethodGet, "/jobs/"+id+"/status", "")
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, `"status_type":"pending"`)
			})

			Convey("the job view never exposes the credential", func() {
				rec := do(http.MethodGet, "/jobs/"+id, "")
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldNotContainSubstring, "sk-abcdefghijkl")
			})

			Convey("its partial results are readable once written", func() {
				partials.PutPartial(ctx, id, 0, "Bonjour. ", time.Hour)
				rec := do(http.MethodGet, "/jobs/"+id+"/partials", "")
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, "Bonjour.")
			})
		})

		Convey("empty content is a bad request", func() {
			rec := do(http.MethodPost, "/jobs", `{"content":"   ","model":"gpt-4o"}`)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("malformed JSON is a bad request", func() {
			rec := do(http.MethodPost, "/jobs", `{"content":`)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("unknown jobs are 404", func() {
			So(do(http.MethodGet, "/jobs/missing/status", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(http.MethodGet, "/jobs/missing/partials", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(http.MethodGet, "/jobs/missing", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("queue stats count submitted jobs", func() {
			do(http.MethodPost, "/jobs", `{"content":"a.","model":"m"}`)
			rec := do(http.MethodGet, "/queue/stats", "")
			So(rec.Code, ShouldEqual, http.StatusOK)

			var stats controller.QueueStats
			So(json.Unmarshal(rec.Body.Bytes(), &stats), ShouldBeNil)
			So(stats.Jobs["pending"], ShouldEqual, 1)
		})

		Convey("health reports every component", func() {
			rec := do(http.MethodGet, "/health", "")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"partials"`)
		})

		Convey("an unhealthy component fails the health check", func() {
			sc := controller.NewServer(jobs, downChecker{}, broker, nil)
			handler := NewServer(config.Config{}, jc, sc).RegisterRoutes()

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(rec.Body.String(), ShouldContainSubstring, "connection refused")
		})
	})
}
