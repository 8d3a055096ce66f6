package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"translator/internal/config"
)

func TestFailureClassification(t *testing.T) {
	Convey("Failures carry their class through wrapping", t, func() {
		base := errors.New("boom")

		So(IsPermanent(Permanent(base)), ShouldBeTrue)
		So(IsPermanent(Transient(base)), ShouldBeFalse)
		So(KindOf(base), ShouldEqual, KindTransient)
		So(IsPermanent(nil), ShouldBeFalse)

		wrapped := errors.Join(errors.New("context"), Permanent(base))
		So(IsPermanent(wrapped), ShouldBeTrue)
		So(errors.Is(wrapped, base), ShouldBeTrue)
	})

	Convey("Count mismatches are transient", t, func() {
		So(CheckCount(2, 2), ShouldBeNil)
		err := CheckCount(1, 2)
		So(errors.Is(err, ErrBatchIndexMismatch), ShouldBeTrue)
		So(KindOf(err), ShouldEqual, KindTransient)
	})
}

func TestRegistry(t *testing.T) {
	Convey("Given the default registry", t, func() {
		r, err := BuildRegistry(map[string]config.BackendConfig{
			"openai":    {BaseURL: "http://localhost"},
			"anthropic": {BaseURL: "http://localhost"},
			"gemini":    {BaseURL: "http://localhost"},
		})
		So(err, ShouldBeNil)
		defer r.Close()

		Convey("models route by prefix", func() {
			cases := map[string]string{
				"gpt-4o":           "openai",
				"text-davinci-003": "openai",
				"claude-3-5-haiku": "anthropic",
				"gemini-1.5-pro":   "gemini",
				"echo":             "echo",
				"GPT-4":            "openai",
			}
			for model, want := range cases {
				tr, err := r.Resolve(model)
				So(err, ShouldBeNil)
				So(tr.Name(), ShouldEqual, want)
			}
		})

		Convey("unknown models are a permanent failure", func() {
			_, err := r.Resolve("llama-3")
			So(errors.Is(err, ErrUnknownModel), ShouldBeTrue)
			So(IsPermanent(err), ShouldBeTrue)
		})

		Convey("all backends are listed", func() {
			So(r.Available(), ShouldResemble, []string{"anthropic", "echo", "gemini", "openai"})
		})
	})

	Convey("Unknown backend names are rejected", t, func() {
		_, err := BuildRegistry(map[string]config.BackendConfig{"mystery": {}})
		So(err, ShouldNotBeNil)
	})
}

func openAIResponse(content string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []interface{}{
			map[string]interface{}{"message": map[string]string{"content": content}},
		},
	})
	return b
}

func TestHTTPTranslator(t *testing.T) {
	Convey("Given an OpenAI-compatible backend", t, func() {
		var (
			status  = http.StatusOK
			reply   []byte
			gotAuth string
			gotBody map[string]interface{}
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &gotBody)
			w.WriteHeader(status)
			_, _ = w.Write(reply)
		}))
		defer srv.Close()

		tr := NewHTTPTranslator(FormatOpenAI, config.BackendConfig{BaseURL: srv.URL})
		defer tr.Close()
		ctx := WithLanguages(context.Background(), Languages{Source: "Tibetan", Target: "English"})

		Convey("a JSON array reply is returned in order", func() {
			reply = openAIResponse("```json\n[\"hola\", \"mundo\"]\n```")
			out, err := tr.Translate(ctx, []string{"hello", "world"}, "gpt-4o", "sk-test-credential")
			So(err, ShouldBeNil)
			So(out, ShouldResemble, []string{"hola", "mundo"})
			So(gotAuth, ShouldEqual, "Bearer sk-test-credential")
			So(gotBody["model"], ShouldEqual, "gpt-4o")
		})

		Convey("a short reply is a transient mismatch", func() {
			reply = openAIResponse(`["hola"]`)
			_, err := tr.Translate(ctx, []string{"hello", "world"}, "gpt-4o", "sk-test-credential")
			So(errors.Is(err, ErrBatchIndexMismatch), ShouldBeTrue)
			So(IsPermanent(err), ShouldBeFalse)
		})

		Convey("an unauthorized reply is permanent", func() {
			status = http.StatusUnauthorized
			reply = []byte(`{"error":{"message":"bad key"}}`)
			_, err := tr.Translate(ctx, []string{"hello"}, "gpt-4o", "sk-bad")
			So(IsPermanent(err), ShouldBeTrue)
		})

		Convey("rate limiting and server errors are transient", func() {
			for _, s := range []int{http.StatusTooManyRequests, http.StatusBadGateway} {
				status = s
				reply = []byte(`{}`)
				_, err := tr.Translate(ctx, []string{"hello"}, "gpt-4o", "sk-test-credential")
				So(err, ShouldNotBeNil)
				So(IsPermanent(err), ShouldBeFalse)
			}
		})

		Convey("a missing credential is permanent", func() {
			_, err := tr.Translate(ctx, []string{"hello"}, "gpt-4o", "")
			So(IsPermanent(err), ShouldBeTrue)
		})
	})

	Convey("Anthropic and Gemini replies are understood", t, func() {
		text, err := extractResponseText([]byte(`{"content":[{"type":"text","text":"[\"a\"]"}]}`))
		So(err, ShouldBeNil)
		So(text, ShouldEqual, `["a"]`)

		text, err = extractResponseText([]byte(`{"candidates":[{"content":{"parts":[{"text":"[\"b\"]"}]}}]}`))
		So(err, ShouldBeNil)
		So(text, ShouldEqual, `["b"]`)
	})
}

func TestEcho(t *testing.T) {
	Convey("Echo returns a copy of its input", t, func() {
		in := []string{"a", "b"}
		out, err := Echo{}.Translate(context.Background(), in, "echo", "")
		So(err, ShouldBeNil)
		So(out, ShouldResemble, in)
		out[0] = "changed"
		So(in[0], ShouldEqual, "a")
	})
}
