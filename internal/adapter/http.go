package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"translator/internal/config"
)

// Format is the request/response dialect of an HTTP backend
type Format string

const (
	FormatOpenAI    Format = "openai"
	FormatAnthropic Format = "anthropic"
	FormatGemini    Format = "gemini"
)

var defaultBaseURLs = map[Format]string{
	FormatOpenAI:    "https://api.openai.com/v1",
	FormatAnthropic: "https://api.anthropic.com/v1",
	FormatGemini:    "https://generativelanguage.googleapis.com",
}

// HTTPTranslator calls a hosted model API, one request per batch
type HTTPTranslator struct {
	format     Format
	baseURL    string
	httpClient *http.Client

	requestTicker *time.Ticker
	requestChan   chan struct{}
	done          chan struct{}
}

// NewHTTPTranslator creates a translator for format. When
// RequestsPerMinute is set, requests are paced by a token ticker.
func NewHTTPTranslator(format Format, cfg config.BackendConfig) *HTTPTranslator {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURLs[format]
	}

	timeout := 60 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	t := &HTTPTranslator{
		format:     format,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		done:       make(chan struct{}),
	}

	if cfg.RequestsPerMinute > 0 {
		interval := time.Minute / time.Duration(cfg.RequestsPerMinute)
		t.requestTicker = time.NewTicker(interval)
		t.requestChan = make(chan struct{}, 1)
		t.requestChan <- struct{}{}

		go func() {
			for {
				select {
				case <-t.done:
					return
				case <-t.requestTicker.C:
					select {
					case t.requestChan <- struct{}{}:
					default:
					}
				}
			}
		}()
	}

	log.Info().
		Str("translator", string(format)).
		Str("base_url", baseURL).
		Int("requests_per_minute", cfg.RequestsPerMinute).
		Dur("timeout", timeout).
		Msg("Initialized HTTP translator")

	return t
}

func (t *HTTPTranslator) Name() string {
	return string(t.format)
}

// Close stops the rate limiter
func (t *HTTPTranslator) Close() {
	if t.requestTicker != nil {
		t.requestTicker.Stop()
	}
	close(t.done)
}

func (t *HTTPTranslator) wait(ctx context.Context) error {
	if t.requestChan == nil {
		return nil
	}
	select {
	case <-t.requestChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Translate sends batch as a JSON array and expects a JSON array back
func (t *HTTPTranslator) Translate(ctx context.Context, batch []string, model, credential string) ([]string, error) {
	if credential == "" {
		return nil, Permanent(errors.New("missing credential"))
	}

	if err := t.wait(ctx); err != nil {
		return nil, Transient(err)
	}

	systemPrompt := buildSystemPrompt(LanguagesFrom(ctx), len(batch))
	userPrompt, err := json.Marshal(batch)
	if err != nil {
		return nil, Permanent(fmt.Errorf("encoding batch: %w", err))
	}

	endpoint, headers, body, err := t.buildRequest(model, credential, systemPrompt, string(userPrompt))
	if err != nil {
		return nil, Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("creating request: %w", err))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("reading response: %w", err))
	}

	log.Debug().
		Str("translator", t.Name()).
		Str("model", model).
		Int("status", resp.StatusCode).
		Int("segments", len(batch)).
		Dur("duration", time.Since(start)).
		Msg("Translation request finished")

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	text, err := extractResponseText(respBody)
	if err != nil {
		return nil, Transient(err)
	}

	translations, err := parseTranslations(text)
	if err != nil {
		return nil, Transient(err)
	}

	if err := CheckCount(len(translations), len(batch)); err != nil {
		return nil, err
	}

	return translations, nil
}

// classifyStatus maps an HTTP status to a failure class
func classifyStatus(status int, body []byte) error {
	if status == http.StatusOK {
		return nil
	}

	err := fmt.Errorf("backend returned status %d: %s", status, truncate(string(body), 300))

	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return Transient(err)
	default:
		return Permanent(err)
	}
}

func (t *HTTPTranslator) buildRequest(model, credential, systemPrompt, userPrompt string) (string, map[string]string, []byte, error) {
	headers := map[string]string{
		"Content-Type": "application/json",
	}

	var (
		endpoint string
		body     []byte
		err      error
	)

	switch t.format {
	case FormatGemini:
		endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent", t.baseURL, model)
		headers["x-goog-api-key"] = credential
		body, err = buildGeminiRequest(systemPrompt, userPrompt)

	case FormatAnthropic:
		endpoint = t.baseURL + "/messages"
		headers["x-api-key"] = credential
		headers["anthropic-version"] = "2023-06-01"
		body, err = buildAnthropicRequest(model, systemPrompt, userPrompt)

	default:
		endpoint = t.baseURL + "/chat/completions"
		headers["Authorization"] = "Bearer " + credential
		body, err = buildOpenAIChatRequest(model, systemPrompt, userPrompt)
	}

	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}
