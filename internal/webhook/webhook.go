// Package webhook notifies callers when their job reaches a terminal state.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"translator/internal/model"
)

// Payload is the body POSTed to a job's webhook URL
type Payload struct {
	MessageID      string                 `json:"message_id"`
	Status         model.JobStatus        `json:"status"`
	Progress       float64                `json:"progress"`
	TranslatedText string                 `json:"translated_text,omitempty"`
	ModelUsed      string                 `json:"model_used"`
	Message        string                 `json:"message,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// PayloadFor builds the notification for job
func PayloadFor(job *model.Job) Payload {
	return Payload{
		MessageID:      job.ID,
		Status:         job.Status,
		Progress:       job.Progress,
		TranslatedText: job.Result,
		ModelUsed:      job.Model,
		Message:        job.Message,
		CompletedAt:    job.CompletedAt,
		Metadata:       job.Metadata,
	}
}

// Notifier posts job outcomes. Delivery is best effort.
type Notifier struct {
	client *http.Client
}

// NewNotifier creates a notifier whose requests time out after timeout
func NewNotifier(timeout time.Duration) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: timeout},
	}
}

// Notify posts the job's outcome to its webhook URL, if any
func (n *Notifier) Notify(ctx context.Context, job *model.Job) error {
	if job.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(PayloadFor(job))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("jobId", job.ID).Msg("Webhook delivery failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Warn().
			Str("jobId", job.ID).
			Int("status", resp.StatusCode).
			Msg("Webhook rejected notification")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Info().Str("jobId", job.ID).Str("status", string(job.Status)).Msg("Webhook delivered")
	return nil
}
