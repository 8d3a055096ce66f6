package controller

import (
	"context"
	"time"

	"translator/internal/metrics"
)

// Checker reports a component's health
type Checker interface {
	Health() error
}

// ArchiveChecker checks the result archive
type ArchiveChecker interface {
	TestConnection(ctx context.Context) error
}

// ComponentHealth is one line of the health report
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthReport is the aggregate health of the service
type HealthReport struct {
	Healthy    bool                       `json:"healthy"`
	Components map[string]ComponentHealth `json:"components"`
	System     metrics.System             `json:"system"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

type ServerController interface {
	Health(ctx context.Context) *HealthReport
	Online() string
}

type serverController struct {
	jobs     Checker
	partials Checker
	queue    Checker
	archive  ArchiveChecker
}

// NewServer creates a server controller. archive may be nil.
func NewServer(jobs, partials, queue Checker, archive ArchiveChecker) ServerController {
	return &serverController{
		jobs:     jobs,
		partials: partials,
		queue:    queue,
		archive:  archive,
	}
}

func (sc *serverController) Online() string {
	return "Online"
}

func (sc *serverController) Health(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Healthy:    true,
		Components: make(map[string]ComponentHealth),
		CheckedAt:  time.Now().UTC(),
	}

	record := func(name string, err error) {
		if err != nil {
			report.Healthy = false
			report.Components[name] = ComponentHealth{Status: "unhealthy", Error: err.Error()}
			return
		}
		report.Components[name] = ComponentHealth{Status: "healthy"}
	}

	record("jobs", sc.jobs.Health())
	record("partials", sc.partials.Health())
	record("queue", sc.queue.Health())

	if sc.archive != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		record("archive", sc.archive.TestConnection(ctx))
	}

	report.System = metrics.CollectSystem(ctx)
	return report
}
