package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pingpongshow/audiblez-webui/internal/jobs"
)

const eventJobFinished = "job.finished"

// Event wraps a job snapshot for the message bus
type Event struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Job       *jobs.Job `json:"job"`
}

// Publisher emits job lifecycle events to the exchange. Broker
// trouble never blocks or fails a job; undeliverable events are
// logged and dropped.
type Publisher struct {
	client  *Client
	logger  *slog.Logger
	timeout time.Duration
}

func NewPublisher(client *Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:  client,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// JobFinished publishes a terminal job snapshot
func (p *Publisher) JobFinished(job *jobs.Job) {
	event := Event{
		Event:     eventJobFinished,
		Timestamp: time.Now(),
		Job:       job,
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode job event",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		p.logger.Error("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	p.logger.Debug("Job event published",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
}
