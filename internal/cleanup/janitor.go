package cleanup

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Janitor runs the cleanup sweep on a cron schedule
type Janitor struct {
	c      *cron.Cron
	svc    *Service
	logger *slog.Logger
}

// NewJanitor schedules a recurring sweep. The schedule is a standard
// five-field cron expression and is validated here, at startup.
func NewJanitor(svc *Service, schedule string, logger *slog.Logger) (*Janitor, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))

	j := &Janitor{c: c, svc: svc, logger: logger}

	if _, err := c.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	return j, nil
}

func (j *Janitor) sweep() {
	result, err := j.svc.All()
	if err != nil {
		j.logger.Error("Scheduled cleanup sweep failed",
			slog.Any("error", err),
		)
		return
	}

	j.logger.Info("Scheduled cleanup sweep finished",
		slog.Int("files_deleted", result.FilesDeleted),
	)
}

// Start begins running the schedule in the background
func (j *Janitor) Start() {
	j.c.Start()
	j.logger.Info("Cleanup janitor started")
}

// Stop halts the schedule and waits for a running sweep to finish
func (j *Janitor) Stop() {
	ctx := j.c.Stop()
	<-ctx.Done()
	j.logger.Info("Cleanup janitor stopped")
}
