package convert

import (
	"errors"
	"fmt"

	"github.com/pingpongshow/audiblez-webui/internal/jobs"
)

var (
	// ErrInvalidInput is returned when a submission is rejected before
	// any job record is created
	ErrInvalidInput = errors.New("invalid conversion request")

	// ErrEngineStopped is returned when submitting to an engine that
	// is shutting down
	ErrEngineStopped = errors.New("engine is stopped")
)

// StageError reports an unrecoverable failure of one pipeline stage
type StageError struct {
	Stage   jobs.Stage
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s stage failed", e.Stage)
	}
	return fmt.Sprintf("%s stage failed: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
