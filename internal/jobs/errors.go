package jobs

import "errors"

var (
	// ErrNotFound is returned when a job id is not in the store
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned when an operation is not allowed in the
	// job's current state (deleting an active job, cancelling a
	// terminal one)
	ErrConflict = errors.New("operation conflicts with job state")

	// ErrDuplicateID is returned when adding a job whose id already exists
	ErrDuplicateID = errors.New("job id already exists")
)

// TransitionError reports a rejected status change
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return "invalid transition from " + string(e.From) + " to " + string(e.To)
}
