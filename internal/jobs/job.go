package jobs

import "time"

// Status represents the lifecycle state of a conversion job
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompressing Status = "compressing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further transitions can occur
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether an external process may be running for this status
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusCompressing
}

// Stage identifies one external-process phase of the pipeline
type Stage string

const (
	StageSynthesis   Stage = "synthesis"
	StageCompression Stage = "compression"
)

// Job is the tracked state of one conversion request
type Job struct {
	ID           string  `json:"job_id"`
	EpubName     string  `json:"epub_name"`
	EpubPath     string  `json:"epub_path"`
	Voice        string  `json:"voice"`
	Speed        float64 `json:"speed"`
	UseCuda      bool    `json:"use_cuda"`
	Compress     bool    `json:"compress"`
	OutputFolder string  `json:"output_folder"`

	Status               Status `json:"status"`
	Progress             int    `json:"progress"`
	CompressionProgress  int    `json:"compression_progress"`
	TimeRemaining        string `json:"time_remaining,omitempty"`
	TimeRemainingSeconds int    `json:"time_remaining_seconds,omitempty"`
	LastOutput           string `json:"last_output,omitempty"`
	Error                string `json:"error,omitempty"`

	Compressed           bool    `json:"compressed"`
	OriginalSize         int64   `json:"original_size,omitempty"`
	CompressedSize       int64   `json:"compressed_size,omitempty"`
	CompressionReduction float64 `json:"compression_reduction,omitempty"`
	CompressionError     string  `json:"compression_error,omitempty"`

	CleanupFilesDeleted int `json:"cleanup_files_deleted,omitempty"`

	CreatedAt time.Time  `json:"created_time"`
	StartedAt *time.Time `json:"start_time,omitempty"`
	EndedAt   *time.Time `json:"end_time,omitempty"`
}

// Clone returns a copy safe to hand out to readers
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// validTransitions enumerates the allowed status edges. Terminal
// states have no outgoing edges.
var validTransitions = map[Status][]Status{
	StatusPending:     {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning:     {StatusCompressing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompressing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:   {},
	StatusFailed:      {},
	StatusCancelled:   {},
}

// ValidTransition reports whether a status change is allowed
func ValidTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
