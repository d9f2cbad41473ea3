package jobs

import (
	"sync"
	"time"
)

// Store is the concurrency-safe registry of all job records. It is
// shared between the HTTP handlers and the pipeline engines; every
// mutation for a single job is serialized under one lock, so a late
// progress writer can never clobber a terminal status.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

// NewStore creates an empty registry
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]*Job),
	}
}

// Add registers a new record. The caller owns id uniqueness; a
// duplicate id is rejected.
func (s *Store) Add(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateID
	}

	s.jobs[job.ID] = job.Clone()
	s.order = append(s.order, job.ID)
	return nil
}

// Get returns a snapshot of one record
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// List returns snapshots of all records in insertion order
func (s *Store) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Job, 0, len(s.order))
	for _, id := range s.order {
		if job, ok := s.jobs[id]; ok {
			out = append(out, job.Clone())
		}
	}
	return out
}

// Transition moves a job along one edge of the status machine. The
// optional mutators run under the same lock, after the status change,
// so outcome fields land atomically with the status they belong to.
// Entering running or a terminal status stamps the matching timestamp;
// entering compressing resets the compression progress counter.
func (s *Store) Transition(id string, to Status, mutate ...func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	if !ValidTransition(job.Status, to) {
		return &TransitionError{From: job.Status, To: to}
	}

	job.Status = to

	now := time.Now()
	switch {
	case to == StatusRunning:
		job.StartedAt = &now
	case to == StatusCompressing:
		job.CompressionProgress = 0
		job.Compressed = false
	case to.Terminal():
		job.EndedAt = &now
	}

	for _, fn := range mutate {
		fn(job)
	}
	return nil
}

// SetStageProgress records progress for one stage. Writes for a stage
// that is no longer active are dropped, and a value below the current
// one is ignored, so observed progress never decreases within a stage.
func (s *Store) SetStageProgress(id string, stage Stage, pct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	switch stage {
	case StageSynthesis:
		if job.Status == StatusRunning && pct > job.Progress {
			job.Progress = pct
		}
	case StageCompression:
		if job.Status == StatusCompressing && pct > job.CompressionProgress {
			job.CompressionProgress = pct
		}
	}
	return nil
}

// SetTimeRemaining records the advisory remaining-time estimate.
// Dropped once the job is no longer active.
func (s *Store) SetTimeRemaining(id string, text string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	if job.Status.Active() {
		job.TimeRemaining = text
		job.TimeRemainingSeconds = seconds
	}
	return nil
}

// SetLastOutput records the most recent process output line for
// diagnostics. Dropped once the job is no longer active.
func (s *Store) SetLastOutput(id string, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	if job.Status.Active() {
		job.LastOutput = line
	}
	return nil
}

// AttachCleanupCount records how many byproduct files a cleanup tied
// to this job removed. Allowed on terminal records; the status itself
// is never touched.
func (s *Store) AttachCleanupCount(id string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	job.CleanupFilesDeleted = n
	return nil
}

// Delete removes a record. Only terminal jobs may be deleted; pending
// and active jobs must be cancelled first.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}

	if !job.Status.Terminal() {
		return ErrConflict
	}

	delete(s.jobs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ActiveCount reports how many jobs currently own an external process
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, job := range s.jobs {
		if job.Status.Active() {
			n++
		}
	}
	return n
}
