package convert

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pingpongshow/audiblez-webui/internal/cleanup"
	"github.com/pingpongshow/audiblez-webui/internal/jobs"
	"github.com/pingpongshow/audiblez-webui/internal/metrics"
)

// Notifier receives terminal job transitions
type Notifier interface {
	JobFinished(job *jobs.Job)
}

// HistoryRecorder persists terminal jobs
type HistoryRecorder interface {
	RecordFinished(job *jobs.Job) error
}

// Config holds the engine's tunables
type Config struct {
	// OutputFolder is the default destination when a request names none
	OutputFolder string
	DefaultVoice string
	DefaultSpeed float64
	MinSpeed     float64
	MaxSpeed     float64
	Bitrate      string
	// MaxActiveJobs bounds concurrent external processes; 0 means
	// unbounded, which is resource-sensitive since synthesis is
	// CPU/GPU heavy
	MaxActiveJobs int
	PollInterval  time.Duration
}

// Dependencies wires the engine's collaborators. Synth and Compress
// default to the real tool runners; Metrics, Notifier and History are
// optional.
type Dependencies struct {
	Store    *jobs.Store
	Cleaner  *cleanup.Service
	Synth    Runner
	Compress Runner
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Notifier Notifier
	History  HistoryRecorder
}

// Engine supervises conversion jobs. Each submission gets its own
// goroutine that drives the job through the pipeline stages, polls the
// active stage's handle, and writes every observation into the store.
// The engine is the only writer of a job's status while the job is
// live, so cancellation and progress can never interleave into an
// inconsistent record.
type Engine struct {
	cfg      Config
	store    *jobs.Store
	cleaner  *cleanup.Service
	synth    Runner
	compress Runner
	logger   *slog.Logger
	metrics  *metrics.Metrics
	notifier Notifier
	history  HistoryRecorder

	// bounds concurrent active jobs; nil when unbounded
	sem chan struct{}

	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	stopped bool

	wg sync.WaitGroup
}

// SubmitRequest are the caller-supplied conversion parameters
type SubmitRequest struct {
	EpubPath     string
	Voice        string
	Speed        float64
	UseCuda      bool
	Compress     bool
	OutputFolder string
}

// NewEngine creates an engine ready to accept submissions
func NewEngine(cfg Config, deps Dependencies) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if deps.Synth == nil {
		deps.Synth = NewSynthesisRunner()
	}
	if deps.Compress == nil {
		deps.Compress = NewCompressionRunner()
	}

	e := &Engine{
		cfg:      cfg,
		store:    deps.Store,
		cleaner:  deps.Cleaner,
		synth:    deps.Synth,
		compress: deps.Compress,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		notifier: deps.Notifier,
		history:  deps.History,
		cancels:  make(map[string]context.CancelFunc),
	}

	if cfg.MaxActiveJobs > 0 {
		e.sem = make(chan struct{}, cfg.MaxActiveJobs)
	}

	e.baseCtx, e.stop = context.WithCancel(context.Background())

	return e
}

// Submit validates the request, registers a pending job, and starts a
// supervisor goroutine for it. Validation failures reject the request
// without creating any record.
func (e *Engine) Submit(req SubmitRequest) (*jobs.Job, error) {
	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return nil, ErrEngineStopped
	}

	if req.EpubPath == "" {
		return nil, fmt.Errorf("%w: epub_path is required", ErrInvalidInput)
	}

	info, err := os.Stat(req.EpubPath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: epub file not found: %s", ErrInvalidInput, req.EpubPath)
	}

	if req.Voice == "" {
		req.Voice = e.cfg.DefaultVoice
	}
	if req.Speed == 0 {
		req.Speed = e.cfg.DefaultSpeed
	}
	if req.Speed < e.cfg.MinSpeed || req.Speed > e.cfg.MaxSpeed {
		return nil, fmt.Errorf("%w: speed %.2f outside [%.2f, %.2f]", ErrInvalidInput, req.Speed, e.cfg.MinSpeed, e.cfg.MaxSpeed)
	}
	if req.OutputFolder == "" {
		req.OutputFolder = e.cfg.OutputFolder
	}
	if err := os.MkdirAll(req.OutputFolder, 0o755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}

	job := &jobs.Job{
		ID:           uuid.NewString(),
		EpubName:     filepath.Base(req.EpubPath),
		EpubPath:     req.EpubPath,
		Voice:        req.Voice,
		Speed:        req.Speed,
		UseCuda:      req.UseCuda,
		Compress:     req.Compress,
		OutputFolder: req.OutputFolder,
		Status:       jobs.StatusPending,
		CreatedAt:    time.Now(),
	}

	if err := e.store.Add(job); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(e.baseCtx)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		cancel()
		_ = e.store.Transition(job.ID, jobs.StatusCancelled)
		return nil, ErrEngineStopped
	}
	e.cancels[job.ID] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runJob(ctx, job.ID)

	if e.metrics != nil {
		e.metrics.JobSubmitted()
	}

	e.logger.Info("Conversion job accepted",
		slog.String("job_id", job.ID),
		slog.String("epub", job.EpubName),
		slog.String("voice", job.Voice),
		slog.Bool("compress", job.Compress),
	)

	return job.Clone(), nil
}

// Cancel requests termination of a job. Pending jobs move straight to
// cancelled without ever spawning a process; active jobs are signalled
// and settle asynchronously shortly after.
func (e *Engine) Cancel(id string) error {
	job, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return jobs.ErrConflict
	}

	e.mu.Lock()
	cancel := e.cancels[id]
	e.mu.Unlock()

	if cancel == nil {
		// no supervisor goroutine owns it; settle the record directly
		return e.store.Transition(id, jobs.StatusCancelled)
	}

	cancel()

	e.logger.Info("Cancellation requested", slog.String("job_id", id))
	return nil
}

// Shutdown cancels every in-flight job and waits for the supervisors
// to settle their records.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.stop()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) runJob(ctx context.Context, id string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.mu.Unlock()
	}()

	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			e.finish(id, jobs.StatusCancelled, nil)
			return
		}
	}

	// the job may have been cancelled while queued
	if err := e.store.Transition(id, jobs.StatusRunning); err != nil {
		return
	}

	job, err := e.store.Get(id)
	if err != nil {
		return
	}

	if e.metrics != nil {
		e.metrics.JobActive(1)
		defer e.metrics.JobActive(-1)
	}

	e.logger.Info("Synthesis started",
		slog.String("job_id", id),
		slog.String("epub", job.EpubName),
	)

	artifact, err := e.runSynthesis(ctx, job)
	switch {
	case ctx.Err() != nil:
		e.cleanupPartial(job)
		e.finish(id, jobs.StatusCancelled, nil)
		return
	case err != nil:
		msg := err.Error()
		e.finish(id, jobs.StatusFailed, func(j *jobs.Job) { j.Error = msg })
		return
	}

	_ = e.store.SetStageProgress(id, jobs.StageSynthesis, 100)
	fixupPermissions(artifact, e.logger)

	if !job.Compress {
		e.finish(id, jobs.StatusCompleted, nil)
		e.autoCleanup(id, job.EpubName)
		return
	}

	if ctx.Err() != nil {
		e.cleanupPartial(job)
		e.finish(id, jobs.StatusCancelled, nil)
		return
	}

	if err := e.store.Transition(id, jobs.StatusCompressing); err != nil {
		return
	}

	e.logger.Info("Compression started", slog.String("job_id", id))

	result, err := e.runCompression(ctx, job, artifact)
	switch {
	case ctx.Err() != nil:
		e.cleanupPartial(job)
		e.finish(id, jobs.StatusCancelled, nil)
		return
	case err != nil:
		// a failed compression never voids a successful synthesis;
		// the job completes with the uncompressed artifact
		e.logger.Warn("Compression failed, keeping uncompressed audiobook",
			slog.String("job_id", id),
			slog.Any("error", err),
		)
		msg := err.Error()
		e.finish(id, jobs.StatusCompleted, func(j *jobs.Job) {
			j.Compressed = false
			j.CompressionError = msg
		})
	default:
		fixupPermissions(artifact, e.logger)
		e.finish(id, jobs.StatusCompleted, func(j *jobs.Job) {
			j.Compressed = true
			j.OriginalSize = result.originalSize
			j.CompressedSize = result.compressedSize
			j.CompressionReduction = result.reduction
		})
	}

	e.autoCleanup(id, job.EpubName)
}

func (e *Engine) runSynthesis(ctx context.Context, job *jobs.Job) (string, error) {
	req := Request{
		JobID:     job.ID,
		EpubPath:  job.EpubPath,
		Voice:     job.Voice,
		Speed:     job.Speed,
		UseCuda:   job.UseCuda,
		OutputDir: job.OutputFolder,
	}

	started := time.Now()
	handle, err := e.synth.Start(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &StageError{Stage: jobs.StageSynthesis, Message: err.Error(), Err: err}
	}

	err = e.supervise(ctx, job.ID, jobs.StageSynthesis, handle, started)
	if e.metrics != nil {
		e.metrics.ObserveStage(string(jobs.StageSynthesis), time.Since(started))
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", &StageError{Stage: jobs.StageSynthesis, Message: stageMessage(err, handle), Err: err}
	}

	artifact := filepath.Join(job.OutputFolder, artifactName(job.EpubName))
	if _, statErr := os.Stat(artifact); statErr != nil {
		return "", &StageError{Stage: jobs.StageSynthesis, Message: "audiobook file was not produced", Err: statErr}
	}
	return artifact, nil
}

type compressionResult struct {
	originalSize   int64
	compressedSize int64
	reduction      float64
}

func (e *Engine) runCompression(ctx context.Context, job *jobs.Job, artifact string) (*compressionResult, error) {
	info, err := os.Stat(artifact)
	if err != nil {
		return nil, &StageError{Stage: jobs.StageCompression, Message: "stat audiobook", Err: err}
	}
	originalSize := info.Size()

	tmp := compressionTempPath(artifact, job.ID)
	req := Request{
		JobID:      job.ID,
		InputPath:  artifact,
		OutputPath: tmp,
		Bitrate:    e.cfg.Bitrate,
	}

	started := time.Now()
	handle, err := e.compress.Start(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &StageError{Stage: jobs.StageCompression, Message: err.Error(), Err: err}
	}

	err = e.supervise(ctx, job.ID, jobs.StageCompression, handle, started)
	if e.metrics != nil {
		e.metrics.ObserveStage(string(jobs.StageCompression), time.Since(started))
	}
	if err != nil {
		_ = os.Remove(tmp)
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &StageError{Stage: jobs.StageCompression, Message: stageMessage(err, handle), Err: err}
	}

	compressedInfo, err := os.Stat(tmp)
	if err != nil {
		return nil, &StageError{Stage: jobs.StageCompression, Message: "compressed file was not produced", Err: err}
	}
	compressedSize := compressedInfo.Size()

	// swap the compressed file in under the artifact's public name
	if err := os.Remove(artifact); err != nil {
		_ = os.Remove(tmp)
		return nil, &StageError{Stage: jobs.StageCompression, Message: "replace original audiobook", Err: err}
	}
	if err := os.Rename(tmp, artifact); err != nil {
		return nil, &StageError{Stage: jobs.StageCompression, Message: "rename compressed audiobook", Err: err}
	}

	_ = e.store.SetStageProgress(job.ID, jobs.StageCompression, 100)

	var reduction float64
	if originalSize > 0 {
		reduction = math.Round((1-float64(compressedSize)/float64(originalSize))*1000) / 10
	}

	return &compressionResult{
		originalSize:   originalSize,
		compressedSize: compressedSize,
		reduction:      reduction,
	}, nil
}

// supervise polls the stage handle until it finishes or the job
// context is cancelled. Cancellation tears the process down before
// returning, so no progress write can follow a cancelled status.
func (e *Engine) supervise(ctx context.Context, id string, stage jobs.Stage, handle Handle, started time.Time) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = handle.Cancel()
			return ctx.Err()
		case <-handle.Done():
			e.recordProgress(id, stage, handle.Poll(), started)
			return handle.Err()
		case <-ticker.C:
			e.recordProgress(id, stage, handle.Poll(), started)
		}
	}
}

func (e *Engine) recordProgress(id string, stage jobs.Stage, p Progress, started time.Time) {
	_ = e.store.SetStageProgress(id, stage, p.Percent)
	if p.Line != "" {
		_ = e.store.SetLastOutput(id, p.Line)
	}

	// remaining time extrapolates from throughput so far; meaningless
	// before the first tick
	if p.Percent > 0 && p.Percent < 100 {
		remaining := estimateRemaining(time.Since(started), p.Percent)
		_ = e.store.SetTimeRemaining(id, formatRemaining(remaining), int(remaining.Seconds()))
	}
}

// finish moves the job to a terminal status and fires the terminal
// hooks with a consistent snapshot.
func (e *Engine) finish(id string, status jobs.Status, mutate func(*jobs.Job)) {
	mutators := []func(*jobs.Job){
		func(j *jobs.Job) {
			j.TimeRemaining = ""
			j.TimeRemainingSeconds = 0
		},
	}
	if mutate != nil {
		mutators = append(mutators, mutate)
	}

	if err := e.store.Transition(id, status, mutators...); err != nil {
		// already terminal or deleted; nothing to announce
		return
	}

	job, err := e.store.Get(id)
	if err != nil {
		return
	}

	e.logger.Info("Job finished",
		slog.String("job_id", id),
		slog.String("status", string(status)),
	)

	if e.metrics != nil {
		e.metrics.JobFinished(string(status))
	}
	if e.history != nil {
		if err := e.history.RecordFinished(job); err != nil {
			e.logger.Warn("Failed to record job history",
				slog.String("job_id", id),
				slog.Any("error", err),
			)
		}
	}
	if e.notifier != nil {
		e.notifier.JobFinished(job)
	}
}

// autoCleanup removes the job's byproducts when the policy asks for it
func (e *Engine) autoCleanup(id, epubName string) {
	if !e.cleaner.AutoEnabled() {
		return
	}

	deleted, _, err := e.cleaner.ForJob(epubName)
	if err != nil {
		e.logger.Warn("Auto-cleanup failed",
			slog.String("job_id", id),
			slog.Any("error", err),
		)
		return
	}
	_ = e.store.AttachCleanupCount(id, deleted)
}

// cleanupPartial removes whatever a torn-down job left behind
func (e *Engine) cleanupPartial(job *jobs.Job) {
	if _, _, err := e.cleaner.ForJob(job.EpubName); err != nil {
		e.logger.Warn("Failed to remove partial output",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
}

func stageMessage(err error, handle Handle) string {
	msg := err.Error()
	if line := handle.Poll().Line; line != "" {
		msg = fmt.Sprintf("%s (last output: %s)", msg, line)
	}
	return msg
}

func artifactName(epubName string) string {
	return strings.TrimSuffix(epubName, filepath.Ext(epubName)) + ".m4b"
}

// compressionTempPath is job-scoped so concurrent conversions of the
// same book cannot clobber each other's in-progress output.
func compressionTempPath(artifact, jobID string) string {
	stem := strings.TrimSuffix(artifact, filepath.Ext(artifact))
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	return stem + "_compressed." + short + ".m4b"
}

func estimateRemaining(elapsed time.Duration, pct int) time.Duration {
	return time.Duration(float64(elapsed) * float64(100-pct) / float64(pct))
}

func formatRemaining(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// fixupPermissions opens up the finished artifact for the media
// server user this typically runs alongside. Best effort only.
func fixupPermissions(path string, logger *slog.Logger) {
	if err := os.Chmod(path, 0o777); err != nil {
		logger.Debug("Failed to chmod audiobook",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}

	u, err := user.Lookup("nobody")
	if err != nil {
		return
	}
	g, err := user.LookupGroup("users")
	if err != nil {
		return
	}

	uid, uidErr := strconv.Atoi(u.Uid)
	gid, gidErr := strconv.Atoi(g.Gid)
	if uidErr != nil || gidErr != nil {
		return
	}

	if err := os.Chown(path, uid, gid); err != nil {
		logger.Debug("Failed to chown audiobook",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}
