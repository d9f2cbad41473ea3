package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pingpongshow/audiblez-webui/internal/jobs"
)

const historyTimeout = 5 * time.Second

// Entry is one archived terminal job
type Entry struct {
	JobID                string     `json:"job_id"`
	EpubName             string     `json:"epub_name"`
	Voice                string     `json:"voice"`
	Speed                float64    `json:"speed"`
	Status               string     `json:"status"`
	Error                string     `json:"error,omitempty"`
	Compressed           bool       `json:"compressed"`
	OriginalSize         int64      `json:"original_size,omitempty"`
	CompressedSize       int64      `json:"compressed_size,omitempty"`
	CompressionReduction float64    `json:"compression_reduction,omitempty"`
	CompressionError     string     `json:"compression_error,omitempty"`
	CreatedTime          time.Time  `json:"created_time"`
	EndTime              *time.Time `json:"end_time,omitempty"`
}

type historyRow struct {
	JobID                string  `db:"job_id"`
	EpubName             string  `db:"epub_name"`
	Voice                string  `db:"voice"`
	Speed                float64 `db:"speed"`
	Status               string  `db:"status"`
	Error                string  `db:"error"`
	Compressed           bool    `db:"compressed"`
	OriginalSize         int64   `db:"original_size"`
	CompressedSize       int64   `db:"compressed_size"`
	CompressionReduction float64 `db:"compression_reduction"`
	CompressionError     string  `db:"compression_error"`
	CreatedTime          string  `db:"created_time"`
	EndTime              string  `db:"end_time"`
}

// HistoryStore archives terminal jobs so conversion history survives
// restarts. The table is pruned to a fixed number of rows; the live
// in-memory records remain the source of truth for anything active.
type HistoryStore struct {
	db     *sqlx.DB
	limit  int
	logger *slog.Logger
}

func NewHistoryStore(client *Client, limit int, logger *slog.Logger) *HistoryStore {
	return &HistoryStore{
		db:     client.GetDB(),
		limit:  limit,
		logger: logger,
	}
}

// RecordFinished archives one terminal job and prunes the oldest rows
// beyond the configured limit.
func (s *HistoryStore) RecordFinished(job *jobs.Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	row := historyRow{
		JobID:                job.ID,
		EpubName:             job.EpubName,
		Voice:                job.Voice,
		Speed:                job.Speed,
		Status:               string(job.Status),
		Error:                job.Error,
		Compressed:           job.Compressed,
		OriginalSize:         job.OriginalSize,
		CompressedSize:       job.CompressedSize,
		CompressionReduction: job.CompressionReduction,
		CompressionError:     job.CompressionError,
		CreatedTime:          job.CreatedAt.Format(time.RFC3339Nano),
	}
	if job.EndedAt != nil {
		row.EndTime = job.EndedAt.Format(time.RFC3339Nano)
	}

	query := `
		INSERT OR REPLACE INTO job_history (
			job_id, epub_name, voice, speed,
			status, error, compressed,
			original_size, compressed_size, compression_reduction, compression_error,
			created_time, end_time
		) VALUES (
			:job_id, :epub_name, :voice, :speed,
			:status, :error, :compressed,
			:original_size, :compressed_size, :compression_reduction, :compression_error,
			:created_time, :end_time
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to record job history: %w", err)
	}

	if s.limit > 0 {
		prune := `
			DELETE FROM job_history
			WHERE rowid NOT IN (
				SELECT rowid FROM job_history ORDER BY rowid DESC LIMIT ?
			)
		`
		if _, err := s.db.ExecContext(ctx, prune, s.limit); err != nil {
			return fmt.Errorf("failed to prune job history: %w", err)
		}
	}

	return nil
}

// List returns archived jobs, newest first. A non-positive limit
// returns up to the store's retention limit.
func (s *HistoryStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.limit
	}
	if limit <= 0 {
		limit = -1 // sqlite reads a negative limit as unlimited
	}

	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	query := `
		SELECT
			job_id, epub_name, voice, speed,
			status, error, compressed,
			original_size, compressed_size, compression_reduction, compression_error,
			created_time, end_time
		FROM job_history
		ORDER BY rowid DESC
		LIMIT ?
	`

	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toEntry(s.logger))
	}
	return entries, nil
}

func (r historyRow) toEntry(logger *slog.Logger) Entry {
	e := Entry{
		JobID:                r.JobID,
		EpubName:             r.EpubName,
		Voice:                r.Voice,
		Speed:                r.Speed,
		Status:               r.Status,
		Error:                r.Error,
		Compressed:           r.Compressed,
		OriginalSize:         r.OriginalSize,
		CompressedSize:       r.CompressedSize,
		CompressionReduction: r.CompressionReduction,
		CompressionError:     r.CompressionError,
	}

	created, err := time.Parse(time.RFC3339Nano, r.CreatedTime)
	if err != nil {
		logger.Warn("Malformed created_time in job history",
			slog.String("job_id", r.JobID),
			slog.String("value", r.CreatedTime),
		)
	}
	e.CreatedTime = created

	if r.EndTime != "" {
		if ended, err := time.Parse(time.RFC3339Nano, r.EndTime); err == nil {
			e.EndTime = &ended
		}
	}
	return e
}
