package cleanup

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/pingpongshow/audiblez-webui/internal/metrics"
)

// finalExt marks finished audiobook artifacts; every other regular
// file in the managed directory root is a temporary byproduct.
const finalExt = ".m4b"

// PolicyStore persists the auto-cleanup flag across restarts
type PolicyStore interface {
	SaveAutoCleanup(enabled bool) error
}

// FileGroup summarizes one class of files in the managed directory
type FileGroup struct {
	Count       int      `json:"count"`
	TotalSizeMB float64  `json:"total_size_mb"`
	Files       []string `json:"files"`
}

// Status is the cleanup inspection report
type Status struct {
	AutoCleanupEnabled bool      `json:"auto_cleanup_enabled"`
	AudiobookFiles     FileGroup `json:"audiobook_files"`
	TemporaryFiles     FileGroup `json:"temporary_files"`
}

// SweepResult reports one deletion pass
type SweepResult struct {
	FilesDeleted int     `json:"files_deleted"`
	SpaceFreedMB float64 `json:"space_freed_mb"`
}

// Service classifies and reclaims files in the audiobook output
// directory. All jobs share that directory, so deletion rules key off
// the final-artifact extension and per-job name stems rather than any
// in-memory bookkeeping.
type Service struct {
	dir     string
	auto    atomic.Bool
	persist PolicyStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewService creates a cleanup service over the given directory.
// persist and m may be nil.
func NewService(dir string, autoEnabled bool, persist PolicyStore, logger *slog.Logger, m *metrics.Metrics) *Service {
	s := &Service{
		dir:     dir,
		persist: persist,
		logger:  logger,
		metrics: m,
	}
	s.auto.Store(autoEnabled)
	return s
}

// AutoEnabled reports the current auto-cleanup policy
func (s *Service) AutoEnabled() bool {
	return s.auto.Load()
}

// SetAuto updates the auto-cleanup policy and persists it
func (s *Service) SetAuto(enabled bool) error {
	s.auto.Store(enabled)

	s.logger.Info("Auto-cleanup policy updated",
		slog.Bool("enabled", enabled),
	)

	if s.persist != nil {
		if err := s.persist.SaveAutoCleanup(enabled); err != nil {
			return fmt.Errorf("persist auto-cleanup policy: %w", err)
		}
	}
	return nil
}

// Status scans the managed directory root and classifies every
// regular file as final artifact or temporary byproduct.
func (s *Service) Status() (*Status, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan output directory: %w", err)
	}

	status := &Status{
		AutoCleanupEnabled: s.AutoEnabled(),
		AudiobookFiles:     FileGroup{Files: []string{}},
		TemporaryFiles:     FileGroup{Files: []string{}},
	}

	var finalBytes, tempBytes int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if strings.HasSuffix(entry.Name(), finalExt) {
			status.AudiobookFiles.Count++
			status.AudiobookFiles.Files = append(status.AudiobookFiles.Files, entry.Name())
			finalBytes += info.Size()
		} else {
			status.TemporaryFiles.Count++
			status.TemporaryFiles.Files = append(status.TemporaryFiles.Files, entry.Name())
			tempBytes += info.Size()
		}
	}

	status.AudiobookFiles.TotalSizeMB = toMB(finalBytes)
	status.TemporaryFiles.TotalSizeMB = toMB(tempBytes)
	return status, nil
}

// All deletes every temporary file in the managed directory root.
// A file that vanishes between scan and delete is not an error, so a
// second consecutive pass reports zero deletions.
func (s *Service) All() (*SweepResult, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan output directory: %w", err)
	}

	var deleted int
	var freed int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasSuffix(entry.Name(), finalExt) {
			continue
		}

		n, size := s.remove(filepath.Join(s.dir, entry.Name()))
		deleted += n
		freed += size
	}

	s.logger.Info("Cleanup sweep finished",
		slog.Int("files_deleted", deleted),
		slog.String("space_freed_mb", fmt.Sprintf("%.2f", toMB(freed))),
	)

	if s.metrics != nil {
		s.metrics.CleanupRemoved(deleted, freed)
	}

	return &SweepResult{FilesDeleted: deleted, SpaceFreedMB: toMB(freed)}, nil
}

// ForJob deletes the byproducts attributable to one job: files whose
// name starts with the source stem (except the final artifact) plus
// the shared cover and chapter listing the synthesis tool drops next
// to it.
func (s *Service) ForJob(epubName string) (int, int64, error) {
	stem := strings.TrimSuffix(epubName, filepath.Ext(epubName))

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0, fmt.Errorf("scan output directory: %w", err)
	}

	var deleted int
	var freed int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		name := entry.Name()
		stemMatch := strings.HasPrefix(name, stem) && !strings.HasSuffix(name, finalExt)
		byproduct := name == "cover" || strings.HasPrefix(name, "cover.") || name == "chapters.txt"
		if !stemMatch && !byproduct {
			continue
		}

		n, size := s.remove(filepath.Join(s.dir, name))
		deleted += n
		freed += size
	}

	if deleted > 0 {
		s.logger.Info("Removed job byproducts",
			slog.String("epub", epubName),
			slog.Int("files_deleted", deleted),
		)
	}

	if s.metrics != nil && deleted > 0 {
		s.metrics.CleanupRemoved(deleted, freed)
	}

	return deleted, freed, nil
}

// remove deletes one path, tolerating files that already vanished
func (s *Service) remove(path string) (int, int64) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return 0, 0
		}
		s.logger.Warn("Failed to delete temporary file",
			slog.String("path", path),
			slog.Any("error", err),
		)
		return 0, 0
	}
	return 1, info.Size()
}

func toMB(bytes int64) float64 {
	return math.Round(float64(bytes)/1024/1024*100) / 100
}
