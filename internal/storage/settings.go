package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

const autoCleanupKey = "auto_cleanup"

const settingsTimeout = 5 * time.Second

// SettingsStore persists small key/value settings that must survive
// restarts, such as the auto-cleanup policy.
type SettingsStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewSettingsStore(client *Client, logger *slog.Logger) *SettingsStore {
	return &SettingsStore{
		db:     client.GetDB(),
		logger: logger,
	}
}

// SaveAutoCleanup persists the auto-cleanup flag
func (s *SettingsStore) SaveAutoCleanup(enabled bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
	defer cancel()

	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.ExecContext(ctx, query, autoCleanupKey, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}
	return nil
}

// AutoCleanup loads the persisted auto-cleanup flag, falling back to
// the given default when nothing was ever saved.
func (s *SettingsStore) AutoCleanup(fallback bool) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
	defer cancel()

	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = ?`, autoCleanupKey)
	if errors.Is(err, sql.ErrNoRows) {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to load setting: %w", err)
	}

	enabled, err := strconv.ParseBool(value)
	if err != nil {
		s.logger.Warn("Ignoring malformed setting",
			slog.String("key", autoCleanupKey),
			slog.String("value", value),
		)
		return fallback, nil
	}
	return enabled, nil
}
