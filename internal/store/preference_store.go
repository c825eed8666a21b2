package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// GetPreference returns the stored value of key, or ErrNotFound.
func (s *SQLiteStore) GetPreference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, "SELECT value FROM preferences WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("preference %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting preference %q: %w", key, err)
	}
	return value, nil
}

// SetPreference stores value under key.
func (s *SQLiteStore) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting preference %q: %w", key, err)
	}
	return nil
}

// GetBoolPreference reads key as a boolean. A missing key yields fallback.
func (s *SQLiteStore) GetBoolPreference(ctx context.Context, key string, fallback bool) (bool, error) {
	value, err := s.GetPreference(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return fallback, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, fmt.Errorf("parsing preference %q: %w", key, err)
	}
	return b, nil
}
