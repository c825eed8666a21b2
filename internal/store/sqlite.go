package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/tempmail/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: every ":memory:" connection is its own database,
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const accountColumns = `id, address, provider_id, quota, used, is_disabled, is_deleted, created_at, updated_at`

// UpsertAccount inserts an account or refreshes its stored fields.
func (s *SQLiteStore) UpsertAccount(ctx context.Context, acc model.Account) error {
	if strings.TrimSpace(acc.ID) == "" {
		return fmt.Errorf("account id must not be empty")
	}
	if strings.TrimSpace(acc.Address) == "" {
		return fmt.Errorf("account address must not be empty")
	}

	now := time.Now().UTC()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			address = excluded.address,
			provider_id = excluded.provider_id,
			quota = excluded.quota,
			used = excluded.used,
			is_disabled = excluded.is_disabled,
			is_deleted = excluded.is_deleted,
			updated_at = excluded.updated_at`,
		acc.ID, acc.Address, acc.ProviderID, acc.Quota, acc.Used,
		boolToInt(acc.IsDisabled), boolToInt(acc.IsDeleted),
		acc.CreatedAt.UTC(), acc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting account %s: %w", acc.ID, err)
	}
	return nil
}

// GetAccounts returns every stored account, most recently used first.
func (s *SQLiteStore) GetAccounts(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := s.db.SelectContext(ctx, &accounts,
		"SELECT "+accountColumns+" FROM accounts ORDER BY updated_at DESC, address")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	return accounts, nil
}

// GetAccountByID retrieves a single account. It returns ErrNotFound when
// no row matches.
func (s *SQLiteStore) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	var acc model.Account
	err := s.db.GetContext(ctx, &acc,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	return &acc, nil
}

// DeleteAccount removes an account and its notifications.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM notifications WHERE account_id = ?", id); err != nil {
		return fmt.Errorf("deleting notifications of account %s: %w", id, err)
	}

	return tx.Commit()
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
