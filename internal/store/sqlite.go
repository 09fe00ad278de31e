package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
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

// SchemaVersion returns the highest applied migration.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	var v int
	if err := s.db.Get(&v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		currentVersion, err = s.SchemaVersion()
		if err != nil {
			return err
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

// ReadReceipts returns the confirmed read ids of account, ascending.
func (s *SQLiteStore) ReadReceipts(ctx context.Context, account string) ([]int64, error) {
	ids := []int64{}
	err := s.db.SelectContext(ctx, &ids,
		"SELECT notification_id FROM read_receipts WHERE account = ? ORDER BY notification_id",
		account,
	)
	if err != nil {
		return nil, fmt.Errorf("querying read receipts for %s: %w", account, err)
	}
	return ids, nil
}

// SaveReadReceipts inserts ids for account in one transaction.
func (s *SQLiteStore) SaveReadReceipts(ctx context.Context, account string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		"INSERT OR IGNORE INTO read_receipts (account, notification_id, read_at) VALUES (?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("preparing receipt statement: %w", err)
	}
	defer stmt.Close()

	readAt := s.now().UTC()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, account, id, readAt); err != nil {
			return fmt.Errorf("saving receipt %d for %s: %w", id, account, err)
		}
	}

	return tx.Commit()
}

// ClearAccount removes every receipt of account.
func (s *SQLiteStore) ClearAccount(ctx context.Context, account string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM read_receipts WHERE account = ?", account); err != nil {
		return fmt.Errorf("clearing receipts for %s: %w", account, err)
	}
	return nil
}

// PruneReceipts deletes receipts recorded before cutoff and returns how
// many were removed.
func (s *SQLiteStore) PruneReceipts(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM read_receipts WHERE read_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning receipts: %w", err)
	}
	return res.RowsAffected()
}
