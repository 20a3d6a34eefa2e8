package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bakkerme/channelwatch/internal/core"
	_ "modernc.org/sqlite"
)

const sqliteTable = "tracked_sources"

// SQLiteStore keeps the registry in a SQLite database. Useful when the watch
// list grows beyond what a rewritten-on-every-update JSON file handles well.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	store := &SQLiteStore{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) (map[string]core.TrackedSource, error) {
	rows, err := s.db.QueryContext(
		ctx,
		fmt.Sprintf("SELECT source_id, last_notified_item_id FROM %s", sqliteTable),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query registry: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	sources := map[string]core.TrackedSource{}
	for rows.Next() {
		var id, itemID string
		if err := rows.Scan(&id, &itemID); err != nil {
			return nil, fmt.Errorf("%w: scan registry row: %w", ErrCorrupt, err)
		}
		sources[id] = core.TrackedSource{SourceID: id, LastNotifiedItemID: itemID}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read registry rows: %w", ErrUnavailable, err)
	}
	return sources, nil
}

func (s *SQLiteStore) Update(ctx context.Context, sourceID, newItemID string) error {
	if sourceID == "" {
		return fmt.Errorf("source id is required")
	}
	result, err := s.db.ExecContext(
		ctx,
		fmt.Sprintf("UPDATE %s SET last_notified_item_id = ?, updated_at = ? WHERE source_id = ?", sqliteTable),
		newItemID,
		time.Now().UTC(),
		sourceID,
	)
	if err != nil {
		return fmt.Errorf("%w: update registry: %w", ErrUnavailable, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update registry: %w", ErrUnavailable, err)
	}
	if affected == 0 {
		return fmt.Errorf("update %q: %w", sourceID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Ensure(ctx context.Context, sourceID string) error {
	if sourceID == "" {
		return fmt.Errorf("source id is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		fmt.Sprintf("INSERT INTO %s (source_id, last_notified_item_id, updated_at) VALUES (?, '', ?) ON CONFLICT(source_id) DO NOTHING", sqliteTable),
		sourceID,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: ensure registry row: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		source_id TEXT PRIMARY KEY,
		last_notified_item_id TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL
	)`, sqliteTable)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create registry table: %w", ErrUnavailable, err)
	}
	return nil
}

func ensureSQLiteDir(dsn string) error {
	if strings.HasPrefix(dsn, "file:") {
		dsn = strings.TrimPrefix(dsn, "file:")
		if idx := strings.IndexRune(dsn, '?'); idx >= 0 {
			dsn = dsn[:idx]
		}
	}
	if dsn == "" || dsn == ":memory:" {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
