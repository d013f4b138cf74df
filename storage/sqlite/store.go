// Package sqlite provides a SQLite implementation of the sync store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/google/uuid"

	syncserver "github.com/c0deZ3R0/go-sync-server"
	"github.com/c0deZ3R0/go-sync-server/cursor"
	"github.com/c0deZ3R0/go-sync-server/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreClosed is returned by all operations after Close.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the SQLiteSyncStore.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Connection pool settings for production workloads.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults for SQLite.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*SQLiteSyncStore, error) {
	return New(DefaultConfig(dataSourceName))
}

// SQLiteSyncStore implements the syncserver.SyncStore interface for SQLite.
//
// Timestamps are stored as unix nanoseconds so the cursor range predicate
// and the (updated_at, key) ordering compare exactly, with no formatting or
// timezone ambiguity.
type SQLiteSyncStore struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

// Compile-time check to ensure SQLiteSyncStore satisfies the SyncStore interface
var _ syncserver.SyncStore = (*SQLiteSyncStore)(nil)

// New creates a new SQLiteSyncStore from a Config.
func New(config *Config) (*SQLiteSyncStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := logging.WithComponent(logging.Component("sqlite-store"))
	logger.InfoContext(context.Background(), "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &SQLiteSyncStore{
		db:     db,
		logger: logger,
	}
	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}
	return store, nil
}

// setupSchema creates the 'sync_records' table if it doesn't exist.
func (s *SQLiteSyncStore) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS sync_records (
        id          TEXT NOT NULL UNIQUE,
        user_id     TEXT NOT NULL,
        key         TEXT NOT NULL,
        hashed_key  TEXT NOT NULL,
        entity      TEXT NOT NULL,
        org_id      TEXT,
        data        TEXT,
        created_at  INTEGER NOT NULL,
        updated_at  INTEGER NOT NULL,
        deleted_at  INTEGER,
        PRIMARY KEY (user_id, key)
    );
    CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_records_user_hashed ON sync_records (user_id, hashed_key);
    CREATE INDEX IF NOT EXISTS idx_sync_records_user_updated ON sync_records (user_id, updated_at, key);
    `
	_, err := s.db.Exec(query)
	return err
}

const recordColumns = "id, key, hashed_key, entity, org_id, data, created_at, updated_at, deleted_at"

// FindByKeys returns the records stored under the given hashed keys,
// tombstones included.
func (s *SQLiteSyncStore) FindByKeys(ctx context.Context, userID string, hashedKeys []string) ([]syncserver.SyncRecord, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	if len(hashedKeys) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(hashedKeys))
	args := make([]interface{}, 0, len(hashedKeys)+1)
	args = append(args, userID)
	for i, hk := range hashedKeys {
		placeholders[i] = "?"
		args = append(args, hk)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM sync_records WHERE user_id = ? AND hashed_key IN (%s) ORDER BY updated_at ASC, key ASC`,
		recordColumns, strings.Join(placeholders, ", "),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records by keys: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FindByUpdatedAt returns one page of records strictly after q.Cursor in
// (updated_at, key) order.
func (s *SQLiteSyncStore) FindByUpdatedAt(ctx context.Context, userID string, q syncserver.PullQuery) (syncserver.Page, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return syncserver.Page{}, ErrStoreClosed
	}
	s.mu.RUnlock()

	limit := syncserver.ClampLimit(q.Limit)
	cur := q.Cursor

	query := fmt.Sprintf(
		`SELECT %s FROM sync_records
         WHERE user_id = ? AND (updated_at > ? OR (updated_at = ? AND key > ?))
         ORDER BY updated_at ASC, key ASC LIMIT ?`,
		recordColumns,
	)
	curNanos := nanos(cur.UpdatedAt)
	rows, err := s.db.QueryContext(ctx, query, userID, curNanos, curNanos, cur.Key, limit)
	if err != nil {
		return syncserver.Page{}, fmt.Errorf("failed to query records by cursor: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return syncserver.Page{}, err
	}
	return buildPage(records, limit, cur), nil
}

// FindAffectedAndConcurrent returns the records for the given hashed keys
// plus every other record updated after baseline.
func (s *SQLiteSyncStore) FindAffectedAndConcurrent(ctx context.Context, userID string, hashedKeys []string, baseline time.Time) (syncserver.Page, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return syncserver.Page{}, ErrStoreClosed
	}
	s.mu.RUnlock()

	placeholders := make([]string, len(hashedKeys))
	args := make([]interface{}, 0, len(hashedKeys)+2)
	args = append(args, userID)
	for i, hk := range hashedKeys {
		placeholders[i] = "?"
		args = append(args, hk)
	}
	args = append(args, nanos(baseline))

	inClause := "hashed_key IN (NULL)"
	if len(hashedKeys) > 0 {
		inClause = fmt.Sprintf("hashed_key IN (%s)", strings.Join(placeholders, ", "))
	}
	query := fmt.Sprintf(
		`SELECT %s FROM sync_records
         WHERE user_id = ? AND (%s OR updated_at > ?)
         ORDER BY updated_at ASC, key ASC`,
		recordColumns, inClause,
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return syncserver.Page{}, fmt.Errorf("failed to query affected records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return syncserver.Page{}, err
	}

	page := syncserver.Page{Records: records}
	if len(records) > 0 {
		last := records[len(records)-1]
		page.Next = cursor.TimeKey{UpdatedAt: last.UpdatedAt, Key: last.Key}
	}
	return page, nil
}

// Begin opens a transaction for one push batch.
func (s *SQLiteSyncStore) Begin(ctx context.Context) (syncserver.StoreTx, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// Close closes the underlying database.
func (s *SQLiteSyncStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// sqliteTx wraps a database transaction for one push batch.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Get(ctx context.Context, userID, hashedKey string) (*syncserver.SyncRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_records WHERE user_id = ? AND hashed_key = ?`, recordColumns)
	row := t.tx.QueryRowContext(ctx, query, userID, hashedKey)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return rec, nil
}

func (t *sqliteTx) Insert(ctx context.Context, userID string, rec *syncserver.SyncRecord) error {
	rec.ID = uuid.New().String()
	query := `INSERT INTO sync_records (id, user_id, key, hashed_key, entity, org_id, data, created_at, updated_at, deleted_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := t.tx.ExecContext(ctx, query,
		rec.ID, userID, rec.Key, rec.HashedKey, rec.Entity, rec.OrgID, payload(rec.Data),
		nanos(rec.CreatedAt), nanos(rec.UpdatedAt), nullNanos(rec.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (t *sqliteTx) Update(ctx context.Context, userID string, rec *syncserver.SyncRecord) error {
	query := `UPDATE sync_records
              SET entity = ?, org_id = ?, data = ?, updated_at = ?, deleted_at = ?
              WHERE user_id = ? AND key = ?`
	res, err := t.tx.ExecContext(ctx, query,
		rec.Entity, rec.OrgID, payload(rec.Data), nanos(rec.UpdatedAt), nullNanos(rec.DeletedAt),
		userID, rec.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("record %q does not exist", rec.Key)
	}
	return nil
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*syncserver.SyncRecord, error) {
	var (
		rec       syncserver.SyncRecord
		orgID     sql.NullString
		data      sql.NullString
		createdAt int64
		updatedAt int64
		deletedAt sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.Key, &rec.HashedKey, &rec.Entity, &orgID, &data, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	if orgID.Valid {
		rec.OrgID = &orgID.String
	}
	if data.Valid {
		rec.Data = json.RawMessage(data.String)
	}
	rec.CreatedAt = fromNanos(createdAt)
	rec.UpdatedAt = fromNanos(updatedAt)
	if deletedAt.Valid {
		ts := fromNanos(deletedAt.Int64)
		rec.DeletedAt = &ts
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]syncserver.SyncRecord, error) {
	var records []syncserver.SyncRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read record rows: %w", err)
	}
	return records, nil
}

// buildPage derives HasMore and the resume cursor from a full-page heuristic:
// a page shorter than the limit is the last one.
func buildPage(records []syncserver.SyncRecord, limit int, prev cursor.TimeKey) syncserver.Page {
	page := syncserver.Page{
		Records: records,
		HasMore: len(records) == limit,
		Next:    prev,
	}
	if len(records) > 0 {
		last := records[len(records)-1]
		page.Next = cursor.TimeKey{UpdatedAt: last.UpdatedAt, Key: last.Key}
	}
	return page
}

func payload(data json.RawMessage) interface{} {
	if data == nil {
		return nil
	}
	return string(data)
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nullNanos(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
