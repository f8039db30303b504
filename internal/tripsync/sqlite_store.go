package tripsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteQueueTable       = "sync_queue"
	sqliteMirrorTable      = "mirror_collections"
	sqliteOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqliteCore struct {
	path   string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newSQLiteCore(path string) (*sqliteCore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &sqliteCore{path: path, openDB: sql.Open}, nil
}

func (c *sqliteCore) ensureReady() error {
	if c == nil {
		return ErrInvalidInput
	}
	c.initOnce.Do(func() {
		db, err := c.openDB("sqlite", c.path)
		if err != nil {
			c.initErr = err
			return
		}
		// modernc's driver serializes access through one connection; more
		// connections just turn contention into SQLITE_BUSY errors.
		db.SetMaxOpenConns(1)

		ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
		defer cancel()

		statements := []string{
			`CREATE TABLE IF NOT EXISTS ` + sqliteQueueTable + ` (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				op_id TEXT NOT NULL UNIQUE,
				record TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS ` + sqliteMirrorTable + ` (
				collection TEXT NOT NULL,
				scope_id TEXT NOT NULL,
				snapshot TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (collection, scope_id)
			)`,
		}
		for _, statement := range statements {
			if _, err := db.ExecContext(ctx, statement); err != nil {
				_ = db.Close()
				c.initErr = err
				return
			}
		}
		c.db = db
	})
	return c.initErr
}

func (c *sqliteCore) close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

type SQLiteQueueStore struct {
	core     *sqliteCore
	capacity int
	logger   Logger
}

// NewSQLiteQueueStore opens a queue store backed by a SQLite database file,
// the default durable spool for single-device installs.
func NewSQLiteQueueStore(path string, capacity int, logger Logger) (QueueStore, error) {
	core, err := newSQLiteCore(path)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &SQLiteQueueStore{core: core, capacity: capacity, logger: logger}, nil
}

func (s *SQLiteQueueStore) Add(ctx context.Context, op SyncOperation) error {
	if err := op.validate(); err != nil {
		return err
	}
	if err := s.core.ensureReady(); err != nil {
		return err
	}
	raw, err := EncodeOperation(op)
	if err != nil {
		return err
	}
	tx, err := s.core.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var depth int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+sqliteQueueTable).Scan(&depth); err != nil {
		return err
	}
	if depth >= s.capacity {
		return ErrQueueFull
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO `+sqliteQueueTable+` (op_id, record) VALUES (?, ?)`,
		op.ID, string(raw)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *SQLiteQueueStore) GetAll(ctx context.Context) ([]SyncOperation, error) {
	if err := s.core.ensureReady(); err != nil {
		return nil, err
	}
	rows, err := s.core.db.QueryContext(ctx,
		`SELECT record FROM `+sqliteQueueTable+` ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := make([]SyncOperation, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		op, decodeErr := DecodeOperation([]byte(raw))
		if decodeErr != nil {
			s.logf("skipping malformed queue record: %v", decodeErr)
			continue
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *SQLiteQueueStore) Update(ctx context.Context, op SyncOperation) error {
	if err := op.validate(); err != nil {
		return err
	}
	if err := s.core.ensureReady(); err != nil {
		return err
	}
	raw, err := EncodeOperation(op)
	if err != nil {
		return err
	}
	result, err := s.core.db.ExecContext(ctx,
		`UPDATE `+sqliteQueueTable+` SET record = ? WHERE op_id = ?`,
		string(raw), op.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInvalidInput
	}
	return nil
}

func (s *SQLiteQueueStore) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}
	if err := s.core.ensureReady(); err != nil {
		return err
	}
	_, err := s.core.db.ExecContext(ctx,
		`DELETE FROM `+sqliteQueueTable+` WHERE op_id = ?`, id)
	return err
}

func (s *SQLiteQueueStore) Depth() int {
	if err := s.core.ensureReady(); err != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOperationTimeout)
	defer cancel()
	var depth int
	if err := s.core.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+sqliteQueueTable).Scan(&depth); err != nil {
		return 0
	}
	return depth
}

func (s *SQLiteQueueStore) Capacity() int {
	return s.capacity
}

func (s *SQLiteQueueStore) Close() error {
	return s.core.close()
}

func (s *SQLiteQueueStore) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

type SQLiteMirrorStore struct {
	core *sqliteCore
}

// NewSQLiteMirrorStore opens a mirror store in a SQLite database file. It can
// share the file with a SQLiteQueueStore.
func NewSQLiteMirrorStore(path string) (MirrorStore, error) {
	core, err := newSQLiteCore(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteMirrorStore{core: core}, nil
}

func (s *SQLiteMirrorStore) Load(ctx context.Context, collection, scopeID string) ([]Record, error) {
	collection = normalizeCollection(collection)
	scopeID = strings.TrimSpace(scopeID)
	if collection == "" || scopeID == "" {
		return nil, ErrInvalidInput
	}
	if err := s.core.ensureReady(); err != nil {
		return nil, err
	}
	var snapshot string
	err := s.core.db.QueryRowContext(ctx,
		`SELECT snapshot FROM `+sqliteMirrorTable+` WHERE collection = ? AND scope_id = ?`,
		collection, scopeID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal([]byte(snapshot), &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func (s *SQLiteMirrorStore) Save(ctx context.Context, collection, scopeID string, records []Record) error {
	collection = normalizeCollection(collection)
	scopeID = strings.TrimSpace(scopeID)
	if collection == "" || scopeID == "" {
		return ErrInvalidInput
	}
	if err := s.core.ensureReady(); err != nil {
		return err
	}
	snapshot, err := json.Marshal(append([]Record{}, records...))
	if err != nil {
		return err
	}
	_, err = s.core.db.ExecContext(ctx, `
		INSERT INTO `+sqliteMirrorTable+` (collection, scope_id, snapshot, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, scope_id)
		DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		collection, scopeID, string(snapshot), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *SQLiteMirrorStore) Close() error {
	return s.core.close()
}
