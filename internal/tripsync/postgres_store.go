package tripsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresQueueTable       = "tripsync_queue"
	postgresMirrorTable      = "tripsync_mirror"
	postgresOperationTimeout = 5 * time.Second
)

type postgresCore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func newPostgresCore(dsn string) (*postgresCore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &postgresCore{dsn: dsn, openDB: sql.Open}, nil
}

func (c *postgresCore) ensureReady() error {
	if c == nil {
		return ErrInvalidInput
	}
	c.initOnce.Do(func() {
		db, err := c.openDB("postgres", c.dsn)
		if err != nil {
			c.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		statements := []string{
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					seq BIGSERIAL PRIMARY KEY,
					op_id TEXT NOT NULL UNIQUE,
					record TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`, pgQuoteIdentifier(postgresQueueTable)),
			fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					collection TEXT NOT NULL,
					scope_id TEXT NOT NULL,
					snapshot TEXT NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (collection, scope_id)
				)`, pgQuoteIdentifier(postgresMirrorTable)),
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

func (c *postgresCore) close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// PostgresQueueStore keeps the operation spool in Postgres for household-hub
// deployments where several devices share one durable queue.
type PostgresQueueStore struct {
	core     *postgresCore
	capacity int
	logger   Logger
}

func NewPostgresQueueStore(dsn string, capacity int, logger Logger) (QueueStore, error) {
	core, err := newPostgresCore(dsn)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &PostgresQueueStore{core: core, capacity: capacity, logger: logger}, nil
}

func (s *PostgresQueueStore) Add(ctx context.Context, op SyncOperation) error {
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

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", pgQueueLockKey(postgresQueueTable)); err != nil {
		return err
	}
	var depth int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s", pgQuoteIdentifier(postgresQueueTable))
	if err := tx.QueryRowContext(ctx, countQuery).Scan(&depth); err != nil {
		return err
	}
	if depth >= s.capacity {
		return ErrQueueFull
	}
	insertQuery := fmt.Sprintf("INSERT INTO %s (op_id, record) VALUES ($1, $2)", pgQuoteIdentifier(postgresQueueTable))
	if _, err := tx.ExecContext(ctx, insertQuery, op.ID, string(raw)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *PostgresQueueStore) GetAll(ctx context.Context) ([]SyncOperation, error) {
	if err := s.core.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT record FROM %s ORDER BY seq ASC", pgQuoteIdentifier(postgresQueueTable))
	rows, err := s.core.db.QueryContext(ctx, query)
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

func (s *PostgresQueueStore) Update(ctx context.Context, op SyncOperation) error {
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
	query := fmt.Sprintf("UPDATE %s SET record = $1 WHERE op_id = $2", pgQuoteIdentifier(postgresQueueTable))
	result, err := s.core.db.ExecContext(ctx, query, string(raw), op.ID)
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

func (s *PostgresQueueStore) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}
	if err := s.core.ensureReady(); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE op_id = $1", pgQuoteIdentifier(postgresQueueTable))
	_, err := s.core.db.ExecContext(ctx, query, id)
	return err
}

func (s *PostgresQueueStore) Depth() int {
	if err := s.core.ensureReady(); err != nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", pgQuoteIdentifier(postgresQueueTable))
	var depth int
	if err := s.core.db.QueryRowContext(ctx, query).Scan(&depth); err != nil {
		return 0
	}
	return depth
}

func (s *PostgresQueueStore) Capacity() int {
	return s.capacity
}

func (s *PostgresQueueStore) Close() error {
	return s.core.close()
}

func (s *PostgresQueueStore) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

type PostgresMirrorStore struct {
	core *postgresCore
}

func NewPostgresMirrorStore(dsn string) (MirrorStore, error) {
	core, err := newPostgresCore(dsn)
	if err != nil {
		return nil, err
	}
	return &PostgresMirrorStore{core: core}, nil
}

func (s *PostgresMirrorStore) Load(ctx context.Context, collection, scopeID string) ([]Record, error) {
	collection = normalizeCollection(collection)
	scopeID = strings.TrimSpace(scopeID)
	if collection == "" || scopeID == "" {
		return nil, ErrInvalidInput
	}
	if err := s.core.ensureReady(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT snapshot FROM %s WHERE collection = $1 AND scope_id = $2", pgQuoteIdentifier(postgresMirrorTable))
	var snapshot string
	err := s.core.db.QueryRowContext(ctx, query, collection, scopeID).Scan(&snapshot)
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

func (s *PostgresMirrorStore) Save(ctx context.Context, collection, scopeID string, records []Record) error {
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
	query := fmt.Sprintf(`
		INSERT INTO %s (collection, scope_id, snapshot, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, scope_id)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, pgQuoteIdentifier(postgresMirrorTable))
	_, err = s.core.db.ExecContext(ctx, query, collection, scopeID, string(snapshot))
	return err
}

func (s *PostgresMirrorStore) Close() error {
	return s.core.close()
}

func pgQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func pgQueueLockKey(tableName string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(strings.TrimSpace(tableName)))
	return int64(hasher.Sum64())
}
