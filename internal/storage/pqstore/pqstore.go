// Package pqstore is the Postgres-backed alternative to sqlitestore,
// grounded on the teacher's internal/jobs CockroachStore (connection
// pooling config, lib/pq driver registration, $N placeholders) generalized
// from a single fixed job schema to storage.Store's generic
// create/collection contract. dsn in every exported constructor doubles as
// the contract's db_path: a Store instance is scoped to one connection, one
// database.
package pqstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/cambriantech/continuum-core/internal/corerr"
	"github.com/cambriantech/continuum-core/internal/storage"
)

// Config holds connection pool tuning, mirroring the teacher's
// CockroachConfig.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns the teacher's defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 2 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Store is a storage.Store backed by a single Postgres connection pool.
// Per the contract's explicit-db_path rule, every call must pass the same
// dsn this Store was opened with; a mismatch is a client error.
type Store struct {
	db  *sql.DB
	dsn string
}

// Open connects to dsn (a Postgres DSN standing in for db_path) with cfg
// (DefaultConfig() if nil).
func Open(dsn string, cfg *Config) (*Store, error) {
	if dsn == "" {
		return nil, corerr.Client("pqstore.Open", "dsn is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, corerr.Storage("pqstore.Open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, corerr.Storage("pqstore.Open", err)
	}

	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) checkPath(dbPath string) error {
	if dbPath != s.dsn {
		return corerr.Client("pqstore", "db_path %q does not match the dsn this Store was opened with", dbPath)
	}
	return nil
}

func tableName(collection string) string {
	return "tbl_" + collection
}

// EnsureSchema creates collection's backing table if it does not exist,
// with a JSONB data column and an index per Column marked Indexed.
func (s *Store) EnsureSchema(ctx context.Context, dbPath, collection string, columns []storage.Column) error {
	if err := s.checkPath(dbPath); err != nil {
		return err
	}
	table := tableName(collection)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return corerr.Storage("pqstore.EnsureSchema", err)
	}
	for _, col := range columns {
		if !col.Indexed {
			continue
		}
		idxName := fmt.Sprintf("idx_%s_%s", table, col.Name)
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ((data->>'%s'))`, idxName, table, col.Name)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return corerr.Storage("pqstore.EnsureSchema", err)
		}
	}
	return nil
}

// Create inserts data under id (auto-generating one if empty) into
// collection.
func (s *Store) Create(ctx context.Context, dbPath, collection, id string, data map[string]any) (string, error) {
	if err := s.checkPath(dbPath); err != nil {
		return "", err
	}
	if err := s.EnsureSchema(ctx, dbPath, collection, nil); err != nil {
		return "", err
	}
	if id == "" {
		id = newID()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", corerr.Client("pqstore.Create", "data is not JSON-serializable: %v", err)
	}
	table := tableName(collection)
	stmt := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES ($1, $2)`, table)
	if _, err := s.db.ExecContext(ctx, stmt, id, string(payload)); err != nil {
		return "", corerr.Storage("pqstore.Create", err)
	}
	return id, nil
}

// Read returns the data stored under id in collection, or ErrNotFound.
func (s *Store) Read(ctx context.Context, dbPath, collection, id string) (map[string]any, error) {
	if err := s.checkPath(dbPath); err != nil {
		return nil, err
	}
	table := tableName(collection)
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, table), id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, corerr.Storage("pqstore.Read", err)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, corerr.Storage("pqstore.Read", err)
	}
	return data, nil
}

// Update overwrites the data stored under id in collection.
func (s *Store) Update(ctx context.Context, dbPath, collection, id string, data map[string]any) error {
	if err := s.checkPath(dbPath); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return corerr.Client("pqstore.Update", "data is not JSON-serializable: %v", err)
	}
	table := tableName(collection)
	stmt := fmt.Sprintf(`UPDATE %s SET data = $1, updated_at = now() WHERE id = $2`, table)
	res, err := s.db.ExecContext(ctx, stmt, string(payload), id)
	if err != nil {
		return corerr.Storage("pqstore.Update", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes id from collection.
func (s *Store) Delete(ctx context.Context, dbPath, collection, id string) error {
	if err := s.checkPath(dbPath); err != nil {
		return err
	}
	table := tableName(collection)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return corerr.Storage("pqstore.Delete", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Query returns the rows in collection matching q.Filter, sorted and
// paginated per q.Sort/q.Limit/q.Offset. Joins are not implemented by this
// reference adapter; a non-empty q.Joins returns a client error.
func (s *Store) Query(ctx context.Context, dbPath, collection string, q storage.Query) ([]storage.Record, error) {
	if err := s.checkPath(dbPath); err != nil {
		return nil, err
	}
	if len(q.Joins) > 0 {
		return nil, corerr.Client("pqstore.Query", "joins are not supported by this reference adapter")
	}
	table := tableName(collection)

	var where []string
	var args []any
	i := 1
	for field, want := range q.Filter {
		where = append(where, fmt.Sprintf(`data->>'%s' = $%d`, field, i))
		args = append(args, fmt.Sprintf("%v", want))
		i++
	}

	query := fmt.Sprintf(`SELECT id, data FROM %s`, table)
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if len(q.Sort) > 0 {
		var order []string
		for _, sf := range q.Sort {
			dir := "ASC"
			if sf.Desc {
				dir = "DESC"
			}
			order = append(order, fmt.Sprintf(`data->>'%s' %s`, sf.Field, dir))
		}
		query += ` ORDER BY ` + strings.Join(order, ", ")
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corerr.Storage("pqstore.Query", err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, corerr.Storage("pqstore.Query", err)
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, corerr.Storage("pqstore.Query", err)
		}
		out = append(out, storage.Record{ID: id, Data: data})
	}
	return out, rows.Err()
}

// Count returns the number of rows in collection matching filter.
func (s *Store) Count(ctx context.Context, dbPath, collection string, filter map[string]any) (int64, error) {
	if err := s.checkPath(dbPath); err != nil {
		return 0, err
	}
	table := tableName(collection)

	var where []string
	var args []any
	i := 1
	for field, want := range filter {
		where = append(where, fmt.Sprintf(`data->>'%s' = $%d`, field, i))
		args = append(args, fmt.Sprintf("%v", want))
		i++
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, corerr.Storage("pqstore.Count", err)
	}
	return count, nil
}

// Batch applies ops in order inside a single transaction.
func (s *Store) Batch(ctx context.Context, dbPath string, ops []storage.Operation) error {
	if err := s.checkPath(dbPath); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return corerr.Storage("pqstore.Batch", err)
	}
	for _, op := range ops {
		if err := s.applyOp(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return corerr.Storage("pqstore.Batch", err)
	}
	return nil
}

func (s *Store) applyOp(ctx context.Context, tx *sql.Tx, op storage.Operation) error {
	table := tableName(op.Collection)
	switch op.Kind {
	case storage.OpCreate:
		id := op.ID
		if id == "" {
			id = newID()
		}
		payload, err := json.Marshal(op.Data)
		if err != nil {
			return corerr.Client("pqstore.Batch", "data is not JSON-serializable: %v", err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, data) VALUES ($1, $2)`, table), id, string(payload))
		if err != nil {
			return corerr.Storage("pqstore.Batch", err)
		}
	case storage.OpUpdate:
		payload, err := json.Marshal(op.Data)
		if err != nil {
			return corerr.Client("pqstore.Batch", "data is not JSON-serializable: %v", err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET data = $1 WHERE id = $2`, table), string(payload), op.ID)
		if err != nil {
			return corerr.Storage("pqstore.Batch", err)
		}
	case storage.OpDelete:
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), op.ID); err != nil {
			return corerr.Storage("pqstore.Batch", err)
		}
	default:
		return corerr.Client("pqstore.Batch", "unknown operation kind %q", op.Kind)
	}
	return nil
}

// ListCollections returns every collection with a backing table.
func (s *Store) ListCollections(ctx context.Context, dbPath string) ([]string, error) {
	if err := s.checkPath(dbPath); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_name LIKE 'tbl_%'`)
	if err != nil {
		return nil, corerr.Storage("pqstore.ListCollections", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, corerr.Storage("pqstore.ListCollections", err)
		}
		out = append(out, strings.TrimPrefix(name, "tbl_"))
	}
	return out, rows.Err()
}

// Truncate removes every row from collection without dropping its table.
func (s *Store) Truncate(ctx context.Context, dbPath, collection string) error {
	if err := s.checkPath(dbPath); err != nil {
		return err
	}
	table := tableName(collection)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, table)); err != nil {
		return corerr.Storage("pqstore.Truncate", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func newID() string {
	return uuid.NewString()
}
