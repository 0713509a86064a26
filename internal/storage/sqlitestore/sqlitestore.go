// Package sqlitestore is the reference storage.Store implementation used
// by local/dev deployments and tests: one SQLite database file per db_path,
// one table per collection, each row an id plus a JSON blob. Grounded on
// the teacher's internal/jobs store (sql.DB pooling, context-scoped
// queries) adapted from a single fixed job schema to the generic
// create/collection contract storage.Store names.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cambriantech/continuum-core/internal/corerr"
	"github.com/cambriantech/continuum-core/internal/storage"
)

// Store is a storage.Store backed by one *sql.DB per db_path.
type Store struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// New returns an empty Store; connections are opened lazily per db_path on
// first use.
func New() *Store {
	return &Store{dbs: make(map[string]*sql.DB)}
}

func (s *Store) conn(dbPath string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[dbPath]; ok {
		return db, nil
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, corerr.Storage("sqlitestore.conn", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite does not support concurrent writers on one handle
	s.dbs[dbPath] = db
	return db, nil
}

func tableName(collection string) string {
	return "tbl_" + collection
}

// EnsureSchema creates collection's backing table if it does not exist,
// plus an index per Column marked Indexed (expressed over
// json_extract(data, '$.<name>')).
func (s *Store) EnsureSchema(ctx context.Context, dbPath, collection string, columns []storage.Column) error {
	db, err := s.conn(dbPath)
	if err != nil {
		return err
	}
	table := tableName(collection)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ','now')),
		updated_at TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ','now'))
	)`, table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return corerr.Storage("sqlitestore.EnsureSchema", err)
	}
	for _, col := range columns {
		if !col.Indexed {
			continue
		}
		idxName := fmt.Sprintf("idx_%s_%s", table, col.Name)
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (json_extract(data, '$.%s'))`, idxName, table, col.Name)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return corerr.Storage("sqlitestore.EnsureSchema", err)
		}
	}
	return nil
}

// Create inserts data under id (auto-generating one if empty) into
// collection, creating the backing table on first use.
func (s *Store) Create(ctx context.Context, dbPath, collection, id string, data map[string]any) (string, error) {
	if err := s.EnsureSchema(ctx, dbPath, collection, nil); err != nil {
		return "", err
	}
	db, err := s.conn(dbPath)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = newID()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", corerr.Client("sqlitestore.Create", "data is not JSON-serializable: %v", err)
	}
	table := tableName(collection)
	stmt := fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)`, table)
	if _, err := db.ExecContext(ctx, stmt, id, string(payload)); err != nil {
		return "", corerr.Storage("sqlitestore.Create", err)
	}
	return id, nil
}

// Read returns the data stored under id in collection, or ErrNotFound.
func (s *Store) Read(ctx context.Context, dbPath, collection, id string) (map[string]any, error) {
	db, err := s.conn(dbPath)
	if err != nil {
		return nil, err
	}
	table := tableName(collection)
	row := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE id = ?`, table), id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, corerr.Storage("sqlitestore.Read", err)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, corerr.Storage("sqlitestore.Read", err)
	}
	return data, nil
}

// Update overwrites the data stored under id in collection.
func (s *Store) Update(ctx context.Context, dbPath, collection, id string, data map[string]any) error {
	db, err := s.conn(dbPath)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return corerr.Client("sqlitestore.Update", "data is not JSON-serializable: %v", err)
	}
	table := tableName(collection)
	stmt := fmt.Sprintf(`UPDATE %s SET data = ?, updated_at = strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ','now') WHERE id = ?`, table)
	res, err := db.ExecContext(ctx, stmt, string(payload), id)
	if err != nil {
		return corerr.Storage("sqlitestore.Update", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes id from collection.
func (s *Store) Delete(ctx context.Context, dbPath, collection, id string) error {
	db, err := s.conn(dbPath)
	if err != nil {
		return err
	}
	table := tableName(collection)
	res, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return corerr.Storage("sqlitestore.Delete", err)
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
	if len(q.Joins) > 0 {
		return nil, corerr.Client("sqlitestore.Query", "joins are not supported by this reference adapter")
	}
	db, err := s.conn(dbPath)
	if err != nil {
		return nil, err
	}
	table := tableName(collection)

	var where []string
	var args []any
	for field, want := range q.Filter {
		where = append(where, fmt.Sprintf(`json_extract(data, '$.%s') = ?`, field))
		args = append(args, want)
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
			order = append(order, fmt.Sprintf(`json_extract(data, '$.%s') %s`, sf.Field, dir))
		}
		query += ` ORDER BY ` + strings.Join(order, ", ")
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, q.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corerr.Storage("sqlitestore.Query", err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, corerr.Storage("sqlitestore.Query", err)
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, corerr.Storage("sqlitestore.Query", err)
		}
		out = append(out, storage.Record{ID: id, Data: data})
	}
	return out, rows.Err()
}

// Count returns the number of rows in collection matching filter.
func (s *Store) Count(ctx context.Context, dbPath, collection string, filter map[string]any) (int64, error) {
	db, err := s.conn(dbPath)
	if err != nil {
		return 0, err
	}
	table := tableName(collection)

	var where []string
	var args []any
	for field, want := range filter {
		where = append(where, fmt.Sprintf(`json_extract(data, '$.%s') = ?`, field))
		args = append(args, want)
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}

	var count int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, corerr.Storage("sqlitestore.Count", err)
	}
	return count, nil
}

// Batch applies ops in order inside a single transaction.
func (s *Store) Batch(ctx context.Context, dbPath string, ops []storage.Operation) error {
	db, err := s.conn(dbPath)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return corerr.Storage("sqlitestore.Batch", err)
	}
	for _, op := range ops {
		if err := s.applyOp(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return corerr.Storage("sqlitestore.Batch", err)
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
			return corerr.Client("sqlitestore.Batch", "data is not JSON-serializable: %v", err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, data) VALUES (?, ?)`, table), id, string(payload))
		if err != nil {
			return corerr.Storage("sqlitestore.Batch", err)
		}
	case storage.OpUpdate:
		payload, err := json.Marshal(op.Data)
		if err != nil {
			return corerr.Client("sqlitestore.Batch", "data is not JSON-serializable: %v", err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET data = ? WHERE id = ?`, table), string(payload), op.ID)
		if err != nil {
			return corerr.Storage("sqlitestore.Batch", err)
		}
	case storage.OpDelete:
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), op.ID); err != nil {
			return corerr.Storage("sqlitestore.Batch", err)
		}
	default:
		return corerr.Client("sqlitestore.Batch", "unknown operation kind %q", op.Kind)
	}
	return nil
}

// ListCollections returns every collection with a backing table in dbPath.
func (s *Store) ListCollections(ctx context.Context, dbPath string) ([]string, error) {
	db, err := s.conn(dbPath)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'tbl_%'`)
	if err != nil {
		return nil, corerr.Storage("sqlitestore.ListCollections", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, corerr.Storage("sqlitestore.ListCollections", err)
		}
		out = append(out, strings.TrimPrefix(name, "tbl_"))
	}
	return out, rows.Err()
}

// Truncate removes every row from collection without dropping its table.
func (s *Store) Truncate(ctx context.Context, dbPath, collection string) error {
	db, err := s.conn(dbPath)
	if err != nil {
		return err
	}
	table := tableName(collection)
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return corerr.Storage("sqlitestore.Truncate", err)
	}
	return nil
}

// Close closes every open connection this Store has opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for path, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, path)
	}
	return firstErr
}

func newID() string {
	return uuid.NewString()
}
