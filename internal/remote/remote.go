// Package remote implements the networked document store.
//
// Each table is a SQL table of (id, doc) rows where doc is the JSON record.
// Two engines are supported behind the same store.Store contract:
//
//   - PostgreSQL (DSN postgres://... or postgresql://...), documents in JSONB,
//     accessed through pgx's database/sql driver
//   - SQLite (DSN file:..., :memory:, or a plain path), documents as JSON text,
//     accessed through the ncruces/go-sqlite3 driver; handy for development
//     and tests
//
// Filters are evaluated server-side and results are streamed row by row.
// The remote store owns the record.IdentityField: it assigns a ULID on
// insert when a record arrives without one and never overwrites it on merge.
package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/docsync/docsync/internal/record"
	"github.com/docsync/docsync/internal/store"
)

var _ store.Store = (*Store)(nil)

// errStop ends a Stream early without reporting an error.
var errStop = errors.New("stop streaming")

// Store is a remote document collection.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger

	tablesMu sync.Mutex
	tables   map[string]bool
}

// Open connects to the database named by dsn and verifies the connection.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	rs, err := remote.Open(ctx, "postgres://app:secret@db:5432/app", logger)
//	if err != nil {
//	    return err
//	}
//	defer rs.Close()
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d, connStr, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver(), connStr)
	if err != nil {
		return nil, record.Wrap(record.KindBackend, "open", "", fmt.Errorf("failed to open database: %w", err))
	}

	switch d.(type) {
	case sqlite:
		if strings.Contains(connStr, ":memory:") {
			// Every connection to :memory: is a separate database.
			db.SetMaxOpenConns(1)
		}
	default:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, record.Wrap(record.KindBackend, "open", "", fmt.Errorf("failed to ping database: %w", err))
	}

	s := &Store{
		db:      db,
		dialect: d,
		logger:  logger.Named("remote"),
		tables:  make(map[string]bool),
	}
	s.logger.Debug("connected", zap.String("dialect", d.name()))
	return s, nil
}

func parseDSN(dsn string) (dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, "", record.Invalidf("open", "", "remote DSN cannot be empty")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres{}, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqliteConn(strings.TrimPrefix(dsn, "sqlite://"))
	default:
		return sqliteConn(dsn)
	}
}

func sqliteConn(path string) (dialect, string, error) {
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return sqlite{}, "file::memory:?" + sqlitePragmas(false), nil
	}
	path = strings.TrimPrefix(path, "file:")
	file, query, _ := strings.Cut(path, "?")
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, "", record.Wrap(record.KindIO, "open", "", fmt.Errorf("failed to create database directory: %w", err))
	}
	params := sqlitePragmas(true)
	if query != "" {
		params = query + "&" + params
	}
	return sqlite{}, "file:" + file + "?" + params, nil
}

// sqlitePragmas are applied by the driver to every pooled connection.
// Transactions take the write lock up front so busy_timeout applies.
func sqlitePragmas(wal bool) string {
	p := "_pragma=busy_timeout(5000)&_txlock=immediate"
	if wal {
		p += "&_pragma=journal_mode(wal)"
	}
	return p
}

// Dialect returns the engine name ("postgres" or "sqlite").
func (s *Store) Dialect() string {
	return s.dialect.name()
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

// Tables lists the collections present in the database. Tables without the
// (id, doc) columns of a collection are ignored.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.listTables())
	if err != nil {
		return nil, s.wrap("tables", "", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, s.wrap("tables", "", err)
		}
		if record.ValidateTable(name) == nil {
			tables = append(tables, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("tables", "", err)
	}
	return tables, nil
}

// ensureTable creates the collection's table on first use.
func (s *Store) ensureTable(ctx context.Context, op, table string) error {
	if err := record.ValidateTable(table); err != nil {
		return record.Invalidf(op, table, "%v", err)
	}
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	if s.tables[table] {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.createTable(table)); err != nil {
		return s.wrap(op, table, fmt.Errorf("failed to create table: %w", err))
	}
	s.tables[table] = true
	return nil
}

// Stream runs filter server-side and calls fn for every matching record, in
// insertion order. Unlike GetAllByField no isDeleted default is applied.
// Returning an error from fn stops the stream and returns that error.
func (s *Store) Stream(ctx context.Context, table string, filter record.Filter, fn func(record.Record) error) error {
	if err := s.ensureTable(ctx, "stream", table); err != nil {
		return err
	}
	where, args, err := s.buildWhere(filter)
	if err != nil {
		return record.Invalidf("stream", table, "%v", err)
	}

	query := fmt.Sprintf("SELECT doc FROM %s", quoteIdent(table))
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + s.dialect.orderBy()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return s.wrap("stream", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return s.wrap("stream", table, err)
		}
		rec, err := record.Decode(doc)
		if err != nil {
			return record.Wrap(record.KindSerialization, "stream", table, err)
		}
		if !filter.Match(rec) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return s.wrap("stream", table, err)
	}
	return nil
}

// buildWhere translates filter into a coarse SQL predicate.
func (s *Store) buildWhere(filter record.Filter) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	next := func(v any) string {
		args = append(args, v)
		return s.dialect.bind(len(args))
	}

	for _, field := range filter.Fields() {
		value := filter[field]
		if !pathSafe(field) || admitsDefault(field, value) {
			// Left to the client-side check.
			continue
		}
		cond, operands := record.Classify(value)

		switch cond {
		case record.CondContainsAny, record.CondOneOf:
			if cond == record.CondOneOf && hasNull(operands) {
				// SQL NULL never compares equal; left to the client-side check.
				continue
			}
			list, err := json.Marshal(operands)
			if err != nil {
				return "", nil, fmt.Errorf("filter %q: %w", field, err)
			}
			f := next(s.dialect.fieldArg(field))
			l := next(string(list))
			if cond == record.CondContainsAny {
				clauses = append(clauses, s.dialect.containsAny(f, l))
			} else {
				clauses = append(clauses, s.dialect.oneOf(f, l))
			}
		default:
			if value == nil {
				// Null equality is left to the client-side check.
				continue
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return "", nil, fmt.Errorf("filter %q: %w", field, err)
			}
			f := next(s.dialect.fieldArg(field))
			v := next(string(encoded))
			clauses = append(clauses, s.dialect.eq(f, v))
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

// pathSafe reports whether field can be embedded in a JSON path as a quoted
// label.
func pathSafe(field string) bool {
	return field != "" && !strings.ContainsAny(field, `"\`)
}

// admitsDefault reports whether an isDeleted condition accepts records that
// lack the field, which read as not deleted.
func admitsDefault(field string, value any) bool {
	return field == record.FieldDeleted && record.Filter{field: value}.Match(record.Record{})
}

func hasNull(values []any) bool {
	for _, v := range values {
		if v == nil {
			return true
		}
	}
	return false
}

// GetAll implements store.Reader.
func (s *Store) GetAll(ctx context.Context, table string) ([]record.Record, error) {
	return s.collect(ctx, table, record.Filter{})
}

// GetAllByField implements store.Reader.
func (s *Store) GetAllByField(ctx context.Context, table string, filter record.Filter) ([]record.Record, error) {
	return s.collect(ctx, table, filter.WithDefaults())
}

func (s *Store) collect(ctx context.Context, table string, filter record.Filter) ([]record.Record, error) {
	out := []record.Record{}
	err := s.Stream(ctx, table, filter, func(rec record.Record) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByField implements store.Reader.
func (s *Store) GetByField(ctx context.Context, table string, filter record.Filter) (record.Record, error) {
	var found record.Record
	err := s.Stream(ctx, table, filter, func(rec record.Record) error {
		found = rec
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	if found == nil {
		return nil, record.NotFound("get", table, filter.String())
	}
	return found, nil
}

// GetByID implements store.Reader.
func (s *Store) GetByID(ctx context.Context, table, id string) (record.Record, error) {
	if err := s.ensureTable(ctx, "get", table); err != nil {
		return nil, err
	}
	return s.selectByID(ctx, s.db, "get", table, id, false)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) selectByID(ctx context.Context, q querier, op, table, id string, lock bool) (record.Record, error) {
	query := fmt.Sprintf("SELECT doc FROM %s WHERE id = %s", quoteIdent(table), s.dialect.bind(1))
	if lock {
		query += s.dialect.lockSuffix()
	}
	var doc []byte
	if err := q.QueryRowContext(ctx, query, id).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, record.NotFound(op, table, id)
		}
		return nil, s.wrap(op, table, err)
	}
	rec, err := record.Decode(doc)
	if err != nil {
		return nil, record.Wrap(record.KindSerialization, op, table, err)
	}
	return rec, nil
}

// Create implements store.Writer.
func (s *Store) Create(ctx context.Context, table string, rec record.Record) (record.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, record.Invalidf("create", table, "%v", err)
	}
	if err := s.ensureTable(ctx, "create", table); err != nil {
		return nil, err
	}
	row := rec.Clone()
	row.SetDefaults()
	if row.String(record.IdentityField) == "" {
		row[record.IdentityField] = record.NewID()
	}

	inserted, err := s.insert(ctx, s.db, "create", table, row)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, record.Invalidf("create", table, "id %q already exists", row.ID())
	}
	s.logger.Debug("created record", zap.String("table", table), zap.String("id", row.ID()))
	return row, nil
}

func (s *Store) insert(ctx context.Context, q querier, op, table string, row record.Record) (bool, error) {
	doc, err := json.Marshal(row)
	if err != nil {
		return false, record.Wrap(record.KindSerialization, op, table, err)
	}
	res, err := q.ExecContext(ctx, s.dialect.insert(table), row.ID(), string(doc))
	if err != nil {
		return false, s.wrap(op, table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap(op, table, err)
	}
	return n > 0, nil
}

func (s *Store) replace(ctx context.Context, q querier, op, table string, row record.Record) error {
	doc, err := json.Marshal(row)
	if err != nil {
		return record.Wrap(record.KindSerialization, op, table, err)
	}
	if _, err := q.ExecContext(ctx, s.dialect.update(table), row.ID(), string(doc)); err != nil {
		return s.wrap(op, table, err)
	}
	return nil
}

// Update implements store.Writer.
func (s *Store) Update(ctx context.Context, table, id string, fields record.Record) (record.Record, error) {
	var merged record.Record
	err := s.inTx(ctx, "update", table, func(tx *sql.Tx) error {
		row, err := s.selectByID(ctx, tx, "update", table, id, true)
		if err != nil {
			return err
		}
		row.Merge(fields, record.FieldID)
		if err := s.replace(ctx, tx, "update", table, row); err != nil {
			return err
		}
		merged = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("updated record", zap.String("table", table), zap.String("id", id))
	return merged, nil
}

// UpdateAll implements store.Writer.
func (s *Store) UpdateAll(ctx context.Context, table string, recs []record.Record) error {
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			return record.Invalidf("update_all", table, "%v", err)
		}
	}
	var merged, appended int
	err := s.inTx(ctx, "update_all", table, func(tx *sql.Tx) error {
		for _, rec := range recs {
			row, err := s.selectByID(ctx, tx, "update_all", table, rec.ID(), true)
			switch {
			case err == nil:
				row.Merge(rec, record.IdentityField)
				if row.String(record.IdentityField) == "" {
					row[record.IdentityField] = record.NewID()
				}
				if err := s.replace(ctx, tx, "update_all", table, row); err != nil {
					return err
				}
				merged++
			case errors.Is(err, record.ErrNotFound):
				row = rec.Clone()
				row.SetDefaults()
				if row.String(record.IdentityField) == "" {
					row[record.IdentityField] = record.NewID()
				}
				if _, err := s.insert(ctx, tx, "update_all", table, row); err != nil {
					return err
				}
				appended++
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("upserted records",
		zap.String("table", table), zap.Int("merged", merged), zap.Int("appended", appended))
	return nil
}

// Delete implements store.Writer.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	err := s.inTx(ctx, "delete", table, func(tx *sql.Tx) error {
		row, err := s.selectByID(ctx, tx, "delete", table, id, true)
		if err != nil {
			return err
		}
		row[record.FieldDeleted] = true
		return s.replace(ctx, tx, "delete", table, row)
	})
	if err != nil {
		return err
	}
	s.logger.Debug("soft-deleted record", zap.String("table", table), zap.String("id", id))
	return nil
}

// HardDelete implements store.Writer.
func (s *Store) HardDelete(ctx context.Context, table, id string) error {
	if err := s.ensureTable(ctx, "hard_delete", table); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = %s", quoteIdent(table), s.dialect.bind(1))
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return s.wrap("hard_delete", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap("hard_delete", table, err)
	}
	if n == 0 {
		return record.NotFound("hard_delete", table, id)
	}
	s.logger.Info("hard-deleted record", zap.String("table", table), zap.String("id", id))
	return nil
}

// inTx runs fn in a transaction, committing on success.
func (s *Store) inTx(ctx context.Context, op, table string, fn func(*sql.Tx) error) error {
	if err := s.ensureTable(ctx, op, table); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(op, table, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.wrap(op, table, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

func (s *Store) wrap(op, table string, err error) error {
	var typed *record.Error
	if errors.As(err, &typed) {
		return err
	}
	return record.Wrap(s.dialect.classify(err), op, table, err)
}
