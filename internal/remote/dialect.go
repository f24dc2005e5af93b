package remote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/docsync/docsync/internal/record"
)

// dialect isolates the SQL differences between the supported engines.
//
// Filter predicates produced here are coarse: they may admit rows the exact
// record.Filter would reject, never the reverse. Every streamed row is
// rechecked client-side.
type dialect interface {
	name() string
	driver() string
	// bind returns the placeholder for the n-th (1-based) argument.
	bind(n int) string
	createTable(table string) string
	orderBy() string
	lockSuffix() string
	insert(table string) string
	update(table string) string
	// listTables selects the tables shaped like a collection (id, doc).
	listTables() string

	// fieldArg is the argument bound for a field reference in a predicate.
	fieldArg(field string) any
	eq(field, value string) string
	oneOf(field, list string) string
	containsAny(field, list string) string

	// classify maps a driver error to a record error kind.
	classify(err error) record.Kind
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// postgres stores documents as JSONB and filters with containment.
type postgres struct{}

func (postgres) name() string      { return "postgres" }
func (postgres) driver() string    { return "pgx" }
func (postgres) bind(n int) string { return fmt.Sprintf("$%d", n) }

func (postgres) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		doc JSONB NOT NULL
	)`, quoteIdent(table))
}

func (postgres) orderBy() string    { return "seq" }
func (postgres) lockSuffix() string { return " FOR UPDATE" }

func (postgres) insert(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO NOTHING`, quoteIdent(table))
}

func (postgres) update(table string) string {
	return fmt.Sprintf(`UPDATE %s SET doc = $2::jsonb WHERE id = $1`, quoteIdent(table))
}

func (postgres) listTables() string {
	return `SELECT t.table_name FROM information_schema.tables t
		WHERE t.table_schema = current_schema() AND t.table_type = 'BASE TABLE'
		AND (SELECT count(*) FROM information_schema.columns c
			WHERE c.table_schema = t.table_schema AND c.table_name = t.table_name
			AND c.column_name IN ('id', 'doc')) = 2
		ORDER BY t.table_name`
}

func (postgres) fieldArg(field string) any { return field }

func (postgres) eq(field, value string) string {
	return fmt.Sprintf("(doc -> %s::text) = %s::jsonb", field, value)
}

func (postgres) oneOf(field, list string) string {
	// A JSONB array contains a primitive equal to one of its elements.
	return fmt.Sprintf("%s::jsonb @> (doc -> %s::text)", list, field)
}

func (postgres) containsAny(field, list string) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_array_elements(%s::jsonb) AS v(elem) WHERE (doc -> %s::text) @> v.elem)", list, field)
}

func (postgres) classify(err error) record.Kind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "22") {
		// Class 22: data exception (invalid JSON text and friends).
		return record.KindSerialization
	}
	return record.KindBackend
}

// sqlite stores documents as JSON text and filters with the json1 functions.
type sqlite struct{}

func (sqlite) name() string    { return "sqlite" }
func (sqlite) driver() string  { return "sqlite3" }
func (sqlite) bind(int) string { return "?" }

func (sqlite) orderBy() string    { return "rowid" }
func (sqlite) lockSuffix() string { return "" }

func (sqlite) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL
	)`, quoteIdent(table))
}

func (sqlite) insert(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`, quoteIdent(table))
}

func (sqlite) update(table string) string {
	// Arguments are bound (id, doc) for both dialects.
	return fmt.Sprintf(`UPDATE %s SET doc = ?2 WHERE id = ?1`, quoteIdent(table))
}

func (sqlite) listTables() string {
	return `SELECT m.name FROM sqlite_master m
		WHERE m.type = 'table'
		AND (SELECT count(*) FROM pragma_table_info(m.name) WHERE name IN ('id', 'doc')) = 2
		ORDER BY m.name`
}

func (sqlite) fieldArg(field string) any { return `$."` + field + `"` }

func (sqlite) eq(field, value string) string {
	return fmt.Sprintf("json_extract(doc, %s) = json_extract(%s, '$')", field, value)
}

func (sqlite) oneOf(field, list string) string {
	return fmt.Sprintf("json_extract(doc, %s) IN (SELECT value FROM json_each(%s))", field, list)
}

func (sqlite) containsAny(field, list string) string {
	return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(doc, %s) AS a WHERE a.value IN (SELECT value FROM json_each(%s)))", field, list)
}

func (sqlite) classify(error) record.Kind { return record.KindBackend }
