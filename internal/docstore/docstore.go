// Package docstore implements the local, file-backed document store.
//
// Each table lives in its own file, <dir>/<table>.json, holding a JSON array
// of records. A missing or empty file is an empty table; the file is created
// on first read.
//
// Every mutation rewrites the whole table: the new content goes to a temp
// file in the same directory, is fsynced, and is renamed over the table file.
// Readers therefore never observe a partially written table, and a failed
// write leaves the previous file untouched.
//
// Read-modify-write cycles are serialized per table inside one process.
// Separate processes writing the same directory are not coordinated.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/docsync/docsync/internal/record"
	"github.com/docsync/docsync/internal/store"
)

const fileExt = ".json"

var _ store.Store = (*Store)(nil)

// Store is a directory of JSON table files.
type Store struct {
	dir    string
	logger *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex

	// beforeRename runs after the temp file is written and before it
	// replaces the table file. Tests use it to simulate a crash.
	beforeRename func(tmpPath string) error
}

// Open returns a store rooted at dir, creating the directory if needed.
//
// If logger is nil, logging is disabled.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, record.Wrap(record.KindIO, "open", "", fmt.Errorf("failed to create data directory: %w", err))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:    dir,
		logger: logger.Named("docstore"),
		locks:  make(map[string]*sync.RWMutex),
	}, nil
}

// Dir returns the directory holding the table files.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing table.
func (s *Store) Path(table string) string {
	return filepath.Join(s.dir, table+fileExt)
}

// TableFromPath returns the table name for a table file path, or false when
// path is not a table file (temp files included).
func TableFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, fileExt) {
		return "", false
	}
	name := strings.TrimSuffix(base, fileExt)
	if record.ValidateTable(name) != nil {
		return "", false
	}
	return name, true
}

// Tables lists the tables present in the directory, sorted by name.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, record.Wrap(record.KindIO, "tables", "", err)
	}
	var tables []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name, ok := TableFromPath(entry.Name()); ok {
			tables = append(tables, name)
		}
	}
	sort.Strings(tables)
	return tables, nil
}

func (s *Store) lock(table string) *sync.RWMutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[table]
	if !ok {
		mu = &sync.RWMutex{}
		s.locks[table] = mu
	}
	return mu
}

// GetAll implements store.Reader.
func (s *Store) GetAll(ctx context.Context, table string) ([]record.Record, error) {
	if err := s.check(ctx, "get_all", table); err != nil {
		return nil, err
	}
	mu := s.lock(table)
	mu.RLock()
	rows, missing, err := s.readTable(table)
	mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if missing {
		if err := s.createEmpty(table); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// GetAllByField implements store.Reader.
func (s *Store) GetAllByField(ctx context.Context, table string, filter record.Filter) ([]record.Record, error) {
	rows, err := s.GetAll(ctx, table)
	if err != nil {
		return nil, err
	}
	filter = filter.WithDefaults()
	out := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		if filter.Match(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

// GetByField implements store.Reader.
func (s *Store) GetByField(ctx context.Context, table string, filter record.Filter) (record.Record, error) {
	rows, err := s.GetAll(ctx, table)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if filter.Match(row) {
			return row, nil
		}
	}
	return nil, record.NotFound("get", table, filter.String())
}

// GetByID implements store.Reader.
func (s *Store) GetByID(ctx context.Context, table, id string) (record.Record, error) {
	rows, err := s.GetAll(ctx, table)
	if err != nil {
		return nil, err
	}
	if i := indexOf(rows, id); i >= 0 {
		return rows[i], nil
	}
	return nil, record.NotFound("get", table, id)
}

// Create implements store.Writer.
func (s *Store) Create(ctx context.Context, table string, rec record.Record) (record.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, record.Invalidf("create", table, "%v", err)
	}
	row := rec.Clone()
	row.SetDefaults()

	err := s.mutate(ctx, "create", table, func(rows []record.Record) ([]record.Record, error) {
		if indexOf(rows, row.ID()) >= 0 {
			return nil, record.Invalidf("create", table, "id %q already exists", row.ID())
		}
		return append(rows, row), nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("created record", zap.String("table", table), zap.String("id", row.ID()))
	return row.Clone(), nil
}

// Update implements store.Writer.
func (s *Store) Update(ctx context.Context, table, id string, fields record.Record) (record.Record, error) {
	var merged record.Record
	err := s.mutate(ctx, "update", table, func(rows []record.Record) ([]record.Record, error) {
		i := indexOf(rows, id)
		if i < 0 {
			return nil, record.NotFound("update", table, id)
		}
		rows[i].Merge(fields, record.FieldID)
		merged = rows[i].Clone()
		return rows, nil
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
	err := s.mutate(ctx, "update_all", table, func(rows []record.Record) ([]record.Record, error) {
		index := make(map[string]int, len(rows))
		for i, row := range rows {
			if _, seen := index[row.ID()]; !seen {
				index[row.ID()] = i
			}
		}
		for _, rec := range recs {
			if i, ok := index[rec.ID()]; ok {
				rows[i].Merge(rec, record.IdentityField)
				merged++
				continue
			}
			row := rec.Clone()
			row.SetDefaults()
			index[row.ID()] = len(rows)
			rows = append(rows, row)
			appended++
		}
		return rows, nil
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
	err := s.mutate(ctx, "delete", table, func(rows []record.Record) ([]record.Record, error) {
		i := indexOf(rows, id)
		if i < 0 {
			return nil, record.NotFound("delete", table, id)
		}
		rows[i][record.FieldDeleted] = true
		return rows, nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("soft-deleted record", zap.String("table", table), zap.String("id", id))
	return nil
}

// HardDelete implements store.Writer.
func (s *Store) HardDelete(ctx context.Context, table, id string) error {
	err := s.mutate(ctx, "hard_delete", table, func(rows []record.Record) ([]record.Record, error) {
		i := indexOf(rows, id)
		if i < 0 {
			return nil, record.NotFound("hard_delete", table, id)
		}
		return append(rows[:i], rows[i+1:]...), nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("hard-deleted record", zap.String("table", table), zap.String("id", id))
	return nil
}

// mutate runs one read-modify-write cycle under the table's write lock.
func (s *Store) mutate(ctx context.Context, op, table string, fn func([]record.Record) ([]record.Record, error)) error {
	if err := s.check(ctx, op, table); err != nil {
		return err
	}
	mu := s.lock(table)
	mu.Lock()
	defer mu.Unlock()

	rows, _, err := s.readTable(table)
	if err != nil {
		return err
	}
	rows, err = fn(rows)
	if err != nil {
		return err
	}
	return s.writeTable(op, table, rows)
}

func (s *Store) check(ctx context.Context, op, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := record.ValidateTable(table); err != nil {
		return record.Invalidf(op, table, "%v", err)
	}
	return nil
}

// readTable loads a table. missing reports that the file does not exist.
func (s *Store) readTable(table string) (rows []record.Record, missing bool, err error) {
	data, err := os.ReadFile(s.Path(table))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []record.Record{}, true, nil
		}
		return nil, false, record.Wrap(record.KindIO, "read", table, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []record.Record{}, false, nil
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, false, record.Wrap(record.KindSerialization, "read", table, err)
	}
	for i, row := range rows {
		if row == nil {
			return nil, false, record.Wrap(record.KindSerialization, "read", table,
				fmt.Errorf("element %d is not an object", i))
		}
	}
	if rows == nil {
		rows = []record.Record{}
	}
	return rows, false, nil
}

// createEmpty lazily materializes an absent table file.
func (s *Store) createEmpty(table string) error {
	mu := s.lock(table)
	mu.Lock()
	defer mu.Unlock()
	if _, err := os.Stat(s.Path(table)); err == nil {
		return nil
	}
	s.logger.Debug("creating table file", zap.String("table", table))
	return s.writeTable("create_table", table, []record.Record{})
}

// writeTable atomically replaces the table file with rows.
func (s *Store) writeTable(op, table string, rows []record.Record) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return record.Wrap(record.KindSerialization, op, table, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+table+fileExt+".tmp-*")
	if err != nil {
		return record.Wrap(record.KindIO, op, table, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpPath := tmp.Name()
	discard := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return record.Wrap(record.KindIO, op, table, cause)
	}

	if _, err := tmp.Write(data); err != nil {
		return discard(fmt.Errorf("failed to write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return discard(fmt.Errorf("failed to sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return record.Wrap(record.KindIO, op, table, fmt.Errorf("failed to close temp file: %w", err))
	}
	if s.beforeRename != nil {
		if err := s.beforeRename(tmpPath); err != nil {
			_ = os.Remove(tmpPath)
			return record.Wrap(record.KindIO, op, table, err)
		}
	}
	if err := os.Rename(tmpPath, s.Path(table)); err != nil {
		_ = os.Remove(tmpPath)
		return record.Wrap(record.KindIO, op, table, fmt.Errorf("failed to rename temp file: %w", err))
	}
	return nil
}

func indexOf(rows []record.Record, id string) int {
	for i, row := range rows {
		if row.ID() == id {
			return i
		}
	}
	return -1
}
