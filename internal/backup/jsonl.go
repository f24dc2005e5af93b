// Package backup dumps tables to a JSONL file and restores them.
//
// Each line of a dump holds one record:
//
//	{"table":"todos","record":{"id":"t1","userId":"u1",...}}
//
// Dumps read through store.Reader and restores write through store.Writer,
// so either backend can be the source or the destination.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/docsync/docsync/internal/record"
	"github.com/docsync/docsync/internal/store"
)

// Line is one JSONL entry.
type Line struct {
	Table  string        `json:"table"`
	Record record.Record `json:"record"`
}

// Result contains statistics about a dump or restore.
type Result struct {
	Tables  map[string]int `json:"tables"`
	Records int            `json:"records"`
	DryRun  bool           `json:"dryRun,omitempty"`
}

func newResult() *Result {
	return &Result{Tables: make(map[string]int)}
}

// TableNames returns the tables of the result in sorted order.
func (r *Result) TableNames() []string {
	names := make([]string, 0, len(r.Tables))
	for name := range r.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dump writes every row of tables, soft-deleted rows included, to path.
// When tables is empty and src implements store.Lister, all of its tables
// are dumped. The file is replaced atomically.
func Dump(ctx context.Context, src store.Reader, tables []string, path string) (*Result, error) {
	if len(tables) == 0 {
		lister, ok := src.(store.Lister)
		if !ok {
			return nil, fmt.Errorf("no tables given and the source cannot list its tables")
		}
		var err error
		if tables, err = lister.Tables(ctx); err != nil {
			return nil, fmt.Errorf("failed to list tables: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	result := newResult()
	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, table := range tables {
		rows, err := src.GetAll(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", table, err)
		}
		for _, row := range rows {
			if err := enc.Encode(Line{Table: table, Record: row}); err != nil {
				return nil, fmt.Errorf("failed to encode %s/%s: %w", table, row.ID(), err)
			}
		}
		result.Tables[table] = len(rows)
		result.Records += len(rows)
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write backup: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close backup: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	committed = true
	return result, nil
}

// RestoreOptions contains configuration for a restore.
type RestoreOptions struct {
	// Tables limits the restore to the named tables. Empty restores all.
	Tables []string
	// StripIdentity removes record.IdentityField before writing.
	StripIdentity bool
	// DryRun parses and counts without writing.
	DryRun bool
}

// ReadLines parses a JSONL dump.
func ReadLines(r io.Reader) ([]Line, error) {
	dec := json.NewDecoder(r)
	var lines []Line
	for lineNum := 1; ; lineNum++ {
		var line Line
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		if err := record.ValidateTable(line.Table); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if err := line.Record.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		lines = append(lines, line)
	}
}

// Restore upserts the records of the dump at path into dst, one UpdateAll
// per table, in the order tables first appear in the dump.
func Restore(ctx context.Context, dst store.Writer, path string, opts RestoreOptions) (*Result, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer file.Close()

	lines, err := ReadLines(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("failed to parse backup: %w", err)
	}

	wanted := make(map[string]bool, len(opts.Tables))
	for _, t := range opts.Tables {
		wanted[t] = true
	}

	var order []string
	batches := make(map[string][]record.Record)
	for _, line := range lines {
		if len(wanted) > 0 && !wanted[line.Table] {
			continue
		}
		if _, seen := batches[line.Table]; !seen {
			order = append(order, line.Table)
		}
		rec := line.Record
		if opts.StripIdentity {
			rec = rec.Without(record.IdentityField)
		}
		batches[line.Table] = append(batches[line.Table], rec)
	}

	result := newResult()
	result.DryRun = opts.DryRun
	for _, table := range order {
		batch := batches[table]
		if !opts.DryRun {
			if err := dst.UpdateAll(ctx, table, batch); err != nil {
				return result, fmt.Errorf("failed to restore %s: %w", table, err)
			}
		}
		result.Tables[table] = len(batch)
		result.Records += len(batch)
	}
	return result, nil
}
