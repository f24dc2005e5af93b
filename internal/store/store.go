// Package store defines the capability interface shared by every docsync
// backend. The relation resolver and the sync engine are written against it,
// so the local file store and the remote SQL store are interchangeable.
package store

import (
	"context"

	"github.com/docsync/docsync/internal/record"
)

// Reader is the read half of a store.
type Reader interface {
	// GetAll returns every row of table, including soft-deleted rows.
	GetAll(ctx context.Context, table string) ([]record.Record, error)

	// GetAllByField returns the rows matching filter. isDeleted=false is
	// injected unless the filter already constrains isDeleted; rows without
	// an isDeleted field count as not deleted. Any field name is accepted.
	GetAllByField(ctx context.Context, table string, filter record.Filter) ([]record.Record, error)

	// GetByField returns the first row matching filter, without the
	// isDeleted default. Fails with record.ErrNotFound.
	GetByField(ctx context.Context, table string, filter record.Filter) (record.Record, error)

	// GetByID is the direct lookup by id; soft-deleted rows are returned.
	GetByID(ctx context.Context, table, id string) (record.Record, error)
}

// Writer is the mutating half of a store.
type Writer interface {
	// Create inserts rec. The record must carry a string id that is not
	// already present in table.
	Create(ctx context.Context, table string, rec record.Record) (record.Record, error)

	// Update merges fields into the row identified by id and returns the
	// merged row. Fails with record.ErrNotFound.
	Update(ctx context.Context, table, id string, fields record.Record) (record.Record, error)

	// UpdateAll upserts recs: rows sharing an id are merged field by field
	// (never touching record.IdentityField), new ids are appended.
	UpdateAll(ctx context.Context, table string, recs []record.Record) error

	// Delete soft-deletes the row (isDeleted=true).
	Delete(ctx context.Context, table, id string) error

	// HardDelete removes the row permanently. Administrative use only.
	HardDelete(ctx context.Context, table, id string) error
}

// Store is the full capability set of a backend.
type Store interface {
	Reader
	Writer
}

// Lister is implemented by stores that can enumerate their tables.
type Lister interface {
	Tables(ctx context.Context) ([]string, error)
}
