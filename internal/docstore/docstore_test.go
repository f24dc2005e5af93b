package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/record"
)

// setupTestStore opens a store in a fresh temporary directory.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func todo(id, user string) record.Record {
	return record.Record{
		"id":        id,
		"userId":    user,
		"title":     "todo " + id,
		"createdAt": "2024-01-01T00:00:00Z",
		"updatedAt": "2024-01-01T00:00:00Z",
	}
}

func TestCreate_ThenGetByID(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	in := todo("t1", "u1")
	_, err := s.Create(ctx, "todos", in)
	require.NoError(t, err)

	got, err := s.GetByID(ctx, "todos", "t1")
	require.NoError(t, err)

	want := in.Clone()
	want["isDeleted"] = false
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestCreate_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.Create(ctx, "todos", record.Record{"title": "no id"})
	assert.ErrorIs(t, err, record.ErrInvalid)

	_, err = s.Create(ctx, "todos", todo("t1", "u1"))
	require.NoError(t, err)
	_, err = s.Create(ctx, "todos", todo("t1", "u2"))
	assert.ErrorIs(t, err, record.ErrInvalid, "duplicate id must be rejected")

	_, err = s.Create(ctx, "../escape", todo("t2", "u1"))
	assert.ErrorIs(t, err, record.ErrInvalid)
}

func TestGetAll_LazilyCreatesTable(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	rows, err := s.GetAll(ctx, "categories")
	require.NoError(t, err)
	assert.Empty(t, rows)

	data, err := os.ReadFile(s.Path("categories"))
	require.NoError(t, err, "table file should exist after first read")
	assert.JSONEq(t, "[]", string(data))
}

func TestGetAll_EmptyFileIsEmptyTable(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	require.NoError(t, os.WriteFile(s.Path("todos"), nil, 0644))

	rows, err := s.GetAll(ctx, "todos")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGetAll_MalformedFile(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	require.NoError(t, os.WriteFile(s.Path("todos"), []byte(`{"not": "a list"`), 0644))

	_, err := s.GetAll(ctx, "todos")
	assert.ErrorIs(t, err, record.ErrSerialization)

	require.NoError(t, os.WriteFile(s.Path("todos"), []byte(`[1, 2]`), 0644))
	_, err = s.GetAll(ctx, "todos")
	assert.ErrorIs(t, err, record.ErrSerialization)
}

func TestUpdate_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	_, err := s.Create(ctx, "todos", todo("t1", "u1"))
	require.NoError(t, err)

	patch := record.Record{"title": "renamed", "updatedAt": "2024-02-01T00:00:00Z"}
	once, err := s.Update(ctx, "todos", "t1", patch)
	require.NoError(t, err)
	twice, err := s.Update(ctx, "todos", "t1", patch)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, "renamed", twice.String("title"))
	assert.Equal(t, "u1", twice.String("userId"), "unpatched fields survive")
}

func TestUpdate_CannotChangeID(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	_, err := s.Create(ctx, "todos", todo("t1", "u1"))
	require.NoError(t, err)

	got, err := s.Update(ctx, "todos", "t1", record.Record{"id": "t9"})
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID())
}

func TestUpdate_NotFound(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.Update(ctx, "todos", "missing", record.Record{"title": "x"})
	assert.ErrorIs(t, err, record.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "todos", "missing"), record.ErrNotFound)
	assert.ErrorIs(t, s.HardDelete(ctx, "todos", "missing"), record.ErrNotFound)
}

func TestSoftDelete(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	_, err := s.Create(ctx, "todos", todo("t1", "u1"))
	require.NoError(t, err)
	_, err = s.Create(ctx, "todos", todo("t2", "u1"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "todos", "t1"))

	live, err := s.GetAllByField(ctx, "todos", record.Filter{})
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "t2", live[0].ID())

	direct, err := s.GetByID(ctx, "todos", "t1")
	require.NoError(t, err)
	assert.True(t, direct.IsDeleted())

	byField, err := s.GetByField(ctx, "todos", record.ByID("t1"))
	require.NoError(t, err)
	assert.True(t, byField.IsDeleted())

	require.NoError(t, s.HardDelete(ctx, "todos", "t1"))
	_, err = s.GetByID(ctx, "todos", "t1")
	assert.ErrorIs(t, err, record.ErrNotFound)
	live, err = s.GetAllByField(ctx, "todos", record.Filter{}.IncludingDeleted())
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestGetAllByField_Filters(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	seed := []record.Record{
		{"id": "a", "userId": "u1", "tags": []any{"home"}},
		{"id": "b", "userId": "u2", "tags": []any{"work", "urgent"}},
		{"id": "c", "userId": "u1", "tags": []any{"urgent"}},
	}
	for _, rec := range seed {
		_, err := s.Create(ctx, "todos", rec)
		require.NoError(t, err)
	}

	ids := func(rows []record.Record) []string {
		var out []string
		for _, r := range rows {
			out = append(out, r.ID())
		}
		return out
	}

	rows, err := s.GetAllByField(ctx, "todos", record.Filter{"userId": "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(rows))

	rows, err = s.GetAllByField(ctx, "todos", record.Filter{"tags": record.In("urgent")})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(rows))

	rows, err = s.GetAllByField(ctx, "todos", record.Filter{"id": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(rows))

	_, err = s.GetByField(ctx, "todos", record.Filter{"userId": "nobody"})
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestUpdateAll_MergesAndAppends(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	existing := todo("t1", "u1")
	existing["_id"] = "local-identity"
	_, err := s.Create(ctx, "todos", existing)
	require.NoError(t, err)

	err = s.UpdateAll(ctx, "todos", []record.Record{
		{"id": "t1", "_id": "remote-identity", "title": "merged"},
		{"id": "t2", "userId": "u1", "title": "appended"},
	})
	require.NoError(t, err)

	t1, err := s.GetByID(ctx, "todos", "t1")
	require.NoError(t, err)
	assert.Equal(t, "merged", t1.String("title"))
	assert.Equal(t, "local-identity", t1.String("_id"), "identity field is never overwritten")
	assert.Equal(t, "u1", t1.String("userId"))

	t2, err := s.GetByID(ctx, "todos", "t2")
	require.NoError(t, err)
	assert.Equal(t, false, t2["isDeleted"])
}

func TestWrite_CrashBeforeRenameKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	_, err := s.Create(ctx, "todos", todo("t1", "u1"))
	require.NoError(t, err)

	before, err := os.ReadFile(s.Path("todos"))
	require.NoError(t, err)

	crash := errors.New("simulated crash")
	s.beforeRename = func(tmpPath string) error {
		_, statErr := os.Stat(tmpPath)
		assert.NoError(t, statErr, "temp file should be fully written before rename")
		return crash
	}

	_, err = s.Update(ctx, "todos", "t1", record.Record{"title": "lost"})
	require.ErrorIs(t, err, crash)
	assert.ErrorIs(t, err, record.ErrIO)

	after, err := os.ReadFile(s.Path("todos"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	leftovers, err := filepath.Glob(filepath.Join(s.Dir(), ".todos.json.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp file must be discarded")

	s.beforeRename = nil
	got, err := s.GetByID(ctx, "todos", "t1")
	require.NoError(t, err)
	assert.Equal(t, "todo t1", got.String("title"))
}

func TestConcurrentUpdates_NoLostWrites(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(ctx, "todos", todo(fmt.Sprintf("t%02d", i), "u1"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rows, err := s.GetAll(ctx, "todos")
	require.NoError(t, err)
	assert.Len(t, rows, writers)
}

func TestTables(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	_, err := s.Create(ctx, "todos", todo("t1", "u1"))
	require.NoError(t, err)
	_, err = s.GetAll(ctx, "tasks")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".todos.json.tmp-123"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), nil, 0644))

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tasks", "todos"}, tables)
}

func TestCanceledContext(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetAll(ctx, "todos")
	assert.ErrorIs(t, err, context.Canceled)
}
