package relation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/docstore"
	"github.com/docsync/docsync/internal/record"
	"github.com/docsync/docsync/internal/store"
)

func setupTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	s, err := docstore.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s store.Writer, table string, rec record.Record) {
	t.Helper()
	_, err := s.Create(context.Background(), table, rec)
	require.NoError(t, err)
}

func idsOf(t *testing.T, v any) []string {
	t.Helper()
	rows, ok := v.([]record.Record)
	require.True(t, ok, "expected []record.Record, got %T", v)
	var out []string
	for _, r := range rows {
		out = append(out, r.ID())
	}
	return out
}

func TestResolve_TodoWithTasks(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	mustCreate(t, s, "todos", record.Record{"id": "t1", "userId": "u1", "updatedAt": "2024-01-01T00:00:00Z"})
	mustCreate(t, s, "tasks", record.Record{"id": "k1", "todoId": "t1", "updatedAt": "2024-01-01T00:00:00Z"})

	todo, err := s.GetByField(ctx, "todos", record.ByID("t1"))
	require.NoError(t, err)

	r := New(s, nil)
	got, err := r.Resolve(ctx, todo, []Spec{{Target: "tasks", Kind: OneToMany, LocalField: "todoId", ResultField: "tasks"}})
	require.NoError(t, err)

	want := record.Record{
		"id":        "t1",
		"userId":    "u1",
		"updatedAt": "2024-01-01T00:00:00Z",
		"isDeleted": false,
		"tasks": []record.Record{
			{"id": "k1", "todoId": "t1", "updatedAt": "2024-01-01T00:00:00Z", "isDeleted": false},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("resolved record mismatch (-want +got):\n%s", diff)
	}
	_, decorated := todo["tasks"]
	assert.False(t, decorated, "input record must not be modified")
}

func TestResolve_OneToMany(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	mustCreate(t, s, "parents", record.Record{"id": "p1"})
	mustCreate(t, s, "children", record.Record{"id": "c1", "parentId": "p1"})
	mustCreate(t, s, "children", record.Record{"id": "c2", "parentId": "p2"})
	mustCreate(t, s, "children", record.Record{"id": "c3", "parentId": "p1"})
	mustCreate(t, s, "children", record.Record{"id": "c4", "parentId": "p1"})
	require.NoError(t, s.Delete(ctx, "children", "c4"))

	got, err := New(s, nil).Get(ctx, "parents", "p1", []Spec{
		{Target: "children", Kind: OneToMany, LocalField: "parentId", ResultField: "children"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c3"}, idsOf(t, got["children"]))
}

func TestResolve_OneToOne(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	mustCreate(t, s, "profiles", record.Record{"id": "u1", "name": "Ada"})
	mustCreate(t, s, "todos", record.Record{"id": "t1", "userId": "u1"})
	mustCreate(t, s, "todos", record.Record{"id": "t2", "userId": "ghost"})

	r := New(s, nil)
	specs := DefaultPresets()["profile"]

	got, err := r.Get(ctx, "todos", "t1", specs)
	require.NoError(t, err)
	profile, ok := got["profile"].(record.Record)
	require.True(t, ok)
	assert.Equal(t, "Ada", profile.String("name"))

	got, err = r.Get(ctx, "todos", "t2", specs)
	require.NoError(t, err, "a broken relation is skipped, not reported")
	_, present := got["profile"]
	assert.False(t, present)
}

func TestResolve_ManyToOne(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	mustCreate(t, s, "categories", record.Record{"id": "c1", "name": "home"})
	mustCreate(t, s, "categories", record.Record{"id": "c2", "name": "work"})
	mustCreate(t, s, "todos", record.Record{"id": "t1", "categoryIds": []any{"c2", "missing", "c1"}})

	got, err := New(s, nil).Get(ctx, "todos", "t1", DefaultPresets()["categories"])
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c1"}, idsOf(t, got["categories"]), "missing ids are skipped, order kept")
}

func TestResolve_ManyToMany(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	mustCreate(t, s, "tags", record.Record{"id": "b1"})
	mustCreate(t, s, "posts", record.Record{"id": "a1", "tagIds": []any{"b1", "b2"}})
	mustCreate(t, s, "posts", record.Record{"id": "a2", "tagIds": []any{"b2"}})
	mustCreate(t, s, "posts", record.Record{"id": "a3", "tagIds": []any{"b1"}})

	got, err := New(s, nil).Get(ctx, "tags", "b1", []Spec{
		{Target: "posts", Kind: ManyToMany, LocalField: "tagIds", ResultField: "posts"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a3"}, idsOf(t, got["posts"]))
}

func TestResolve_Nested(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	mustCreate(t, s, "todos", record.Record{"id": "t1"})
	mustCreate(t, s, "tasks", record.Record{"id": "k1", "todoId": "t1"})
	mustCreate(t, s, "tasks", record.Record{"id": "k2", "todoId": "t1"})
	mustCreate(t, s, "subtasks", record.Record{"id": "s1", "taskId": "k1"})
	mustCreate(t, s, "subtasks", record.Record{"id": "s2", "taskId": "k1"})

	got, err := New(s, nil).Get(ctx, "todos", "t1", DefaultPresets()["todoTree"])
	require.NoError(t, err)

	tasks, ok := got["tasks"].([]record.Record)
	require.True(t, ok)
	require.Len(t, tasks, 2)
	byID := map[string]record.Record{}
	for _, task := range tasks {
		byID[task.ID()] = task
	}
	assert.ElementsMatch(t, []string{"s1", "s2"}, idsOf(t, byID["k1"]["subtasks"]))
	assert.Empty(t, idsOf(t, byID["k2"]["subtasks"]))
}

// failingReader fails every lookup on one table.
type failingReader struct {
	store.Reader
	table string
}

func (f failingReader) GetAllByField(ctx context.Context, table string, filter record.Filter) ([]record.Record, error) {
	if table == f.table {
		return nil, record.Wrap(record.KindBackend, "get_all", table, errors.New("connection refused"))
	}
	return f.Reader.GetAllByField(ctx, table, filter)
}

func TestResolve_FailureSkipsOnlyThatRelation(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	mustCreate(t, s, "todos", record.Record{"id": "t1", "userId": "u1"})
	mustCreate(t, s, "profiles", record.Record{"id": "u1"})

	r := New(failingReader{Reader: s, table: "tasks"}, nil)
	got, err := r.Get(ctx, "todos", "t1", []Spec{
		{Target: "tasks", Kind: OneToMany, LocalField: "todoId", ResultField: "tasks"},
		{Target: "profiles", Kind: OneToOne, LocalField: "userId", ResultField: "profile"},
	})
	require.NoError(t, err)
	assert.NotContains(t, got, "tasks")
	assert.Contains(t, got, "profile")
}

func TestGet_RootMissing(t *testing.T) {
	s := setupTestStore(t)
	_, err := New(s, nil).Get(context.Background(), "todos", "nope", nil)
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestResolve_CanceledContext(t *testing.T) {
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(s, nil).Resolve(ctx, record.Record{"id": "t1"}, DefaultPresets()["tasks"])
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveAll(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	mustCreate(t, s, "tasks", record.Record{"id": "k1", "todoId": "t1"})
	mustCreate(t, s, "tasks", record.Record{"id": "k2", "todoId": "t2"})

	out, err := New(s, nil).ResolveAll(ctx, []record.Record{{"id": "t1"}, {"id": "t2"}}, DefaultPresets()["tasks"])
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"k1"}, idsOf(t, out[0]["tasks"]))
	assert.Equal(t, []string{"k2"}, idsOf(t, out[1]["tasks"]))
}

func TestLoadPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
todoTree:
  - target: tasks
    kind: oneToMany
    localField: todoId
    resultField: tasks
    nested:
      - target: subtasks
        kind: OneToMany
        localField: taskId
        resultField: subtasks
tagged:
  - target: posts
    kind: manyToMany
    localField: tagIds
    resultField: posts
`), 0644))

	p, err := LoadPresets(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tagged", "todoTree"}, p.Names())

	tree, err := p.Lookup("todoTree")
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultPresets()["todoTree"], tree); diff != "" {
		t.Errorf("preset mismatch (-want +got):\n%s", diff)
	}

	_, err = p.Lookup("nope")
	assert.Error(t, err)
}

func TestParsePresets_Rejects(t *testing.T) {
	tests := map[string]string{
		"unknown kind":  "p:\n  - {target: a, kind: sideways, localField: x, resultField: y}\n",
		"missing field": "p:\n  - {target: a, kind: oneToOne, resultField: y}\n",
		"unknown key":   "p:\n  - {target: a, kind: oneToOne, localField: x, resultField: y, extra: 1}\n",
		"nested bad":    "p:\n  - {target: a, kind: oneToOne, localField: x, resultField: y, nested: [{target: b}]}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePresets([]byte(doc))
			assert.Error(t, err)
		})
	}

	p, err := ParsePresets(nil)
	require.NoError(t, err)
	assert.Empty(t, p)
}
