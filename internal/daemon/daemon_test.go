package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/docsync/docsync/internal/docstore"
	"github.com/docsync/docsync/internal/record"
	dsync "github.com/docsync/docsync/internal/sync"
)

// fakeSyncer records every run and signals exports on a channel.
type fakeSyncer struct {
	mu        sync.Mutex
	imports   int
	exports   int
	importErr error
	exported  chan struct{}
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{exported: make(chan struct{}, 16)}
}

func (f *fakeSyncer) Import(ctx context.Context, owner string) (*dsync.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imports++
	if f.importErr != nil {
		return nil, f.importErr
	}
	return &dsync.Report{Direction: dsync.DirectionImport, Owner: owner}, nil
}

func (f *fakeSyncer) Export(ctx context.Context, owner string) (*dsync.Report, error) {
	f.mu.Lock()
	f.exports++
	f.mu.Unlock()
	select {
	case f.exported <- struct{}{}:
	default:
	}
	return &dsync.Report{Direction: dsync.DirectionExport, Owner: owner}, nil
}

func (f *fakeSyncer) Plan() dsync.Plan { return dsync.DefaultPlan() }

func (f *fakeSyncer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imports, f.exports
}

func testConfig() *Config {
	return &Config{DebounceInterval: 20 * time.Millisecond}
}

// startDaemon runs d in the background and returns a stop function that
// waits for Start to return.
func startDaemon(t *testing.T, d *Daemon) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	// Wait for the watcher to be registered.
	require.Eventually(t, func() bool {
		return len(d.watcher.WatchList()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		syncer  dsync.Syncer
		dir     string
		owner   string
		config  *Config
		wantErr bool
	}{
		{"valid", newFakeSyncer(), dir, "u1", testConfig(), false},
		{"default config", newFakeSyncer(), dir, "u1", nil, false},
		{"nil syncer", nil, dir, "u1", nil, true},
		{"empty dir", newFakeSyncer(), "", "u1", nil, true},
		{"empty owner", newFakeSyncer(), dir, "", nil, true},
		{"zero debounce", newFakeSyncer(), dir, "u1", &Config{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.syncer, tt.dir, tt.owner, tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, d.Stop())
		})
	}
}

func TestDaemon_ExportsAfterTableChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	store, err := docstore.Open(dir, nil)
	require.NoError(t, err)

	fs := newFakeSyncer()
	d, err := New(fs, dir, "u1", testConfig())
	require.NoError(t, err)
	stop := startDaemon(t, d)
	defer stop()

	_, err = store.Create(context.Background(), "todos", record.Record{"id": "t1", "userId": "u1"})
	require.NoError(t, err)

	select {
	case <-fs.exported:
	case <-time.After(3 * time.Second):
		t.Fatal("expected an export after the table file changed")
	}
	assert.Equal(t, 0, d.Pending())
}

func TestDaemon_DebouncesBursts(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	store, err := docstore.Open(dir, nil)
	require.NoError(t, err)

	fs := newFakeSyncer()
	d, err := New(fs, dir, "u1", &Config{DebounceInterval: 200 * time.Millisecond})
	require.NoError(t, err)
	stop := startDaemon(t, d)
	defer stop()

	ctx := context.Background()
	_, err = store.Create(ctx, "todos", record.Record{"id": "t1"})
	require.NoError(t, err)
	_, err = store.Create(ctx, "tasks", record.Record{"id": "k1", "todoId": "t1"})
	require.NoError(t, err)
	_, err = store.Update(ctx, "todos", "t1", record.Record{"title": "x"})
	require.NoError(t, err)

	select {
	case <-fs.exported:
	case <-time.After(3 * time.Second):
		t.Fatal("expected an export")
	}
	time.Sleep(300 * time.Millisecond)
	_, exports := fs.counts()
	assert.Equal(t, 1, exports, "a burst of writes is exported once")
}

func TestDaemon_IgnoresNonTableFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	fs := newFakeSyncer()
	d, err := New(fs, dir, "u1", testConfig())
	require.NoError(t, err)
	stop := startDaemon(t, d)
	defer stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".todos.json.tmp-1"), []byte("[]"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))

	time.Sleep(150 * time.Millisecond)
	_, exports := fs.counts()
	assert.Zero(t, exports)
	assert.Zero(t, d.Pending())
}

func TestDaemon_InitialSync(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := newFakeSyncer()
	cfg := testConfig()
	cfg.InitialSync = true
	d, err := New(fs, t.TempDir(), "u1", cfg)
	require.NoError(t, err)
	stop := startDaemon(t, d)
	stop()

	imports, exports := fs.counts()
	assert.Equal(t, 1, imports)
	assert.Equal(t, 1, exports)
}

func TestDaemon_InitialSyncFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := newFakeSyncer()
	fs.importErr = errors.New("remote unreachable")
	cfg := testConfig()
	cfg.InitialSync = true
	d, err := New(fs, t.TempDir(), "u1", cfg)
	require.NoError(t, err)

	err = d.Start(context.Background())
	assert.ErrorContains(t, err, "remote unreachable")
}

func TestDaemon_PullsOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := newFakeSyncer()
	cfg := testConfig()
	cfg.PullInterval = 20 * time.Millisecond
	d, err := New(fs, t.TempDir(), "u1", cfg)
	require.NoError(t, err)
	stop := startDaemon(t, d)
	defer stop()

	require.Eventually(t, func() bool {
		imports, _ := fs.counts()
		return imports >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDaemon_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, err := New(newFakeSyncer(), t.TempDir(), "u1", testConfig())
	require.NoError(t, err)
	assert.NoError(t, d.Stop())
	assert.NoError(t, d.Stop())
}
