// Package daemon keeps the remote store up to date with local edits.
//
// The daemon:
//  1. Optionally imports then exports the owner's records on startup
//  2. Watches the local data directory for table file changes
//  3. Exports the owner's records once changes settle (debounced)
//  4. Optionally imports from the remote store on a fixed interval
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/docsync/docsync/internal/docstore"
	dsync "github.com/docsync/docsync/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a table must stay quiet before an
	// export runs. This batches rapid writes together.
	DebounceInterval time.Duration

	// PullInterval is how often to import from the remote store.
	// Zero disables pulling.
	PullInterval time.Duration

	// InitialSync runs an import followed by an export before watching.
	InitialSync bool

	// Logger for daemon activity. Nil disables logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		PullInterval:     time.Minute,
		InitialSync:      true,
	}
}

// Daemon watches local table files and syncs one owner's records.
type Daemon struct {
	syncer  dsync.Syncer
	dataDir string
	owner   string
	config  *Config
	logger  *zap.Logger

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // table -> last change
	changeQueueMu sync.Mutex

	// runMu serializes sync runs started by the queue and the pull loop.
	runMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon syncing owner's records from dataDir.
//
// Use Start() to begin watching and syncing.
func New(syncer dsync.Syncer, dataDir, owner string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if dataDir == "" {
		return nil, fmt.Errorf("dataDir cannot be empty")
	}
	if owner == "" {
		return nil, fmt.Errorf("owner cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		return nil, fmt.Errorf("debounce interval must be positive")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:      syncer,
		dataDir:     dataDir,
		owner:       owner,
		config:      config,
		logger:      logger.Named("daemon").With(zap.String("owner", owner)),
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled, Stop is called, or startup fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("starting daemon", zap.String("dir", d.dataDir))

	if d.config.InitialSync {
		if err := d.PerformFullSync(ctx); err != nil {
			_ = d.Stop()
			return fmt.Errorf("initial sync failed: %w", err)
		}
	}

	if err := d.watcher.Add(d.dataDir); err != nil {
		_ = d.Stop()
		return fmt.Errorf("failed to watch data directory: %w", err)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()
	if d.config.PullInterval > 0 {
		d.wg.Add(1)
		go d.pullRemote()
	}

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")
		d.cancel()
		if err := d.watcher.Close(); err != nil {
			d.logger.Warn("error closing watcher", zap.Error(err))
		}
		d.wg.Wait()
		d.logger.Info("daemon stopped")
	})
	return nil
}

// PerformFullSync imports then exports the owner's records.
func (d *Daemon) PerformFullSync(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if _, err := d.syncer.Import(ctx, d.owner); err != nil {
		return err
	}
	if _, err := d.syncer.Export(ctx, d.owner); err != nil {
		return err
	}
	return nil
}

// Pending returns the number of tables with unexported changes.
func (d *Daemon) Pending() int {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	return len(d.changeQueue)
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Table files are replaced by rename, which shows up as Create.
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			table, ok := docstore.TableFromPath(event.Name)
			if !ok {
				continue
			}

			d.logger.Debug("file event", zap.Stringer("op", event.Op), zap.String("table", table))
			d.queueChange(table)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// queueChange records a change to table with debouncing.
func (d *Daemon) queueChange(table string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[table] = time.Now()
}

// processChangeQueue exports queued changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges exports once every queued table has settled.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	if len(d.changeQueue) == 0 {
		d.changeQueueMu.Unlock()
		return
	}
	now := time.Now()
	for _, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			d.changeQueueMu.Unlock()
			return
		}
	}
	tables := make([]string, 0, len(d.changeQueue))
	for table := range d.changeQueue {
		tables = append(tables, table)
	}
	d.changeQueue = make(map[string]time.Time)
	d.changeQueueMu.Unlock()

	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.logger.Info("exporting changes", zap.Strings("tables", tables))
	report, err := d.syncer.Export(d.ctx, d.owner)
	if err != nil {
		if d.ctx.Err() != nil {
			return
		}
		d.logger.Error("export failed", zap.Error(err))
		// Re-queue so the next tick retries.
		d.changeQueueMu.Lock()
		for _, table := range tables {
			if _, ok := d.changeQueue[table]; !ok {
				d.changeQueue[table] = now
			}
		}
		d.changeQueueMu.Unlock()
		return
	}
	d.logger.Debug("export complete", zap.Int("written", report.Written()))
}

// pullRemote periodically imports remote changes.
func (d *Daemon) pullRemote() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runMu.Lock()
			report, err := d.syncer.Import(d.ctx, d.owner)
			d.runMu.Unlock()
			if err != nil {
				if d.ctx.Err() == nil {
					d.logger.Error("import failed", zap.Error(err))
				}
				continue
			}
			d.logger.Debug("import complete", zap.Int("written", report.Written()))
		}
	}
}
