package main

import (
	"context"
	"fmt"
	"os"

	"github.com/docsync/docsync/internal/docstore"
	"github.com/docsync/docsync/internal/relation"
	"github.com/docsync/docsync/internal/remote"
	"github.com/docsync/docsync/internal/store"
	dsync "github.com/docsync/docsync/internal/sync"
)

// backends holds the two stores a command works against.
type backends struct {
	local  *docstore.Store
	remote *remote.Store
}

func openBackends(ctx context.Context) (*backends, error) {
	local, err := docstore.Open(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening data directory: %w", err)
	}
	rs, err := remote.Open(ctx, cfg.Remote.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("opening remote store: %w", err)
	}
	return &backends{local: local, remote: rs}, nil
}

func (b *backends) Close() {
	if err := b.remote.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing remote store: %v\n", err)
	}
}

// store returns the backend named "local" or "remote".
func (b *backends) store(name string) (store.Store, error) {
	switch name {
	case "local":
		return b.local, nil
	case "remote":
		return b.remote, nil
	}
	return nil, fmt.Errorf("unknown backend %q, want local or remote", name)
}

func (b *backends) readers() map[string]store.Reader {
	return map[string]store.Reader{"local": b.local, "remote": b.remote}
}

func (b *backends) syncer(observer dsync.Observer) (dsync.Syncer, error) {
	opts := cfg.SyncOptions()
	opts.Observer = observer
	return dsync.New(b.local, b.remote, opts, logger)
}

// loadPresets returns the built-in relation presets overlaid with the
// configured presets file.
func loadPresets() (relation.Presets, error) {
	presets := relation.DefaultPresets()
	if cfg.Relations == "" {
		return presets, nil
	}
	custom, err := relation.LoadPresets(cfg.Relations)
	if err != nil {
		return nil, err
	}
	for name, specs := range custom {
		presets[name] = specs
	}
	return presets, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	_ = logger.Sync()
	os.Exit(1)
}
