package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docsync/docsync/internal/record"
	"github.com/docsync/docsync/internal/store"
)

// Options tune a Syncer. Zero values disable the corresponding hardening.
type Options struct {
	// Plan is the table order. Empty means DefaultPlan().
	Plan Plan
	// TableTimeout bounds each attempt at a table.
	TableTimeout time.Duration
	// Retries is the number of extra attempts after a retryable failure.
	Retries int
	// RetryBackoff is the wait before the first retry; it grows linearly.
	RetryBackoff time.Duration
	// Observer receives progress events.
	Observer Observer
}

// DefaultOptions returns the options used by the CLI when unconfigured.
func DefaultOptions() Options {
	return Options{
		Plan:         DefaultPlan(),
		TableTimeout: 30 * time.Second,
		Retries:      2,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// syncer implements the Syncer interface.
type syncer struct {
	local  store.Store
	remote store.Store
	opts   Options
	logger *zap.Logger
}

// New creates a Syncer between a local and a remote store.
//
// Example:
//
//	local, _ := docstore.Open("data", logger)
//	rs, _ := remote.Open(ctx, dsn, logger)
//	s, err := sync.New(local, rs, sync.DefaultOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	report, err := s.Import(ctx, "u1")
func New(local, remote store.Store, opts Options, logger *zap.Logger) (Syncer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Plan) == 0 {
		opts.Plan = DefaultPlan()
	}
	if err := opts.Plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync plan: %w", err)
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Observer == nil {
		opts.Observer = ObserverFunc(func(Event) {})
	}
	return &syncer{
		local:  local,
		remote: remote,
		opts:   opts,
		logger: logger.Named("sync"),
	}, nil
}

// Plan implements Syncer.Plan.
func (s *syncer) Plan() Plan {
	return append(Plan(nil), s.opts.Plan...)
}

// Import implements Syncer.Import.
func (s *syncer) Import(ctx context.Context, owner string) (*Report, error) {
	return s.run(ctx, DirectionImport, owner, s.remote, s.local)
}

// Export implements Syncer.Export.
func (s *syncer) Export(ctx context.Context, owner string) (*Report, error) {
	return s.run(ctx, DirectionExport, owner, s.local, s.remote)
}

// run walks the plan copying newer rows from src into dst.
func (s *syncer) run(ctx context.Context, dir Direction, owner string, src, dst store.Store) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Direction: dir,
		Owner:     owner,
		Tables:    []TableResult{},
		StartedAt: time.Now().UTC(),
	}
	if owner == "" {
		return report, record.Invalidf(string(dir), "", "owner id is required")
	}

	logger := s.logger.With(
		zap.String("run_id", report.RunID),
		zap.String("direction", string(dir)),
		zap.String("owner", owner))
	logger.Info("sync started", zap.Strings("tables", s.opts.Plan.Tables()))
	s.emit(report, EventStarted, nil, nil)

	// Source ids per table, for child steps.
	fetched := make(map[string][]any, len(s.opts.Plan))

	for _, step := range s.opts.Plan {
		var filter record.Filter
		if step.Parent == "" {
			filter = record.Filter{step.Field: owner}
		} else {
			filter = record.Filter{step.Field: fetched[step.Parent]}
		}

		result, ids, err := s.syncTable(ctx, step, filter, src, dst)
		if err != nil {
			report.FailedAt = step.Table
			report.FinishedAt = time.Now().UTC()
			logger.Error("sync aborted",
				zap.String("table", step.Table),
				zap.Strings("completed", completed(report)),
				zap.Error(err))
			s.emit(report, EventFailed, nil, err)
			return report, fmt.Errorf("%s of table %s failed: %w", dir, step.Table, err)
		}

		fetched[step.Table] = ids
		report.Tables = append(report.Tables, result)
		logger.Debug("table synced",
			zap.String("table", step.Table),
			zap.Int("fetched", result.Fetched),
			zap.Int("written", result.Written),
			zap.Int("attempts", result.Attempts))
		s.emit(report, EventTable, &result, nil)
	}

	report.FinishedAt = time.Now().UTC()
	logger.Info("sync complete",
		zap.Int("tables", len(report.Tables)),
		zap.Int("written", report.Written()),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	s.emit(report, EventFinished, nil, nil)
	return report, nil
}

// syncTable runs one step with the configured deadline and retry policy.
func (s *syncer) syncTable(ctx context.Context, step Step, filter record.Filter, src, dst store.Store) (TableResult, []any, error) {
	result := TableResult{Table: step.Table}
	start := time.Now()

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1
		fetchedN, written, ids, err := s.attempt(ctx, step.Table, filter, src, dst)
		if err == nil {
			result.Fetched = fetchedN
			result.Written = written
			result.Duration = time.Since(start)
			return result, ids, nil
		}
		if attempt >= s.opts.Retries || !record.IsRetryable(err) || ctx.Err() != nil {
			return result, nil, err
		}

		wait := s.opts.RetryBackoff * time.Duration(attempt+1)
		s.logger.Warn("retrying table",
			zap.String("table", step.Table),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return result, nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// attempt performs a single fetch-compare-write pass over one table.
func (s *syncer) attempt(ctx context.Context, table string, filter record.Filter, src, dst store.Store) (int, int, []any, error) {
	if s.opts.TableTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TableTimeout)
		defer cancel()
	}

	// A child step whose parent produced nothing has nothing to select.
	if values, isList := filter[filterField(filter)].([]any); isList && len(values) == 0 {
		return 0, 0, []any{}, nil
	}

	// Deleted rows are included so deletions propagate.
	rows, err := src.GetAllByField(ctx, table, filter.IncludingDeleted())
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to fetch source rows: %w", err)
	}

	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID())
	}
	if len(rows) == 0 {
		return 0, 0, ids, nil
	}

	existing, err := dst.GetAllByField(ctx, table, record.Filter{record.FieldID: ids}.IncludingDeleted())
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to fetch destination rows: %w", err)
	}
	byID := make(map[string]record.Record, len(existing))
	for _, row := range existing {
		byID[row.ID()] = row
	}

	winners := make([]record.Record, 0, len(rows))
	for _, row := range rows {
		current, ok := byID[row.ID()]
		if ok && !record.Newer(row, current) {
			continue
		}
		winners = append(winners, row.Without(record.IdentityField))
	}
	if len(winners) == 0 {
		return len(rows), 0, ids, nil
	}

	if err := dst.UpdateAll(ctx, table, winners); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to write %d rows: %w", len(winners), err)
	}
	return len(rows), len(winners), ids, nil
}

// filterField returns the single field of a step filter.
func filterField(f record.Filter) string {
	for k := range f {
		return k
	}
	return ""
}

func (s *syncer) emit(r *Report, typ EventType, table *TableResult, err error) {
	e := Event{
		Type:      typ,
		RunID:     r.RunID,
		Direction: r.Direction,
		Owner:     r.Owner,
		Table:     table,
		Time:      time.Now().UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.opts.Observer.Observe(e)
}

func completed(r *Report) []string {
	out := make([]string, len(r.Tables))
	for i, t := range r.Tables {
		out[i] = t.Table
	}
	return out
}
