package relation

import (
	"context"

	"go.uber.org/zap"

	"github.com/docsync/docsync/internal/record"
	"github.com/docsync/docsync/internal/store"
)

// Resolver decorates records read from a store.Reader.
type Resolver struct {
	reader store.Reader
	logger *zap.Logger
}

// New creates a resolver over r. A nil logger disables logging.
func New(r store.Reader, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{reader: r, logger: logger.Named("relation")}
}

// Resolve returns a copy of rec decorated with every relation in specs.
// rec itself is not modified. Only a canceled context is reported as an
// error; other fetch failures skip the affected relation.
func (r *Resolver) Resolve(ctx context.Context, rec record.Record, specs []Spec) (record.Record, error) {
	out := rec.Clone()
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value, ok := r.resolveOne(ctx, out, spec)
		if !ok {
			continue
		}
		out[spec.ResultField] = value
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveAll resolves each record independently.
func (r *Resolver) ResolveAll(ctx context.Context, recs []record.Record, specs []Spec) ([]record.Record, error) {
	out := make([]record.Record, 0, len(recs))
	for _, rec := range recs {
		resolved, err := r.Resolve(ctx, rec, specs)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

// Get fetches table/id and resolves it. Unlike relation fetches, a failure
// to load the root record is returned.
func (r *Resolver) Get(ctx context.Context, table, id string, specs []Spec) (record.Record, error) {
	rec, err := r.reader.GetByID(ctx, table, id)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, rec, specs)
}

func (r *Resolver) resolveOne(ctx context.Context, rec record.Record, spec Spec) (any, bool) {
	switch spec.Kind {
	case OneToOne:
		id := rec.String(spec.LocalField)
		if id == "" {
			return nil, false
		}
		related, err := r.reader.GetByID(ctx, spec.Target, id)
		if err != nil {
			r.skip(spec, rec, err)
			return nil, false
		}
		nested, err := r.Resolve(ctx, related, spec.Nested)
		if err != nil {
			return nil, false
		}
		return nested, true

	case OneToMany:
		rows, err := r.reader.GetAllByField(ctx, spec.Target, record.Filter{spec.LocalField: rec.ID()})
		if err != nil {
			r.skip(spec, rec, err)
			return nil, false
		}
		return r.nestAll(ctx, rows, spec)

	case ManyToOne:
		ids := rec.Strings(spec.LocalField)
		rows := make([]record.Record, 0, len(ids))
		for _, id := range ids {
			related, err := r.reader.GetByID(ctx, spec.Target, id)
			if err != nil {
				r.skip(spec, rec, err)
				continue
			}
			rows = append(rows, related)
		}
		return r.nestAll(ctx, rows, spec)

	case ManyToMany:
		rows, err := r.reader.GetAllByField(ctx, spec.Target, record.Filter{spec.LocalField: record.In(rec.ID())})
		if err != nil {
			r.skip(spec, rec, err)
			return nil, false
		}
		return r.nestAll(ctx, rows, spec)

	default:
		r.logger.Debug("unknown relation kind", zap.Stringer("kind", spec.Kind))
		return nil, false
	}
}

func (r *Resolver) nestAll(ctx context.Context, rows []record.Record, spec Spec) (any, bool) {
	if len(spec.Nested) == 0 {
		return rows, true
	}
	nested, err := r.ResolveAll(ctx, rows, spec.Nested)
	if err != nil {
		return nil, false
	}
	return nested, true
}

func (r *Resolver) skip(spec Spec, rec record.Record, err error) {
	r.logger.Debug("skipping relation",
		zap.String("target", spec.Target),
		zap.Stringer("kind", spec.Kind),
		zap.String("result_field", spec.ResultField),
		zap.String("id", rec.ID()),
		zap.Error(err))
}
