package server

import (
	"context"
	"runtime"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/log"
	"github.com/zjrosen/beanserver/internal/objname"
	"github.com/zjrosen/beanserver/internal/registry"
	"github.com/zjrosen/beanserver/internal/tracing"
)

// Predicate filters query results after structural matching.
type Predicate interface {
	Match(ctx context.Context, name objname.Name) (bool, error)
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(ctx context.Context, name objname.Name) (bool, error)

// Match calls f.
func (f PredicateFunc) Match(ctx context.Context, name objname.Name) (bool, error) {
	return f(ctx, name)
}

// AttributeEquals matches objects whose attribute attr reads as want.
// Objects without the attribute do not match.
func (s *Server) AttributeEquals(attr string, want any) Predicate {
	return PredicateFunc(func(ctx context.Context, name objname.Name) (bool, error) {
		v, err := s.GetAttribute(ctx, name, attr)
		if err != nil {
			return false, err
		}
		return v == want, nil
	})
}

// QueryMBeans returns the instances whose names match pattern and satisfy
// pred. The zero pattern matches everything and a nil pred accepts every
// match. An entry whose predicate fails is left out.
func (s *Server) QueryMBeans(ctx context.Context, pattern objname.Name, pred Predicate) ([]ObjectInstance, error) {
	entries, err := s.query(ctx, pattern, pred)
	if err != nil {
		return nil, err
	}
	out := make([]ObjectInstance, len(entries))
	for i, e := range entries {
		out[i] = s.instance(ctx, e)
	}
	return out, nil
}

// QueryNames is QueryMBeans returning names only.
func (s *Server) QueryNames(ctx context.Context, pattern objname.Name, pred Predicate) ([]objname.Name, error) {
	entries, err := s.query(ctx, pattern, pred)
	if err != nil {
		return nil, err
	}
	out := make([]objname.Name, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out, nil
}

func (s *Server) query(ctx context.Context, pattern objname.Name, pred Predicate) (entries []*registry.Entry, err error) {
	ctx, span := tracing.Start(ctx, s.tracer, tracing.OpQuery, attribute.String(tracing.AttrPattern, pattern.String()))
	defer func() {
		span.SetAttributes(attribute.Int(tracing.AttrMatches, len(entries)))
		tracing.End(span, err)
	}()

	entries = s.queries.Query(pattern)
	if pred == nil || len(entries) == 0 {
		return entries, nil
	}

	keep := make([]bool, len(entries))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, e := range entries {
		g.Go(func() error {
			keep[i] = s.apply(ctx, pred, e.Name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	matched := entries[:0]
	for i, e := range entries {
		if keep[i] {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

// apply evaluates pred for one name. Errors and panics exclude the entry.
func (s *Server) apply(ctx context.Context, pred Predicate, name objname.Name) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn(log.CatQuery, "Predicate panicked", "name", name.String(),
				"error", faults.FromPanic("query", name.String(), r))
			ok = false
		}
	}()

	ok, err := pred.Match(ctx, name)
	if err != nil {
		log.Debug(log.CatQuery, "Predicate failed", "name", name.String(), "error", err)
		return false
	}
	return ok
}
