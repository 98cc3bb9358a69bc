package source

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Strategy is one way of obtaining a value, typically one candidate endpoint.
type Strategy[T any] struct {
	Name  string
	Fetch func(ctx context.Context) (T, error)
}

// Outcome is the tagged result of running a chain: either Value from Source, or
// Err once every strategy failed. Failures holds each rejected attempt in order.
type Outcome[T any] struct {
	Value    T
	Source   string
	Err      error
	Failures []error
}

func (o Outcome[T]) OK() bool { return o.Err == nil }

// Chain tries strategies in order until one succeeds. Each attempt is bounded
// by timeout when timeout > 0. Cancellation of ctx stops the chain and is
// reported as ctx.Err() rather than as an exhausted chain.
func Chain[T any](ctx context.Context, logger *slog.Logger, timeout time.Duration, strategies []Strategy[T]) Outcome[T] {
	var out Outcome[T]
	if len(strategies) == 0 {
		out.Err = ErrNoSources
		return out
	}

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}

		v, err := attempt(ctx, timeout, s)
		if err == nil {
			out.Value = v
			out.Source = s.Name
			return out
		}
		if ctx.Err() != nil {
			out.Err = ctx.Err()
			return out
		}
		logger.Warn("source attempt failed, trying next", "source", s.Name, "error", err)
		out.Failures = append(out.Failures, err)
	}

	out.Err = errors.Join(out.Failures...)
	return out
}

func attempt[T any](ctx context.Context, timeout time.Duration, s Strategy[T]) (T, error) {
	if timeout <= 0 {
		return s.Fetch(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Fetch(actx)
}
