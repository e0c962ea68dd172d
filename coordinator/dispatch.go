package coordinator

import (
	"context"
	"time"

	"github.com/absmach/fedrun/participant"
	"github.com/absmach/fedrun/pkg/registry"
	"golang.org/x/sync/errgroup"
)

type outcome[T any] struct {
	id  string
	res T
	err error
}

// fanOut calls every sampled participant concurrently and returns one
// outcome per participant in sample order. timeout bounds the whole phase,
// including calls queued behind limit, even when a client ignores its context.
func fanOut[T any](ctx context.Context, limit int, timeout time.Duration, sampled []registry.Participant, call func(context.Context, participant.Client) (T, error)) []outcome[T] {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	outcomes := make([]outcome[T], len(sampled))

	g := &errgroup.Group{}
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, p := range sampled {
		g.Go(func() error {
			res, err := callBounded(ctx, p.Client, call)
			outcomes[i] = outcome[T]{id: p.ID, res: res, err: err}

			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func callBounded[T any](ctx context.Context, cl participant.Client, call func(context.Context, participant.Client) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		res T
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := call(ctx, cl)
		done <- result{res: res, err: err}
	}()

	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
