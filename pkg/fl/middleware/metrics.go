package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedrun/pkg/fl"
	"github.com/go-kit/kit/metrics"
)

var _ fl.Strategy = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     fl.Strategy
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc fl.Strategy) fl.Strategy {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) AggregateFit(ctx context.Context, round int, results []fl.FitResult, failures []fl.Failure) (fl.Weights, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "aggregate-fit").Add(1)
		mm.latency.With("method", "aggregate-fit").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.AggregateFit(ctx, round, results, failures)
}

func (mm *metricsMiddleware) AggregateEvaluate(ctx context.Context, round int, results []fl.EvaluateResult, failures []fl.Failure) (fl.Evaluation, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "aggregate-evaluate").Add(1)
		mm.latency.With("method", "aggregate-evaluate").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.AggregateEvaluate(ctx, round, results, failures)
}
