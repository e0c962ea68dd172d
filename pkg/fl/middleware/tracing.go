package middleware

import (
	"context"

	"github.com/absmach/fedrun/pkg/fl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var _ fl.Strategy = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    fl.Strategy
}

func Tracing(tracer trace.Tracer, svc fl.Strategy) fl.Strategy {
	return &tracing{tracer, svc}
}

func (tm *tracing) AggregateFit(ctx context.Context, round int, results []fl.FitResult, failures []fl.Failure) (fl.Weights, error) {
	ctx, span := tm.tracer.Start(ctx, "aggregate-fit", trace.WithAttributes(
		attribute.Int("round", round),
		attribute.Int("results", len(results)),
		attribute.Int("failures", len(failures)),
	))
	defer span.End()

	w, err := tm.svc.AggregateFit(ctx, round, results, failures)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return w, err
}

func (tm *tracing) AggregateEvaluate(ctx context.Context, round int, results []fl.EvaluateResult, failures []fl.Failure) (fl.Evaluation, error) {
	ctx, span := tm.tracer.Start(ctx, "aggregate-evaluate", trace.WithAttributes(
		attribute.Int("round", round),
		attribute.Int("results", len(results)),
		attribute.Int("failures", len(failures)),
	))
	defer span.End()

	ev, err := tm.svc.AggregateEvaluate(ctx, round, results, failures)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return ev, err
}
