package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedrun/pkg/fl"
)

var _ fl.Strategy = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    fl.Strategy
}

func Logging(logger *slog.Logger, svc fl.Strategy) fl.Strategy {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) AggregateFit(ctx context.Context, round int, results []fl.FitResult, failures []fl.Failure) (w fl.Weights, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Int("number", round),
				slog.Int("results", len(results)),
				slog.Int("failures", len(failures)),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.WarnContext(ctx, "Aggregate fit failed", args...)

			return
		}
		args = append(args, slog.Int("tensors", len(w)))
		lm.logger.InfoContext(ctx, "Aggregate fit completed successfully", args...)
	}(time.Now())

	return lm.svc.AggregateFit(ctx, round, results, failures)
}

func (lm *loggingMiddleware) AggregateEvaluate(ctx context.Context, round int, results []fl.EvaluateResult, failures []fl.Failure) (ev fl.Evaluation, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("round",
				slog.Int("number", round),
				slog.Int("results", len(results)),
				slog.Int("failures", len(failures)),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.WarnContext(ctx, "Aggregate evaluate failed", args...)

			return
		}
		args = append(args, slog.Float64("loss", ev.Loss))
		lm.logger.InfoContext(ctx, "Aggregate evaluate completed successfully", args...)
	}(time.Now())

	return lm.svc.AggregateEvaluate(ctx, round, results, failures)
}
