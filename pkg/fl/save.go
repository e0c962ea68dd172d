package fl

import (
	"context"
	"log/slog"
)

var _ Strategy = (*saveStrategy)(nil)

type saveStrategy struct {
	Strategy

	sink    WeightsSink
	enabled bool
	logger  *slog.Logger
}

// SaveWeights wraps base so that every non-empty fit aggregate is written to
// sink when enabled is set. A failed write is logged and the aggregate is
// still returned.
func SaveWeights(base Strategy, sink WeightsSink, enabled bool, logger *slog.Logger) Strategy {
	return &saveStrategy{
		Strategy: base,
		sink:     sink,
		enabled:  enabled,
		logger:   logger,
	}
}

func (s *saveStrategy) AggregateFit(ctx context.Context, round int, results []FitResult, failures []Failure) (Weights, error) {
	w, err := s.Strategy.AggregateFit(ctx, round, results, failures)
	if err != nil {
		return nil, err
	}
	if !s.enabled || w.Empty() || s.sink == nil {
		return w, nil
	}

	s.logger.DebugContext(ctx, "saving aggregated weights", slog.Int("round", round))
	if err := s.sink.SaveWeights(ctx, round, w); err != nil {
		s.logger.ErrorContext(ctx, "failed to save aggregated weights",
			slog.Int("round", round),
			slog.Any("error", err),
		)
	}

	return w, nil
}
