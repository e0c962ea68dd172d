package fl

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
)

var _ Strategy = (*FedAvg)(nil)

// FedAvg averages participant payloads weighted by their example counts.
type FedAvg struct{}

func NewFedAvg() Strategy {
	return &FedAvg{}
}

func (f *FedAvg) AggregateFit(_ context.Context, _ int, results []FitResult, _ []Failure) (Weights, error) {
	if len(results) == 0 {
		return nil, ErrNoUpdates
	}

	// Summation runs in participant order so the result does not depend on
	// the order responses arrived in.
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b FitResult) int {
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})

	totalSamples, err := sumExamples(len(sorted), func(i int) uint64 { return sorted[i].NumExamples })
	if err != nil {
		return nil, err
	}

	ref := sorted[0].Weights
	aggregated := make(Weights, len(ref))
	for i, t := range ref {
		aggregated[i] = Tensor{
			Shape: slices.Clone(t.Shape),
			Data:  make([]float64, len(t.Data)),
		}
	}

	for _, res := range sorted {
		if err := sameShape(ref, res.Weights); err != nil {
			return nil, fmt.Errorf("%w: participant %s: %w", ErrShapeMismatch, res.ParticipantID, err)
		}
		weight := float64(res.NumExamples)
		for i, t := range res.Weights {
			acc := aggregated[i].Data
			for j, v := range t.Data {
				acc[j] += v * weight
			}
		}
	}

	norm := float64(totalSamples)
	for i := range aggregated {
		for j := range aggregated[i].Data {
			aggregated[i].Data[j] /= norm
		}
	}

	return aggregated, nil
}

func (f *FedAvg) AggregateEvaluate(_ context.Context, _ int, results []EvaluateResult, _ []Failure) (Evaluation, error) {
	if len(results) == 0 {
		return Evaluation{}, ErrNoUpdates
	}

	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b EvaluateResult) int {
		return cmp.Compare(a.ParticipantID, b.ParticipantID)
	})

	totalSamples, err := sumExamples(len(sorted), func(i int) uint64 { return sorted[i].NumExamples })
	if err != nil {
		return Evaluation{}, err
	}

	var loss float64
	participants := make([]ParticipantMetrics, 0, len(sorted))
	for _, res := range sorted {
		loss += res.Loss * float64(res.NumExamples)
		participants = append(participants, ParticipantMetrics{
			ParticipantID: res.ParticipantID,
			NumExamples:   res.NumExamples,
			Loss:          res.Loss,
			Metrics:       res.Metrics,
		})
	}

	return Evaluation{
		Loss:         loss / float64(totalSamples),
		NumExamples:  totalSamples,
		Participants: participants,
	}, nil
}

func sumExamples(n int, at func(i int) uint64) (uint64, error) {
	var total uint64
	for i := range n {
		v := at(i)
		if v > math.MaxUint64-total {
			return 0, ErrOverflow
		}
		total += v
	}
	if total == 0 {
		return 0, ErrNoExamples
	}

	return total, nil
}

func sameShape(ref, w Weights) error {
	if len(ref) != len(w) {
		return fmt.Errorf("expected %d tensors, got %d", len(ref), len(w))
	}
	for i := range ref {
		if len(ref[i].Data) != len(w[i].Data) {
			return fmt.Errorf("tensor %d: expected %d values, got %d", i, len(ref[i].Data), len(w[i].Data))
		}
		if !slices.Equal(ref[i].Shape, w[i].Shape) {
			return fmt.Errorf("tensor %d: expected shape %v, got %v", i, ref[i].Shape, w[i].Shape)
		}
	}

	return nil
}
