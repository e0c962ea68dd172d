package fl

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// MetricsSchemaV1 is the only metrics layout participants may report.
const MetricsSchemaV1 = 1

type Phase string

const (
	PhaseFit      Phase = "fit"
	PhaseEvaluate Phase = "evaluate"
)

// Tensor is one flattened layer of the trainable payload.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Weights is the opaque payload exchanged with participants. The coordinator
// only needs it to be averageable.
type Weights []Tensor

func (w Weights) Empty() bool {
	return len(w) == 0
}

// Validate rejects NaN and infinite values.
func (w Weights) Validate() error {
	for i, t := range w {
		for j, v := range t.Data {
			if !finite(v) {
				return fmt.Errorf("%w: tensor %d value %d is %v", ErrInvalidResult, i, j, v)
			}
		}
	}

	return nil
}

func (w Weights) Clone() Weights {
	if w == nil {
		return nil
	}
	out := make(Weights, len(w))
	for i, t := range w {
		out[i] = Tensor{
			Shape: slices.Clone(t.Shape),
			Data:  slices.Clone(t.Data),
		}
	}

	return out
}

// Metrics is the fixed schema for metrics exchanged with participants.
type Metrics struct {
	Version int                `json:"version"`
	Values  map[string]float64 `json:"values,omitempty"`
	Labels  map[string]string  `json:"labels,omitempty"`
}

func (m Metrics) Validate() error {
	if m.Version == 0 && len(m.Values) == 0 && len(m.Labels) == 0 {
		return nil
	}
	if m.Version != MetricsSchemaV1 {
		return fmt.Errorf("%w: %d", ErrUnsupportedMetrics, m.Version)
	}
	for k, v := range m.Values {
		if !finite(v) {
			return fmt.Errorf("%w: metric %q is %v", ErrInvalidResult, k, v)
		}
	}

	return nil
}

type FitIns struct {
	Round   int               `json:"round"`
	Weights Weights           `json:"weights"`
	Config  map[string]string `json:"config,omitempty"`
}

type FitRes struct {
	Weights     Weights `json:"weights"`
	NumExamples uint64  `json:"num_examples"`
	Metrics     Metrics `json:"metrics"`
}

// Validate checks a fit result before it may be aggregated.
func (r FitRes) Validate() error {
	if r.Weights.Empty() {
		return ErrEmptyUpdate
	}
	if err := r.Weights.Validate(); err != nil {
		return err
	}

	return r.Metrics.Validate()
}

type EvaluateIns struct {
	Round   int               `json:"round"`
	Weights Weights           `json:"weights"`
	Config  map[string]string `json:"config,omitempty"`
}

type EvaluateRes struct {
	Loss        float64 `json:"loss"`
	NumExamples uint64  `json:"num_examples"`
	Metrics     Metrics `json:"metrics"`
}

func (r EvaluateRes) Validate() error {
	if !finite(r.Loss) {
		return fmt.Errorf("%w: loss is %v", ErrInvalidResult, r.Loss)
	}

	return r.Metrics.Validate()
}

type FitResult struct {
	ParticipantID string
	FitRes
}

type EvaluateResult struct {
	ParticipantID string
	EvaluateRes
}

// Failure records a participant that errored or timed out during a phase.
type Failure struct {
	Round         int
	Phase         Phase
	ParticipantID string
	Err           error
}

func (f Failure) Error() string {
	return fmt.Sprintf("round %d %s: participant %s: %v", f.Round, f.Phase, f.ParticipantID, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

type ParticipantMetrics struct {
	ParticipantID string
	NumExamples   uint64
	Loss          float64
	Metrics       Metrics
}

// Evaluation is the combined result of an evaluation phase.
type Evaluation struct {
	Loss         float64
	NumExamples  uint64
	Participants []ParticipantMetrics
}

// Strategy merges per-participant results into one.
type Strategy interface {
	// AggregateFit returns the combined weights, or ErrNoUpdates when
	// results is empty.
	AggregateFit(ctx context.Context, round int, results []FitResult, failures []Failure) (Weights, error)

	// AggregateEvaluate returns the example-weighted loss together with the
	// metrics of each participant, or ErrNoUpdates when results is empty.
	AggregateEvaluate(ctx context.Context, round int, results []EvaluateResult, failures []Failure) (Evaluation, error)
}

// WeightsSink persists aggregated weights outside of the run record.
type WeightsSink interface {
	SaveWeights(ctx context.Context, round int, w Weights) error
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
