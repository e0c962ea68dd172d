package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"

	"github.com/absmach/fedrun/pkg/fl"
)

const (
	defEpochs       = 1
	defLearningRate = 0.01
	defBatchSize    = 16
)

var errInvalidDataset = errors.New("features and samples must be positive")

// linearTrainer fits y = w.x + b on a synthetic local dataset. Weights are
// exchanged as two tensors: w with shape [features] and b with shape [1].
type linearTrainer struct {
	features int
	x        [][]float64
	y        []float64
	mu       sync.Mutex
	rng      *rand.Rand
}

func newLinearTrainer(features, samples int, seed uint64) (*linearTrainer, error) {
	if features < 1 || samples < 1 {
		return nil, errInvalidDataset
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	t := &linearTrainer{
		features: features,
		x:        make([][]float64, samples),
		y:        make([]float64, samples),
		rng:      rng,
	}
	for i := range samples {
		row := make([]float64, features)
		y := 0.5
		for j := range row {
			row[j] = rng.NormFloat64()
			y += float64(j+1) * row[j]
		}
		t.x[i] = row
		t.y[i] = y + 0.1*rng.NormFloat64()
	}

	return t, nil
}

func (t *linearTrainer) Fit(ctx context.Context, ins fl.FitIns) (fl.FitRes, error) {
	w, b, err := t.params(ins.Weights)
	if err != nil {
		return fl.FitRes{}, err
	}
	epochs := intConfig(ins.Config, "epochs", defEpochs)
	lr := floatConfig(ins.Config, "lr", defLearningRate)
	batch := intConfig(ins.Config, "batch_size", defBatchSize)

	t.mu.Lock()
	defer t.mu.Unlock()

	for range epochs {
		order := t.rng.Perm(len(t.x))
		for start := 0; start < len(order); start += batch {
			if err := ctx.Err(); err != nil {
				return fl.FitRes{}, err
			}
			end := min(start+batch, len(order))
			gw := make([]float64, t.features)
			var gb float64
			for _, i := range order[start:end] {
				diff := t.predict(w, b, t.x[i]) - t.y[i]
				for j := range gw {
					gw[j] += diff * t.x[i][j]
				}
				gb += diff
			}
			n := float64(end - start)
			for j := range w {
				w[j] -= lr * gw[j] / n
			}
			b -= lr * gb / n
		}
	}

	return fl.FitRes{
		Weights:     t.weights(w, b),
		NumExamples: uint64(len(t.x)),
		Metrics: fl.Metrics{
			Version: fl.MetricsSchemaV1,
			Values:  map[string]float64{"train_loss": t.loss(w, b)},
		},
	}, nil
}

func (t *linearTrainer) Evaluate(_ context.Context, ins fl.EvaluateIns) (fl.EvaluateRes, error) {
	w, b, err := t.params(ins.Weights)
	if err != nil {
		return fl.EvaluateRes{}, err
	}

	return fl.EvaluateRes{
		Loss:        t.loss(w, b),
		NumExamples: uint64(len(t.x)),
	}, nil
}

// params copies the received weights; an empty payload starts from zero.
func (t *linearTrainer) params(weights fl.Weights) ([]float64, float64, error) {
	if weights.Empty() {
		return make([]float64, t.features), 0, nil
	}
	if len(weights) != 2 || len(weights[0].Data) != t.features || len(weights[1].Data) != 1 {
		return nil, 0, fmt.Errorf("%w: expected [%d] and [1] tensors", fl.ErrShapeMismatch, t.features)
	}
	w := make([]float64, t.features)
	copy(w, weights[0].Data)

	return w, weights[1].Data[0], nil
}

func (t *linearTrainer) weights(w []float64, b float64) fl.Weights {
	return fl.Weights{
		{Shape: []int{t.features}, Data: w},
		{Shape: []int{1}, Data: []float64{b}},
	}
}

func (t *linearTrainer) predict(w []float64, b float64, x []float64) float64 {
	out := b
	for j := range w {
		out += w[j] * x[j]
	}

	return out
}

func (t *linearTrainer) loss(w []float64, b float64) float64 {
	var sum float64
	for i := range t.x {
		d := t.predict(w, b, t.x[i]) - t.y[i]
		sum += d * d
	}

	return sum / float64(len(t.x))
}

func intConfig(cfg map[string]string, key string, def int) int {
	if v, err := strconv.Atoi(cfg[key]); err == nil && v > 0 {
		return v
	}

	return def
}

func floatConfig(cfg map[string]string, key string, def float64) float64 {
	if v, err := strconv.ParseFloat(cfg[key], 64); err == nil && v > 0 {
		return v
	}

	return def
}
