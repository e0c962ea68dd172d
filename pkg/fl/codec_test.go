package fl_test

import (
	"math"
	"testing"

	"github.com/absmach/fedrun/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsCodec(t *testing.T) {
	w := fl.Weights{
		{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}},
		{Shape: []int{1}, Data: []float64{0.5}},
	}

	data, err := fl.EncodeWeights(w, 0)
	require.NoError(t, err)

	got, err := fl.DecodeWeights(data, 0)
	require.NoError(t, err)
	assert.Equal(t, w, got)

	again, err := fl.EncodeWeights(got, 0)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestWeightsCodecMaxSize(t *testing.T) {
	w := fl.Weights{{Shape: []int{64}, Data: make([]float64, 64)}}

	_, err := fl.EncodeWeights(w, 16)
	assert.ErrorIs(t, err, fl.ErrPayloadTooLarge)

	data, err := fl.EncodeWeights(w, 0)
	require.NoError(t, err)
	_, err = fl.DecodeWeights(data, len(data)-1)
	assert.ErrorIs(t, err, fl.ErrPayloadTooLarge)
}

func TestMetricsValidate(t *testing.T) {
	cases := []struct {
		desc    string
		metrics fl.Metrics
		err     error
	}{
		{desc: "empty metrics", metrics: fl.Metrics{}},
		{desc: "v1 metrics", metrics: fl.Metrics{Version: fl.MetricsSchemaV1, Values: map[string]float64{"acc": 1}}},
		{desc: "missing version", metrics: fl.Metrics{Values: map[string]float64{"acc": 1}}, err: fl.ErrUnsupportedMetrics},
		{desc: "future version", metrics: fl.Metrics{Version: 7}, err: fl.ErrUnsupportedMetrics},
		{desc: "NaN value", metrics: fl.Metrics{Version: fl.MetricsSchemaV1, Values: map[string]float64{"acc": math.NaN()}}, err: fl.ErrInvalidResult},
		{desc: "infinite value", metrics: fl.Metrics{Version: fl.MetricsSchemaV1, Values: map[string]float64{"acc": math.Inf(-1)}}, err: fl.ErrInvalidResult},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.ErrorIs(t, tc.metrics.Validate(), tc.err)
		})
	}
}

func TestResultValidate(t *testing.T) {
	weights := fl.Weights{{Shape: []int{2}, Data: []float64{1, 2}}}

	cases := []struct {
		desc string
		res  interface{ Validate() error }
		err  error
	}{
		{desc: "valid fit", res: fl.FitRes{Weights: weights, NumExamples: 1}},
		{desc: "empty fit", res: fl.FitRes{NumExamples: 1}, err: fl.ErrEmptyUpdate},
		{desc: "NaN weight", res: fl.FitRes{Weights: fl.Weights{{Shape: []int{2}, Data: []float64{1, math.NaN()}}}}, err: fl.ErrInvalidResult},
		{desc: "infinite weight", res: fl.FitRes{Weights: fl.Weights{{Shape: []int{1}, Data: []float64{math.Inf(1)}}}}, err: fl.ErrInvalidResult},
		{desc: "fit with bad metrics", res: fl.FitRes{Weights: weights, Metrics: fl.Metrics{Version: 3}}, err: fl.ErrUnsupportedMetrics},
		{desc: "valid evaluate", res: fl.EvaluateRes{Loss: 0.25, NumExamples: 4}},
		{desc: "NaN loss", res: fl.EvaluateRes{Loss: math.NaN(), NumExamples: 4}, err: fl.ErrInvalidResult},
		{desc: "infinite loss", res: fl.EvaluateRes{Loss: math.Inf(1), NumExamples: 4}, err: fl.ErrInvalidResult},
		{
			desc: "NaN evaluate metric",
			res:  fl.EvaluateRes{Loss: 0.1, Metrics: fl.Metrics{Version: fl.MetricsSchemaV1, Values: map[string]float64{"acc": math.NaN()}}},
			err:  fl.ErrInvalidResult,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.ErrorIs(t, tc.res.Validate(), tc.err)
		})
	}
}
