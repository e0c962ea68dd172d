package fl_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/absmach/fedrun/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func fitResult(id string, n uint64, values ...float64) fl.FitResult {
	return fl.FitResult{
		ParticipantID: id,
		FitRes: fl.FitRes{
			Weights:     fl.Weights{{Shape: []int{len(values)}, Data: values}},
			NumExamples: n,
		},
	}
}

func TestFedAvgAggregateFit(t *testing.T) {
	cases := []struct {
		desc    string
		results []fl.FitResult
		want    fl.Weights
		err     error
	}{
		{
			desc:    "no results",
			results: nil,
			err:     fl.ErrNoUpdates,
		},
		{
			desc:    "single participant",
			results: []fl.FitResult{fitResult("a", 10, 1, 2)},
			want:    fl.Weights{{Shape: []int{2}, Data: []float64{1, 2}}},
		},
		{
			desc: "weighted by example count",
			results: []fl.FitResult{
				fitResult("a", 10, 1, 0),
				fitResult("b", 30, 3, 4),
			},
			want: fl.Weights{{Shape: []int{2}, Data: []float64{2.5, 3}}},
		},
		{
			desc: "zero examples everywhere",
			results: []fl.FitResult{
				fitResult("a", 0, 1),
				fitResult("b", 0, 2),
			},
			err: fl.ErrNoExamples,
		},
		{
			desc: "mismatched tensor length",
			results: []fl.FitResult{
				fitResult("a", 1, 1, 2),
				fitResult("b", 1, 1),
			},
			err: fl.ErrShapeMismatch,
		},
		{
			desc: "example count overflow",
			results: []fl.FitResult{
				fitResult("a", math.MaxUint64, 1),
				fitResult("b", 1, 1),
			},
			err: fl.ErrOverflow,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := fl.NewFedAvg().AggregateFit(context.Background(), 1, tc.results, nil)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tc.want))
			for i := range tc.want {
				assert.Equal(t, tc.want[i].Shape, got[i].Shape)
				assert.InDeltaSlice(t, tc.want[i].Data, got[i].Data, 1e-12)
			}
		})
	}
}

func TestFedAvgAggregateFitDoesNotAliasInputs(t *testing.T) {
	res := fitResult("a", 5, 1, 2, 3)
	got, err := fl.NewFedAvg().AggregateFit(context.Background(), 1, []fl.FitResult{res}, nil)
	require.NoError(t, err)

	got[0].Data[0] = 42
	assert.Equal(t, 1.0, res.Weights[0].Data[0])
}

func TestFedAvgAggregateEvaluate(t *testing.T) {
	results := []fl.EvaluateResult{
		{ParticipantID: "b", EvaluateRes: fl.EvaluateRes{Loss: 0.5, NumExamples: 30, Metrics: fl.Metrics{Version: fl.MetricsSchemaV1, Values: map[string]float64{"accuracy": 0.8}}}},
		{ParticipantID: "a", EvaluateRes: fl.EvaluateRes{Loss: 1.0, NumExamples: 10, Metrics: fl.Metrics{Version: fl.MetricsSchemaV1, Values: map[string]float64{"accuracy": 0.6}}}},
	}

	ev, err := fl.NewFedAvg().AggregateEvaluate(context.Background(), 1, results, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.625, ev.Loss, 1e-12)
	assert.Equal(t, uint64(40), ev.NumExamples)
	require.Len(t, ev.Participants, 2)
	assert.Equal(t, "a", ev.Participants[0].ParticipantID)
	assert.Equal(t, 0.6, ev.Participants[0].Metrics.Values["accuracy"])
	assert.Equal(t, "b", ev.Participants[1].ParticipantID)

	_, err = fl.NewFedAvg().AggregateEvaluate(context.Background(), 1, nil, nil)
	assert.ErrorIs(t, err, fl.ErrNoUpdates)
}

func TestFedAvgOrderIndependent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "participants")
		size := rapid.IntRange(1, 16).Draw(rt, "size")

		results := make([]fl.FitResult, n)
		for i := range results {
			values := rapid.SliceOfN(rapid.Float64Range(-1e3, 1e3), size, size).Draw(rt, fmt.Sprintf("values_%d", i))
			examples := rapid.Uint64Range(1, 1000).Draw(rt, fmt.Sprintf("examples_%d", i))
			results[i] = fitResult(fmt.Sprintf("participant-%d", i), examples, values...)
		}

		perm := rapid.Permutation(results).Draw(rt, "permutation")

		want, err := fl.NewFedAvg().AggregateFit(context.Background(), 1, results, nil)
		require.NoError(rt, err)
		got, err := fl.NewFedAvg().AggregateFit(context.Background(), 1, perm, nil)
		require.NoError(rt, err)

		require.Len(rt, got, len(want))
		for i := range want {
			assert.InDeltaSlice(rt, want[i].Data, got[i].Data, 1e-9)
		}
	})
}
