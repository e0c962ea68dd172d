package runner_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fedrun/coordinator"
	"github.com/absmach/fedrun/pkg/fl"
	"github.com/absmach/fedrun/pkg/history"
	"github.com/absmach/fedrun/pkg/registry"
	"github.com/absmach/fedrun/pkg/scheduler"
	"github.com/absmach/fedrun/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

type trainer struct {
	id      string
	fail    bool
	nanLoss bool

	mu       sync.Mutex
	received []fl.Weights
}

func (c *trainer) ID() string { return c.id }

func (c *trainer) Fit(_ context.Context, ins fl.FitIns) (fl.FitRes, error) {
	c.mu.Lock()
	c.received = append(c.received, ins.Weights.Clone())
	c.mu.Unlock()

	if c.fail {
		return fl.FitRes{}, errors.New("device offline")
	}
	w := ins.Weights.Clone()
	if w.Empty() {
		w = fl.Weights{{Shape: []int{2}, Data: []float64{0, 0}}}
	}
	for i := range w {
		for j := range w[i].Data {
			w[i].Data[j]++
		}
	}

	return fl.FitRes{Weights: w, NumExamples: 10}, nil
}

func (c *trainer) Evaluate(context.Context, fl.EvaluateIns) (fl.EvaluateRes, error) {
	if c.fail {
		return fl.EvaluateRes{}, errors.New("device offline")
	}
	loss := 0.5
	if c.nanLoss {
		loss = math.NaN()
	}

	return fl.EvaluateRes{
		Loss:        loss,
		NumExamples: 10,
		Metrics:     fl.Metrics{Version: fl.MetricsSchemaV1, Values: map[string]float64{"accuracy": 0.8}},
	}, nil
}

func (c *trainer) Disconnect(context.Context) error { return nil }

func (c *trainer) firstWeights() fl.Weights {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.received) == 0 {
		return nil
	}

	return c.received[0]
}

type env struct {
	store    *history.FileStore
	registry *registry.Registry
	trainers []*trainer
}

func newEnv(t *testing.T, trainers ...*trainer) env {
	t.Helper()

	store, err := history.NewFileStore(t.TempDir(), fl.DefMaxMessageSize)
	require.NoError(t, err)

	reg := registry.New(0, logger)
	for _, tr := range trainers {
		require.NoError(t, reg.Register(context.Background(), tr.id, "", tr))
	}

	return env{store: store, registry: reg, trainers: trainers}
}

func (e env) runner(cfg runner.Config) *runner.Runner {
	if cfg.NumRounds == 0 {
		cfg.NumRounds = 2
	}
	if cfg.Coordinator.MinParticipants == 0 {
		cfg.Coordinator.MinParticipants = 2
	}
	cfg.Coordinator.FractionFit = 1
	cfg.Coordinator.FractionEvaluate = 1

	return runner.New(cfg, e.store, e.registry, scheduler.NewRandom(), logger)
}

func healthy(ids ...string) []*trainer {
	var ts []*trainer
	for _, id := range ids {
		ts = append(ts, &trainer{id: id})
	}

	return ts
}

func TestRunFirstVersion(t *testing.T) {
	e := newEnv(t, healthy("a", "b", "c")...)
	ctx := context.Background()

	record, err := e.runner(runner.Config{Persist: true}).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, history.Version(1), record.Version)
	assert.Equal(t, 3, record.ParticipantCount)
	assert.Empty(t, record.Failures)
	assert.Len(t, record.Artifacts, 3)
	assert.Equal(t, "a", record.Artifacts[0]["participant_id"])
	assert.Equal(t, time.UTC, record.Timestamp.Location())

	latest, err := e.store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, history.Version(1), latest.Version)

	w, err := e.store.LoadBlob(ctx, latest.WeightsRef)
	require.NoError(t, err)
	assert.Equal(t, fl.Weights{{Shape: []int{2}, Data: []float64{2, 2}}}, w)

	for _, tr := range e.trainers {
		assert.Nil(t, tr.firstWeights())
	}
}

func TestRunSeededFromLatest(t *testing.T) {
	e := newEnv(t, healthy("a", "b", "c")...)
	ctx := context.Background()

	seed := fl.Weights{{Shape: []int{2}, Data: []float64{7, 9}}}
	prev := history.RunRecord{
		ParticipantCount: 1,
		Timestamp:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Version:          5,
		WeightsRef:       history.BlobRef(5),
	}
	require.NoError(t, e.store.Commit(ctx, prev, seed))

	record, err := e.runner(runner.Config{Persist: true, NumRounds: 1}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, history.Version(6), record.Version)
	assert.Equal(t, "data/00006.weights", record.WeightsRef)
	assert.FileExists(t, filepath.Join(e.store.Dir(), "00006.json"))

	for _, tr := range e.trainers {
		assert.Equal(t, seed, tr.firstWeights())
	}

	w, err := e.store.LoadBlob(ctx, record.WeightsRef)
	require.NoError(t, err)
	assert.Equal(t, []float64{8, 10}, w[0].Data)
}

func TestRunAbortedLeavesStoreUntouched(t *testing.T) {
	trainers := healthy("a")
	trainers = append(trainers, &trainer{id: "b", fail: true}, &trainer{id: "c", fail: true})
	e := newEnv(t, trainers...)
	ctx := context.Background()

	_, err := e.runner(runner.Config{Persist: true}).Run(ctx)
	assert.ErrorIs(t, err, coordinator.ErrNotEnoughResults)

	var re *coordinator.RoundError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, fl.PhaseFit, re.Phase)

	_, err = e.store.Latest(ctx)
	assert.ErrorIs(t, err, history.ErrNoHistory)

	entries, err := os.ReadDir(filepath.Join(e.store.Dir(), "data"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunPartialFailuresRecorded(t *testing.T) {
	trainers := healthy("a", "b", "c")
	trainers = append(trainers, &trainer{id: "d", fail: true})
	e := newEnv(t, trainers...)

	record, err := e.runner(runner.Config{Persist: true, NumRounds: 2}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, record.ParticipantCount)
	require.Len(t, record.Failures, 3)
	assert.Equal(t, history.FailureSummary{Error: "device offline", ParticipantID: "d", Phase: "fit", Round: 1}, record.Failures[0])
	assert.Equal(t, "evaluate", record.Failures[2].Phase)
}

func TestRunNonFiniteEvaluationRecorded(t *testing.T) {
	trainers := healthy("a", "b")
	trainers = append(trainers, &trainer{id: "c", nanLoss: true})
	e := newEnv(t, trainers...)
	ctx := context.Background()

	record, err := e.runner(runner.Config{Persist: true, NumRounds: 1}).Run(ctx)
	require.NoError(t, err)

	require.Len(t, record.Failures, 1)
	assert.Equal(t, "c", record.Failures[0].ParticipantID)
	assert.Equal(t, "evaluate", record.Failures[0].Phase)
	assert.Contains(t, record.Failures[0].Error, "non-finite")
	assert.Len(t, record.Artifacts, 2)

	latest, err := e.store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, history.Version(1), latest.Version)
	assert.Equal(t, record.Failures, latest.Failures)
}

func TestRunCorruptHistory(t *testing.T) {
	cases := []struct {
		desc       string
		freshStart bool
		version    history.Version
		err        error
	}{
		{desc: "refused", err: history.ErrCorruptHistory},
		{desc: "operator approved fresh start", freshStart: true, version: 4},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			e := newEnv(t, healthy("a", "b")...)
			ctx := context.Background()

			good := history.RunRecord{Version: 2, WeightsRef: history.BlobRef(2)}
			require.NoError(t, e.store.Commit(ctx, good, fl.Weights{{Shape: []int{2}, Data: []float64{1, 1}}}))
			require.NoError(t, os.WriteFile(filepath.Join(e.store.Dir(), "00003.json"), []byte(`{"version": 3`), 0o644))

			record, err := e.runner(runner.Config{Persist: true, AllowFreshStart: tc.freshStart}).Run(ctx)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.version, record.Version)
			for _, tr := range e.trainers {
				assert.Nil(t, tr.firstWeights())
			}
		})
	}
}

func TestRunWithoutPersist(t *testing.T) {
	e := newEnv(t, healthy("a", "b")...)
	ctx := context.Background()

	record, err := e.runner(runner.Config{}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, history.Version(1), record.Version)

	versions, err := e.store.Versions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestRunCheckpointsWeights(t *testing.T) {
	e := newEnv(t, healthy("a", "b")...)
	ctx := context.Background()

	wrapped := 0
	r := runner.New(runner.Config{
		NumRounds:  1,
		Persist:    true,
		Checkpoint: true,
		Coordinator: coordinator.Config{
			MinParticipants:  2,
			FractionFit:      1,
			FractionEvaluate: 1,
		},
	}, e.store, e.registry, scheduler.NewRoundRobin(), logger, runner.WithStrategy(func(s fl.Strategy) fl.Strategy {
		wrapped++

		return s
	}))

	record, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, wrapped)

	w, err := e.store.LoadBlob(ctx, record.WeightsRef)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, w[0].Data)
}

func TestRunTimeout(t *testing.T) {
	e := newEnv(t, healthy("a")...)

	_, err := e.runner(runner.Config{
		RunTimeout: 20 * time.Millisecond,
		Coordinator: coordinator.Config{
			MinParticipants: 2,
		},
	}).Run(context.Background())
	assert.ErrorIs(t, err, coordinator.ErrDeadlineExceeded)
}
