package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/absmach/fedrun/coordinator"
	"github.com/absmach/fedrun/pkg/fl"
	"github.com/absmach/fedrun/pkg/history"
	"github.com/absmach/fedrun/pkg/scheduler"
)

var ErrSeedWeights = errors.New("failed to load weights of the previous run")

// Store is the part of the history store a run needs.
type Store interface {
	Latest(ctx context.Context) (history.RunRecord, error)
	Versions(ctx context.Context) ([]history.Version, error)
	AllocateNextVersion(previous *history.RunRecord) history.Version
	LoadBlob(ctx context.Context, ref string) (fl.Weights, error)
	Commit(ctx context.Context, record history.RunRecord, blob fl.Weights) error
	Sink(v history.Version) fl.WeightsSink
}

type Config struct {
	NumRounds int
	// RunTimeout bounds the whole session; zero leaves it to the caller.
	RunTimeout time.Duration
	// Persist commits the run record and final weights.
	Persist bool
	// Checkpoint saves the aggregated weights after every round.
	Checkpoint bool
	// AllowFreshStart lets a run proceed without seed weights when the
	// latest record is unreadable.
	AllowFreshStart bool
	Coordinator     coordinator.Config
}

type Option func(*Runner)

// WithStrategy wraps the aggregation strategy, e.g. with logging or metrics
// middleware.
func WithStrategy(wrap func(fl.Strategy) fl.Strategy) Option {
	return func(r *Runner) {
		r.wrap = wrap
	}
}

type Runner struct {
	cfg          Config
	store        Store
	participants coordinator.Participants
	sampler      scheduler.Sampler
	wrap         func(fl.Strategy) fl.Strategy
	logger       *slog.Logger
}

func New(cfg Config, store Store, participants coordinator.Participants, sampler scheduler.Sampler, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		cfg:          cfg,
		store:        store,
		participants: participants,
		sampler:      sampler,
		wrap:         func(s fl.Strategy) fl.Strategy { return s },
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run executes one training session seeded from the latest committed run
// and commits its record. Nothing is committed when the session fails.
func (r *Runner) Run(ctx context.Context) (history.RunRecord, error) {
	start := time.Now()

	version, initial, err := r.prepare(ctx)
	if err != nil {
		return history.RunRecord{}, err
	}

	strategy := fl.SaveWeights(fl.NewFedAvg(), r.store.Sink(version), r.cfg.Persist && r.cfg.Checkpoint, r.logger)
	coord, err := coordinator.New(r.cfg.Coordinator, r.participants, r.sampler, r.wrap(strategy), r.logger)
	if err != nil {
		return history.RunRecord{}, err
	}

	r.logger.InfoContext(ctx, "starting run",
		slog.String("version", version.String()),
		slog.Int("rounds", r.cfg.NumRounds),
		slog.Int("min_participants", r.cfg.Coordinator.MinParticipants),
		slog.Bool("seeded", !initial.Empty()),
	)

	runCtx := ctx
	if r.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cfg.RunTimeout)
		defer cancel()
	}

	hist, err := coord.Run(runCtx, r.cfg.NumRounds, initial)
	if err != nil {
		return history.RunRecord{}, err
	}

	record := newRecord(version, hist, time.Since(start))
	if !r.cfg.Persist {
		return record, nil
	}
	if err := r.store.Commit(ctx, record, hist.Weights); err != nil {
		return history.RunRecord{}, err
	}

	r.logger.InfoContext(ctx, "run committed",
		slog.String("version", version.String()),
		slog.String("weights_ref", record.WeightsRef),
		slog.Int("participant_count", record.ParticipantCount),
		slog.Int("failures", len(record.Failures)),
	)

	return record, nil
}

func (r *Runner) prepare(ctx context.Context) (history.Version, fl.Weights, error) {
	latest, err := r.store.Latest(ctx)
	switch {
	case err == nil:
		initial, err := r.store.LoadBlob(ctx, latest.WeightsRef)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: version %s: %w", ErrSeedWeights, latest.Version, err)
		}

		return r.store.AllocateNextVersion(&latest), initial, nil
	case errors.Is(err, history.ErrNoHistory):
		return r.store.AllocateNextVersion(nil), nil, nil
	case errors.Is(err, history.ErrCorruptHistory) && r.cfg.AllowFreshStart:
		versions, verr := r.store.Versions(ctx)
		if verr != nil {
			return 0, nil, errors.Join(err, verr)
		}
		var version history.Version = 1
		if len(versions) > 0 {
			version = versions[len(versions)-1] + 1
		}
		r.logger.WarnContext(ctx, "latest run record is unreadable, starting without seed weights",
			slog.String("version", version.String()),
			slog.Any("error", err),
		)

		return version, nil, nil
	default:
		return 0, nil, err
	}
}

func newRecord(version history.Version, hist coordinator.History, elapsed time.Duration) history.RunRecord {
	record := history.RunRecord{
		Artifacts:        make([]history.Artifact, 0, len(hist.Evaluation.Participants)),
		ElapsedTime:      elapsed.Seconds(),
		Failures:         make([]history.FailureSummary, 0, len(hist.Failures)),
		ParticipantCount: len(hist.Participants),
		Timestamp:        time.Now().UTC(),
		Version:          version,
		WeightsRef:       history.BlobRef(version),
	}

	for _, pm := range hist.Evaluation.Participants {
		a := history.Artifact{
			"participant_id": pm.ParticipantID,
			"loss":           pm.Loss,
			"num_examples":   pm.NumExamples,
		}
		if len(pm.Metrics.Values) > 0 {
			a["metrics"] = pm.Metrics.Values
		}
		if len(pm.Metrics.Labels) > 0 {
			a["labels"] = pm.Metrics.Labels
		}
		record.Artifacts = append(record.Artifacts, a)
	}

	for _, f := range hist.Failures {
		record.Failures = append(record.Failures, history.FailureSummary{
			Error:         f.Err.Error(),
			ParticipantID: f.ParticipantID,
			Phase:         string(f.Phase),
			Round:         f.Round,
		})
	}
	slices.SortStableFunc(record.Failures, func(a, b history.FailureSummary) int {
		if a.Round != b.Round {
			return a.Round - b.Round
		}
		if a.Phase != b.Phase {
			return strings.Compare(phaseOrder(a.Phase), phaseOrder(b.Phase))
		}

		return strings.Compare(a.ParticipantID, b.ParticipantID)
	})

	return record
}

// phaseOrder sorts fit before evaluate within a round.
func phaseOrder(phase string) string {
	if phase == string(fl.PhaseFit) {
		return "0"
	}

	return "1" + phase
}
