package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/absmach/fedrun/participant"
	"github.com/absmach/fedrun/pkg/fl"
	"github.com/absmach/fedrun/pkg/registry"
	"github.com/absmach/fedrun/pkg/scheduler"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidConfig    = errors.New("invalid coordinator configuration")
	ErrNotEnoughResults = errors.New("not enough successful results")
	ErrDeadlineExceeded = errors.New("run deadline exceeded")
)

// RoundError reports the round and phase in which a run was aborted.
type RoundError struct {
	Round int
	Phase fl.Phase
	Err   error
}

func (e *RoundError) Error() string {
	return fmt.Sprintf("round %d %s: %v", e.Round, e.Phase, e.Err)
}

func (e *RoundError) Unwrap() error {
	return e.Err
}

type Config struct {
	MinParticipants  int
	FractionFit      float64
	FractionEvaluate float64
	// ReadinessTimeout bounds the wait for MinParticipants before each
	// phase. Zero waits until the run context ends.
	ReadinessTimeout time.Duration
	// RoundTimeout bounds the calls of one phase, queued calls included.
	RoundTimeout time.Duration
	// MaxConcurrency limits in-flight participant calls; zero is unlimited.
	MaxConcurrency int
	FitConfig      map[string]string
	EvaluateConfig map[string]string
}

func (c Config) Validate() error {
	if c.MinParticipants < 1 {
		return fmt.Errorf("%w: minimum participants %d", ErrInvalidConfig, c.MinParticipants)
	}
	if c.FractionFit <= 0 || c.FractionFit > 1 {
		return fmt.Errorf("%w: fit fraction %v", ErrInvalidConfig, c.FractionFit)
	}
	if c.FractionEvaluate <= 0 || c.FractionEvaluate > 1 {
		return fmt.Errorf("%w: evaluate fraction %v", ErrInvalidConfig, c.FractionEvaluate)
	}
	if c.MaxConcurrency < 0 || c.ReadinessTimeout < 0 || c.RoundTimeout < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}

	return nil
}

// Participants is the membership view the coordinator samples from.
type Participants interface {
	WaitFor(ctx context.Context, n int, timeout time.Duration) ([]registry.Participant, error)
	List() registry.ParticipantPage
}

type RoundSummary struct {
	Round       int
	Phase       fl.Phase
	Sampled     int
	Successes   int
	Failures    int
	NumExamples uint64
	Elapsed     time.Duration
}

// History is the outcome of a completed run.
type History struct {
	Rounds       []RoundSummary
	Evaluation   fl.Evaluation
	Weights      fl.Weights
	Failures     []fl.Failure
	Participants []string
	Elapsed      time.Duration
}

type Coordinator struct {
	cfg          Config
	participants Participants
	sampler      scheduler.Sampler
	strategy     fl.Strategy
	logger       *slog.Logger
}

func New(cfg Config, participants Participants, sampler scheduler.Sampler, strategy fl.Strategy, logger *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:          cfg,
		participants: participants,
		sampler:      sampler,
		strategy:     strategy,
		logger:       logger,
	}, nil
}

// Run trains for numRounds fit rounds followed by one evaluation of the
// final weights. The returned History owns its weights.
func (c *Coordinator) Run(ctx context.Context, numRounds int, initial fl.Weights) (History, error) {
	if numRounds < 1 {
		return History{}, fmt.Errorf("%w: number of rounds %d", ErrInvalidConfig, numRounds)
	}

	start := time.Now()
	weights := initial.Clone()
	succeeded := make(map[string]struct{})
	var hist History

	for round := 1; round <= numRounds; round++ {
		next, summary, failures, err := c.fitRound(ctx, round, weights, succeeded)
		hist.Failures = append(hist.Failures, failures...)
		if err != nil {
			return History{}, c.abort(ctx, round, fl.PhaseFit, err)
		}
		hist.Rounds = append(hist.Rounds, summary)
		weights = next
	}

	ev, summary, failures, err := c.evaluateRound(ctx, numRounds, weights, succeeded)
	hist.Failures = append(hist.Failures, failures...)
	if err != nil {
		return History{}, c.abort(ctx, numRounds, fl.PhaseEvaluate, err)
	}
	hist.Rounds = append(hist.Rounds, summary)

	hist.Evaluation = ev
	hist.Weights = weights.Clone()
	for id := range succeeded {
		hist.Participants = append(hist.Participants, id)
	}
	slices.Sort(hist.Participants)
	hist.Elapsed = time.Since(start)

	c.logger.InfoContext(ctx, "run completed",
		slog.Int("rounds", numRounds),
		slog.Int("participants", len(hist.Participants)),
		slog.Int("failures", len(hist.Failures)),
		slog.Float64("loss", ev.Loss),
		slog.String("duration", hist.Elapsed.String()),
	)

	return hist, nil
}

func (c *Coordinator) fitRound(ctx context.Context, round int, weights fl.Weights, succeeded map[string]struct{}) (fl.Weights, RoundSummary, []fl.Failure, error) {
	begin := time.Now()
	sampled, err := c.sample(ctx, c.cfg.FractionFit)
	if err != nil {
		return nil, RoundSummary{}, nil, err
	}

	ins := fl.FitIns{Round: round, Weights: weights, Config: c.cfg.FitConfig}
	outcomes := fanOut(ctx, c.cfg.MaxConcurrency, c.cfg.RoundTimeout, sampled, func(ctx context.Context, cl participant.Client) (fl.FitRes, error) {
		res, err := cl.Fit(ctx, ins)
		if err != nil {
			return fl.FitRes{}, err
		}
		if err := res.Validate(); err != nil {
			return fl.FitRes{}, err
		}

		return res, nil
	})

	var results []fl.FitResult
	var failures []fl.Failure
	for _, o := range outcomes {
		if o.err != nil {
			failures = append(failures, c.failure(ctx, round, fl.PhaseFit, o.id, o.err))

			continue
		}
		results = append(results, fl.FitResult{ParticipantID: o.id, FitRes: o.res})
	}

	if err := c.quorum(len(results), len(sampled)); err != nil {
		return nil, RoundSummary{}, failures, err
	}

	next, err := c.strategy.AggregateFit(ctx, round, results, failures)
	if err != nil {
		return nil, RoundSummary{}, failures, err
	}

	summary := RoundSummary{
		Round:     round,
		Phase:     fl.PhaseFit,
		Sampled:   len(sampled),
		Successes: len(results),
		Failures:  len(failures),
		Elapsed:   time.Since(begin),
	}
	for _, r := range results {
		succeeded[r.ParticipantID] = struct{}{}
		summary.NumExamples += r.NumExamples
	}

	return next, summary, failures, nil
}

func (c *Coordinator) evaluateRound(ctx context.Context, round int, weights fl.Weights, succeeded map[string]struct{}) (fl.Evaluation, RoundSummary, []fl.Failure, error) {
	begin := time.Now()
	sampled, err := c.sample(ctx, c.cfg.FractionEvaluate)
	if err != nil {
		return fl.Evaluation{}, RoundSummary{}, nil, err
	}

	ins := fl.EvaluateIns{Round: round, Weights: weights, Config: c.cfg.EvaluateConfig}
	outcomes := fanOut(ctx, c.cfg.MaxConcurrency, c.cfg.RoundTimeout, sampled, func(ctx context.Context, cl participant.Client) (fl.EvaluateRes, error) {
		res, err := cl.Evaluate(ctx, ins)
		if err != nil {
			return fl.EvaluateRes{}, err
		}
		if err := res.Validate(); err != nil {
			return fl.EvaluateRes{}, err
		}

		return res, nil
	})

	var results []fl.EvaluateResult
	var failures []fl.Failure
	for _, o := range outcomes {
		if o.err != nil {
			failures = append(failures, c.failure(ctx, round, fl.PhaseEvaluate, o.id, o.err))

			continue
		}
		results = append(results, fl.EvaluateResult{ParticipantID: o.id, EvaluateRes: o.res})
	}

	if err := c.quorum(len(results), len(sampled)); err != nil {
		return fl.Evaluation{}, RoundSummary{}, failures, err
	}

	ev, err := c.strategy.AggregateEvaluate(ctx, round, results, failures)
	if err != nil {
		return fl.Evaluation{}, RoundSummary{}, failures, err
	}

	for _, r := range results {
		succeeded[r.ParticipantID] = struct{}{}
	}

	return ev, RoundSummary{
		Round:       round,
		Phase:       fl.PhaseEvaluate,
		Sampled:     len(sampled),
		Successes:   len(results),
		Failures:    len(failures),
		NumExamples: ev.NumExamples,
		Elapsed:     time.Since(begin),
	}, failures, nil
}

func (c *Coordinator) sample(ctx context.Context, fraction float64) ([]registry.Participant, error) {
	available, err := c.participants.WaitFor(ctx, c.cfg.MinParticipants, c.cfg.ReadinessTimeout)
	if err != nil {
		return nil, err
	}

	return c.sampler.Sample(available, fraction, c.cfg.MinParticipants)
}

func (c *Coordinator) quorum(successes, sampled int) error {
	if successes < c.cfg.MinParticipants {
		return fmt.Errorf("%w: %d of %d sampled, %d required", ErrNotEnoughResults, successes, sampled, c.cfg.MinParticipants)
	}

	return nil
}

func (c *Coordinator) failure(ctx context.Context, round int, phase fl.Phase, id string, err error) fl.Failure {
	c.logger.WarnContext(ctx, "participant failed",
		slog.Int("round", round),
		slog.String("phase", string(phase)),
		slog.String("participant_id", id),
		slog.Any("error", err),
	)

	return fl.Failure{Round: round, Phase: phase, ParticipantID: id, Err: err}
}

// abort wraps a fatal error with its round and phase. An expired run context
// takes precedence over whatever the phase reported.
func (c *Coordinator) abort(ctx context.Context, round int, phase fl.Phase, err error) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %w", ErrDeadlineExceeded, ctxErr)
	case ctxErr != nil:
		err = ctxErr
	}

	c.logger.ErrorContext(ctx, "run aborted",
		slog.Int("round", round),
		slog.String("phase", string(phase)),
		slog.Any("error", err),
	)

	return &RoundError{Round: round, Phase: phase, Err: err}
}

// DisconnectAll asks every registered participant to leave.
func (c *Coordinator) DisconnectAll(ctx context.Context) error {
	return DisconnectAll(ctx, c.participants, c.cfg.MaxConcurrency, c.logger)
}

// DisconnectAll asks every participant in participants to leave, running at
// most limit requests at once. Zero limit is unbounded.
func DisconnectAll(ctx context.Context, participants Participants, limit int, logger *slog.Logger) error {
	page := participants.List()
	errs := make([]error, len(page.Participants))

	g := &errgroup.Group{}
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, p := range page.Participants {
		g.Go(func() error {
			if err := p.Client.Disconnect(ctx); err != nil {
				errs[i] = fmt.Errorf("participant %s: %w", p.ID, err)
			}

			return nil
		})
	}
	_ = g.Wait()

	logger.InfoContext(ctx, "participants disconnected", slog.Int("count", len(page.Participants)))

	return errors.Join(errs...)
}
