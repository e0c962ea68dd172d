package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fedrun/pkg/fl"
	"github.com/absmach/fedrun/pkg/mqtt"
	"github.com/absmach/fedrun/pkg/usage"
)

const defLivelinessInterval = 10 * time.Second

var errEmptyParticipantID = errors.New("empty participant id")

// Trainer is the local training routine a participant exposes to the
// coordinator.
type Trainer interface {
	Fit(ctx context.Context, ins fl.FitIns) (fl.FitRes, error)
	Evaluate(ctx context.Context, ins fl.EvaluateIns) (fl.EvaluateRes, error)
}

type AgentConfig struct {
	ID                 string
	Name               string
	ChannelID          string
	LivelinessInterval time.Duration
	MaxMessageSize     int
	// ReportUsage attaches process resource usage to liveness reports.
	ReportUsage bool
}

// Agent is the participant side of Transport. It announces the participant,
// keeps it alive and answers fit and evaluate requests with a Trainer.
type Agent struct {
	cfg       AgentConfig
	pubsub    mqtt.PubSub
	trainer   Trainer
	logger    *slog.Logger
	collector *usage.Collector

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	once    sync.Once
	done    chan struct{}
}

func NewAgent(cfg AgentConfig, pubsub mqtt.PubSub, trainer Trainer, logger *slog.Logger) (*Agent, error) {
	if cfg.ID == "" {
		return nil, errEmptyParticipantID
	}
	if cfg.LivelinessInterval <= 0 {
		cfg.LivelinessInterval = defLivelinessInterval
	}

	a := &Agent{
		cfg:     cfg,
		pubsub:  pubsub,
		trainer: trainer,
		logger:  logger,
		done:    make(chan struct{}),
	}
	if cfg.ReportUsage {
		a.collector = usage.NewCollector()
	}

	return a, nil
}

// Run serves requests until ctx is done or the coordinator asks the
// participant to disconnect. On return the participant is reported offline.
func (a *Agent) Run(ctx context.Context) error {
	topic := RequestTopic(a.cfg.ChannelID, a.cfg.ID, "+")
	if err := a.pubsub.Subscribe(ctx, topic, a.handle(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	create := CreateMessage{ParticipantID: a.cfg.ID, Name: a.cfg.Name}
	if err := a.pubsub.Publish(ctx, ParticipantTopic(a.cfg.ChannelID, createTopic), create); err != nil {
		return errors.Join(errors.New("failed to publish discovery"), err)
	}
	a.logger.InfoContext(ctx, "participant announced", slog.String("participant_id", a.cfg.ID))

	a.livelinessUpdates(ctx)
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	a.wg.Wait()

	// ctx may already be done; the goodbye uses its own deadline.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.LivelinessInterval)
	defer cancel()

	offline := OfflineMessage{ParticipantID: a.cfg.ID, Status: statusOffline}
	err := a.pubsub.Publish(stopCtx, ParticipantTopic(a.cfg.ChannelID, offlineTopic), offline)
	if uerr := a.pubsub.Unsubscribe(stopCtx, topic); uerr != nil {
		err = errors.Join(err, uerr)
	}

	return err
}

func (a *Agent) livelinessUpdates(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.LivelinessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("stopping liveliness updates")

			return
		case <-a.done:
			a.logger.Info("disconnect requested by coordinator")

			return
		case <-ticker.C:
			msg := AliveMessage{ParticipantID: a.cfg.ID}
			if a.collector != nil {
				u := a.collector.Collect()
				msg.Usage = &u
			}
			if err := a.pubsub.Publish(ctx, ParticipantTopic(a.cfg.ChannelID, aliveTopic), msg); err != nil {
				a.logger.Error("failed to publish liveliness message", slog.Any("error", err))
			}
		}
	}
}

// handle must not block: the MQTT client delivers messages from a single
// goroutine, so training runs in its own goroutine.
func (a *Agent) handle(ctx context.Context) mqtt.Handler {
	return func(_ string, payload []byte) error {
		var req Request
		if err := mqtt.Decode(payload, &req, a.cfg.MaxMessageSize); err != nil {
			return errors.Join(ErrInvalidMessage, err)
		}

		switch req.Kind {
		case KindDisconnect:
			a.once.Do(func() { close(a.done) })

			return nil
		case KindFit, KindEvaluate:
		default:
			return fmt.Errorf("%w: unknown request kind %q", ErrInvalidMessage, req.Kind)
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.stopped {
			return nil
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.serve(ctx, req)
		}()

		return nil
	}
}

func (a *Agent) serve(ctx context.Context, req Request) {
	resp := Response{
		RequestID:     req.RequestID,
		ParticipantID: a.cfg.ID,
	}

	var err error
	switch {
	case req.Kind == KindFit && req.Fit != nil:
		var res fl.FitRes
		if res, err = a.trainer.Fit(ctx, *req.Fit); err == nil {
			resp.Fit = &res
		}
	case req.Kind == KindEvaluate && req.Evaluate != nil:
		var res fl.EvaluateRes
		if res, err = a.trainer.Evaluate(ctx, *req.Evaluate); err == nil {
			resp.Evaluate = &res
		}
	default:
		err = fmt.Errorf("%w: %s request without instructions", ErrInvalidMessage, req.Kind)
	}
	if err != nil {
		resp.Error = err.Error()
		a.logger.WarnContext(ctx, "request failed",
			slog.String("request_id", req.RequestID),
			slog.String("kind", req.Kind),
			slog.Any("error", err),
		)
	}

	if err := a.pubsub.Publish(ctx, ParticipantTopic(a.cfg.ChannelID, resultsTopic), resp); err != nil {
		a.logger.ErrorContext(ctx, "failed to publish result",
			slog.String("request_id", req.RequestID),
			slog.Any("error", err),
		)
	}
}
