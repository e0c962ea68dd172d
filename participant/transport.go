package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/fedrun/pkg/fl"
	"github.com/absmach/fedrun/pkg/mqtt"
	"github.com/google/uuid"
)

type pending struct {
	participantID string
	ch            chan Response
}

// Transport reaches participants over MQTT. It registers participants in a
// Directory as they announce themselves and correlates their results with
// outstanding requests.
type Transport struct {
	pubsub    mqtt.PubSub
	dir       Directory
	channelID string
	baseTopic string
	maxSize   int
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]pending
	closed  bool
}

func NewTransport(pubsub mqtt.PubSub, dir Directory, channelID string, maxSize int, logger *slog.Logger) *Transport {
	return &Transport{
		pubsub:    pubsub,
		dir:       dir,
		channelID: channelID,
		baseTopic: BaseTopic(channelID),
		maxSize:   maxSize,
		logger:    logger,
		pending:   make(map[string]pending),
	}
}

// Start subscribes to participant events. Events are handled until ctx is
// done or Stop is called.
func (t *Transport) Start(ctx context.Context) error {
	topic := t.baseTopic + participantPrefix + "#"
	if err := t.pubsub.Subscribe(ctx, topic, t.handle(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	return nil
}

// Stop unsubscribes and fails every outstanding request.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	for id, p := range t.pending {
		close(p.ch)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	return t.pubsub.Unsubscribe(ctx, t.baseTopic+participantPrefix+"#")
}

// Client returns a handle for the participant with the given ID.
func (t *Transport) Client(participantID string) Client {
	return &remoteClient{
		id:        participantID,
		transport: t,
	}
}

func (t *Transport) handle(ctx context.Context) mqtt.Handler {
	return func(topic string, payload []byte) error {
		kind, ok := eventKind(t.baseTopic, topic)
		if !ok {
			return nil
		}

		switch kind {
		case createTopic:
			var msg CreateMessage
			if err := t.decode(payload, &msg); err != nil {
				return err
			}
			if msg.ParticipantID == "" {
				return fmt.Errorf("%w: empty participant id", ErrInvalidMessage)
			}

			return t.dir.Register(ctx, msg.ParticipantID, msg.Name, t.Client(msg.ParticipantID))
		case aliveTopic:
			var msg AliveMessage
			if err := t.decode(payload, &msg); err != nil {
				return err
			}

			return t.dir.MarkAlive(ctx, msg.ParticipantID, msg.Usage)
		case offlineTopic:
			var msg OfflineMessage
			if err := t.decode(payload, &msg); err != nil {
				return err
			}
			t.failPending(msg.ParticipantID)

			return t.dir.Unregister(ctx, msg.ParticipantID)
		case resultsTopic:
			var resp Response
			if err := t.decode(payload, &resp); err != nil {
				return err
			}
			t.deliver(ctx, resp)
		}

		return nil
	}
}

func (t *Transport) decode(payload []byte, v any) error {
	if err := mqtt.Decode(payload, v, t.maxSize); err != nil {
		return errors.Join(ErrInvalidMessage, err)
	}

	return nil
}

func (t *Transport) deliver(ctx context.Context, resp Response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[resp.RequestID]
	if !ok || p.participantID != resp.ParticipantID {
		t.logger.DebugContext(ctx, "dropping uncorrelated participant result",
			slog.String("request_id", resp.RequestID),
			slog.String("participant_id", resp.ParticipantID),
		)

		return
	}
	delete(t.pending, resp.RequestID)
	p.ch <- resp
}

// failPending aborts the outstanding requests of a participant that went
// offline.
func (t *Transport) failPending(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, p := range t.pending {
		if p.participantID == participantID {
			close(p.ch)
			delete(t.pending, id)
		}
	}
}

func (t *Transport) call(ctx context.Context, participantID string, req Request) (Response, error) {
	req.RequestID = uuid.NewString()
	ch := make(chan Response, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()

		return Response{}, ErrTransportClosed
	}
	t.pending[req.RequestID] = pending{participantID: participantID, ch: ch}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, req.RequestID)
		t.mu.Unlock()
	}()

	if err := t.pubsub.Publish(ctx, RequestTopic(t.channelID, participantID, req.Kind), req); err != nil {
		return Response{}, fmt.Errorf("failed to send %s request: %w", req.Kind, err)
	}

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return Response{}, ErrTransportClosed
		}
		if resp.Error != "" {
			return Response{}, fmt.Errorf("%w: %s", ErrParticipant, resp.Error)
		}

		return resp, nil
	}
}

type remoteClient struct {
	id        string
	transport *Transport
}

func (c *remoteClient) ID() string {
	return c.id
}

func (c *remoteClient) Fit(ctx context.Context, ins fl.FitIns) (fl.FitRes, error) {
	resp, err := c.transport.call(ctx, c.id, Request{Kind: KindFit, Fit: &ins})
	if err != nil {
		return fl.FitRes{}, err
	}
	if resp.Fit == nil {
		return fl.FitRes{}, fmt.Errorf("%w: fit response without result", ErrInvalidMessage)
	}

	return *resp.Fit, nil
}

func (c *remoteClient) Evaluate(ctx context.Context, ins fl.EvaluateIns) (fl.EvaluateRes, error) {
	resp, err := c.transport.call(ctx, c.id, Request{Kind: KindEvaluate, Evaluate: &ins})
	if err != nil {
		return fl.EvaluateRes{}, err
	}
	if resp.Evaluate == nil {
		return fl.EvaluateRes{}, fmt.Errorf("%w: evaluate response without result", ErrInvalidMessage)
	}

	return *resp.Evaluate, nil
}

// Disconnect asks the participant to leave. The participant is not expected
// to answer.
func (c *remoteClient) Disconnect(ctx context.Context) error {
	req := Request{
		RequestID: uuid.NewString(),
		Kind:      KindDisconnect,
	}

	return c.transport.pubsub.Publish(ctx, RequestTopic(c.transport.channelID, c.id, KindDisconnect), req)
}
