package participant

import (
	"context"
	"errors"

	"github.com/absmach/fedrun/pkg/fl"
	"github.com/absmach/fedrun/pkg/usage"
)

var (
	ErrParticipant     = errors.New("participant reported an error")
	ErrTransportClosed = errors.New("participant transport closed")
	ErrInvalidMessage  = errors.New("invalid participant message")
)

// Client is the coordinator side handle of one remote participant.
// Implementations must not modify the weights they receive; the same
// payload is shared by every participant of a round.
type Client interface {
	ID() string
	Fit(ctx context.Context, ins fl.FitIns) (fl.FitRes, error)
	Evaluate(ctx context.Context, ins fl.EvaluateIns) (fl.EvaluateRes, error)
	Disconnect(ctx context.Context) error
}

// Directory receives membership changes observed by a transport.
type Directory interface {
	Register(ctx context.Context, id, name string, client Client) error
	Unregister(ctx context.Context, id string) error
	MarkAlive(ctx context.Context, id string, u *usage.Usage) error
}
