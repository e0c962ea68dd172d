package participant

import (
	"github.com/absmach/fedrun/pkg/fl"
	"github.com/absmach/fedrun/pkg/usage"
)

const (
	KindFit        = "fit"
	KindEvaluate   = "evaluate"
	KindDisconnect = "disconnect"

	statusOffline = "offline"
)

type CreateMessage struct {
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name,omitempty"`
}

type AliveMessage struct {
	ParticipantID string       `json:"participant_id"`
	Usage         *usage.Usage `json:"usage,omitempty"`
}

type OfflineMessage struct {
	ParticipantID string `json:"participant_id"`
	Status        string `json:"status"`
}

// Request is published to a single participant.
type Request struct {
	RequestID string          `json:"request_id"`
	Kind      string          `json:"kind"`
	Fit       *fl.FitIns      `json:"fit,omitempty"`
	Evaluate  *fl.EvaluateIns `json:"evaluate,omitempty"`
}

// Response answers the Request with the same RequestID. Error is set when the
// participant could not complete the request.
type Response struct {
	RequestID     string          `json:"request_id"`
	ParticipantID string          `json:"participant_id"`
	Fit           *fl.FitRes      `json:"fit,omitempty"`
	Evaluate      *fl.EvaluateRes `json:"evaluate,omitempty"`
	Error         string          `json:"error,omitempty"`
}
