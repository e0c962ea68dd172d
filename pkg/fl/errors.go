package fl

import "errors"

var (
	ErrNoUpdates          = errors.New("no updates provided for aggregation")
	ErrOverflow           = errors.New("sample count overflow during aggregation")
	ErrNoExamples         = errors.New("participants reported zero examples")
	ErrShapeMismatch      = errors.New("participant weights have mismatched shapes")
	ErrPayloadTooLarge    = errors.New("payload exceeds maximum message size")
	ErrEmptyUpdate        = errors.New("empty participant update")
	ErrUnsupportedMetrics = errors.New("unsupported metrics schema version")
	ErrInvalidResult      = errors.New("participant result contains a non-finite value")
)
