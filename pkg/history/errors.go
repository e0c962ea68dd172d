package history

import "errors"

var (
	ErrNoHistory      = errors.New("no run history")
	ErrCorruptHistory = errors.New("run history is unreadable")
	ErrVersionExists  = errors.New("run version already committed")
	ErrInvalidRecord  = errors.New("invalid run record")
	ErrInvalidRef     = errors.New("invalid weights reference")
	ErrCommit         = errors.New("failed to commit run record")
)
