package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrTaskTerminal     = errors.New("task already in terminal state")
	ErrTaskLimitReached = errors.New("concurrent task limit reached")
	ErrUnknownWorkflow  = errors.New("unknown workflow type")
)
