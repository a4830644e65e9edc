package analysis

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrTaskNotCompleted = errors.New("task not completed")
	ErrPersistence      = errors.New("persistence failure")
)
