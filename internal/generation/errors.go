package generation

import "errors"

var (
	ErrAlreadyRunning = errors.New("generation worker already running")
	ErrEmptyOutput    = errors.New("empty/error")
)
