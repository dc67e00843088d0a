package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrHistoryUnavailable = errors.New("history store unavailable")
)
