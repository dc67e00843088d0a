package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout after 5 seconds")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
)

// Handler-related errors
var (
	ErrInvalidClientType = errors.New("client type must be screen or mobile")
	ErrInvalidSessionID  = errors.New("invalid session identifier")
)
