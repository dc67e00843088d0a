package types

import "errors"

// Protocol errors. All of them are "malformed input": the connection gets
// an error reply and stays open.
var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrMissingMessageType = errors.New("message type is required")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidPayload     = errors.New("invalid message payload")
)
