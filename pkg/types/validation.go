package types

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: compiled once, shared by every read loop
var (
	sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_:.-]+$`)
	payloadRules   = validator.New(validator.WithRequiredStructEnabled())
)

type envelope struct {
	Type string `json:"type"`
}

// Decode parses one client frame into its concrete Inbound message.
// Unparseable JSON, a missing or unknown type and field shape violations
// all surface as errors; the caller answers them with an error reply.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var msg Inbound
	switch env.Type {
	case MessageTypeSubmitPrompt:
		msg = &SubmitPrompt{}
	case MessageTypeSyncCode:
		msg = &SyncCode{}
	case MessageTypeSyncState:
		msg = &SyncState{}
	case MessageTypeSyncSlider:
		msg = &SyncSlider{}
	case MessageTypeControlSlider:
		msg = &ControlSlider{}
	case MessageTypeStopControl:
		msg = &StopControl{}
	case MessageTypeRegisterSliders:
		msg = &RegisterSliders{}
	case MessageTypeExecutionError:
		msg = &ExecutionError{}
	case "":
		return nil, ErrMissingMessageType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := payloadRules.Struct(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return msg, nil
}

// IsValidSessionID checks a client supplied session identifier.
// 1-128 characters, alphanumeric plus _ : . -
func IsValidSessionID(sessionID string) bool {
	if len(sessionID) < 1 || len(sessionID) > 128 {
		return false
	}
	return sessionIDRegex.MatchString(sessionID)
}
