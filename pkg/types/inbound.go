package types

import "encoding/json"

// Inbound is the closed set of messages a client may send. The unexported
// marker keeps the set closed to this package, so the router's type switch
// is the single place that has to grow when a message type is added.
type Inbound interface {
	MessageType() string
	isInbound()
}

// SubmitPrompt asks for a natural-language change to the running code.
type SubmitPrompt struct {
	Prompt string `json:"prompt"`
}

// SyncCode reports the master's current code. RequestID is set when the
// message answers a request_code pull.
type SyncCode struct {
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty" validate:"omitempty,max=64"`
	Playing   *bool  `json:"playing,omitempty"`
}

type SyncState struct {
	Playing bool `json:"playing"`
}

type SyncSlider struct {
	ID    string  `json:"id" validate:"required,max=128"`
	Value float64 `json:"value"`
}

type ControlSlider struct {
	ID    string  `json:"id" validate:"required,max=128"`
	Force float64 `json:"force"`
}

// StopControl releases one surface, or every surface when All is set.
type StopControl struct {
	ID  string `json:"id,omitempty" validate:"required_without=All,max=128"`
	All bool   `json:"all,omitempty"`
}

type RegisterSliders struct {
	Sliders []Slider `json:"sliders" validate:"max=64,dive"`
}

// ExecutionError is a runtime failure observed by the master while running
// code that was generated for SessionID.
type ExecutionError struct {
	SessionID string `json:"sessionId" validate:"required,max=128"`
	Message   string `json:"message" validate:"max=2000"`
}

func (*SubmitPrompt) MessageType() string    { return MessageTypeSubmitPrompt }
func (*SyncCode) MessageType() string        { return MessageTypeSyncCode }
func (*SyncState) MessageType() string       { return MessageTypeSyncState }
func (*SyncSlider) MessageType() string      { return MessageTypeSyncSlider }
func (*ControlSlider) MessageType() string   { return MessageTypeControlSlider }
func (*StopControl) MessageType() string     { return MessageTypeStopControl }
func (*RegisterSliders) MessageType() string { return MessageTypeRegisterSliders }
func (*ExecutionError) MessageType() string  { return MessageTypeExecutionError }

func (*SubmitPrompt) isInbound()    {}
func (*SyncCode) isInbound()        {}
func (*SyncState) isInbound()       {}
func (*SyncSlider) isInbound()      {}
func (*ControlSlider) isInbound()   {}
func (*StopControl) isInbound()     {}
func (*RegisterSliders) isInbound() {}
func (*ExecutionError) isInbound()  {}

// IsMasterOnly reports whether only the registered master may send msg.
func IsMasterOnly(msg Inbound) bool {
	switch msg.(type) {
	case *SyncCode, *SyncState, *SyncSlider, *RegisterSliders, *ExecutionError:
		return true
	default:
		return false
	}
}

type frameHeader struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Peek reads only the discriminator and surface id of a raw frame. Both are
// empty when the frame is not a JSON object.
func Peek(data []byte) (msgType, id string) {
	var h frameHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return "", ""
	}
	return h.Type, h.ID
}

// IsPriority reports frames that must reach the router even under load:
// prompt submissions, control releases and anything the master sends.
func IsPriority(msgType, senderRole string) bool {
	switch msgType {
	case MessageTypeSubmitPrompt, MessageTypeStopControl:
		return true
	case MessageTypeSyncCode, MessageTypeSyncState, MessageTypeSyncSlider,
		MessageTypeRegisterSliders, MessageTypeExecutionError:
		return senderRole == RoleMaster
	default:
		return false
	}
}
