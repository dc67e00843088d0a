package types

// Outbound envelopes. Every envelope carries its own "type" discriminator so
// that it can be handed straight to Connection.WriteJSON.

// InitMessage is the snapshot sent to a connection right after it enters a role.
type InitMessage struct {
	Type          string   `json:"type"`
	Role          string   `json:"role"`
	SessionID     string   `json:"sessionId,omitempty"`
	Code          string   `json:"code"`
	Playing       bool     `json:"playing"`
	RecentPrompts []string `json:"recentPrompts"`
	QueueSize     int      `json:"queueSize"`
	// Position is the 1-based queue slot of the session's waiting prompt
	Position      int      `json:"position,omitempty"`
	Sliders       []Slider `json:"sliders"`
}

type CodeUpdateMessage struct {
	Type          string   `json:"type"`
	Code          string   `json:"code"`
	Prompt        string   `json:"prompt,omitempty"`
	SessionID     string   `json:"sessionId,omitempty"`
	RecentPrompts []string `json:"recentPrompts"`
}

type QueueUpdateMessage struct {
	Type      string `json:"type"`
	QueueSize int    `json:"queueSize"`
}

type QueuedMessage struct {
	Type     string `json:"type"`
	Position int    `json:"position"`
}

type RateLimitedMessage struct {
	Type        string `json:"type"`
	WaitSeconds int    `json:"waitSeconds"`
}

// NoticeMessage covers the plain text notifications: error, processing,
// prompt_applied, generation_failed and execution_error.
type NoticeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type RequestCodeMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

type PlayStateMessage struct {
	Type    string `json:"type"`
	Playing bool   `json:"playing"`
}

// SliderValueMessage is used for both slider_update (viewers) and
// slider_value_update (mobiles).
type SliderValueMessage struct {
	Type  string  `json:"type"`
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

type ApplyForceMessage struct {
	Type  string  `json:"type"`
	ID    string  `json:"id"`
	Force float64 `json:"force"`
}

type ForceInfoMessage struct {
	Type    string        `json:"type"`
	Sliders []SliderForce `json:"sliders"`
}

type AvailableSlidersMessage struct {
	Type    string   `json:"type"`
	Sliders []Slider `json:"sliders"`
}

func NewNotice(messageType, message string) *NoticeMessage {
	return &NoticeMessage{Type: messageType, Message: message}
}

func NewError(message string) *NoticeMessage {
	return NewNotice(MessageTypeError, message)
}

func NewQueueUpdate(size int) *QueueUpdateMessage {
	return &QueueUpdateMessage{Type: MessageTypeQueueUpdate, QueueSize: size}
}

func NewCodeUpdate(code, prompt, sessionID string, recent []string) *CodeUpdateMessage {
	if recent == nil {
		recent = []string{}
	}
	return &CodeUpdateMessage{
		Type:          MessageTypeCodeUpdate,
		Code:          code,
		Prompt:        prompt,
		SessionID:     sessionID,
		RecentPrompts: recent,
	}
}
