package types

import (
	"time"
)

// Connection roles. A connection holds exactly one role for its lifetime.
const (
	RoleMaster = "master"
	RoleViewer = "viewer"
	RoleMobile = "mobile"
)

// Client types carried in the connection URL (?type=screen|mobile).
const (
	ClientTypeScreen = "screen"
	ClientTypeMobile = "mobile"
)

// Inbound message types (client -> server)
const (
	MessageTypeSubmitPrompt    = "submit_prompt"
	MessageTypeSyncCode        = "sync_code"
	MessageTypeSyncState       = "sync_state"
	MessageTypeSyncSlider      = "sync_slider"
	MessageTypeControlSlider   = "control_slider"
	MessageTypeStopControl     = "stop_control"
	MessageTypeRegisterSliders = "register_sliders"
	MessageTypeExecutionError  = "execution_error"
)

// Outbound message types (server -> client)
const (
	MessageTypeInit              = "init"
	MessageTypeCodeUpdate        = "code_update"
	MessageTypeQueueUpdate       = "queue_update"
	MessageTypeQueued            = "queued"
	MessageTypeRateLimited       = "rate_limited"
	MessageTypeError             = "error"
	MessageTypeProcessing        = "processing"
	MessageTypePromptApplied     = "prompt_applied"
	MessageTypeGenerationFailed  = "generation_failed"
	MessageTypeRequestCode       = "request_code"
	MessageTypePlayState         = "play_state"
	MessageTypeSliderUpdate      = "slider_update"
	MessageTypeSliderValueUpdate = "slider_value_update"
	MessageTypeApplyForce        = "apply_force"
	MessageTypeForceInfo         = "force_info"
	MessageTypeAvailableSliders  = "available_sliders"
)

// Slider is a control surface declared by the master display.
type Slider struct {
	ID    string  `json:"id" validate:"required,max=128"`
	Name  string  `json:"name,omitempty"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Value float64 `json:"value"`
}

// SliderForce is the aggregated feedback for one surface.
type SliderForce struct {
	ID           string  `json:"id"`
	NetForce     float64 `json:"netForce"`
	Participants int     `json:"participants"`
}

// ValidationResult is the verdict of the static code validator.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Generation outcomes recorded in the history log.
const (
	GenerationStatusApplied = "applied"
	GenerationStatusFailed  = "failed"
)

// GenerationRecord is one terminal outcome of the generation pipeline.
// ARCHITECTURAL DISCOVERY: audit-only record, never replayed into live state
type GenerationRecord struct {
	ID         string    `json:"id" db:"id"`
	SessionID  string    `json:"sessionId" db:"session_id"`
	Prompt     string    `json:"prompt" db:"prompt"`
	Status     string    `json:"status" db:"status"`
	Reason     string    `json:"reason,omitempty" db:"reason"`
	Attempts   int       `json:"attempts" db:"attempts"`
	CodeLength int       `json:"codeLength" db:"code_length"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
