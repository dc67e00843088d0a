package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrNoPresets         = errors.New("no preset library configured")
)

// MsgMalformed is the error reply for a frame that does not decode.
const MsgMalformed = "无效的消息格式"
