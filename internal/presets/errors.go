package presets

import "errors"

var (
	ErrIndexOutOfRange = errors.New("preset index out of range")
	ErrNoPresets       = errors.New("preset file contains no patterns")
)
