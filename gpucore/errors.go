package gpucore

import "errors"

// Recorder state errors returned by backends.
var (
	ErrNotRecording     = errors.New("gpucore: recorder is not recording")
	ErrAlreadyRecording = errors.New("gpucore: recorder is already recording")
	ErrRecorderLevel    = errors.New("gpucore: wrong recorder level")
	ErrForeignObject    = errors.New("gpucore: object belongs to another backend")
)
