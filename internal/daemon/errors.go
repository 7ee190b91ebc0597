package daemon

import "errors"

var (
	ErrSlotNotFound   = errors.New("slot not found")
	ErrSlotExists     = errors.New("slot already exists")
	ErrInvalidState   = errors.New("invalid slot state")
	ErrInvalidRequest = errors.New("invalid request")
	// ErrCaptureFailed is returned when an operation left the slot failed.
	// The message carries the user-facing reason.
	ErrCaptureFailed = errors.New("capture failed")
)
