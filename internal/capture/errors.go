package capture

import (
	"context"
	"errors"
)

type Category string

const (
	CategoryAcquisitionDenied Category = "acquisition_denied"
	CategoryUnsupportedFormat Category = "unsupported_format"
	CategoryDeviceLost        Category = "device_lost"
)

// Error is the user-facing failure recorded on a failed session. Message is
// safe to show to the person recording; the host error is kept for logs.
type Error struct {
	Category Category
	Message  string
	cause    error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

var errDeviceLost = errors.New("device stream ended unexpectedly")

// classify maps a host error to a categorized, sanitized Error.
func classify(err error) *Error {
	e := &Error{Category: CategoryAcquisitionDenied, cause: err}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		e.Message = "Could not access the device. Check the microphone and camera permissions."
	case errors.Is(err, ErrDeviceNotFound):
		e.Message = "No microphone or camera was found."
	case errors.Is(err, ErrDeviceBusy):
		e.Message = "The device is in use by another application."
	case errors.Is(err, ErrUnsupportedFormat):
		e.Category = CategoryUnsupportedFormat
		e.Message = "This device cannot record in a supported format."
	case errors.Is(err, errDeviceLost):
		e.Category = CategoryDeviceLost
		e.Message = "The device was disconnected during the recording."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.Message = "The device request was canceled before access was granted."
	default:
		e.Message = "Could not access the device. Check the microphone and camera permissions."
	}
	return e
}
