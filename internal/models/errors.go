package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequest is returned when an upload lacks a multipart content type or boundary
	ErrMalformedRequest = errors.New("malformed request")
	// ErrInvalidFileName is returned when a declared filename cannot be stored safely
	ErrInvalidFileName = errors.New("invalid file name")
)

// UploadIOError reports a failure to persist a file part
type UploadIOError struct {
	FileName string
	Op       string
	Err      error
}

func (e *UploadIOError) Error() string {
	return fmt.Sprintf("upload %s %q: %v", e.Op, e.FileName, e.Err)
}

func (e *UploadIOError) Unwrap() error {
	return e.Err
}

// NotificationDeliveryError reports a progress event that could not be delivered
type NotificationDeliveryError struct {
	SessionID string
	Err       error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("deliver progress to session %q: %v", e.SessionID, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error {
	return e.Err
}
