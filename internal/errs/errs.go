// Package errs carries the dictation error taxonomy shared by capture,
// transcription and insertion.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a dictation failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindPermissionDenied
	KindNoAudioCaptured
	KindRecordingTooShort
	KindModelNotLoaded
	KindInferenceFailed
	KindCancelled
	KindTextInsertionFailed
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown",
	KindPermissionDenied:    "permission_denied",
	KindNoAudioCaptured:     "no_audio_captured",
	KindRecordingTooShort:   "recording_too_short",
	KindModelNotLoaded:      "model_not_loaded",
	KindInferenceFailed:     "inference_failed",
	KindCancelled:           "cancelled",
	KindTextInsertionFailed: "text_insertion_failed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Visible reports whether failures of this kind should reach the user.
func (k Kind) Visible() bool {
	return k != KindRecordingTooShort && k != KindCancelled
}

// AppError is a classified failure with optional metadata and cause.
type AppError struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another *AppError of the same kind, so sentinel values like
// ErrModelNotLoaded work with errors.Is.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Message == ""
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Kind-only sentinels for errors.Is.
var (
	ErrPermissionDenied    = &AppError{Kind: KindPermissionDenied}
	ErrNoAudioCaptured     = &AppError{Kind: KindNoAudioCaptured}
	ErrRecordingTooShort   = &AppError{Kind: KindRecordingTooShort}
	ErrModelNotLoaded      = &AppError{Kind: KindModelNotLoaded}
	ErrInferenceFailed     = &AppError{Kind: KindInferenceFailed}
	ErrCancelled           = &AppError{Kind: KindCancelled}
	ErrTextInsertionFailed = &AppError{Kind: KindTextInsertionFailed}
)

func New(kind Kind, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(err error, kind Kind, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg, Cause: err}
}

func Wrapf(err error, kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage renders err for the UI error channel.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindPermissionDenied:
		return "Microphone unavailable. Check that a device is connected and access is allowed."
	case KindNoAudioCaptured:
		return "No audio was captured."
	case KindModelNotLoaded:
		return "The selected transcription model is not loaded."
	case KindInferenceFailed:
		return "Transcription failed: " + rootMessage(err)
	case KindTextInsertionFailed:
		return "Transcript ready but could not be inserted into the target app."
	case KindCancelled:
		return "Cancelled."
	default:
		return err.Error()
	}
}

func rootMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}
