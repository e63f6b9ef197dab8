// Package apperr defines the error taxonomy shared by every pipeline stage.
//
// Each failure kind is a sentinel. Stages wrap causes in *Error so callers can
// classify with errors.Is and still see the HTTP status and the root cause:
//
//	if errors.Is(err, apperr.ErrQuotaExceeded) { ... }
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds.
var (
	// ErrPermissionDenied is returned when microphone access was refused.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDevice is returned when the audio device or the recording file fails.
	ErrDevice = errors.New("audio device error")

	// ErrAlreadyRecording is returned when a session is already active.
	ErrAlreadyRecording = errors.New("recording already in progress")

	// ErrNoActiveSession is returned when stopping without an active session.
	// It is benign: callers report it and carry on.
	ErrNoActiveSession = errors.New("no active recording session")

	// ErrInvalidAudio is returned for empty artifacts and HTTP 400 from the
	// transcription backend.
	ErrInvalidAudio = errors.New("invalid audio")

	// ErrAuth is returned on HTTP 401.
	ErrAuth = errors.New("authentication failed")

	// ErrQuotaExceeded is returned on HTTP 403 and when 429 retries run out.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrRateLimited is returned on HTTP 429 from the generative backend.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout is returned when a backend call timed out.
	ErrTimeout = errors.New("request timed out")

	// ErrInvalidEndpoint is returned on HTTP 404.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrBackend is returned for malformed or empty responses and any other
	// backend failure.
	ErrBackend = errors.New("backend error")

	// ErrConfiguration is returned when required settings are missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrBusy is returned when the pipeline cannot accept the request in its
	// current state.
	ErrBusy = errors.New("assistant busy")
)

var kinds = []struct {
	kind    error
	code    string
	message string
}{
	{ErrPermissionDenied, "permission_denied", "Microphone access is required for voice recording."},
	{ErrDevice, "device_error", "Failed to record audio. Please try again."},
	{ErrAlreadyRecording, "already_recording", "A recording is already in progress."},
	{ErrNoActiveSession, "no_active_session", "There is no recording to stop."},
	{ErrInvalidAudio, "invalid_audio", "Invalid audio format. Please try speaking again."},
	{ErrAuth, "auth_error", "API key error. Please check configuration."},
	{ErrQuotaExceeded, "quota_exceeded", "API quota exceeded or the API is not enabled."},
	{ErrRateLimited, "rate_limited", "API rate limit exceeded. Please try again later."},
	{ErrTimeout, "timeout", "Request timed out. Please check your internet connection."},
	{ErrInvalidEndpoint, "invalid_endpoint", "Invalid API endpoint. Please check the API configuration."},
	{ErrBackend, "backend_error", "Failed to get a response. Please try again."},
	{ErrConfiguration, "configuration_error", "API keys are not properly configured. Please check your environment setup."},
	{ErrBusy, "busy", "Please wait for the current request to finish."},
}

// Error carries a failure kind together with its context.
type Error struct {
	// Kind is one of the sentinel errors above.
	Kind error

	// Op names the operation that failed, e.g. "stt.transcribe".
	Op string

	// StatusCode is the HTTP status returned by a backend, if any.
	StatusCode int

	// Message is a human-readable detail, e.g. "no speech detected".
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// New builds an *Error for op with the given kind and detail message.
func New(kind error, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an *Error for op with the given kind around err.
func Wrap(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the sentinel kind of err, or nil if err is not classified.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.kind
		}
	}
	return nil
}

// Code returns a stable snake_case code for err, suitable for API payloads.
// Unclassified errors map to "internal".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.code
		}
	}
	return "internal"
}

// UserMessage returns the text shown to the user for err. A detail message
// on *Error takes precedence over the generic text for its kind.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.message
		}
	}
	return "An unexpected error occurred."
}

// IsBenign reports whether err should be reported without failing the turn.
func IsBenign(err error) bool {
	return errors.Is(err, ErrNoActiveSession)
}
