package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for structural failures
var (
	ErrInvalidLength   = errors.New("invalid length")
	ErrTimingMismatch  = errors.New("phoneme timing count mismatch")
	ErrUnknownSpeaker  = errors.New("unknown speaker")
	ErrUnknownPhoneme  = errors.New("unknown phoneme")
	ErrUnknownLyric    = errors.New("unknown lyric")
	ErrInvalidBPM      = errors.New("bpm must be >= 1")
	ErrVoicesNotReady  = errors.New("voices not initialized")
	ErrUnknownTrack    = errors.New("unknown track")
	ErrMalformedRecord = errors.New("malformed record")
)

// ValidationError reports malformed input rejected before any numeric work.
type ValidationError struct {
	Field  string // "note.pitch", "voice.segLen", "fft.length"
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Invalid builds a ValidationError with a formatted reason.
func Invalid(field string, cause error, format string, args ...any) *ValidationError {
	return &ValidationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
		Cause:  cause,
	}
}

// SynthesisError represents a failure while synthesizing a single note.
type SynthesisError struct {
	TrackID string
	NoteID  string
	Cause   error
}

func (e *SynthesisError) Error() string {
	if e.TrackID != "" {
		return fmt.Sprintf("synthesis failed for note %s on track %s: %v", e.NoteID, e.TrackID, e.Cause)
	}
	return fmt.Sprintf("synthesis failed for note %s: %v", e.NoteID, e.Cause)
}

func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
