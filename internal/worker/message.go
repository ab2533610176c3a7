// Package worker runs the synthesis engine behind a JSON message channel so
// that callers never block on voice precompilation or note synthesis.
package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	apperr "github.com/satindergrewal/kanasynth/internal/errors"
	"github.com/satindergrewal/kanasynth/internal/synth"
)

// Message types
const (
	TypeVoiceInit         = "voice-init"
	TypeSynthNote         = "synth-note"
	TypeRenderWaveImage   = "render-wave-image"
	TypeRenderSpectrogram = "render-spectrogram"
)

// Response status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is one message sent to the worker.
type Request struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`

	payload any
}

// Response answers the request with the same ID. ID is null when the request
// could not be parsed far enough to know it.
type Response struct {
	ID     *string         `json:"id"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// SynthNoteData is the payload of a synth-note request.
type SynthNoteData struct {
	BPM       float64     `json:"bpm"`
	Note      *synth.Note `json:"note"`
	SpeakerID string      `json:"speakerId"`
}

// DrawData is the payload of both render requests.
type DrawData struct {
	FS       int         `json:"fs"`
	Channels [][]float32 `json:"channels"`
}

// Speaker describes a voice reported by voice-init.
type Speaker struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	SampleRate int      `json:"sampleRate"`
	Phonemes   []string `json:"phonemes"`
}

// ParseRequest decodes and validates a raw message. The returned request is
// nil on error; its ID, when known, is still reported through the error
// response built by the worker.
func ParseRequest(raw []byte) (*Request, error) {
	var env struct {
		ID   *string         `json:"id"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed("request", "decode: %v", err)
	}
	if env.ID == nil || *env.ID == "" {
		return nil, malformed("request.id", "missing")
	}
	req := &Request{ID: *env.ID, Type: env.Type, Data: env.Data}

	switch env.Type {
	case TypeVoiceInit:
		if len(env.Data) > 0 && string(env.Data) != "null" {
			return nil, malformed("request.data", "voice-init takes no data")
		}
	case TypeSynthNote:
		var d SynthNoteData
		if err := decodeData(env.Data, &d); err != nil {
			return nil, err
		}
		if err := synth.ValidateBPM(d.BPM); err != nil {
			return nil, err
		}
		if d.Note == nil {
			return nil, malformed("request.data.note", "missing")
		}
		if err := d.Note.Validate(); err != nil {
			return nil, err
		}
		if d.SpeakerID == "" {
			return nil, malformed("request.data.speakerId", "missing")
		}
		req.payload = &d
	case TypeRenderWaveImage, TypeRenderSpectrogram:
		var d DrawData
		if err := decodeData(env.Data, &d); err != nil {
			return nil, err
		}
		if d.FS < 1 {
			return nil, malformed("request.data.fs", "sample rate %d", d.FS)
		}
		req.payload = &d
	default:
		return nil, malformed("request.type", "unknown type %q", env.Type)
	}
	return req, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return malformed("request.data", "missing")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return malformed("request.data", "decode: %v", err)
	}
	return nil
}

func malformed(field, format string, args ...any) error {
	return apperr.Invalid(field, apperr.ErrMalformedRecord, format, args...)
}

// errorCodes maps sentinel errors to stable wire codes so the client can
// hand callers errors that still match errors.Is.
var errorCodes = []struct {
	code string
	err  error
}{
	{"invalid-length", apperr.ErrInvalidLength},
	{"timing-mismatch", apperr.ErrTimingMismatch},
	{"unknown-speaker", apperr.ErrUnknownSpeaker},
	{"unknown-phoneme", apperr.ErrUnknownPhoneme},
	{"unknown-lyric", apperr.ErrUnknownLyric},
	{"invalid-bpm", apperr.ErrInvalidBPM},
	{"voices-not-ready", apperr.ErrVoicesNotReady},
	{"malformed", apperr.ErrMalformedRecord},
}

const (
	codeValidation = "validation"
	codeInternal   = "internal"
)

func codeOf(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	if apperr.IsValidation(err) {
		return codeValidation
	}
	return codeInternal
}

// responseError rebuilds a Go error from an error response.
func responseError(r *Response) error {
	for _, c := range errorCodes {
		if c.code == r.Code {
			return fmt.Errorf("worker: %w: %s", c.err, r.Error)
		}
	}
	if r.Code == codeValidation {
		return &apperr.ValidationError{Reason: r.Error}
	}
	return fmt.Errorf("worker: %s", r.Error)
}
