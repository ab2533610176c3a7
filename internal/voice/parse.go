package voice

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperr "github.com/satindergrewal/kanasynth/internal/errors"
)

//go:embed speakers/*.json
var speakersFS embed.FS

// Parse decodes and validates a voice bank definition.
func Parse(data []byte) (*SpeakerVoice, error) {
	var v SpeakerVoice
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, apperr.Invalid("voice", apperr.ErrMalformedRecord, "decode: %v", err)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &v, nil
}

// Validate checks every structural invariant of the voice bank so that
// malformed definitions are rejected at load time.
func (v *SpeakerVoice) Validate() error {
	if v.ID == "" {
		return apperr.Invalid("voice.id", nil, "must not be empty")
	}
	if v.SampleRate != SampleRate {
		return apperr.Invalid("voice.sampleRate", nil, "must be %d, got %d", SampleRate, v.SampleRate)
	}
	if v.SegLen < MinSegLen || v.SegLen%2 != 0 {
		return apperr.Invalid("voice.segLen", nil, "must be an even number >= %d, got %d", MinSegLen, v.SegLen)
	}
	if v.ShiftLen < 1 {
		return apperr.Invalid("voice.shiftLen", nil, "must be >= 1, got %d", v.ShiftLen)
	}
	if v.ShiftNum < 0 {
		return apperr.Invalid("voice.shiftNum", nil, "must be >= 0, got %d", v.ShiftNum)
	}
	if len(v.Envelopes) == 0 {
		return apperr.Invalid("voice.envelopes", nil, "no phoneme envelopes")
	}

	for key, env := range v.Envelopes {
		if err := validateEnvelope(key, env); err != nil {
			return err
		}
	}
	for key, vol := range v.PhonemeVolumes {
		if vol < 0 || vol > 1 {
			return apperr.Invalid("voice.phonemeVolumes."+key, nil, "volume %v out of [0, 1]", vol)
		}
	}

	for kana, entries := range v.Kanas {
		field := "voice.kanas." + kana
		if len(entries) == 0 {
			return apperr.Invalid(field, nil, "empty phoneme decomposition")
		}
		for i, e := range entries {
			if _, ok := v.Envelopes[e.Phoneme]; !ok {
				return apperr.Invalid(field, apperr.ErrUnknownPhoneme, "phoneme %q has no envelope", e.Phoneme)
			}
			last := i == len(entries)-1
			if e.Duration == nil && !last {
				return apperr.Invalid(field, nil, "only the last entry may omit its duration")
			}
			if e.Duration != nil && *e.Duration < 0 {
				return apperr.Invalid(field, nil, "negative duration %v", *e.Duration)
			}
			if e.Volume < 0 || e.Volume > 1 {
				return apperr.Invalid(field, nil, "volume %v out of [0, 1]", e.Volume)
			}
		}
	}
	return nil
}

func validateEnvelope(key string, env Envelope) error {
	field := "voice.envelopes." + key
	if len(env) == 0 {
		return apperr.Invalid(field, nil, "no control points")
	}
	for i, p := range env {
		if p.Freq < 0 || p.Freq > SampleRate {
			return apperr.Invalid(field, nil, "point %d frequency %v out of [0, %d]", i, p.Freq, SampleRate)
		}
		if p.Level < 0 || p.Level > 1 {
			return apperr.Invalid(field, nil, "point %d level %v out of [0, 1]", i, p.Level)
		}
		if i > 0 && p.Freq <= env[i-1].Freq {
			return apperr.Invalid(field, nil, "control points not ascending at %d (%v after %v)", i, p.Freq, env[i-1].Freq)
		}
	}
	return nil
}

// Builtin returns the voice banks shipped with the binary, keyed by id.
func Builtin() (map[string]*SpeakerVoice, error) {
	entries, err := speakersFS.ReadDir("speakers")
	if err != nil {
		return nil, fmt.Errorf("read builtin speakers: %w", err)
	}
	voices := make(map[string]*SpeakerVoice, len(entries))
	for _, e := range entries {
		data, err := speakersFS.ReadFile("speakers/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		v, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("builtin speaker %s: %w", e.Name(), err)
		}
		voices[v.ID] = v
	}
	return voices, nil
}

// LoadDir parses every *.json voice bank in dir.
func LoadDir(dir string) (map[string]*SpeakerVoice, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan voice dir: %w", err)
	}
	sort.Strings(paths)
	voices := make(map[string]*SpeakerVoice, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read voice %s: %w", path, err)
		}
		v, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("voice %s: %w", filepath.Base(path), err)
		}
		voices[v.ID] = v
	}
	return voices, nil
}

// Load returns the builtin voices merged with any found in dir. A voice in
// dir replaces a builtin voice with the same id.
func Load(dir string) (map[string]*SpeakerVoice, error) {
	voices, err := Builtin()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) == "" {
		return voices, nil
	}
	extra, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for id, v := range extra {
		voices[id] = v
	}
	return voices, nil
}
