// Package voice defines speaker voice banks and precompiles their sparse
// spectral envelopes into ready-to-play waveform realizations.
package voice

import (
	"encoding/json"
	"fmt"
	"sort"
)

const (
	// SampleRate is the only sample rate a voice bank may declare.
	SampleRate = 48000
	// Realizations is the number of noise-excited waveforms kept per phoneme.
	Realizations = 8
	// MinSegLen is the shortest accepted analysis segment.
	MinSegLen = 120
)

// Point is one (frequency Hz, log10 magnitude) control point of an envelope.
// It is encoded as a two-element JSON array.
type Point struct {
	Freq  float64
	Level float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Freq, p.Level})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("control point must have 2 values, got %d", len(pair))
	}
	p.Freq, p.Level = pair[0], pair[1]
	return nil
}

// Envelope is an ascending list of control points.
type Envelope []Point

// KanaPhoneme is one entry of a kana's phoneme decomposition. Duration is
// nil only on the last entry, which takes the rest of the note.
type KanaPhoneme struct {
	Phoneme  string   `json:"phoneme"`
	Duration *float64 `json:"duration"` // seconds
	Volume   float64  `json:"volume"`
}

// SpeakerVoice is the raw, static voice bank definition.
type SpeakerVoice struct {
	ID             string                   `json:"id"`
	Name           string                   `json:"name"`
	SampleRate     int                      `json:"sampleRate"`
	SegLen         int                      `json:"segLen"`
	ShiftLen       int                      `json:"shiftLen"`
	ShiftNum       int                      `json:"shiftNum"`
	PhonemeVolumes map[string]float64       `json:"phonemeVolumes"`
	Envelopes      map[string]Envelope      `json:"envelopes"`
	Kanas          map[string][]KanaPhoneme `json:"kanas"`
}

// Computed is a precompiled voice bank. It is immutable once built and safe
// to share between goroutines.
type Computed struct {
	ID         string
	Name       string
	SampleRate int
	SegLen     int // segment length including the echo tail
	Waves      map[string][][]float64
	Kanas      map[string][]KanaPhoneme
	Volumes    map[string]float64
}

// WaveLen is the length of every precomputed realization.
func (c *Computed) WaveLen() int {
	return c.SegLen
}

// Phonemes returns the phoneme keys with precomputed waves, sorted.
func (c *Computed) Phonemes() []string {
	keys := make([]string, 0, len(c.Waves))
	for k := range c.Waves {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasPhoneme reports whether p has precomputed waves.
func (c *Computed) HasPhoneme(p string) bool {
	_, ok := c.Waves[p]
	return ok
}

// PhonemeVolume returns the default loudness of phoneme p.
func (c *Computed) PhonemeVolume(p string) float64 {
	if v, ok := c.Volumes[p]; ok {
		return v
	}
	return 1
}

// Kana returns the phoneme decomposition of a kana lyric.
func (c *Computed) Kana(lyric string) ([]KanaPhoneme, bool) {
	k, ok := c.Kanas[lyric]
	return k, ok
}
