// Package synth renders single pitched lyric notes from a precompiled voice
// bank by pitch-synchronous overlap-add of noise-excited phoneme pulses.
package synth

import (
	"math"

	"github.com/google/uuid"

	"github.com/satindergrewal/kanasynth/internal/dsp"
	apperr "github.com/satindergrewal/kanasynth/internal/errors"
)

const (
	// TicksPerQuarter is the tick resolution of one quarter note.
	TicksPerQuarter = 480

	MinPitch = 0
	MaxPitch = 127

	MinF0 = 0.1
	MaxF0 = 10.0

	DefaultF0     = 1.0
	DefaultVolume = 0.5

	a4Pitch = 69
	a4Freq  = 440.0
)

// Note is one pitched, timed lyric. F0Seg is a multiplier on the nominal
// pitch frequency; VolumeSeg is a linear gain curve. Both are stretched to
// the rendered length. PhonemeTimings are ticks relative to Begin; the first
// entry may be negative for a consonant lead-in.
type Note struct {
	ID             string    `json:"id"`
	Lyric          string    `json:"lyric"`
	Pitch          int       `json:"pitch"`
	Begin          int       `json:"begin"`
	End            int       `json:"end"`
	F0Seg          []float64 `json:"f0Seg"`
	VolumeSeg      []float64 `json:"volumeSeg"`
	PhonemeTimings []int     `json:"phonemeTimings"`
}

// Validate checks the structural invariants of the note. The phoneme timing
// count is checked against the lyric at synthesis time, since it depends on
// the voice bank.
func (n *Note) Validate() error {
	if n.Pitch < MinPitch || n.Pitch > MaxPitch {
		return apperr.Invalid("note.pitch", nil, "%d out of [%d, %d]", n.Pitch, MinPitch, MaxPitch)
	}
	if n.Begin < 0 {
		return apperr.Invalid("note.begin", nil, "negative tick %d", n.Begin)
	}
	if n.End < 0 {
		return apperr.Invalid("note.end", nil, "negative tick %d", n.End)
	}
	if len(n.F0Seg) == 0 {
		return apperr.Invalid("note.f0Seg", nil, "empty curve")
	}
	for i, f := range n.F0Seg {
		if math.IsNaN(f) || f < MinF0 || f > MaxF0 {
			return apperr.Invalid("note.f0Seg", nil, "value %v at %d out of [%v, %v]", f, i, MinF0, MaxF0)
		}
	}
	if len(n.VolumeSeg) == 0 {
		return apperr.Invalid("note.volumeSeg", nil, "empty curve")
	}
	for i, v := range n.VolumeSeg {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return apperr.Invalid("note.volumeSeg", nil, "value %v at %d out of [0, 1]", v, i)
		}
	}
	if len(n.PhonemeTimings) == 0 {
		return apperr.Invalid("note.phonemeTimings", apperr.ErrTimingMismatch, "no timings")
	}
	return nil
}

// Clone returns a deep copy of n.
func (n *Note) Clone() *Note {
	c := *n
	c.F0Seg = append([]float64(nil), n.F0Seg...)
	c.VolumeSeg = append([]float64(nil), n.VolumeSeg...)
	c.PhonemeTimings = append([]int(nil), n.PhonemeTimings...)
	return &c
}

// LeadIn is the number of ticks the note sounds before Begin.
func (n *Note) LeadIn() int {
	if len(n.PhonemeTimings) == 0 {
		return 0
	}
	return max(-n.PhonemeTimings[0], 0)
}

// SegLen is the number of curve values a note of this extent carries, one
// per tick of its audible length.
func (n *Note) SegLen() int {
	return max(n.End-n.Begin, 0) + n.LeadIn()
}

// ValidateBPM rejects tempos below one beat per minute.
func ValidateBPM(bpm float64) error {
	if math.IsNaN(bpm) || bpm < 1 {
		return apperr.Invalid("bpm", apperr.ErrInvalidBPM, "got %v", bpm)
	}
	return nil
}

// Tick2Sec converts ticks to seconds at the given tempo.
func Tick2Sec(tick, bpm float64) float64 {
	return (60000 / bpm) * (tick / TicksPerQuarter) / 1000
}

// Sec2Tick converts seconds to ticks at the given tempo.
func Sec2Tick(sec, bpm float64) float64 {
	return 1000 * sec * TicksPerQuarter / (60000 / bpm)
}

func PitchToFreq(pitch float64) float64 {
	return a4Freq * math.Pow(2, (pitch-a4Pitch)/12)
}

func FreqToPitch(freq float64) float64 {
	return a4Pitch + 12*math.Log2(freq/a4Freq)
}

// NewNote builds a note with default flat pitch and volume curves and
// phoneme timings derived from the voice's kana table. An empty id gets a
// fresh UUID.
func NewNote(id, lyric string, pitch, begin, end int, kanas KanaTable, bpm float64) *Note {
	if id == "" {
		id = uuid.NewString()
	}
	n := &Note{
		ID:             id,
		Lyric:          lyric,
		Pitch:          pitch,
		Begin:          begin,
		End:            end,
		PhonemeTimings: PhonemeTimings(lyric, kanas, bpm),
	}
	segLen := n.SegLen()
	n.F0Seg = dsp.Resample([]float64{DefaultF0}, segLen)
	n.VolumeSeg = dsp.Resample([]float64{DefaultVolume}, segLen)
	return n
}
