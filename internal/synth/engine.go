package synth

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/kanasynth/internal/audio"
	"github.com/satindergrewal/kanasynth/internal/dsp"
	apperr "github.com/satindergrewal/kanasynth/internal/errors"
	"github.com/satindergrewal/kanasynth/internal/voice"
)

// Result is one rendered note. Offset is in ticks relative to the note's
// Begin and is usually negative when the lyric has a lead-in consonant.
type Result struct {
	Wave   []float32 `json:"wave"`
	Offset int       `json:"offset"`
}

// WAV encodes the note audio as a mono float WAV file.
func (r Result) WAV(sampleRate int) []byte {
	return audio.EncodeWAV(r.Wave, sampleRate)
}

// Engine holds the precompiled voices and the random source used to pick
// realizations. It is safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	voices map[string]*voice.Computed

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewEngine creates an engine with no voices. A nil rng is seeded randomly.
func NewEngine(rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{
		voices: make(map[string]*voice.Computed),
		rng:    rng,
	}
}

// Init precompiles voices and installs them, replacing any with the same id.
func (e *Engine) Init(voices map[string]*voice.SpeakerVoice) error {
	e.rngMu.Lock()
	p := voice.NewPrecompiler(rand.New(rand.NewPCG(e.rng.Uint64(), e.rng.Uint64())))
	e.rngMu.Unlock()

	computed, err := p.PrecompileAll(voices)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for id, c := range computed {
		e.voices[id] = c
	}
	e.mu.Unlock()
	return nil
}

// AddVoice installs an already precompiled voice.
func (e *Engine) AddVoice(c *voice.Computed) {
	e.mu.Lock()
	e.voices[c.ID] = c
	e.mu.Unlock()
}

// Voice returns the precompiled voice for id.
func (e *Engine) Voice(id string) (*voice.Computed, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.voices) == 0 {
		return nil, apperr.ErrVoicesNotReady
	}
	v, ok := e.voices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperr.ErrUnknownSpeaker, id)
	}
	return v, nil
}

// Speakers returns the ids of every loaded voice, sorted.
func (e *Engine) Speakers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.voices))
	for id := range e.voices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SynthesizeNote renders note with the voice speakerID at the given tempo.
func (e *Engine) SynthesizeNote(bpm float64, note *Note, speakerID string) (Result, error) {
	v, err := e.Voice(speakerID)
	if err != nil {
		return Result{}, err
	}
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return Synthesize(bpm, note, v, e.rng)
}

// Synthesizer adapts the engine to context-aware callers. The engine does
// not block, so ctx is only checked before work starts.
func (e *Engine) Synthesizer() *LocalSynthesizer {
	return &LocalSynthesizer{Engine: e}
}

// LocalSynthesizer runs synthesis in the caller's goroutine.
type LocalSynthesizer struct {
	Engine *Engine
}

func (l *LocalSynthesizer) SynthesizeNote(ctx context.Context, bpm float64, note *Note, speakerID string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return l.Engine.SynthesizeNote(bpm, note, speakerID)
}

func (l *LocalSynthesizer) SampleRate(speakerID string) (int, error) {
	v, err := l.Engine.Voice(speakerID)
	if err != nil {
		return 0, err
	}
	return v.SampleRate, nil
}

// Synthesize renders note against v, drawing realization choices from rng.
func Synthesize(bpm float64, note *Note, v *voice.Computed, rng *rand.Rand) (Result, error) {
	if err := ValidateBPM(bpm); err != nil {
		return Result{}, err
	}
	if err := note.Validate(); err != nil {
		return Result{}, err
	}

	parts, err := resolveLyric(note.Lyric, v)
	if err != nil {
		return Result{}, err
	}
	if len(note.PhonemeTimings) != len(parts) {
		return Result{}, apperr.Invalid("note.phonemeTimings", apperr.ErrTimingMismatch,
			"lyric %q expects %d timings, got %d", note.Lyric, len(parts), len(note.PhonemeTimings))
	}
	timings := slices.Clone(note.PhonemeTimings)
	slices.Sort(timings)

	offsetTick := timings[0]
	durationTick := max(note.End-note.Begin, 0) + max(-offsetTick, 0)
	duration := Tick2Sec(float64(durationTick), bpm)
	fs := float64(v.SampleRate)
	waveLen := int(fs * duration)

	if waveLen <= 0 {
		return Result{Wave: []float32{}, Offset: 0}, nil
	}
	// Rests are placed at the note's own begin tick.
	if IsSilent(note.Lyric) {
		return Result{Wave: make([]float32, waveLen), Offset: 0}, nil
	}

	percents := make([]float64, len(timings))
	for i, t := range timings {
		percents[i] = Tick2Sec(float64(t-offsetTick), bpm) / duration
	}

	out := make([]float64, waveLen)
	segLen := v.WaveLen()
	baseFreq := PitchToFreq(float64(note.Pitch))
	seg := make([]float64, segLen)
	pulses := 0

	for pos := 0.0; ; {
		start := int(math.Round(pos))
		if start+segLen > waveLen {
			break
		}
		percent := pos / float64(waveLen)

		active := -1
		for i, p := range percents {
			if p <= percent {
				active = i
			}
		}
		if active < 0 {
			break
		}

		f0 := note.F0Seg[int(float64(len(note.F0Seg))*percent)] * baseFreq

		mixPart(seg, parts[active], v, rng)
		loudness := parts[active].volume * (0.5 + 0.5*math.Sin(math.Pi*math.Log10(9*percent+1)))
		if peak := dsp.PeakAbs(seg); peak > 0 {
			gain := loudness / peak
			for i, s := range seg {
				out[start+i] += s * gain
			}
		}
		pulses++

		pos += math.Min(fs/f0, fs)
	}

	envelope := dsp.Resample(note.VolumeSeg, waveLen)
	wave := make([]float32, waveLen)
	for i := range out {
		wave[i] = float32(out[i] * envelope[i])
	}

	logrus.WithFields(logrus.Fields{
		"note":    note.ID,
		"lyric":   note.Lyric,
		"samples": waveLen,
		"pulses":  pulses,
		"offset":  offsetTick,
	}).Debug("Note synthesized")

	return Result{Wave: wave, Offset: offsetTick}, nil
}

// mixPart fills seg with one random realization per term, scaled by the
// term weight and summed.
func mixPart(seg []float64, p part, v *voice.Computed, rng *rand.Rand) {
	clear(seg)
	for _, t := range p.terms {
		set := v.Waves[t.Phoneme]
		if len(set) == 0 {
			continue
		}
		w := set[rng.IntN(len(set))]
		for i := range seg {
			seg[i] += w[i] * t.Weight
		}
	}
}
