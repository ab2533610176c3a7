package voice

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/kanasynth/internal/dsp"
)

const (
	splitFreq   = 1000.0 // Hz; voiced/unvoiced decision boundary
	apMag       = 0.6    // aperiodicity ceiling
	apTanhGain  = 10.0
	apF0Mag     = 20.0
	apRefF0     = 440.0 // Hz; reference pitch for the voiced ramp
	fullCircle  = 2 * math.Pi
	levelOffset = 1.0
)

// Precompiler turns raw voice banks into Computed ones. Rand drives the
// phase draws; pass a seeded generator for reproducible banks.
type Precompiler struct {
	Rand *rand.Rand
}

// NewPrecompiler creates a precompiler drawing from r. A nil r uses a
// randomly seeded PCG source.
func NewPrecompiler(r *rand.Rand) *Precompiler {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Precompiler{Rand: r}
}

// Precompile builds Realizations waveforms for every phoneme of v.
func (p *Precompiler) Precompile(v *SpeakerVoice) (*Computed, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	fs := float64(v.SampleRate)
	specLen := v.SegLen/2 + 1
	grid := dsp.Linspace(0, fs/2, specLen)
	freqs := dsp.RFFTFreq(v.SegLen, 1/fs)
	dist := make([]float64, len(freqs))
	for i, f := range freqs {
		dist[i] = math.Abs(f - splitFreq)
	}
	splitIdx := dsp.ArgMin(dist)
	window := dsp.HannWindow(v.SegLen)

	keys := make([]string, 0, len(v.Envelopes))
	for k := range v.Envelopes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	waves := make(map[string][][]float64, len(keys))
	for _, key := range keys {
		mag, err := envelopeMagnitude(v.Envelopes[key], grid)
		if err != nil {
			return nil, fmt.Errorf("phoneme %s: %w", key, err)
		}

		voiced := dsp.Mean(mag[splitIdx:]) <= dsp.Mean(mag[:splitIdx])
		ap := unvoicedAperiodicity(specLen)
		if voiced {
			ap = voicedAperiodicity(specLen, fs)
		}

		set := make([][]float64, Realizations)
		for i := range set {
			w, err := p.realize(mag, ap, window, v)
			if err != nil {
				return nil, fmt.Errorf("phoneme %s realization %d: %w", key, i, err)
			}
			set[i] = w
		}
		waves[key] = set

		logrus.WithFields(logrus.Fields{
			"speaker": v.ID,
			"phoneme": key,
			"voiced":  voiced,
		}).Debug("Phoneme precompiled")
	}

	volumes := make(map[string]float64, len(v.PhonemeVolumes))
	for k, vol := range v.PhonemeVolumes {
		volumes[k] = vol
	}

	return &Computed{
		ID:         v.ID,
		Name:       v.Name,
		SampleRate: v.SampleRate,
		SegLen:     v.SegLen + v.ShiftLen*v.ShiftNum,
		Waves:      waves,
		Kanas:      v.Kanas,
		Volumes:    volumes,
	}, nil
}

// PrecompileAll precompiles every voice in voices, keyed by id.
func (p *Precompiler) PrecompileAll(voices map[string]*SpeakerVoice) (map[string]*Computed, error) {
	ids := make([]string, 0, len(voices))
	for id := range voices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make(map[string]*Computed, len(voices))
	for _, id := range ids {
		c, err := p.Precompile(voices[id])
		if err != nil {
			return nil, fmt.Errorf("precompile %s: %w", id, err)
		}
		out[id] = c
		logrus.WithFields(logrus.Fields{
			"speaker":  id,
			"phonemes": len(c.Waves),
			"segLen":   c.SegLen,
		}).Info("Voice ready")
	}
	return out, nil
}

// realize draws one noise-excited, windowed, echoed waveform.
func (p *Precompiler) realize(mag, ap, window []float64, v *SpeakerVoice) ([]float64, error) {
	spec := make([]complex128, len(mag))
	for k := range mag {
		phase := p.Rand.Float64() * fullCircle * ap[k]
		spec[k] = complex(0, mag[k]) * cmplx.Rect(1, phase)
	}
	block, err := dsp.IRFFT(spec, v.SegLen)
	if err != nil {
		return nil, err
	}

	half := v.SegLen / 2
	centered := make([]float64, v.SegLen)
	copy(centered, block[half:])
	copy(centered[half:], block[:half])
	for i := range centered {
		centered[i] *= window[i]
	}

	out := make([]float64, v.SegLen+v.ShiftLen*v.ShiftNum)
	for n := 0; n <= v.ShiftNum; n++ {
		off := v.ShiftLen * n
		for i, s := range centered {
			out[off+i] += s
		}
	}
	return out, nil
}

// envelopeMagnitude maps log10 control points onto linear magnitudes at the
// grid frequencies.
func envelopeMagnitude(env Envelope, grid []float64) ([]float64, error) {
	x := make([]float64, len(env))
	y := make([]float64, len(env))
	for i, pt := range env {
		x[i] = pt.Freq
		y[i] = math.Pow(10, pt.Level) - levelOffset
	}
	return dsp.Interp(x, y, grid)
}

// voicedAperiodicity rises from near zero at low frequencies to apMag at the
// top of the band, modelling breathiness growing with frequency.
func voicedAperiodicity(n int, fs float64) []float64 {
	ratio := apRefF0 * apF0Mag / (fs / 2)
	ramp := dsp.Linspace(-ratio*apTanhGain, (1-ratio)*apTanhGain, n)
	for i, v := range ramp {
		ramp[i] = (math.Tanh(v) + 1) / 2 * apMag
	}
	return ramp
}

func unvoicedAperiodicity(n int) []float64 {
	ap := make([]float64, n)
	for i := range ap {
		ap[i] = apMag
	}
	return ap
}
