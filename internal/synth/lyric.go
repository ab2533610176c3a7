package synth

import (
	"math"
	"strconv"
	"strings"

	apperr "github.com/satindergrewal/kanasynth/internal/errors"
	"github.com/satindergrewal/kanasynth/internal/voice"
)

// KanaTable looks up the phoneme decomposition of a kana lyric.
type KanaTable interface {
	Kana(lyric string) ([]voice.KanaPhoneme, bool)
}

// Lyrics that render as silence of the note's length.
var silentLyrics = map[string]bool{
	"、": true,
	"q": true,
}

// IsSilent reports whether lyric renders as silence.
func IsSilent(lyric string) bool {
	return silentLyrics[lyric]
}

// MixTerm is one weighted phoneme of a phoneme-mix lyric.
type MixTerm struct {
	Phoneme string
	Weight  float64
}

// part is the sound of one phoneme breakpoint: one or more weighted
// phonemes and the peak loudness of each pulse.
type part struct {
	terms  []MixTerm
	volume float64
}

// IsPhonemeMix reports whether lyric uses the "k:0.5,a:0.5" mix syntax.
func IsPhonemeMix(lyric string) bool {
	return strings.Contains(lyric, ":")
}

// ParsePhonemeMix parses a comma-separated list of phoneme:weight terms.
// Whitespace is ignored.
func ParsePhonemeMix(lyric string) ([]MixTerm, error) {
	compact := strings.Join(strings.Fields(lyric), "")
	if compact == "" {
		return nil, apperr.Invalid("note.lyric", apperr.ErrUnknownLyric, "empty phoneme mix")
	}
	var terms []MixTerm
	for _, raw := range strings.Split(compact, ",") {
		key, weight, ok := strings.Cut(raw, ":")
		if !ok || key == "" {
			return nil, apperr.Invalid("note.lyric", apperr.ErrUnknownLyric, "malformed mix term %q", raw)
		}
		w, err := strconv.ParseFloat(weight, 64)
		if err != nil || math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, apperr.Invalid("note.lyric", apperr.ErrUnknownLyric, "bad weight in mix term %q", raw)
		}
		terms = append(terms, MixTerm{Phoneme: key, Weight: w})
	}
	return terms, nil
}

// resolveLyric maps a lyric onto its phoneme parts. Kana lyrics expand
// through the voice's kana table; anything else is one part.
func resolveLyric(lyric string, v *voice.Computed) ([]part, error) {
	if entries, ok := v.Kana(lyric); ok {
		parts := make([]part, len(entries))
		for i, e := range entries {
			parts[i] = part{
				terms:  []MixTerm{{Phoneme: e.Phoneme, Weight: 1}},
				volume: e.Volume,
			}
		}
		return parts, nil
	}

	if IsPhonemeMix(lyric) {
		terms, err := ParsePhonemeMix(lyric)
		if err != nil {
			return nil, err
		}
		var volume float64
		for _, t := range terms {
			if !v.HasPhoneme(t.Phoneme) {
				return nil, apperr.Invalid("note.lyric", apperr.ErrUnknownPhoneme, "phoneme %q in mix %q", t.Phoneme, lyric)
			}
			volume += t.Weight * v.PhonemeVolume(t.Phoneme)
		}
		return []part{{terms: terms, volume: volume}}, nil
	}

	if v.HasPhoneme(lyric) {
		return []part{{
			terms:  []MixTerm{{Phoneme: lyric, Weight: 1}},
			volume: v.PhonemeVolume(lyric),
		}}, nil
	}

	if IsSilent(lyric) {
		return []part{{}}, nil
	}
	return nil, apperr.Invalid("note.lyric", apperr.ErrUnknownLyric, "%q is neither kana nor phoneme", lyric)
}

// PhonemeTimings returns the default breakpoints of lyric: kana phoneme
// durations accumulated backwards from Begin so that leading consonants
// sound before the beat. Non-kana lyrics get a single breakpoint at 0.
func PhonemeTimings(lyric string, kanas KanaTable, bpm float64) []int {
	entries, ok := kanas.Kana(lyric)
	if !ok || len(entries) == 0 {
		return []int{0}
	}
	timings := make([]int, len(entries))
	var summed float64
	for i := len(entries) - 1; i >= 0; i-- {
		if d := entries[i].Duration; d != nil {
			summed -= *d
		}
		timings[i] = int(math.Round(Sec2Tick(summed, bpm)))
	}
	return timings
}

// KataToHira converts full-width katakana to hiragana, leaving everything
// else untouched.
func KataToHira(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'ァ' && r <= 'ヶ' {
			return r - 0x60
		}
		return r
	}, s)
}
