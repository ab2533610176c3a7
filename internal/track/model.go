// Package track renders whole vocal tracks from their notes, reusing cached
// per-note audio and running every note synthesis through one global queue.
package track

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	apperr "github.com/satindergrewal/kanasynth/internal/errors"
	"github.com/satindergrewal/kanasynth/internal/synth"
)

// Track is one vocal part sung by a single speaker.
type Track struct {
	ID        string        `json:"id"`
	Name      string        `json:"name,omitempty"`
	SpeakerID string        `json:"speakerId"`
	Notes     []*synth.Note `json:"notes"`
	Volume    float64       `json:"volume"`
	Muted     bool          `json:"muted,omitempty"`
}

// Project is the input envelope accepted by the CLI and HTTP API.
type Project struct {
	BPM    float64  `json:"bpm"`
	Tracks []*Track `json:"tracks"`
}

// ParseProject decodes and validates a project document. A zero BPM takes
// defaultBPM; a missing track volume defaults to 1.
func ParseProject(data []byte, defaultBPM float64) (*Project, error) {
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, apperr.Invalid("project", apperr.ErrMalformedRecord, "decode: %v", err)
	}
	if p.BPM == 0 {
		p.BPM = defaultBPM
	}
	if err := synth.ValidateBPM(p.BPM); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(p.Tracks))
	for i, t := range p.Tracks {
		if t == nil {
			return nil, apperr.Invalid(fmt.Sprintf("project.tracks[%d]", i), nil, "null track")
		}
		if seen[t.ID] {
			return nil, apperr.Invalid("project.tracks", nil, "duplicate track id %q", t.ID)
		}
		seen[t.ID] = true
		t.applyDefaults()
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// ParseTrack decodes and validates a single track document.
func ParseTrack(data []byte) (*Track, error) {
	var t Track
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, apperr.Invalid("track", apperr.ErrMalformedRecord, "decode: %v", err)
	}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// applyDefaults treats a zero volume on an unmuted decoded track as unset.
func (t *Track) applyDefaults() {
	if t.Volume == 0 && !t.Muted {
		t.Volume = 1
	}
}

// Validate checks the track header and every note without changing them.
func (t *Track) Validate() error {
	if t.ID == "" {
		return apperr.Invalid("track.id", nil, "must not be empty")
	}
	if t.SpeakerID == "" {
		return apperr.Invalid("track.speakerId", nil, "must not be empty")
	}
	if t.Volume < 0 || t.Volume > 1 {
		return apperr.Invalid("track.volume", nil, "%v out of [0, 1]", t.Volume)
	}
	ids := make(map[string]bool, len(t.Notes))
	for i, n := range t.Notes {
		if n == nil {
			return apperr.Invalid(fmt.Sprintf("track.notes[%d]", i), nil, "null note")
		}
		if n.ID == "" {
			return apperr.Invalid(fmt.Sprintf("track.notes[%d].id", i), nil, "must not be empty")
		}
		if ids[n.ID] {
			return apperr.Invalid("track.notes", nil, "duplicate note id %q", n.ID)
		}
		ids[n.ID] = true
		if err := n.Validate(); err != nil {
			return fmt.Errorf("note %s: %w", n.ID, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the track.
func (t *Track) Clone() *Track {
	c := *t
	c.Notes = make([]*synth.Note, len(t.Notes))
	for i, n := range t.Notes {
		c.Notes[i] = n.Clone()
	}
	return &c
}

// NoteIndex returns the position of note id in notes, or -1.
func NoteIndex(notes []*synth.Note, id string) int {
	return slices.IndexFunc(notes, func(n *synth.Note) bool { return n.ID == id })
}

// sortedAscending returns notes ordered by begin tick, ties kept in input
// order.
func sortedAscending(notes []*synth.Note) []*synth.Note {
	out := slices.Clone(notes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Begin < out[j].Begin })
	return out
}

// sortedDescending returns notes ordered latest begin first.
func sortedDescending(notes []*synth.Note) []*synth.Note {
	out := slices.Clone(notes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Begin > out[j].Begin })
	return out
}

// CheckNoteOverlapping reports whether note id intersects either of its
// neighbours in begin order. Touching notes (a.End == b.Begin) do not
// overlap.
func CheckNoteOverlapping(notes []*synth.Note, id string) bool {
	return overlapFlags(notes)[id]
}

// overlapFlags marks every note that intersects a neighbour in begin order.
func overlapFlags(notes []*synth.Note) map[string]bool {
	flags := make(map[string]bool)
	asc := sortedAscending(notes)
	for i := 1; i < len(asc); i++ {
		if asc[i-1].End > asc[i].Begin {
			flags[asc[i-1].ID] = true
			flags[asc[i].ID] = true
		}
	}
	return flags
}
