package track

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/kanasynth/internal/audio"
	apperr "github.com/satindergrewal/kanasynth/internal/errors"
	"github.com/satindergrewal/kanasynth/internal/queue"
	"github.com/satindergrewal/kanasynth/internal/synth"
)

const (
	tailSec   = 0.1  // silence kept after the last note
	marginSec = 0.01 // overlap allowed into the next note
)

// Synthesizer renders single notes. *worker.Client and the engine's
// LocalSynthesizer both satisfy it.
type Synthesizer interface {
	SynthesizeNote(ctx context.Context, bpm float64, note *synth.Note, speakerID string) (synth.Result, error)
	SampleRate(speakerID string) (int, error)
}

// Progress receives the number of notes a render will process, then one
// increment per processed note.
type Progress interface {
	SetTotal(total int)
	Increment(n int)
}

type nopProgress struct{}

func (nopProgress) SetTotal(int)  {}
func (nopProgress) Increment(int) {}

// Render is a finished track buffer.
type Render struct {
	TrackID     string
	RenderID    string
	BPM         float64
	SampleRate  int
	Samples     []float32
	Synthesized int
	CacheHits   int
	Skipped     int // overlapping notes left silent
	Failed      []*apperr.SynthesisError
	Elapsed     time.Duration
	CreatedAt   time.Time
}

// WAV encodes the render as a mono float WAV file.
func (r *Render) WAV() []byte {
	return audio.EncodeWAV(r.Samples, r.SampleRate)
}

// Duration returns the audio length of the render.
func (r *Render) Duration() time.Duration {
	if r.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(r.Samples)) * time.Second / time.Duration(r.SampleRate)
}

// Orchestrator owns the note cache, the latest render of every track and
// the queue that serializes all synthesis.
type Orchestrator struct {
	synth Synthesizer
	queue *queue.Serial

	mu       sync.RWMutex
	gen      uint64                // bumped by Reset
	cache    map[string]CacheEntry // by note id
	tracks   map[string]*Track     // last submitted snapshot
	renders  map[string]*Render
	onRender []func(*Render)
}

// NewOrchestrator creates an orchestrator that synthesizes through s.
func NewOrchestrator(s Synthesizer) *Orchestrator {
	return &Orchestrator{
		synth:   s,
		queue:   queue.NewSerial("synthesis"),
		cache:   make(map[string]CacheEntry),
		tracks:  make(map[string]*Track),
		renders: make(map[string]*Render),
	}
}

// OnRender registers fn to be called with every finished render, from the
// goroutine that produced it.
func (o *Orchestrator) OnRender(fn func(*Render)) {
	o.mu.Lock()
	o.onRender = append(o.onRender, fn)
	o.mu.Unlock()
}

// SynthVocalTrack renders t at bpm. The track is snapshotted on entry and
// the render waits its turn behind every other render in the process. Notes
// that fail to synthesize are logged, left silent and listed in
// Render.Failed; the returned error is reserved for failures of the whole
// render.
func (o *Orchestrator) SynthVocalTrack(ctx context.Context, bpm float64, t *Track, progress Progress) (*Render, error) {
	if err := synth.ValidateBPM(bpm); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = nopProgress{}
	}
	snap := t.Clone()

	o.mu.Lock()
	o.tracks[snap.ID] = snap
	o.mu.Unlock()

	progress.SetTotal(o.pendingNotes(snap))

	var (
		render *Render
		gen    uint64
	)
	err := o.queue.Do(ctx, func(ctx context.Context) error {
		o.mu.Lock()
		gen = o.gen
		if _, ok := o.tracks[snap.ID]; !ok {
			o.tracks[snap.ID] = snap // cleared by a Reset while waiting
		}
		o.mu.Unlock()

		r, err := o.render(ctx, bpm, snap, gen, progress)
		if err != nil {
			return err
		}
		render = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	// a render that straddled a Reset is returned but not kept
	if o.gen == gen {
		o.renders[render.TrackID] = render
	}
	sinks := slices.Clone(o.onRender)
	o.mu.Unlock()
	for _, fn := range sinks {
		fn(render)
	}
	return render, nil
}

// SynthAll renders every track through the shared queue, in order. It
// stops at the first render-level error.
func (o *Orchestrator) SynthAll(ctx context.Context, bpm float64, tracks []*Track, progress Progress) ([]*Render, error) {
	renders := make([]*Render, 0, len(tracks))
	for _, t := range tracks {
		r, err := o.SynthVocalTrack(ctx, bpm, t, progress)
		if err != nil {
			return renders, fmt.Errorf("track %s: %w", t.ID, err)
		}
		renders = append(renders, r)
	}
	return renders, nil
}

// pendingNotes counts the notes of t that will not be served from cache.
func (o *Orchestrator) pendingNotes(t *Track) int {
	desc := sortedDescending(t.Notes)
	keys := cacheKeys(desc)
	overlaps := overlapFlags(t.Notes)
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for i, note := range desc {
		if overlaps[note.ID] {
			n++
			continue
		}
		if e, ok := o.cache[note.ID]; !ok || e.Key != keys[i] {
			n++
		}
	}
	return n
}

func (o *Orchestrator) render(ctx context.Context, bpm float64, t *Track, gen uint64, progress Progress) (*Render, error) {
	started := time.Now()
	fs, err := o.synth.SampleRate(t.SpeakerID)
	if err != nil {
		return nil, err
	}

	r := &Render{
		TrackID:    t.ID,
		RenderID:   uuid.NewString(),
		BPM:        bpm,
		SampleRate: fs,
		Samples:    []float32{},
		CreatedAt:  started,
	}
	if len(t.Notes) == 0 {
		return r, nil
	}

	lastEnd := 0
	for _, n := range t.Notes {
		lastEnd = max(lastEnd, n.End)
	}
	r.Samples = make([]float32, int(float64(fs)*(synth.Tick2Sec(float64(lastEnd), bpm)+tailSec)))

	desc := sortedDescending(t.Notes)
	keys := cacheKeys(desc)
	overlaps := overlapFlags(t.Notes)
	marginTick := synth.Sec2Tick(marginSec, bpm)
	prevBegin, havePrev := 0, false

	log := logrus.WithFields(logrus.Fields{
		"track":   t.ID,
		"speaker": t.SpeakerID,
		"notes":   len(desc),
	})

	for i, note := range desc {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if overlaps[note.ID] {
			r.Skipped++
			progress.Increment(1)
			continue
		}

		entry, hit := o.lookup(t, note.ID, keys[i])
		if hit {
			r.CacheHits++
		} else {
			clipped := clipNote(note, prevBegin, havePrev, marginTick)
			res, err := o.synth.SynthesizeNote(ctx, bpm, clipped, t.SpeakerID)
			progress.Increment(1)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
					return nil, err
				}
				serr := &apperr.SynthesisError{TrackID: t.ID, NoteID: note.ID, Cause: err}
				log.WithFields(logrus.Fields{
					"note":  note.ID,
					"lyric": note.Lyric,
					"error": err,
				}).Error("Note synthesis failed, skipping")
				r.Failed = append(r.Failed, serr)
				continue
			}
			entry = CacheEntry{Key: keys[i], Wave: res.Wave, Offset: res.Offset}
			o.mu.Lock()
			if o.gen == gen {
				o.cache[note.ID] = entry
			}
			o.mu.Unlock()
			r.Synthesized++
		}

		place(r.Samples, entry, note.Begin, bpm, fs)
		prevBegin, havePrev = note.Begin+entry.Offset, true
	}

	r.Elapsed = time.Since(started)
	log.WithFields(logrus.Fields{
		"synthesized": r.Synthesized,
		"cacheHits":   r.CacheHits,
		"skipped":     r.Skipped,
		"failed":      len(r.Failed),
		"elapsed":     r.Elapsed,
	}).Info("Track rendered")
	return r, nil
}

// lookup returns the cached entry for a note when its key still matches.
// A stale entry is evicted together with its earlier neighbour's.
func (o *Orchestrator) lookup(t *Track, noteID, key string) (CacheEntry, bool) {
	o.mu.RLock()
	e, ok := o.cache[noteID]
	o.mu.RUnlock()
	if !ok {
		return CacheEntry{}, false
	}
	if e.Key == key {
		return e, true
	}
	o.Invalidate(t, noteID)
	return CacheEntry{}, false
}

// clipNote returns a copy of note whose end stops just after the start of
// the note that follows it, or runs a little past its own end when there is
// room. The end never goes below tick 0, even when the following note's
// lead-in starts before the track does.
func clipNote(note *synth.Note, prevBegin int, havePrev bool, marginTick float64) *synth.Note {
	c := note.Clone()
	if havePrev && prevBegin < c.End {
		newEnd := max(int(math.Floor(float64(prevBegin)+marginTick)), 0)
		sub := max(c.End-newEnd, 0)
		c.End = newEnd
		c.F0Seg = trimTail(c.F0Seg, sub)
		c.VolumeSeg = trimTail(c.VolumeSeg, sub)
		return c
	}
	c.End += int(math.Floor(marginTick))
	return c
}

// trimTail drops n values from the end of seg, keeping at least one.
func trimTail(seg []float64, n int) []float64 {
	if n <= 0 {
		return seg
	}
	return seg[:max(len(seg)-n, 1)]
}

// place adds a note's wave into buf at its absolute position, trimming
// anything before the start or past the end of the buffer.
func place(buf []float32, e CacheEntry, begin int, bpm float64, fs int) {
	start := int(math.Round(float64(fs) * synth.Tick2Sec(float64(begin+e.Offset), bpm)))
	from := 0
	if start < 0 {
		from = -start
		start = 0
	}
	for i := from; i < len(e.Wave); i++ {
		j := start + i - from
		if j >= len(buf) {
			break
		}
		buf[j] += e.Wave[i]
	}
}

// Invalidate drops the cache entries of note id and of the note just
// before it in time, whose tail depends on where id begins.
func (o *Orchestrator) Invalidate(t *Track, noteID string) {
	asc := sortedAscending(t.Notes)
	i := NoteIndex(asc, noteID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if i > 0 {
		delete(o.cache, asc[i-1].ID)
	}
	delete(o.cache, noteID)
}

// InvalidateNote invalidates a note of the last submitted snapshot of
// trackID.
func (o *Orchestrator) InvalidateNote(trackID, noteID string) error {
	o.mu.RLock()
	t, ok := o.tracks[trackID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", apperr.ErrUnknownTrack, trackID)
	}
	o.Invalidate(t, noteID)
	return nil
}

// InvalidateTrack drops every cache entry of the track's notes.
func (o *Orchestrator) InvalidateTrack(trackID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tracks[trackID]
	if !ok {
		return fmt.Errorf("%w: %q", apperr.ErrUnknownTrack, trackID)
	}
	for _, n := range t.Notes {
		delete(o.cache, n.ID)
	}
	return nil
}

// Reset clears every cache entry, snapshot and render. A render already
// running finishes in its queue slot, but nothing it produces is kept.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.gen++
	o.cache = make(map[string]CacheEntry)
	o.tracks = make(map[string]*Track)
	o.renders = make(map[string]*Render)
	o.mu.Unlock()
	logrus.WithField("pending", o.queue.Pending()).Info("Synthesis cache reset")
}

// Render returns the latest finished render of trackID.
func (o *Orchestrator) Render(trackID string) (*Render, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.renders[trackID]
	return r, ok
}

// Renders returns the latest render of every track.
func (o *Orchestrator) Renders() []*Render {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Render, 0, len(o.renders))
	for _, r := range o.renders {
		out = append(out, r)
	}
	return out
}

// Track returns the last submitted snapshot of trackID.
func (o *Orchestrator) Track(trackID string) (*Track, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.tracks[trackID]
	return t, ok
}

// CacheSize returns the number of cached notes.
func (o *Orchestrator) CacheSize() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.cache)
}

// Pending returns the number of renders running or waiting.
func (o *Orchestrator) Pending() int {
	return o.queue.Pending()
}

// Mix sums renders into one buffer using each track's volume and mute
// setting. Renders must share a sample rate; the first one's is returned.
func Mix(renders []*Render, tracks []*Track) ([]float32, int, error) {
	byID := make(map[string]*Track, len(tracks))
	for _, t := range tracks {
		byID[t.ID] = t
	}
	fs := 0
	layers := make([]audio.Layer, 0, len(renders))
	for _, r := range renders {
		if fs == 0 {
			fs = r.SampleRate
		} else if r.SampleRate != fs {
			return nil, 0, fmt.Errorf("track %s sample rate %d differs from %d", r.TrackID, r.SampleRate, fs)
		}
		layer := audio.Layer{Samples: r.Samples, Volume: 1}
		if t, ok := byID[r.TrackID]; ok {
			layer.Volume, layer.Muted = t.Volume, t.Muted
		}
		layers = append(layers, layer)
	}
	return audio.Mix(layers), fs, nil
}
