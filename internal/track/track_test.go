package track

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperr "github.com/satindergrewal/kanasynth/internal/errors"
	"github.com/satindergrewal/kanasynth/internal/synth"
	"github.com/satindergrewal/kanasynth/internal/voice"
)

// fakeSynth returns a constant wave of the note's length and records every
// call. Notes whose lyric is in fail are rejected.
type fakeSynth struct {
	mu       sync.Mutex
	calls    []*synth.Note
	fail     map[string]bool
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *fakeSynth) SynthesizeNote(ctx context.Context, bpm float64, note *synth.Note, speakerID string) (synth.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, note)
	fail := f.fail[note.Lyric]
	f.mu.Unlock()
	if fail {
		return synth.Result{}, errors.New("rejected")
	}

	ticks := max(note.End-note.Begin, 0)
	n48 := int(48000 * synth.Tick2Sec(float64(ticks), bpm))
	wave := make([]float32, n48)
	for i := range wave {
		wave[i] = 0.25
	}
	return synth.Result{Wave: wave, Offset: note.PhonemeTimings[0]}, nil
}

func (f *fakeSynth) SampleRate(speakerID string) (int, error) {
	if speakerID != "laychie" {
		return 0, apperr.ErrUnknownSpeaker
	}
	return 48000, nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSynth) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func note(id string, begin, end int) *synth.Note {
	return &synth.Note{
		ID:             id,
		Lyric:          "あ",
		Pitch:          60,
		Begin:          begin,
		End:            end,
		F0Seg:          []float64{1, 1, 1, 1},
		VolumeSeg:      []float64{0.5, 0.5, 0.5, 0.5},
		PhonemeTimings: []int{0},
	}
}

func vocal(notes ...*synth.Note) *Track {
	return &Track{ID: "t1", SpeakerID: "laychie", Notes: notes, Volume: 1}
}

type countingProgress struct {
	total, done int
}

func (p *countingProgress) SetTotal(n int)  { p.total = n }
func (p *countingProgress) Increment(n int) { p.done += n }

// --- Overlap ---

func TestCheckNoteOverlapping(t *testing.T) {
	touching := []*synth.Note{note("a", 0, 480), note("b", 480, 960)}
	for _, id := range []string{"a", "b"} {
		if CheckNoteOverlapping(touching, id) {
			t.Errorf("touching note %s reported as overlapping", id)
		}
	}

	overlapping := []*synth.Note{note("a", 0, 500), note("b", 480, 960)}
	for _, id := range []string{"a", "b"} {
		if !CheckNoteOverlapping(overlapping, id) {
			t.Errorf("overlapping note %s not detected", id)
		}
	}

	// order of the input slice does not matter
	reversed := []*synth.Note{note("b", 480, 960), note("a", 0, 500), note("c", 2000, 2400)}
	if !CheckNoteOverlapping(reversed, "a") || CheckNoteOverlapping(reversed, "c") {
		t.Error("overlap check depends on input order")
	}
	if CheckNoteOverlapping(reversed, "missing") || CheckNoteOverlapping(reversed[:1], "b") {
		t.Error("missing or lone note reported as overlapping")
	}
}

// --- Rendering ---

func TestSynthVocalTrackBufferLength(t *testing.T) {
	f := &fakeSynth{}
	o := NewOrchestrator(f)
	r, err := o.SynthVocalTrack(context.Background(), 120, vocal(note("a", 0, 480), note("b", 480, 960)), nil)
	if err != nil {
		t.Fatal(err)
	}
	// 1s of notes plus 0.1s tail
	if len(r.Samples) != 52800 {
		t.Errorf("buffer length = %d, want 52800", len(r.Samples))
	}
	if r.Synthesized != 2 || r.CacheHits != 0 {
		t.Errorf("synthesized=%d hits=%d", r.Synthesized, r.CacheHits)
	}
	if r.Samples[0] != 0.25 || r.Samples[30000] != 0.25 {
		t.Errorf("notes not placed: %v %v", r.Samples[0], r.Samples[30000])
	}
	if r.Samples[52000] != 0 {
		t.Errorf("tail not silent: %v", r.Samples[52000])
	}
	if got, ok := o.Render("t1"); !ok || got != r {
		t.Error("render not stored")
	}
	if r.Duration() != 1100*time.Millisecond {
		t.Errorf("Duration = %v", r.Duration())
	}
}

func TestSynthVocalTrackEmpty(t *testing.T) {
	o := NewOrchestrator(&fakeSynth{})
	r, err := o.SynthVocalTrack(context.Background(), 120, vocal(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Samples) != 0 {
		t.Errorf("empty track rendered %d samples", len(r.Samples))
	}
}

func TestSynthVocalTrackRejectsBadInput(t *testing.T) {
	o := NewOrchestrator(&fakeSynth{})
	if _, err := o.SynthVocalTrack(context.Background(), 0, vocal(note("a", 0, 480)), nil); !errors.Is(err, apperr.ErrInvalidBPM) {
		t.Errorf("bpm 0: err = %v", err)
	}
	bad := vocal(note("a", 0, 480))
	bad.Notes[0].Pitch = 200
	if _, err := o.SynthVocalTrack(context.Background(), 120, bad, nil); !apperr.IsValidation(err) {
		t.Errorf("bad pitch: err = %v", err)
	}
	unknown := vocal(note("a", 0, 480))
	unknown.SpeakerID = "nobody"
	if _, err := o.SynthVocalTrack(context.Background(), 120, unknown, nil); !errors.Is(err, apperr.ErrUnknownSpeaker) {
		t.Errorf("unknown speaker: err = %v", err)
	}
}

func TestOverlappingNotesSkipped(t *testing.T) {
	f := &fakeSynth{}
	o := NewOrchestrator(f)
	p := &countingProgress{}
	r, err := o.SynthVocalTrack(context.Background(), 120,
		vocal(note("a", 0, 500), note("b", 480, 960), note("c", 960, 1440)), p)
	if err != nil {
		t.Fatal(err)
	}
	if r.Skipped != 2 || r.Synthesized != 1 {
		t.Errorf("skipped=%d synthesized=%d, want 2/1", r.Skipped, r.Synthesized)
	}
	if f.callCount() != 1 || f.calls[0].ID != "c" {
		t.Errorf("synth calls = %d", f.callCount())
	}
	if r.Samples[100] != 0 {
		t.Error("overlapping note contributed audio")
	}
	if p.total != 3 || p.done != 3 {
		t.Errorf("progress = %d/%d, want 3/3", p.done, p.total)
	}
}

func TestIdempotentSecondRunHitsCache(t *testing.T) {
	f := &fakeSynth{}
	o := NewOrchestrator(f)
	tr := vocal(note("a", 0, 480), note("b", 480, 960), note("c", 960, 1440))
	first, err := o.SynthVocalTrack(context.Background(), 120, tr, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.reset()

	p := &countingProgress{}
	second, err := o.SynthVocalTrack(context.Background(), 120, tr, p)
	if err != nil {
		t.Fatal(err)
	}
	if f.callCount() != 0 {
		t.Errorf("second run made %d synth calls, want 0", f.callCount())
	}
	if second.CacheHits != 3 {
		t.Errorf("cache hits = %d, want 3", second.CacheHits)
	}
	if p.total != 0 {
		t.Errorf("progress total = %d, want 0", p.total)
	}
	for i := range first.Samples {
		if first.Samples[i] != second.Samples[i] {
			t.Fatalf("sample %d differs between runs", i)
		}
	}
	if first.RenderID == second.RenderID {
		t.Error("renders share an id")
	}
}

func TestEditingNoteInvalidatesItAndEarlierNeighbour(t *testing.T) {
	f := &fakeSynth{}
	o := NewOrchestrator(f)
	tr := vocal(note("a", 0, 480), note("b", 480, 960))
	if _, err := o.SynthVocalTrack(context.Background(), 120, tr, nil); err != nil {
		t.Fatal(err)
	}
	f.reset()

	tr.Notes[1].End = 1200
	o.Invalidate(tr, "b")
	if o.CacheSize() != 0 {
		t.Errorf("cache size after Invalidate(b) = %d, want 0", o.CacheSize())
	}

	if _, err := o.SynthVocalTrack(context.Background(), 120, tr, nil); err != nil {
		t.Fatal(err)
	}
	if f.callCount() != 2 {
		t.Errorf("re-render made %d synth calls, want 2", f.callCount())
	}
}

func TestInvalidateFirstNoteLeavesLaterNeighbour(t *testing.T) {
	f := &fakeSynth{}
	o := NewOrchestrator(f)
	tr := vocal(note("a", 0, 480), note("b", 480, 960))
	if _, err := o.SynthVocalTrack(context.Background(), 120, tr, nil); err != nil {
		t.Fatal(err)
	}
	if err := o.InvalidateNote("t1", "a"); err != nil {
		t.Fatal(err)
	}
	if o.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", o.CacheSize())
	}
	if err := o.InvalidateNote("nope", "a"); !errors.Is(err, apperr.ErrUnknownTrack) {
		t.Errorf("unknown track: err = %v", err)
	}
}

func TestEditWithoutInvalidateIsDetectedByKey(t *testing.T) {
	f := &fakeSynth{}
	o := NewOrchestrator(f)
	tr := vocal(note("a", 0, 480), note("b", 480, 960), note("c", 1440, 1920))
	if _, err := o.SynthVocalTrack(context.Background(), 120, tr, nil); err != nil {
		t.Fatal(err)
	}
	f.reset()

	tr.Notes[1].Lyric = "い"
	r, err := o.SynthVocalTrack(context.Background(), 120, tr, nil)
	if err != nil {
		t.Fatal(err)
	}
	// b and a (whose key includes b) are redone; c is later in time and kept
	if f.callCount() != 2 || r.CacheHits != 1 {
		t.Errorf("calls=%d hits=%d, want 2/1", f.callCount(), r.CacheHits)
	}
}

func TestChainedEditsAcrossThreeNotes(t *testing.T) {
	f := &fakeSynth{}
	o := NewOrchestrator(f)
	tr := vocal(
		note("a", 0, 480),
		note("b", 480, 960),
		note("c", 960, 1440),
		note("d", 1440, 1920),
		note("e", 1920, 2400),
	)
	if _, err := o.SynthVocalTrack(context.Background(), 120, tr, nil); err != nil {
		t.Fatal(err)
	}
	f.reset()

	// Edit c, d and e in one operation without explicit invalidation.
	tr.Notes[2].Pitch = 62
	tr.Notes[3].Pitch = 64
	tr.Notes[4].End = 2300
	r, err := o.SynthVocalTrack(context.Background(), 120, tr, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Every note within two scan steps of an edit is redone: e, d, c, b, a.
	if f.callCount() != 5 || r.CacheHits != 0 {
		t.Errorf("calls=%d hits=%d, want 5/0", f.callCount(), r.CacheHits)
	}

	// A fresh run after the chained edit is fully cached again.
	f.reset()
	if _, err := o.SynthVocalTrack(context.Background(), 120, tr, nil); err != nil {
		t.Fatal(err)
	}
	if f.callCount() != 0 {
		t.Errorf("follow-up run made %d calls, want 0", f.callCount())
	}
}

func TestTruncationAgainstFollowingNote(t *testing.T) {
	f := &fakeSynth{}
	o := NewOrchestrator(f)
	b := note("b", 480, 960)
	b.Lyric = "か"
	b.PhonemeTimings = []int{-14, 0}
	tr := vocal(note("a", 0, 480), b)
	if _, err := o.SynthVocalTrack(context.Background(), 120, tr, nil); err != nil {
		t.Fatal(err)
	}
	// scan order is b then a
	gotB, gotA := f.calls[0], f.calls[1]
	// b has nothing after it and runs 10ms (9 ticks at 120bpm) long
	if gotB.End != 969 {
		t.Errorf("b end = %d, want 969", gotB.End)
	}
	// a is cut to b's lead-in start plus the margin: floor(466 + 9.6) = 475
	if gotA.End != 475 {
		t.Errorf("a end = %d, want 475", gotA.End)
	}
	if len(gotA.F0Seg) != 1 || len(gotA.VolumeSeg) != 1 {
		t.Errorf("a curves = %d/%d values, want trimmed to 1", len(gotA.F0Seg), len(gotA.VolumeSeg))
	}
	if tr.Notes[0].End != 480 {
		t.Error("truncation modified the caller's note")
	}
}

func TestFailedNoteIsSkippedAndQueueHeals(t *testing.T) {
	f := &fakeSynth{fail: map[string]bool{"ん": true}}
	o := NewOrchestrator(f)
	bad := note("bad", 0, 480)
	bad.Lyric = "ん"
	tr := vocal(bad, note("good", 960, 1440))

	r, err := o.SynthVocalTrack(context.Background(), 120, tr, nil)
	if err != nil {
		t.Fatalf("render-level error: %v", err)
	}
	if len(r.Failed) != 1 || r.Failed[0].NoteID != "bad" {
		t.Fatalf("failed = %+v", r.Failed)
	}
	if r.Synthesized != 1 {
		t.Errorf("synthesized = %d, want 1", r.Synthesized)
	}

	// A later unrelated render on the same track still resolves.
	done := make(chan error, 1)
	go func() {
		_, err := o.SynthVocalTrack(context.Background(), 120, vocal(note("other", 0, 480)), nil)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("follow-up render: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queue wedged after a failed note")
	}
}

func TestOneSynthesisInFlightAcrossTracks(t *testing.T) {
	f := &fakeSynth{delay: 2 * time.Millisecond}
	o := NewOrchestrator(f)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := &Track{ID: string(rune('w' + i)), SpeakerID: "laychie", Volume: 1}
			for j := 0; j < 3; j++ {
				tr.Notes = append(tr.Notes, note(tr.ID+string(rune('0'+j)), j*480, (j+1)*480))
			}
			if _, err := o.SynthVocalTrack(context.Background(), 120, tr, nil); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if f.peak.Load() != 1 {
		t.Errorf("peak in-flight synthesis = %d, want 1", f.peak.Load())
	}
	if f.callCount() != 12 {
		t.Errorf("calls = %d, want 12", f.callCount())
	}
}

func TestOnRenderAndReset(t *testing.T) {
	o := NewOrchestrator(&fakeSynth{})
	var got []*Render
	o.OnRender(func(r *Render) { got = append(got, r) })
	if _, err := o.SynthVocalTrack(context.Background(), 120, vocal(note("a", 0, 480)), nil); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TrackID != "t1" {
		t.Fatalf("OnRender calls = %d", len(got))
	}
	if err := o.InvalidateTrack("t1"); err != nil || o.CacheSize() != 0 {
		t.Errorf("InvalidateTrack: %v, cache=%d", err, o.CacheSize())
	}
	o.Reset()
	if _, ok := o.Render("t1"); ok {
		t.Error("render survived Reset")
	}
	if _, ok := o.Track("t1"); ok {
		t.Error("snapshot survived Reset")
	}
}

func TestSynthAllAndMix(t *testing.T) {
	o := NewOrchestrator(&fakeSynth{})
	t1 := vocal(note("a", 0, 480))
	t2 := &Track{ID: "t2", SpeakerID: "laychie", Notes: []*synth.Note{note("b", 0, 960)}, Volume: 0.5}
	t3 := &Track{ID: "t3", SpeakerID: "laychie", Notes: []*synth.Note{note("c", 0, 480)}, Muted: true}
	renders, err := o.SynthAll(context.Background(), 120, []*Track{t1, t2, t3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	mixed, fs, err := Mix(renders, []*Track{t1, t2, t3})
	if err != nil {
		t.Fatal(err)
	}
	if fs != 48000 || len(mixed) != len(renders[1].Samples) {
		t.Fatalf("mix fs=%d len=%d", fs, len(mixed))
	}
	if math.Abs(float64(mixed[0])-0.375) > 1e-6 {
		t.Errorf("mixed[0] = %v, want 0.375", mixed[0])
	}
	if math.Abs(float64(mixed[30000])-0.125) > 1e-6 {
		t.Errorf("mixed[30000] = %v, want 0.125", mixed[30000])
	}
}

// --- Parsing and helpers ---

func TestParseProject(t *testing.T) {
	data := []byte(`{"tracks":[{"id":"t1","speakerId":"laychie","notes":[
		{"id":"n1","lyric":"あ","pitch":60,"begin":0,"end":480,"f0Seg":[1],"volumeSeg":[0.5],"phonemeTimings":[0]}]}]}`)
	p, err := ParseProject(data, 100)
	if err != nil {
		t.Fatal(err)
	}
	if p.BPM != 100 || len(p.Tracks) != 1 || p.Tracks[0].Volume != 1 {
		t.Errorf("project = %+v", p)
	}

	bad := []string{
		`{`,
		`{"bpm":-1,"tracks":[]}`,
		`{"tracks":[{"id":"","speakerId":"x"}]}`,
		`{"tracks":[{"id":"a","speakerId":"x"},{"id":"a","speakerId":"x"}]}`,
		`{"tracks":[{"id":"a","speakerId":"x","notes":[{"id":"n","pitch":300,"f0Seg":[1],"volumeSeg":[1],"phonemeTimings":[0]}]}]}`,
	}
	for _, b := range bad {
		if _, err := ParseProject([]byte(b), 120); err == nil {
			t.Errorf("ParseProject(%s) accepted", b)
		}
	}
}

func TestNoteHashSensitivity(t *testing.T) {
	base := note("a", 0, 480)
	h := NoteHash(base)
	mutations := []func(n *synth.Note){
		func(n *synth.Note) { n.Lyric = "い" },
		func(n *synth.Note) { n.Pitch++ },
		func(n *synth.Note) { n.Begin++ },
		func(n *synth.Note) { n.End++ },
		func(n *synth.Note) { n.F0Seg[0] = 1.5 },
		func(n *synth.Note) { n.VolumeSeg[0] = 0.1 },
		func(n *synth.Note) { n.PhonemeTimings[0] = -3 },
	}
	for i, m := range mutations {
		c := base.Clone()
		m(c)
		if NoteHash(c) == h {
			t.Errorf("mutation %d did not change the hash", i)
		}
	}
	if NoteHash(base.Clone()) != h {
		t.Error("hash is not stable")
	}
}

func TestPlaceTrimsLeadingAndTrailing(t *testing.T) {
	buf := make([]float32, 10)
	place(buf, CacheEntry{Wave: []float32{1, 2, 3, 4}, Offset: 0}, 0, 120, 48000)
	if buf[0] != 1 || buf[3] != 4 {
		t.Errorf("buf = %v", buf)
	}

	buf = make([]float32, 10)
	// offset -1 tick at 120bpm is 50 samples before zero: everything trimmed
	place(buf, CacheEntry{Wave: make([]float32, 40), Offset: -1}, 0, 120, 48000)
	for _, s := range buf {
		if s != 0 {
			t.Fatal("wave before buffer start was not trimmed")
		}
	}

	buf = make([]float32, 4)
	place(buf, CacheEntry{Wave: []float32{1, 1, 1, 1, 1, 1}}, 0, 120, 48000)
	if len(buf) != 4 || buf[3] != 1 {
		t.Errorf("trailing clip failed: %v", buf)
	}
}

// --- Edge cases ---

func TestClipNoteNeverEndsBeforeZero(t *testing.T) {
	a := note("a", 0, 60)
	a.F0Seg = []float64{1}
	// the next note's lead-in starts at tick -60
	c := clipNote(a, -60, true, synth.Sec2Tick(marginSec, 120))
	if c.End != 0 {
		t.Errorf("end = %d, want 0", c.End)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("clipped note invalid: %v", err)
	}
	if len(c.F0Seg) != 1 || a.End != 60 {
		t.Errorf("curve=%d original end=%d", len(c.F0Seg), a.End)
	}
}

func TestLocalSynthesizerRendersLeadInBeforeTrackStart(t *testing.T) {
	voices, err := voice.Builtin()
	if err != nil {
		t.Fatal(err)
	}
	e := synth.NewEngine(rand.New(rand.NewPCG(3, 4)))
	if err := e.Init(voices); err != nil {
		t.Fatal(err)
	}

	a := note("a", 0, 60)
	b := note("b", 60, 540)
	b.Lyric = "か"
	b.PhonemeTimings = []int{-120, 0}
	o := NewOrchestrator(e.Synthesizer())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := o.SynthVocalTrack(ctx, 120, vocal(a, b), nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if r.Synthesized+len(r.Failed) != 2 {
		t.Errorf("synthesized=%d failed=%v", r.Synthesized, r.Failed)
	}
	var peak float32
	for _, s := range r.Samples {
		peak = max(peak, s, -s)
	}
	if peak == 0 {
		t.Error("render is silent")
	}
}

func TestResetDuringRenderKeepsOneInFlight(t *testing.T) {
	f := &fakeSynth{delay: 30 * time.Millisecond}
	o := NewOrchestrator(f)
	old := &Track{ID: "old", SpeakerID: "laychie", Volume: 1,
		Notes: []*synth.Note{note("o1", 0, 480), note("o2", 480, 960)}}
	fresh := &Track{ID: "new", SpeakerID: "laychie", Volume: 1,
		Notes: []*synth.Note{note("n1", 0, 480)}}

	oldDone := make(chan error, 1)
	go func() {
		_, err := o.SynthVocalTrack(context.Background(), 120, old, nil)
		oldDone <- err
	}()
	deadline := time.After(2 * time.Second)
	for f.inFlight.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first render never started")
		case <-time.After(time.Millisecond):
		}
	}

	o.Reset()
	if _, err := o.SynthVocalTrack(context.Background(), 120, fresh, nil); err != nil {
		t.Fatal(err)
	}
	if err := <-oldDone; err != nil {
		t.Fatalf("render across reset: %v", err)
	}

	if f.peak.Load() != 1 {
		t.Errorf("peak in-flight synthesis = %d, want 1", f.peak.Load())
	}
	if f.callCount() != 3 {
		t.Errorf("calls = %d, want 3", f.callCount())
	}
	// only the render submitted after the reset is kept
	if o.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", o.CacheSize())
	}
	if _, ok := o.Render("old"); ok {
		t.Error("render started before Reset was stored")
	}
	if _, ok := o.Render("new"); !ok {
		t.Error("render after Reset missing")
	}
}

func TestValidateLeavesTrackUnchanged(t *testing.T) {
	tr := &Track{ID: "t1", SpeakerID: "laychie", Notes: []*synth.Note{note("a", 0, 480)}}
	if err := tr.Validate(); err != nil {
		t.Fatal(err)
	}
	if tr.Volume != 0 {
		t.Errorf("Validate set volume to %v", tr.Volume)
	}

	parsed, err := ParseTrack([]byte(`{"id":"t1","speakerId":"laychie","notes":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Volume != 1 {
		t.Errorf("parsed volume = %v, want 1", parsed.Volume)
	}
	muted, err := ParseTrack([]byte(`{"id":"t1","speakerId":"laychie","muted":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if muted.Volume != 0 {
		t.Errorf("muted volume = %v, want 0", muted.Volume)
	}
}

func TestOverlapFlagsMatchPerNoteCheck(t *testing.T) {
	notes := []*synth.Note{
		note("d", 1500, 1700), note("a", 0, 500), note("b", 480, 960),
		note("c", 960, 1440), note("e", 1600, 1800),
	}
	flags := overlapFlags(notes)
	want := map[string]bool{"a": true, "b": true, "d": true, "e": true}
	for _, n := range notes {
		if flags[n.ID] != want[n.ID] || CheckNoteOverlapping(notes, n.ID) != want[n.ID] {
			t.Errorf("%s: flag=%v check=%v, want %v", n.ID, flags[n.ID], CheckNoteOverlapping(notes, n.ID), want[n.ID])
		}
	}
}
