package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/satindergrewal/kanasynth/internal/audio"
	"github.com/satindergrewal/kanasynth/internal/render"
	"github.com/satindergrewal/kanasynth/internal/synth"
	"github.com/satindergrewal/kanasynth/internal/track"
)

var (
	renderInput  string
	renderOutput string
	renderBPM    float64
	renderTrack  string
	renderWave   string
	renderSpec   string

	noteLyric   string
	notePitch   int
	noteLength  int
	noteBPM     float64
	noteSpeaker string
	noteOutput  string
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a project to an audio file",
	Long: `Render every track of a project JSON file, mix them and write the
result. WAV is written directly; other extensions are encoded by ffmpeg.

Examples:
  kanasynth render -i song.json -o song.wav
  kanasynth render -i song.json -o song.mp3 --bpm 140 --wave song.png`,
	RunE: runRender,
}

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Synthesize a single note",
	Long: `Synthesize one note and write it as a WAV file.

Example:
  kanasynth note -l か --pitch 64 --length 960 -o ka.wav`,
	RunE: runNote,
}

// barProgress feeds orchestrator progress into one mpb bar. Totals of
// successive tracks accumulate.
type barProgress struct {
	bar   *mpb.Bar
	total int64
}

func (p *barProgress) SetTotal(n int) {
	p.total += int64(n)
	p.bar.SetTotal(p.total, false)
}

func (p *barProgress) Increment(n int) {
	p.bar.IncrBy(n)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	data, err := readInput(renderInput)
	if err != nil {
		return fmt.Errorf("read project: %w", err)
	}
	project, err := track.ParseProject(data, cfg.DefaultBPM)
	if err != nil {
		return err
	}
	if renderBPM > 0 {
		project.BPM = renderBPM
	}
	tracks := project.Tracks
	if renderTrack != "" {
		tracks = nil
		for _, t := range project.Tracks {
			if t.ID == renderTrack {
				tracks = append(tracks, t)
			}
		}
		if len(tracks) == 0 {
			return fmt.Errorf("track %q not in project", renderTrack)
		}
	}

	engine, voices, err := newEngine()
	if err != nil {
		return err
	}
	if err := engine.Init(voices); err != nil {
		return fmt.Errorf("voice init: %w", err)
	}
	orch := track.NewOrchestrator(engine.Synthesizer())

	started := time.Now()
	p := mpb.NewWithContext(ctx, mpb.WithWidth(64), mpb.WithOutput(cmd.ErrOrStderr()))
	bar := p.AddBar(0,
		mpb.PrependDecorators(
			decor.Name("Synthesizing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
	)
	renders, err := orch.SynthAll(ctx, project.BPM, tracks, &barProgress{bar: bar})
	if err != nil {
		bar.Abort(false)
		p.Wait()
		return err
	}
	bar.SetTotal(-1, true)
	p.Wait()

	for _, r := range renders {
		for _, f := range r.Failed {
			logrus.WithFields(logrus.Fields{"track": f.TrackID, "note": f.NoteID}).Warn(f.Cause)
		}
	}

	mixed, fs, err := track.Mix(renders, tracks)
	if err != nil {
		return err
	}
	if fs == 0 {
		fs = audio.SampleRate
	}
	if err := audio.ExportFile(ctx, audio.EncodeWAV(mixed, fs), renderOutput); err != nil {
		return err
	}
	if err := writeImages(fs, mixed); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"output":   renderOutput,
		"tracks":   len(renders),
		"duration": time.Duration(len(mixed)) * time.Second / time.Duration(fs),
		"elapsed":  time.Since(started).Round(time.Millisecond),
	}).Info("Render complete")
	return nil
}

func writeImages(fs int, samples []float32) error {
	outputs := []struct {
		path string
		draw func(int, [][]float32) ([]byte, error)
	}{
		{renderWave, render.WaveImage},
		{renderSpec, render.Spectrogram},
	}
	for _, o := range outputs {
		if o.path == "" {
			continue
		}
		png, err := o.draw(fs, [][]float32{samples})
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.path, png, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", o.path, err)
		}
	}
	return nil
}

func runNote(cmd *cobra.Command, args []string) error {
	bpm := noteBPM
	if bpm == 0 {
		bpm = cfg.DefaultBPM
	}
	engine, voices, err := newEngine()
	if err != nil {
		return err
	}
	if err := engine.Init(voices); err != nil {
		return err
	}
	v, err := engine.Voice(noteSpeaker)
	if err != nil {
		return err
	}

	lyric := synth.KataToHira(noteLyric)
	note := synth.NewNote("", lyric, notePitch, 0, noteLength, v, bpm)
	res, err := engine.SynthesizeNote(bpm, note, noteSpeaker)
	if err != nil {
		return err
	}
	if err := audio.ExportFile(cmd.Context(), res.WAV(v.SampleRate), noteOutput); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"lyric":   lyric,
		"pitch":   notePitch,
		"samples": len(res.Wave),
		"offset":  res.Offset,
		"output":  noteOutput,
	}).Info("Note written")
	return nil
}
