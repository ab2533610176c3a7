package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/kanasynth/internal/config"
	"github.com/satindergrewal/kanasynth/internal/synth"
	"github.com/satindergrewal/kanasynth/internal/voice"
)

var version = "0.1.0"

var cfg config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kanasynth",
	Short: "Concatenative singing voice synthesizer",
	Long: `kanasynth sings kana lyrics on MIDI pitches from a small spectral
voice bank. Tracks are rendered note by note with cached audio reused
between renders.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if verbose {
			cfg.LogLevel = logrus.DebugLevel
		}
		cfg.ConfigureLogging()
	},
	SilenceUsage: true,
}

var speakersCmd = &cobra.Command{
	Use:   "speakers",
	Short: "List the available voice banks",
	RunE:  runSpeakers,
}

var verbose bool

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(speakersCmd)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (default from KANASYNTH_PORT)")

	renderCmd.Flags().StringVarP(&renderInput, "input", "i", "", "Project JSON file, - for stdin")
	renderCmd.Flags().StringVarP(&renderOutput, "output", "o", "out.wav", "Output audio file; non-WAV formats go through ffmpeg")
	renderCmd.Flags().Float64Var(&renderBPM, "bpm", 0, "Override the project tempo")
	renderCmd.Flags().StringVar(&renderTrack, "track", "", "Render only this track id")
	renderCmd.Flags().StringVar(&renderWave, "wave", "", "Also write a waveform PNG")
	renderCmd.Flags().StringVar(&renderSpec, "spectrogram", "", "Also write a spectrogram PNG")
	renderCmd.MarkFlagRequired("input")

	noteCmd.Flags().StringVarP(&noteLyric, "lyric", "l", "あ", "Kana, phoneme or phoneme mix (a:0.5,i:0.5)")
	noteCmd.Flags().IntVar(&notePitch, "pitch", 69, "MIDI pitch")
	noteCmd.Flags().IntVar(&noteLength, "length", synth.TicksPerQuarter, "Length in ticks")
	noteCmd.Flags().Float64Var(&noteBPM, "bpm", 0, "Tempo (default from KANASYNTH_DEFAULT_BPM)")
	noteCmd.Flags().StringVarP(&noteSpeaker, "speaker", "s", "laychie", "Voice id")
	noteCmd.Flags().StringVarP(&noteOutput, "output", "o", "note.wav", "Output audio file")
}

// newEngine precompiles every configured voice.
func newEngine() (*synth.Engine, map[string]*voice.SpeakerVoice, error) {
	voices, err := voice.Load(cfg.VoiceDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load voices: %w", err)
	}
	return synth.NewEngine(seededRand(cfg.Seed)), voices, nil
}

// seededRand returns nil for seed 0 so the engine seeds itself randomly.
func seededRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func runSpeakers(cmd *cobra.Command, args []string) error {
	voices, err := voice.Load(cfg.VoiceDir)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(voices))
	for id := range voices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tRATE\tPHONEMES\tKANA")
	for _, id := range ids {
		v := voices[id]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", v.ID, v.Name, v.SampleRate, len(v.Envelopes), len(v.Kanas))
	}
	return tw.Flush()
}
