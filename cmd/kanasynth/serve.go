package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/kanasynth/internal/audio"
	"github.com/satindergrewal/kanasynth/internal/server"
	"github.com/satindergrewal/kanasynth/internal/stream"
	"github.com/satindergrewal/kanasynth/internal/track"
	"github.com/satindergrewal/kanasynth/internal/worker"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and preview streams",
	Long: `Start the HTTP API. Tracks are rendered by a background synthesis
worker; finished renders can be fetched as WAV or PNG previews and played
to /stream (MP3) and /offer (WebRTC) listeners.

Example:
  kanasynth serve --port 8080`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if servePort > 0 {
		cfg.Port = servePort
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, voices, err := newEngine()
	if err != nil {
		return err
	}

	// Synthesis worker: owns the engine, answers JSON messages
	w := worker.New(engine, voices)
	go w.Run(ctx)
	client := worker.NewClient(w)
	go client.Run(ctx)

	logrus.WithField("voices", len(voices)).Info("kanasynth starting up, precompiling voices...")
	initCtx, initCancel := context.WithTimeout(ctx, 2*time.Minute)
	speakers, err := client.Init(initCtx)
	initCancel()
	if err != nil {
		return fmt.Errorf("voice init: %w", err)
	}
	for _, s := range speakers {
		logrus.WithFields(logrus.Fields{"id": s.ID, "phonemes": len(s.Phonemes)}).Info("Speaker ready")
	}

	// Preview pipeline and listeners
	pipeline := audio.NewPipeline(cfg.CrossfadeDuration)
	go pipeline.Run(ctx)

	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, pipeline.Frames())

	httpStream := stream.NewHTTPHandler(broadcaster)
	httpStream.Bitrate = cfg.StreamBitrate
	httpStream.NowPlaying = func() audio.ClipInfo {
		clip, _, _ := pipeline.Status()
		return clip
	}
	webrtcHandler := stream.NewWebRTCHandler(broadcaster)
	defer webrtcHandler.Close()

	orch := track.NewOrchestrator(client)
	// A re-render of the track being previewed replaces it in place.
	orch.OnRender(func(r *track.Render) {
		playing, _, _ := pipeline.Status()
		if playing.TrackID == r.TrackID && r.SampleRate == audio.SampleRate {
			pipeline.Play(server.ClipOf(r))
		}
	})

	srv := server.New(server.Config{
		Port:       cfg.Port,
		DefaultBPM: cfg.DefaultBPM,
	}, server.Deps{
		Orchestrator: orch,
		Images:       client,
		Speakers:     client.Speakers,
		Pipeline:     pipeline,
		Broadcaster:  broadcaster,
		Stream:       httpStream,
		Offer:        webrtcHandler,
	})
	return srv.Run(ctx)
}
