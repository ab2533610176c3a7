// Package server exposes track rendering, previews and playback over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/kanasynth/internal/audio"
	"github.com/satindergrewal/kanasynth/internal/stream"
	"github.com/satindergrewal/kanasynth/internal/track"
	"github.com/satindergrewal/kanasynth/internal/worker"
)

// Imager draws PNG previews of rendered audio.
type Imager interface {
	WaveImage(ctx context.Context, fs int, channels [][]float32) ([]byte, error)
	Spectrogram(ctx context.Context, fs int, channels [][]float32) ([]byte, error)
}

// Config holds server configuration
type Config struct {
	Port       int
	DefaultBPM float64
}

// Deps are the components the handlers drive. Stream and Offer are mounted
// only when set.
type Deps struct {
	Orchestrator *track.Orchestrator
	Images       Imager
	Speakers     func() []worker.Speaker
	Pipeline     *audio.Pipeline
	Broadcaster  *stream.Broadcaster
	Stream       http.Handler
	Offer        *stream.WebRTCHandler
}

// Server is the HTTP server
type Server struct {
	config Config
	deps   Deps
	router *chi.Mux
}

// New creates a new server
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		config: cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/speakers", s.handleSpeakers)
		r.Get("/status", s.handleStatus)
		r.Post("/stop", s.handleStop)
		r.Delete("/cache", s.handleResetCache)

		r.Route("/tracks/{id}", func(r chi.Router) {
			r.Post("/render", s.handleRender)
			r.Get("/wav", s.handleWAV)
			r.Get("/wave.png", s.handleWaveImage)
			r.Get("/spectrogram.png", s.handleSpectrogram)
			r.Post("/invalidate", s.handleInvalidate)
			r.Post("/play", s.handlePlay)
		})
	})

	if s.deps.Stream != nil {
		r.Handle("/stream", s.deps.Stream)
	}
	if s.deps.Offer != nil {
		r.Handle("/offer", s.deps.Offer)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
		// no WriteTimeout: /stream responses are unbounded
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logrus.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Error("HTTP shutdown error")
		}
	}()

	logrus.WithField("addr", addr).Info("kanasynth listening")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	<-done
	return nil
}
