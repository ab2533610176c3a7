package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/kanasynth/internal/audio"
	apperr "github.com/satindergrewal/kanasynth/internal/errors"
	"github.com/satindergrewal/kanasynth/internal/stream"
	"github.com/satindergrewal/kanasynth/internal/track"
)

const maxBody = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speakers == nil {
		writeError(w, apperr.ErrVoicesNotReady)
		return
	}
	speakers := s.deps.Speakers()
	sort.Slice(speakers, func(i, j int) bool { return speakers[i].ID < speakers[j].ID })
	writeJSON(w, http.StatusOK, speakers)
}

type renderRequest struct {
	BPM   float64         `json:"bpm"`
	Track json.RawMessage `json:"track"`
}

type failedNote struct {
	NoteID string `json:"noteId"`
	Error  string `json:"error"`
}

type renderResponse struct {
	TrackID     string       `json:"trackId"`
	RenderID    string       `json:"renderId"`
	BPM         float64      `json:"bpm"`
	SampleRate  int          `json:"sampleRate"`
	Samples     int          `json:"samples"`
	Duration    float64      `json:"duration"`
	Synthesized int          `json:"synthesized"`
	CacheHits   int          `json:"cacheHits"`
	Skipped     int          `json:"skipped"`
	Failed      []failedNote `json:"failed"`
	ElapsedMS   int64        `json:"elapsedMs"`
}

func summarize(r *track.Render) renderResponse {
	resp := renderResponse{
		TrackID:     r.TrackID,
		RenderID:    r.RenderID,
		BPM:         r.BPM,
		SampleRate:  r.SampleRate,
		Samples:     len(r.Samples),
		Duration:    r.Duration().Seconds(),
		Synthesized: r.Synthesized,
		CacheHits:   r.CacheHits,
		Skipped:     r.Skipped,
		Failed:      []failedNote{},
		ElapsedMS:   r.Elapsed.Milliseconds(),
	}
	for _, f := range r.Failed {
		resp.Failed = append(resp.Failed, failedNote{NoteID: f.NoteID, Error: f.Cause.Error()})
	}
	return resp
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	var req renderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, apperr.Invalid("body", apperr.ErrMalformedRecord, "decode: %v", err))
		return
	}
	if len(req.Track) == 0 {
		writeError(w, apperr.Invalid("body.track", apperr.ErrMalformedRecord, "missing"))
		return
	}
	if req.BPM == 0 {
		req.BPM = s.config.DefaultBPM
	}

	// the path id wins when the body omits one
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Track, &head); err == nil && head.ID == "" {
		req.Track, err = withID(req.Track, id)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	t, err := track.ParseTrack(req.Track)
	if err != nil {
		writeError(w, err)
		return
	}
	if t.ID != id {
		writeError(w, apperr.Invalid("track.id", nil, "body id %q does not match path id %q", t.ID, id))
		return
	}

	rendered, err := s.deps.Orchestrator.SynthVocalTrack(r.Context(), req.BPM, t, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(rendered))
}

func withID(raw json.RawMessage, id string) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Invalid("body.track", apperr.ErrMalformedRecord, "decode: %v", err)
	}
	enc, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	m["id"] = enc
	return json.Marshal(m)
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) (*track.Render, bool) {
	id := chi.URLParam(r, "id")
	rendered, ok := s.deps.Orchestrator.Render(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %q has no render", apperr.ErrUnknownTrack, id))
		return nil, false
	}
	return rendered, true
}

func (s *Server) handleWAV(w http.ResponseWriter, r *http.Request) {
	rendered, ok := s.latest(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.wav"`, rendered.TrackID))
	w.Write(rendered.WAV())
}

func (s *Server) handleWaveImage(w http.ResponseWriter, r *http.Request) {
	s.servePNG(w, r, s.deps.Images.WaveImage)
}

func (s *Server) handleSpectrogram(w http.ResponseWriter, r *http.Request) {
	s.servePNG(w, r, s.deps.Images.Spectrogram)
}

func (s *Server) servePNG(w http.ResponseWriter, r *http.Request, draw func(context.Context, int, [][]float32) ([]byte, error)) {
	rendered, ok := s.latest(w, r)
	if !ok {
		return
	}
	png, err := draw(r.Context(), rendered.SampleRate, [][]float32{rendered.Samples})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NoteID string `json:"noteId"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, apperr.Invalid("body", apperr.ErrMalformedRecord, "decode: %v", err))
		return
	}
	id := chi.URLParam(r, "id")
	var err error
	if req.NoteID == "" {
		err = s.deps.Orchestrator.InvalidateTrack(id)
	} else {
		err = s.deps.Orchestrator.InvalidateNote(id, req.NoteID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cacheSize": s.deps.Orchestrator.CacheSize()})
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	rendered, ok := s.latest(w, r)
	if !ok {
		return
	}
	if rendered.SampleRate != audio.SampleRate {
		writeError(w, apperr.Invalid("render.sampleRate", nil,
			"preview plays %d Hz audio, render is %d Hz", audio.SampleRate, rendered.SampleRate))
		return
	}
	s.deps.Pipeline.Play(ClipOf(rendered))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "renderId": rendered.RenderID})
}

// ClipOf wraps a render for the preview pipeline.
func ClipOf(r *track.Render) audio.Clip {
	return audio.Clip{
		Info:    audio.ClipInfo{TrackID: r.TrackID, RenderID: r.RenderID, Name: r.TrackID},
		Samples: r.Samples,
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Pipeline.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleResetCache(w http.ResponseWriter, r *http.Request) {
	s.deps.Orchestrator.Reset()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	o := s.deps.Orchestrator
	clip, pos, dur := s.deps.Pipeline.Status()

	renders := o.Renders()
	sort.Slice(renders, func(i, j int) bool { return renders[i].TrackID < renders[j].TrackID })
	summaries := make([]renderResponse, 0, len(renders))
	for _, rendered := range renders {
		summaries = append(summaries, summarize(rendered))
	}

	status := map[string]any{
		"pending":    o.Pending(),
		"cache_size": o.CacheSize(),
		"renders":    summaries,
		"track_id":   clip.TrackID,
		"render_id":  clip.RenderID,
		"position":   pos.Seconds(),
		"duration":   dur.Seconds(),
		"queue_size": s.deps.Pipeline.QueueSize(),
	}
	if b := s.deps.Broadcaster; b != nil {
		frames, dropped := b.Stats()
		counts := b.Counts()
		status["http_listeners"] = counts[stream.KindHTTP]
		status["frames"] = frames
		status["dropped"] = dropped
	}
	if s.deps.Offer != nil {
		status["webrtc_listeners"] = s.deps.Offer.PeerCount()
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to write JSON response")
	}
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrUnknownTrack), errors.Is(err, apperr.ErrUnknownSpeaker):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrVoicesNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case apperr.IsValidation(err), errors.Is(err, apperr.ErrUnknownLyric), errors.Is(err, apperr.ErrUnknownPhoneme):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
