package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/kanasynth/internal/render"
	"github.com/satindergrewal/kanasynth/internal/synth"
	"github.com/satindergrewal/kanasynth/internal/voice"
)

const queueSize = 16

// Worker owns an engine and answers requests one at a time in the goroutine
// running Run.
type Worker struct {
	engine *synth.Engine
	voices map[string]*voice.SpeakerVoice

	requests  chan []byte
	responses chan []byte
}

// New creates a worker that precompiles voices on voice-init.
func New(engine *synth.Engine, voices map[string]*voice.SpeakerVoice) *Worker {
	return &Worker{
		engine:    engine,
		voices:    voices,
		requests:  make(chan []byte, queueSize),
		responses: make(chan []byte, queueSize),
	}
}

// Post enqueues a raw request, blocking while the queue is full.
func (w *Worker) Post(ctx context.Context, raw []byte) error {
	select {
	case w.requests <- raw:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Responses returns the channel of raw responses.
func (w *Worker) Responses() <-chan []byte {
	return w.responses
}

// Run serves requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logrus.WithField("voices", len(w.voices)).Info("Synthesis worker started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-w.requests:
			resp := w.Handle(raw)
			out, err := json.Marshal(resp)
			if err != nil {
				logrus.WithError(err).Error("Failed to encode worker response")
				out, _ = json.Marshal(errorResponse(resp.ID, err))
			}
			select {
			case w.responses <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Handle parses and executes one request.
func (w *Worker) Handle(raw []byte) (resp *Response) {
	req, err := ParseRequest(raw)
	if err != nil {
		logrus.WithError(err).Warn("Rejected worker request")
		return errorResponse(nil, err)
	}
	id := req.ID

	defer func() {
		if p := recover(); p != nil {
			logrus.WithFields(logrus.Fields{"id": id, "type": req.Type, "panic": p}).Error("Worker request panicked")
			resp = errorResponse(&id, fmt.Errorf("panic: %v", p))
		}
	}()

	start := time.Now()
	data, err := w.execute(req)
	log := logrus.WithFields(logrus.Fields{
		"id":      id,
		"type":    req.Type,
		"elapsed": time.Since(start),
	})
	if err != nil {
		log.WithError(err).Warn("Worker request failed")
		return errorResponse(&id, err)
	}
	log.Debug("Worker request done")

	body, err := json.Marshal(data)
	if err != nil {
		return errorResponse(&id, err)
	}
	return &Response{ID: &id, Status: StatusSuccess, Data: body}
}

func (w *Worker) execute(req *Request) (any, error) {
	switch req.Type {
	case TypeVoiceInit:
		if err := w.engine.Init(w.voices); err != nil {
			return nil, err
		}
		return w.speakers()
	case TypeSynthNote:
		d := req.payload.(*SynthNoteData)
		return w.engine.SynthesizeNote(d.BPM, d.Note, d.SpeakerID)
	case TypeRenderWaveImage:
		d := req.payload.(*DrawData)
		return render.WaveImage(d.FS, d.Channels)
	case TypeRenderSpectrogram:
		d := req.payload.(*DrawData)
		return render.Spectrogram(d.FS, d.Channels)
	}
	return nil, fmt.Errorf("unhandled type %q", req.Type)
}

func (w *Worker) speakers() ([]Speaker, error) {
	ids := w.engine.Speakers()
	out := make([]Speaker, 0, len(ids))
	for _, id := range ids {
		v, err := w.engine.Voice(id)
		if err != nil {
			return nil, err
		}
		out = append(out, Speaker{
			ID:         v.ID,
			Name:       v.Name,
			SampleRate: v.SampleRate,
			Phonemes:   v.Phonemes(),
		})
	}
	return out, nil
}

func errorResponse(id *string, err error) *Response {
	return &Response{
		ID:     id,
		Status: StatusError,
		Error:  err.Error(),
		Code:   codeOf(err),
	}
}
