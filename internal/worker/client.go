package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperr "github.com/satindergrewal/kanasynth/internal/errors"
	"github.com/satindergrewal/kanasynth/internal/synth"
)

// Client sends requests to a Worker and matches responses by id. It
// satisfies the track orchestrator's Synthesizer.
type Client struct {
	w *Worker

	mu       sync.Mutex
	pending  map[string]chan *Response
	speakers map[string]Speaker
}

// NewClient creates a client for w. Run must be started before any call.
func NewClient(w *Worker) *Client {
	return &Client{
		w:       w,
		pending: make(map[string]chan *Response),
	}
}

// Run delivers worker responses to waiting callers until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-c.w.Responses():
			var resp Response
			if err := json.Unmarshal(raw, &resp); err != nil {
				logrus.WithError(err).Error("Undecodable worker response")
				continue
			}
			if resp.ID == nil {
				logrus.WithField("error", resp.Error).Warn("Worker rejected a request without an id")
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[*resp.ID]
			delete(c.pending, *resp.ID)
			c.mu.Unlock()
			if !ok {
				logrus.WithField("id", *resp.ID).Debug("Dropping response for abandoned request")
				continue
			}
			ch <- &resp
		}
	}
}

func (c *Client) call(ctx context.Context, typ string, data any, out any) error {
	id := uuid.NewString()
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(Request{ID: id, Type: typ, Data: body})
	if err != nil {
		return err
	}
	// The worker answers a request it cannot parse with a null id, which
	// no caller could ever receive. Reject those here instead.
	if _, err := ParseRequest(raw); err != nil {
		return err
	}

	ch := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.w.Post(ctx, raw); err != nil {
		forget()
		return err
	}
	select {
	case resp := <-ch:
		if resp.Status != StatusSuccess {
			return responseError(resp)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", typ, err)
		}
		return nil
	case <-ctx.Done():
		forget()
		return ctx.Err()
	}
}

// Init precompiles the worker's voices and records their sample rates.
func (c *Client) Init(ctx context.Context) ([]Speaker, error) {
	var speakers []Speaker
	if err := c.call(ctx, TypeVoiceInit, nil, &speakers); err != nil {
		return nil, err
	}
	byID := make(map[string]Speaker, len(speakers))
	for _, s := range speakers {
		byID[s.ID] = s
	}
	c.mu.Lock()
	c.speakers = byID
	c.mu.Unlock()
	return speakers, nil
}

// Speakers returns the voices reported by the last Init.
func (c *Client) Speakers() []Speaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Speaker, 0, len(c.speakers))
	for _, s := range c.speakers {
		out = append(out, s)
	}
	return out
}

func (c *Client) SampleRate(speakerID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.speakers) == 0 {
		return 0, apperr.ErrVoicesNotReady
	}
	s, ok := c.speakers[speakerID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", apperr.ErrUnknownSpeaker, speakerID)
	}
	return s.SampleRate, nil
}

func (c *Client) SynthesizeNote(ctx context.Context, bpm float64, note *synth.Note, speakerID string) (synth.Result, error) {
	var res synth.Result
	err := c.call(ctx, TypeSynthNote, SynthNoteData{BPM: bpm, Note: note, SpeakerID: speakerID}, &res)
	return res, err
}

// WaveImage renders a waveform PNG in the worker.
func (c *Client) WaveImage(ctx context.Context, fs int, channels [][]float32) ([]byte, error) {
	var png []byte
	err := c.call(ctx, TypeRenderWaveImage, DrawData{FS: fs, Channels: channels}, &png)
	return png, err
}

// Spectrogram renders a spectrogram PNG in the worker.
func (c *Client) Spectrogram(ctx context.Context, fs int, channels [][]float32) ([]byte, error) {
	var png []byte
	err := c.call(ctx, TypeRenderSpectrogram, DrawData{FS: fs, Channels: channels}, &png)
	return png, err
}
