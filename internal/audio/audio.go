// Package audio holds the PCM plumbing around rendered tracks: WAV
// encoding, mixing, conversion to int16 frames and real-time preview.
package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 1
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// ClipInfo identifies a rendered track buffer handed to the pipeline.
type ClipInfo struct {
	TrackID  string
	RenderID string // changes on every re-render of the track
	Name     string
}

// Clip is a mono float buffer at SampleRate.
type Clip struct {
	Info    ClipInfo
	Samples []float32
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	return time.Duration(len(c.Samples)) * time.Second / SampleRate
}
