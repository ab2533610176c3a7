package audio

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pipeline plays rendered clips as PCM frames at real-time rate. A clip for
// the track already playing crossfades in at the current position, so a
// re-render after an edit replaces the audio without restarting it. A clip
// for another track crossfades in from its start.
type Pipeline struct {
	clipCh       chan Clip
	frameCh      chan []int16
	stopCh       chan struct{}
	crossfadeDur time.Duration

	mu           sync.RWMutex
	currentClip  ClipInfo
	clipPosition time.Duration
	clipDuration time.Duration
}

// NewPipeline creates an audio pipeline with the given crossfade duration.
func NewPipeline(crossfadeDuration time.Duration) *Pipeline {
	return &Pipeline{
		clipCh:       make(chan Clip, 8),
		frameCh:      make(chan []int16, 100),
		stopCh:       make(chan struct{}, 1),
		crossfadeDur: crossfadeDuration,
	}
}

// Frames returns the channel of outgoing PCM frames (20ms each).
func (p *Pipeline) Frames() <-chan []int16 {
	return p.frameCh
}

// Play hands a clip to the pipeline. It does not block while the pipeline
// has room; an older pending clip is dropped in favour of c otherwise.
func (p *Pipeline) Play(c Clip) {
	for {
		select {
		case p.clipCh <- c:
			return
		default:
		}
		select {
		case old := <-p.clipCh:
			logrus.WithField("clip", old.Info.RenderID).Debug("Dropping superseded clip")
		default:
		}
	}
}

// QueueSize returns the number of clips waiting to be picked up.
func (p *Pipeline) QueueSize() int {
	return len(p.clipCh)
}

// Stop silences the current clip.
func (p *Pipeline) Stop() {
	select {
	case p.stopCh <- struct{}{}:
	default:
	}
}

// Status returns current playback info.
func (p *Pipeline) Status() (clip ClipInfo, position, duration time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentClip, p.clipPosition, p.clipDuration
}

// crossfadeFrames is the number of frames a crossfade spans.
func (p *Pipeline) crossfadeFrames() int {
	return int(p.crossfadeDur.Seconds() * SampleRate / FrameSize)
}

// Run starts the pipeline. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.frameCh)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	var (
		cur     *Clip
		pos     int // frame index into cur
		fading  *Clip
		fadePos int
		fadeIdx int
	)
	cfFrames := p.crossfadeFrames()

	for {
		if cur == nil {
			p.setClip(ClipInfo{}, 0)
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				continue
			case c := <-p.clipCh:
				cur, pos, fading = &c, 0, nil
				p.setClip(c.Info, frameCount(c.Samples))
				logrus.WithFields(logrus.Fields{
					"track":  c.Info.TrackID,
					"render": c.Info.RenderID,
					"frames": frameCount(c.Samples),
				}).Info("Now playing")
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			logrus.WithField("track", cur.Info.TrackID).Info("Playback stopped")
			cur, fading = nil, nil
			continue
		case c := <-p.clipCh:
			start := 0
			if c.Info.TrackID == cur.Info.TrackID {
				start = pos
			}
			if cfFrames > 0 {
				fading, fadePos, fadeIdx = cur, pos, 0
			}
			logrus.WithFields(logrus.Fields{
				"track":  c.Info.TrackID,
				"render": c.Info.RenderID,
				"from":   start,
			}).Info("Crossfading into new render")
			cur, pos = &c, start
			p.setClip(c.Info, frameCount(c.Samples))
			p.updatePosition(pos)
			continue
		case <-ticker.C:
		}

		frame := frameAt(cur.Samples, pos)
		if fading != nil {
			progress := float64(fadeIdx) / float64(cfFrames)
			frame = CrossfadeFrames(frameAt(fading.Samples, fadePos), frame, progress)
			fadePos++
			fadeIdx++
			if fadeIdx >= cfFrames {
				fading = nil
			}
		}

		select {
		case p.frameCh <- FloatToInt16(frame):
		case <-ctx.Done():
			return
		}

		pos++
		p.updatePosition(pos)
		if pos >= frameCount(cur.Samples) {
			logrus.WithField("track", cur.Info.TrackID).Debug("Clip finished")
			cur, fading = nil, nil
		}
	}
}

// frameAt returns frame i of samples, zero padded past the end.
func frameAt(samples []float32, i int) []float32 {
	frame := make([]float32, FrameSamples)
	start := i * FrameSamples
	if start < len(samples) {
		copy(frame, samples[start:min(start+FrameSamples, len(samples))])
	}
	return frame
}

func frameCount(samples []float32) int {
	return (len(samples) + FrameSamples - 1) / FrameSamples
}

func (p *Pipeline) setClip(info ClipInfo, totalFrames int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentClip = info
	p.clipPosition = 0
	p.clipDuration = time.Duration(totalFrames) * FrameDuration
}

func (p *Pipeline) updatePosition(frameIdx int) {
	p.mu.Lock()
	p.clipPosition = time.Duration(frameIdx) * FrameDuration
	p.mu.Unlock()
}
