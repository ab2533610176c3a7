package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/satindergrewal/kanasynth/internal/audio"
)

const mp3ChunkSize = 4096

// HTTPHandler serves the preview mix as MP3. Every connection gets its own
// ffmpeg encoder fed from a broadcaster listener.
type HTTPHandler struct {
	broadcaster *Broadcaster
	Bitrate     string // ffmpeg -b:a value

	// NowPlaying, when set, reports the clip on air so the response can
	// name the track and render a listener joined on.
	NowPlaying func() audio.ClipInfo
}

// NewHTTPHandler creates an HTTP stream handler.
func NewHTTPHandler(b *Broadcaster) *HTTPHandler {
	return &HTTPHandler{broadcaster: b, Bitrate: "128k"}
}

// encoderArgs returns the ffmpeg arguments turning raw mono s16le on stdin
// into a low-latency MP3 stream on stdout.
func encoderArgs(bitrate string) []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

// setPreviewHeaders describes the stream and, when known, the render on air.
func (h *HTTPHandler) setPreviewHeaders(hdr http.Header) {
	hdr.Set("Content-Type", "audio/mpeg")
	hdr.Set("Cache-Control", "no-cache, no-store")
	hdr.Set("Connection", "close")
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("ICY-Name", "kanasynth preview")
	if h.NowPlaying == nil {
		return
	}
	info := h.NowPlaying()
	if info.TrackID == "" {
		return
	}
	hdr.Set("X-Preview-Track", info.TrackID)
	hdr.Set("X-Preview-Render", info.RenderID)
	if info.Name != "" {
		hdr.Set("ICY-Description", info.Name)
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	h.setPreviewHeaders(w.Header())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := logrus.WithField("remote", r.RemoteAddr)

	enc := exec.CommandContext(ctx, "ffmpeg", encoderArgs(h.Bitrate)...)
	pcmIn, err := enc.StdinPipe()
	if err != nil {
		log.WithError(err).Error("Preview stream: encoder stdin")
		return
	}
	mp3Out, err := enc.StdoutPipe()
	if err != nil {
		log.WithError(err).Error("Preview stream: encoder stdout")
		return
	}
	if err := enc.Start(); err != nil {
		log.WithError(err).Error("Preview stream: encoder unavailable")
		http.Error(w, "encoder unavailable", http.StatusServiceUnavailable)
		return
	}

	listener := h.broadcaster.Subscribe(KindHTTP)
	defer h.broadcaster.Unsubscribe(listener)
	log.WithFields(logrus.Fields{
		"listeners": h.broadcaster.ListenerCount(),
		"track":     w.Header().Get("X-Preview-Track"),
	}).Info("Preview listener joined")

	go func() {
		defer pcmIn.Close()
		feedPCM(ctx, listener, pcmIn)
	}()

	n, err := relay(w, flusher, mp3Out)
	if err != nil {
		log.WithError(err).Warn("Preview stream: encoder read")
	}
	cancel()
	enc.Wait()
	log.WithField("bytes", n).Info("Preview listener left")
}

// feedPCM writes listener frames to w as 16-bit PCM until ctx ends, the
// listener is dropped or a write fails.
func feedPCM(ctx context.Context, l *Listener, w io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case frame, ok := <-l.C:
			if !ok {
				return
			}
			if _, err := w.Write(audio.SamplesToBytes(frame)); err != nil {
				return
			}
		}
	}
}

// relay copies encoded audio to w, flushing after every chunk. A client
// hang-up ends the relay without error.
func relay(w io.Writer, f http.Flusher, src io.Reader) (int64, error) {
	buf := make([]byte, mp3ChunkSize)
	var total int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, nil
			}
			total += int64(n)
			f.Flush()
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
