package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"

	"github.com/satindergrewal/kanasynth/internal/audio"
)

const (
	opusBitrate    = 64000 // one mono voice
	opusComplexity = 10
	maxOpusPacket  = 4000
)

// peer is one negotiated preview listener.
type peer struct {
	pc       *webrtc.PeerConnection
	track    *webrtc.TrackLocalStaticSample
	listener *Listener
	once     sync.Once
}

// WebRTCHandler answers SDP offers on /offer and sends the preview mix to
// each peer as Opus.
type WebRTCHandler struct {
	broadcaster *Broadcaster

	mu    sync.Mutex
	peers map[*peer]struct{}
}

// NewWebRTCHandler creates a WebRTC stream handler.
func NewWebRTCHandler(b *Broadcaster) *WebRTCHandler {
	return &WebRTCHandler{
		broadcaster: b,
		peers:       make(map[*peer]struct{}),
	}
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close hangs up every connected peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		h.hangUp(p)
	}
}

// offerError carries the HTTP status for a failed negotiation step.
type offerError struct {
	status int
	step   string
	err    error
}

func (e *offerError) Error() string {
	return fmt.Sprintf("%s: %v", e.step, e.err)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	log := logrus.WithField("remote", r.RemoteAddr)
	p, err := h.negotiate(offer)
	if err != nil {
		oe := err.(*offerError)
		log.WithError(oe.err).WithField("step", oe.step).Warn("WebRTC negotiation failed")
		http.Error(w, oe.step+" failed", oe.status)
		return
	}

	p.listener = h.broadcaster.Subscribe(KindWebRTC)
	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	log.WithField("peers", n).Info("WebRTC peer connected")

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.hangUp(p)
			log.WithField("peers", h.PeerCount()).Info("WebRTC peer disconnected")
		}
	})
	go h.sendOpus(p)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.pc.LocalDescription())
}

// negotiate builds a peer connection with one Opus track and answers offer
// once ICE gathering completes.
func (h *WebRTCHandler) negotiate(offer webrtc.SessionDescription) (*peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, &offerError{http.StatusInternalServerError, "create peer connection", err}
	}
	fail := func(status int, step string, err error) (*peer, error) {
		pc.Close()
		return nil, &offerError{status, step, err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"voice",
		"kanasynth-preview",
	)
	if err != nil {
		return fail(http.StatusInternalServerError, "create audio track", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return fail(http.StatusInternalServerError, "add track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(http.StatusBadRequest, "set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(http.StatusInternalServerError, "create answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(http.StatusInternalServerError, "set local description", err)
	}
	<-gathered

	return &peer{pc: pc, track: track}, nil
}

// hangUp releases a peer exactly once.
func (h *WebRTCHandler) hangUp(p *peer) {
	p.once.Do(func() {
		h.mu.Lock()
		delete(h.peers, p)
		h.mu.Unlock()
		if p.listener != nil {
			h.broadcaster.Unsubscribe(p.listener)
		}
		p.pc.Close()
	})
}

func (h *WebRTCHandler) sendOpus(p *peer) {
	defer h.hangUp(p)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		logrus.WithError(err).Error("WebRTC: opus encoder")
		return
	}
	enc.SetBitrate(opusBitrate)
	enc.SetComplexity(opusComplexity)

	packet := make([]byte, maxOpusPacket)
	for {
		select {
		case <-p.listener.done:
			return
		case frame, ok := <-p.listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				logrus.WithError(err).Warn("WebRTC: opus encode")
				continue
			}
			sample := media.Sample{Data: packet[:n], Duration: audio.FrameDuration}
			if err := p.track.WriteSample(sample); err != nil {
				return
			}
		}
	}
}
