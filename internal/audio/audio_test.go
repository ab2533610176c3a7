package audio

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

func TestClipDuration(t *testing.T) {
	c := Clip{Samples: make([]float32, SampleRate/2)}
	if c.Duration() != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", c.Duration())
	}
}

// --- Smoothstep ---

func TestSmoothstepBoundaries(t *testing.T) {
	tests := []struct {
		input float64
		want  float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		got := Smoothstep(tt.input)
		if got != tt.want {
			t.Errorf("Smoothstep(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSmoothstepMonotonic(t *testing.T) {
	prev := 0.0
	for i := 1; i <= 100; i++ {
		x := float64(i) / 100.0
		val := Smoothstep(x)
		if val < prev {
			t.Errorf("Smoothstep not monotonic: f(%v)=%v < f(%v)=%v", x, val, float64(i-1)/100.0, prev)
		}
		prev = val
	}
}

// --- CrossfadeFrames ---

func TestCrossfadeEndpoints(t *testing.T) {
	out := []float32{0.5, -0.5, 0.25}
	in := []float32{0.1, 0.2, 0.3}
	for i, v := range CrossfadeFrames(out, in, 0) {
		if v != out[i] {
			t.Errorf("progress=0 sample[%d] = %v, want %v", i, v, out[i])
		}
	}
	for i, v := range CrossfadeFrames(out, in, 1) {
		if v != in[i] {
			t.Errorf("progress=1 sample[%d] = %v, want %v", i, v, in[i])
		}
	}
}

func TestCrossfadeMidpoint(t *testing.T) {
	result := CrossfadeFrames([]float32{0.2, -0.2}, []float32{0.6, -0.6}, 0.5)
	for i, want := range []float32{0.4, -0.4} {
		if math.Abs(float64(result[i]-want)) > 1e-6 {
			t.Errorf("progress=0.5 sample[%d] = %v, want %v", i, result[i], want)
		}
	}
}

func TestCrossfadeUnevenLengths(t *testing.T) {
	result := CrossfadeFrames([]float32{1}, []float32{1, 1}, 0.5)
	if len(result) != 2 || result[1] != 0.5 {
		t.Errorf("uneven crossfade = %v", result)
	}
}

// --- PCM ---

func TestFloatToInt16Clips(t *testing.T) {
	got := FloatToInt16([]float32{0, 1, -1, 2, -2, 0.5, float32(math.NaN())})
	want := []int16{0, 32767, -32767, 32767, -32768, 16384, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FloatToInt16[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}
	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
}

func TestMix(t *testing.T) {
	got := Mix([]Layer{
		{Samples: []float32{0.5, 0.5}, Volume: 1},
		{Samples: []float32{0.25, 0.25, 0.25}, Volume: 0.5},
		{Samples: []float32{1, 1, 1, 1}, Volume: 1, Muted: true},
	})
	want := []float32{0.625, 0.625, 0.125, 0}
	if len(got) != len(want) {
		t.Fatalf("Mix length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Mix[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// --- WAV ---

func TestEncodeWAVHeader(t *testing.T) {
	samples := []float32{0, 0.5, -0.25}
	buf := EncodeWAV(samples, 48000)
	le := binary.LittleEndian

	if len(buf) != 44+len(samples)*4 {
		t.Fatalf("WAV length = %d", len(buf))
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"RIFF", string(buf[0:4]), "RIFF"},
		{"riff size", le.Uint32(buf[4:8]), uint32(36 + 12)},
		{"WAVE", string(buf[8:12]), "WAVE"},
		{"fmt", string(buf[12:16]), "fmt "},
		{"format", le.Uint16(buf[20:22]), uint16(3)},
		{"channels", le.Uint16(buf[22:24]), uint16(1)},
		{"rate", le.Uint32(buf[24:28]), uint32(48000)},
		{"byte rate", le.Uint32(buf[28:32]), uint32(192000)},
		{"bits", le.Uint16(buf[34:36]), uint16(32)},
		{"data", string(buf[36:40]), "data"},
		{"data size", le.Uint32(buf[40:44]), uint32(12)},
		{"sample 1", math.Float32frombits(le.Uint32(buf[48:52])), float32(0.5)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	back, fs, err := DecodeWAV(buf)
	if err != nil || fs != 48000 || len(back) != 3 || back[2] != -0.25 {
		t.Errorf("DecodeWAV = %v, %d, %v", back, fs, err)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("not a wav")); err == nil {
		t.Error("expected error for short input")
	}
	buf := EncodeWAV([]float32{1}, 48000)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	if _, _, err := DecodeWAV(buf); err == nil {
		t.Error("expected error for PCM format code")
	}
}

func TestExportFileWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	wav := EncodeWAV([]float32{0.1}, 48000)
	if err := ExportFile(context.Background(), wav, path); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(wav) {
		t.Errorf("exported %d bytes, want %d", len(got), len(wav))
	}
}

// --- Pipeline ---

func TestNewPipeline(t *testing.T) {
	p := NewPipeline(time.Second)
	if p.crossfadeDur != time.Second {
		t.Errorf("crossfadeDur = %v, want 1s", p.crossfadeDur)
	}
	if p.crossfadeFrames() != 50 {
		t.Errorf("crossfadeFrames = %d, want 50", p.crossfadeFrames())
	}
	if p.QueueSize() != 0 {
		t.Errorf("Initial QueueSize = %d, want 0", p.QueueSize())
	}
	clip, pos, dur := p.Status()
	if clip.TrackID != "" || pos != 0 || dur != 0 {
		t.Errorf("Initial status should be zero-valued, got clip=%v pos=%v dur=%v", clip, pos, dur)
	}
}

func TestPipelineStopNonBlocking(t *testing.T) {
	p := NewPipeline(time.Second)
	p.Stop()
	p.Stop()
}

func TestPipelinePlayDropsOldestWhenFull(t *testing.T) {
	p := NewPipeline(time.Second)
	for i := 0; i < 20; i++ {
		p.Play(Clip{Info: ClipInfo{TrackID: "t", RenderID: string(rune('a' + i))}})
	}
	if p.QueueSize() != cap(p.clipCh) {
		t.Errorf("QueueSize = %d, want %d", p.QueueSize(), cap(p.clipCh))
	}
}

func TestFrameHelpers(t *testing.T) {
	samples := make([]float32, FrameSamples+10)
	samples[FrameSamples] = 0.5
	if frameCount(samples) != 2 {
		t.Errorf("frameCount = %d, want 2", frameCount(samples))
	}
	f := frameAt(samples, 1)
	if len(f) != FrameSamples || f[0] != 0.5 || f[10] != 0 {
		t.Errorf("frameAt padding wrong")
	}
}

func TestPipelinePlaysClip(t *testing.T) {
	p := NewPipeline(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	samples := make([]float32, 3*FrameSamples)
	for i := range samples {
		samples[i] = 0.5
	}
	p.Play(Clip{Info: ClipInfo{TrackID: "vocal"}, Samples: samples})

	for i := 0; i < 3; i++ {
		select {
		case frame := <-p.Frames():
			if len(frame) != FrameSamples || frame[0] != 16384 {
				t.Fatalf("frame %d: len=%d first=%d", i, len(frame), frame[0])
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestPipelineReplacesSameTrackInPlace(t *testing.T) {
	p := NewPipeline(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	first := make([]float32, 10*FrameSamples)
	second := make([]float32, 10*FrameSamples)
	for i := range second {
		second[i] = 1
	}
	p.Play(Clip{Info: ClipInfo{TrackID: "vocal", RenderID: "r1"}, Samples: first})
	for i := 0; i < 2; i++ {
		select {
		case <-p.Frames():
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for first clip")
		}
	}
	p.Play(Clip{Info: ClipInfo{TrackID: "vocal", RenderID: "r2"}, Samples: second})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-p.Frames():
			if frame[0] == 32767 {
				info, pos, _ := p.Status()
				if info.RenderID != "r2" {
					t.Errorf("status render = %q, want r2", info.RenderID)
				}
				if pos < 2*FrameDuration {
					t.Errorf("replacement restarted from %v, want current position", pos)
				}
				return
			}
		case <-deadline:
			t.Fatal("replacement clip never played")
		}
	}
}
