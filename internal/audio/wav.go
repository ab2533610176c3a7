package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	wavFormatFloat = 3
	wavHeaderLen   = 44
)

// EncodeWAV writes samples as a mono 32-bit IEEE float RIFF/WAVE file.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 32
		blockAlign    = channels * bitsPerSample / 8
	)
	dataLen := len(samples) * blockAlign

	buf := make([]byte, wavHeaderLen+dataLen)
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(wavHeaderLen-8+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], wavFormatFloat)
	le.PutUint16(buf[22:24], channels)
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(sampleRate*blockAlign))
	le.PutUint16(buf[32:34], blockAlign)
	le.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(dataLen))

	for i, s := range samples {
		le.PutUint32(buf[wavHeaderLen+i*4:], math.Float32bits(s))
	}
	return buf
}

// DecodeWAV reads a file written by EncodeWAV. Only mono 32-bit float
// files with a canonical 44-byte header are accepted.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < wavHeaderLen ||
		!bytes.Equal(data[0:4], []byte("RIFF")) ||
		!bytes.Equal(data[8:12], []byte("WAVE")) ||
		!bytes.Equal(data[12:16], []byte("fmt ")) ||
		!bytes.Equal(data[36:40], []byte("data")) {
		return nil, 0, fmt.Errorf("not a canonical WAV file")
	}
	le := binary.LittleEndian
	if f := le.Uint16(data[20:22]); f != wavFormatFloat {
		return nil, 0, fmt.Errorf("unsupported WAV format %d", f)
	}
	if ch := le.Uint16(data[22:24]); ch != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count %d", ch)
	}
	sampleRate := int(le.Uint32(data[24:28]))
	dataLen := int(le.Uint32(data[40:44]))
	if dataLen%4 != 0 || wavHeaderLen+dataLen > len(data) {
		return nil, 0, fmt.Errorf("truncated WAV data chunk")
	}

	samples := make([]float32, dataLen/4)
	for i := range samples {
		samples[i] = math.Float32frombits(le.Uint32(data[wavHeaderLen+i*4:]))
	}
	return samples, sampleRate, nil
}
