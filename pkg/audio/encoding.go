package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoding identifies the raw audio encodings the transcription service
// accepts. The string values are the wire names sent in StartRecognition.
type Encoding string

const (
	// EncodingPCM16 is 16-bit little-endian signed linear PCM.
	EncodingPCM16 Encoding = "pcm_s16le"
	// EncodingF32 is 32-bit little-endian IEEE float PCM.
	EncodingF32 Encoding = "pcm_f32le"
	// EncodingMulaw is 8-bit G.711 µ-law.
	EncodingMulaw Encoding = "mulaw"
)

// SampleWidth returns the bytes per sample for the encoding.
func (e Encoding) SampleWidth() (int, error) {
	switch e {
	case EncodingPCM16:
		return 2, nil
	case EncodingF32:
		return 4, nil
	case EncodingMulaw:
		return 1, nil
	default:
		return 0, fmt.Errorf("audio: unknown encoding %q", e)
	}
}

// ToPCM16 converts a raw buffer in the given encoding to 16-bit little-endian
// linear PCM. PCM16 input is returned as-is.
func ToPCM16(data []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingPCM16:
		return data, nil
	case EncodingF32:
		return Float32ToPCM16(data), nil
	case EncodingMulaw:
		return DecodeMulaw(data), nil
	default:
		return nil, fmt.Errorf("audio: unknown encoding %q", enc)
	}
}

// DecodeMulaw expands G.711 µ-law bytes to 16-bit little-endian linear PCM.
func DecodeMulaw(data []byte) []byte {
	out := make([]byte, len(data)*2)
	for i, u := range data {
		u = ^u
		t := (int32(u&0x0f) << 3) + 0x84
		t <<= (u & 0x70) >> 4

		var sample int32
		if u&0x80 != 0 {
			sample = 0x84 - t
		} else {
			sample = t - 0x84
		}
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

// Float32ToPCM16 converts little-endian float32 PCM in [-1, 1] to 16-bit
// little-endian linear PCM. Out-of-range input is clamped. Trailing bytes that
// do not form a full float32 are dropped.
func Float32ToPCM16(data []byte) []byte {
	samples := len(data) / 4
	out := make([]byte, samples*2)
	for i := range samples {
		f := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		scaled := float64(f) * 32767

		// Clamp to int16 range.
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}

		s := int16(scaled)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
