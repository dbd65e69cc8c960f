package audio

import (
	"bytes"
	"fmt"
	"sync"
)

// RingBuffer retains the most recent window of audio in frame-sized chunks
// indexed by absolute frame number. Frame numbers only ever increase; evicting
// old frames or calling [RingBuffer.Reset] never rewinds time. Slices returned
// to callers are copies.
//
// Safe for concurrent use.
type RingBuffer struct {
	sampleRate  int
	sampleWidth int
	frameSize   int // samples per frame
	frameBytes  int
	maxFrames   int

	mu          sync.Mutex
	frames      [][]byte
	tail        []byte
	totalFrames int64
}

// NewRingBuffer creates a buffer holding up to totalSeconds of audio.
// frameSize is in samples per frame; sampleWidth must be 1 or 2 bytes.
func NewRingBuffer(sampleRate, frameSize, sampleWidth int, totalSeconds float64) (*RingBuffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", sampleRate)
	}
	if frameSize <= 0 {
		return nil, fmt.Errorf("audio: frame size must be positive, got %d", frameSize)
	}
	if sampleWidth != 1 && sampleWidth != 2 {
		return nil, fmt.Errorf("audio: unsupported sample width %d, want 1 or 2", sampleWidth)
	}
	if totalSeconds <= 0 {
		return nil, fmt.Errorf("audio: window must be positive, got %v seconds", totalSeconds)
	}

	maxFrames := int(totalSeconds * float64(sampleRate) / float64(frameSize))
	if maxFrames < 1 {
		return nil, fmt.Errorf("audio: window of %v seconds holds no complete frame", totalSeconds)
	}

	return &RingBuffer{
		sampleRate:  sampleRate,
		sampleWidth: sampleWidth,
		frameSize:   frameSize,
		frameBytes:  frameSize * sampleWidth,
		maxFrames:   maxFrames,
	}, nil
}

// frameFromTime truncates with a small epsilon so that exact frame boundaries
// are not lost to floating-point representation.
func (b *RingBuffer) frameFromTime(t float64) int64 {
	return int64(t*float64(b.sampleRate)/float64(b.frameSize) + 1e-9)
}

func (b *RingBuffer) timeFromFrame(frame int64) float64 {
	return float64(frame) * float64(b.frameSize) / float64(b.sampleRate)
}

// PutBytes appends an arbitrary amount of audio. Bytes accumulate in a tail
// buffer until a complete frame is available, which is then moved into the
// ring.
func (b *RingBuffer) PutBytes(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Aligned input with an empty tail goes straight in.
	if len(data) == b.frameBytes && len(b.tail) == 0 {
		b.putFrameLocked(data)
		return
	}

	b.tail = append(b.tail, data...)
	for len(b.tail) >= b.frameBytes {
		b.putFrameLocked(b.tail[:b.frameBytes])
		b.tail = b.tail[b.frameBytes:]
	}
}

// PutFrame appends one already frame-aligned chunk.
func (b *RingBuffer) PutFrame(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putFrameLocked(data)
}

func (b *RingBuffer) putFrameLocked(data []byte) {
	b.frames = append(b.frames, bytes.Clone(data))
	b.totalFrames++
	if len(b.frames) > b.maxFrames {
		b.frames = b.frames[len(b.frames)-b.maxFrames:]
	}
}

// GetFrames returns a copy of the audio between startTime and endTime
// (seconds since the first frame ever added). A range whose start has already
// been evicted from the window yields nil rather than a silently truncated
// slice; an end beyond the newest frame is clamped. When fadeOut is positive,
// the final fadeOut seconds of the slice are shaped by a linear envelope from
// full scale down to silence, except when the fade region is longer than the
// slice, in which case no fade is applied. The envelope operates on 16-bit
// samples; 1-byte streams are returned unshaped since their bytes are not
// linear PCM.
func (b *RingBuffer) GetFrames(startTime, endTime, fadeOut float64) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	startIdx := b.frameFromTime(startTime)
	endIdx := b.frameFromTime(endTime)

	windowStart := b.totalFrames - int64(len(b.frames))
	windowEnd := b.totalFrames

	if startIdx < windowStart || startIdx >= windowEnd || endIdx <= startIdx {
		return nil
	}
	if endIdx > windowEnd {
		endIdx = windowEnd
	}

	out := bytes.Join(b.frames[startIdx-windowStart:endIdx-windowStart], nil)

	if fadeOut > 0 && b.sampleWidth == 2 {
		applyFadeOut(out, int(fadeOut*float64(b.sampleRate)))
	}
	return out
}

// applyFadeOut multiplies the final fadeSamples int16 samples of pcm by a
// linear envelope from 1.0 to 0.0. No-op when the fade region does not fit.
func applyFadeOut(pcm []byte, fadeSamples int) {
	if fadeSamples <= 0 || fadeSamples*2 > len(pcm) {
		return
	}
	offset := len(pcm) - fadeSamples*2
	for i := range fadeSamples {
		gain := 1 - float64(i+1)/float64(fadeSamples)
		p := offset + i*2
		sample := int16(pcm[p]) | int16(pcm[p+1])<<8
		shaped := int16(float64(sample) * gain)
		pcm[p] = byte(shaped)
		pcm[p+1] = byte(shaped >> 8)
	}
}

// Reset discards all retained frames. The absolute frame counter is preserved
// so that time never rewinds; any tail bytes awaiting alignment are kept.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}

// TotalFrames returns the number of frames ever added, including evicted ones.
func (b *RingBuffer) TotalFrames() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalFrames
}

// TotalSeconds returns the duration of all audio ever added.
func (b *RingBuffer) TotalSeconds() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeFromFrame(b.totalFrames)
}

// Size returns the number of frames currently retained.
func (b *RingBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}
