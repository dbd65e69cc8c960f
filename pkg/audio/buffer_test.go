package audio

import (
	"bytes"
	"testing"
)

func newTestRing(t *testing.T) *RingBuffer {
	t.Helper()
	b, err := NewRingBuffer(16000, 160, 2, 10.0)
	if err != nil {
		t.Fatalf("new ring buffer: %v", err)
	}
	return b
}

// fillSeconds feeds whole frames, each filled with a byte derived from its
// frame index so slices can be checked for identity.
func fillSeconds(b *RingBuffer, seconds float64) {
	frames := int(seconds * 16000 / 160)
	frame := make([]byte, 160*2)
	for i := range frames {
		for j := range frame {
			frame[j] = byte(i)
		}
		b.PutFrame(frame)
	}
}

func TestNewRingBufferValidation(t *testing.T) {
	for _, tc := range []struct {
		name                          string
		rate, frameSize, width        int
		seconds                       float64
	}{
		{"zero rate", 0, 160, 2, 10},
		{"zero frame size", 16000, 0, 2, 10},
		{"width 3", 16000, 160, 3, 10},
		{"width 4", 16000, 160, 4, 10},
		{"zero window", 16000, 160, 2, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRingBuffer(tc.rate, tc.frameSize, tc.width, tc.seconds); err == nil {
				t.Fatal("want construction error")
			}
		})
	}

	if _, err := NewRingBuffer(8000, 160, 1, 5); err != nil {
		t.Fatalf("width 1 must be accepted: %v", err)
	}
}

func TestWindowSlicing(t *testing.T) {
	b := newTestRing(t)
	fillSeconds(b, 12.0)

	// 12 s fed into a 10 s window leaves [2 s, 12 s] retained. A slice whose
	// start predates the window is gone, not truncated.
	if got := b.GetFrames(1.0, 3.0, 0); got != nil {
		t.Fatalf("evicted start: want empty, got %d bytes", len(got))
	}

	got := b.GetFrames(5.0, 7.0, 0)
	if len(got) != 64000 {
		t.Fatalf("in-window slice: want 64000 bytes, got %d", len(got))
	}
	// Frame at 5.0 s is absolute frame 500.
	frameAt5s := 500
	if got[0] != byte(frameAt5s) {
		t.Errorf("slice starts at wrong frame: marker %d, want %d", got[0], byte(frameAt5s))
	}

	// End beyond the newest frame clamps.
	tail := b.GetFrames(11.0, 20.0, 0)
	if len(tail) != 16000*2 {
		t.Errorf("clamped tail: want %d bytes, got %d", 16000*2, len(tail))
	}

	// Entirely in the future.
	if got := b.GetFrames(15.0, 16.0, 0); got != nil {
		t.Errorf("future slice: want empty, got %d bytes", len(got))
	}
}

func TestPutBytesAccumulatesFrames(t *testing.T) {
	b := newTestRing(t)

	// 100 bytes at a time never aligns with the 320-byte frame until enough
	// has accumulated.
	chunk := make([]byte, 100)
	for range 16 {
		b.PutBytes(chunk)
	}
	// 1600 bytes = 5 complete frames.
	if got := b.TotalFrames(); got != 5 {
		t.Fatalf("total frames: want 5, got %d", got)
	}
	if got := b.Size(); got != 5 {
		t.Fatalf("retained frames: want 5, got %d", got)
	}
}

func TestAbsoluteNumberingSurvivesEviction(t *testing.T) {
	b := newTestRing(t)
	fillSeconds(b, 12.0)

	if got := b.TotalFrames(); got != 1200 {
		t.Fatalf("total frames: want 1200, got %d", got)
	}
	if got := b.Size(); got != 1000 {
		t.Fatalf("retained: want 1000, got %d", got)
	}
	if got := b.TotalSeconds(); got != 12.0 {
		t.Fatalf("total seconds: want 12, got %v", got)
	}
}

func TestResetPreservesFrameCounter(t *testing.T) {
	b := newTestRing(t)
	fillSeconds(b, 2.0)

	b.Reset()
	if got := b.Size(); got != 0 {
		t.Fatalf("retained after reset: want 0, got %d", got)
	}
	if got := b.TotalFrames(); got != 200 {
		t.Fatalf("counter after reset: want 200, got %d", got)
	}

	// New audio lands after the reset point in time.
	fillSeconds(b, 1.0)
	if got := b.GetFrames(0.0, 1.0, 0); got != nil {
		t.Errorf("pre-reset range must be empty, got %d bytes", len(got))
	}
	if got := b.GetFrames(2.0, 3.0, 0); len(got) != 32000 {
		t.Errorf("post-reset range: want 32000 bytes, got %d", len(got))
	}
}

func TestSlicesAreCopies(t *testing.T) {
	b := newTestRing(t)
	frame := bytes.Repeat([]byte{7, 7}, 160)
	b.PutFrame(frame)

	got := b.GetFrames(0, 0.01, 0)
	if len(got) != 320 {
		t.Fatalf("slice: want 320 bytes, got %d", len(got))
	}
	got[0] = 99
	again := b.GetFrames(0, 0.01, 0)
	if again[0] != 7 {
		t.Fatal("mutating a returned slice leaked into the buffer")
	}

	// The input frame is copied too.
	frame[0] = 42
	third := b.GetFrames(0, 0.01, 0)
	if third[0] != 7 {
		t.Fatal("mutating the caller's frame leaked into the buffer")
	}
}

func TestFadeOutEnvelope(t *testing.T) {
	b := newTestRing(t)

	// One second of constant full-ish amplitude.
	frame := make([]byte, 320)
	for i := 0; i < len(frame); i += 2 {
		frame[i] = 0x00
		frame[i+1] = 0x40 // 16384
	}
	for range 100 {
		b.PutFrame(frame)
	}

	faded := b.GetFrames(0, 1.0, 0.5)
	if len(faded) != 32000 {
		t.Fatalf("slice: want 32000 bytes, got %d", len(faded))
	}

	// First half untouched.
	if s := int16(faded[0]) | int16(faded[1])<<8; s != 16384 {
		t.Errorf("head sample altered: %d", s)
	}
	mid := 16000 - 2
	if s := int16(faded[mid]) | int16(faded[mid+1])<<8; s != 16384 {
		t.Errorf("sample before fade region altered: %d", s)
	}

	// Final sample fully silenced, midpoint of fade roughly half.
	last := len(faded) - 2
	if s := int16(faded[last]) | int16(faded[last+1])<<8; s != 0 {
		t.Errorf("final sample: want 0, got %d", s)
	}
	half := 16000 + 8000 - 2
	s := int16(faded[half]) | int16(faded[half+1])<<8
	if s < 7000 || s > 9500 {
		t.Errorf("midpoint of fade: want ~8192, got %d", s)
	}

	// Monotonic non-increasing across the fade region.
	prev := int16(16384)
	for i := 16000; i < len(faded); i += 2 {
		s := int16(faded[i]) | int16(faded[i+1])<<8
		if s > prev {
			t.Fatalf("fade not monotonic at byte %d: %d > %d", i, s, prev)
		}
		prev = s
	}
}

func TestFadeLongerThanSliceIsSkipped(t *testing.T) {
	b := newTestRing(t)
	frame := make([]byte, 320)
	for i := 0; i < len(frame); i += 2 {
		frame[i+1] = 0x40
	}
	for range 10 {
		b.PutFrame(frame)
	}

	// Slice is 0.1 s; a 0.5 s fade cannot fit.
	got := b.GetFrames(0, 0.1, 0.5)
	if len(got) != 3200 {
		t.Fatalf("slice: want 3200 bytes, got %d", len(got))
	}
	last := len(got) - 2
	if s := int16(got[last]) | int16(got[last+1])<<8; s != 16384 {
		t.Errorf("oversized fade must be skipped, final sample %d", s)
	}
}

func TestFadeSkippedForSingleByteWidth(t *testing.T) {
	b, err := NewRingBuffer(8000, 160, 1, 5.0)
	if err != nil {
		t.Fatalf("new ring buffer: %v", err)
	}
	frame := bytes.Repeat([]byte{0xff}, 160)
	for range 50 {
		b.PutFrame(frame)
	}

	got := b.GetFrames(0, 1.0, 0.5)
	if len(got) != 8000 {
		t.Fatalf("slice: want 8000 bytes, got %d", len(got))
	}
	if got[len(got)-1] != 0xff {
		t.Error("non-PCM16 stream must not be shaped")
	}
}
