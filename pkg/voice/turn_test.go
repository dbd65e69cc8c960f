package voice

import (
	"math"
	"testing"

	"github.com/voicewire/voicewire/pkg/transcript"
)

func almost(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("delay: want %v, got %v", want, got)
	}
}

func TestComputeTurnDelayBase(t *testing.T) {
	// Trigger below the 0.5 s floor: base is floored before multiplying.
	almost(t, computeTurnDelay(0.2, 10, 0), 0.75)
	almost(t, computeTurnDelay(1.0, 10, 0), 1.5)
}

func TestComputeTurnDelaySpeakingRate(t *testing.T) {
	almost(t, computeTurnDelay(0.5, 10, transcript.VerySlowSpeaker), 0.5*1.5*3.0)
	almost(t, computeTurnDelay(0.5, 10, transcript.SlowSpeaker), 0.5*1.5*1.5)
}

func TestComputeTurnDelayTrailingDisfluency(t *testing.T) {
	a := transcript.HasDisfluency | transcript.EndsWithDisfluency

	// Unclamped: 0.6 x 1.5 x 1.5 x 4.0 = 5.4.
	almost(t, computeTurnDelay(0.6, 10, a), 5.4)
	// Clamped by the configured maximum.
	almost(t, computeTurnDelay(0.6, 3.0, a), 3.0)
}

func TestComputeTurnDelayRateAndDisfluencyStack(t *testing.T) {
	a := transcript.VerySlowSpeaker | transcript.HasDisfluency
	almost(t, computeTurnDelay(0.5, 100, a), 0.5*1.5*3.0*1.5)
}

func TestCompensateDelay(t *testing.T) {
	// 1 s of silence already streamed past the last word.
	almost(t, compensateDelay(3.0, 10.0, 9.0), 2.0)
	// Elapsed silence exceeding the delay bottoms out at the floor.
	almost(t, compensateDelay(0.5, 10.0, 2.0), turnDelayFloor)
	// Clock behind the last fragment (no slip) leaves the delay alone.
	almost(t, compensateDelay(1.0, 5.0, 6.0), 1.0)
}

func TestFixedFallbackDelay(t *testing.T) {
	almost(t, fixedFallbackDelay(0.5), 2.5)
}
