package voice

import (
	"time"

	"github.com/voicewire/voicewire/pkg/transcript"
)

// Turn-delay tuning. The base multiplier applies to every adaptive schedule;
// the others stack multiplicatively when the closing segment's annotation
// carries the matching flag.
const (
	turnDelayBaseMultiplier        = 1.5
	turnDelayVerySlowMultiplier    = 3.0
	turnDelaySlowMultiplier        = 1.5
	turnDelayDisfluencyMultiplier  = 1.5
	turnDelayEndsDisfluencyFactor  = 4.0
	turnDelayMinBase               = 0.5
	turnDelayFloor                 = 0.025
	fixedFallbackTriggerMultiplier = 5.0

	// smartTurnExtendMultiplier stretches the scheduled delay when the
	// acoustic predicate judges the utterance incomplete.
	smartTurnExtendMultiplier = 2.5
)

// computeTurnDelay derives the adaptive end-of-utterance delay in seconds for
// a turn closing on a segment with the given annotation. The base delay is
// the silence trigger floored at 0.5 s; linguistic multipliers stack on top;
// the result is clamped to maxDelay.
func computeTurnDelay(silenceTrigger, maxDelay float64, a transcript.Annotation) float64 {
	base := silenceTrigger
	if base < turnDelayMinBase {
		base = turnDelayMinBase
	}

	mult := turnDelayBaseMultiplier
	if a.Has(transcript.VerySlowSpeaker) {
		mult *= turnDelayVerySlowMultiplier
	} else if a.Has(transcript.SlowSpeaker) {
		mult *= turnDelaySlowMultiplier
	}
	if a.Has(transcript.HasDisfluency) {
		mult *= turnDelayDisfluencyMultiplier
	}
	if a.Has(transcript.EndsWithDisfluency) {
		mult *= turnDelayEndsDisfluencyFactor
	}

	delay := base * mult
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// compensateDelay subtracts the time already elapsed since the last word
// ended (audio sent past the last fragment is silence the user has already
// waited through). The result never drops below the scheduling floor.
func compensateDelay(delay, totalAudioSeconds, lastFragmentEnd float64) float64 {
	slip := totalAudioSeconds - lastFragmentEnd
	if slip > 0 {
		delay -= slip
	}
	if delay < turnDelayFloor {
		delay = turnDelayFloor
	}
	return delay
}

// fixedFallbackDelay is the local fallback delay used in fixed mode when the
// server-side end-of-utterance signal does not arrive.
func fixedFallbackDelay(silenceTrigger float64) float64 {
	return fixedFallbackTriggerMultiplier * silenceTrigger
}

// durationFrom converts seconds to a time.Duration.
func durationFrom(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
