package voice

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Prediction is an acoustic turn verdict.
type Prediction struct {
	// Complete reports whether the speaker sounds done with their turn.
	Complete bool
	// Probability is the model's confidence in [0,1].
	Probability float64
}

// TurnPredicate inspects a window of recent audio and judges whether the
// current utterance sounds complete. Implementations typically wrap an
// acoustic model; the core never loads one itself. pcm is mono 16-bit
// little-endian linear PCM at the given sample rate.
type TurnPredicate interface {
	Predict(ctx context.Context, pcm []byte, sampleRate int, language string) (Prediction, error)
}

const (
	// predicateWindowSeconds is how much trailing audio is handed to the
	// predicate per invocation.
	predicateWindowSeconds = 8.0

	// predicateSampleRate is the rate predicate models expect. Sessions
	// running at other rates are resampled before inference.
	predicateSampleRate = 16000
)

// predicateRunner bounds predicate inference to one call in flight. A view
// diff arriving while an inference runs simply skips its invocation.
type predicateRunner struct {
	pred TurnPredicate
	sem  *semaphore.Weighted
}

func newPredicateRunner(pred TurnPredicate) *predicateRunner {
	return &predicateRunner{pred: pred, sem: semaphore.NewWeighted(1)}
}

// tryBegin reserves the single inference slot. Callers that get true must
// call end when the inference finishes.
func (r *predicateRunner) tryBegin() bool {
	return r.sem.TryAcquire(1)
}

func (r *predicateRunner) end() {
	r.sem.Release(1)
}
