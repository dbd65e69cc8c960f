package transcript

import (
	"regexp"
	"sort"
	"sync"

	"github.com/voicewire/voicewire/pkg/wire"
)

// Speaker labels of this shape are reserved for suppression, typically the
// agent's own TTS returning via a loopback microphone or known voiceprints.
var reservedSpeaker = regexp.MustCompile(`^__[A-Z0-9_]{2,}__$`)

// FocusMode controls how speakers outside the focus set are treated.
type FocusMode string

const (
	// FocusRetain keeps non-focus speakers in the fragment list but marks
	// their segments inactive.
	FocusRetain FocusMode = "retain"
	// FocusIgnore drops words from non-focus speakers entirely.
	FocusIgnore FocusMode = "ignore"
)

// FocusConfig selects which speakers drive the session. Speakers in
// IgnoreSpeakers are always dropped regardless of mode.
type FocusConfig struct {
	FocusSpeakers  []string  `yaml:"focus_speakers"`
	IgnoreSpeakers []string  `yaml:"ignore_speakers"`
	FocusMode      FocusMode `yaml:"focus_mode"`
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// UpdateResult reports what a reconciler update did.
type UpdateResult struct {
	// Added holds the fragments accepted from this message, post filtering.
	Added []Fragment
	// HasFragments is true when the list is non-empty after the update.
	HasFragments bool
	// TTFBMillis is a fresh time-to-first-byte measurement, or 0 when none
	// was taken on this update.
	TTFBMillis float64
}

// Reconciler maintains the fragment list under a stream of partial and final
// transcript messages. A single mutex serialises updates against reads; the
// list itself is single-writer.
type Reconciler struct {
	mu sync.Mutex

	nextIndex   int64
	fragments   []Fragment
	trimBefore  float64
	focus       FocusConfig
	lastFragEnd float64

	lastTTFBTime float64
	lastTTFB     float64
}

// NewReconciler creates an empty reconciler with the given focus policy.
func NewReconciler(focus FocusConfig) *Reconciler {
	return &Reconciler{focus: focus}
}

// SetFocus replaces the focus policy. Takes effect on the next update.
func (r *Reconciler) SetFocus(focus FocusConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.focus = focus
}

// Focus returns the current focus policy.
func (r *Reconciler) Focus() FocusConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focus
}

// accept applies the trim watermark, reserved-speaker suppression and the
// focus policy to one candidate fragment.
func (r *Reconciler) accept(f Fragment) bool {
	if f.StartTime < r.trimBefore {
		return false
	}
	if f.Speaker == "" {
		return true
	}
	if reservedSpeaker.MatchString(f.Speaker) {
		return false
	}
	if r.focus.FocusMode == FocusIgnore && len(r.focus.FocusSpeakers) > 0 &&
		!contains(r.focus.FocusSpeakers, f.Speaker) {
		return false
	}
	if contains(r.focus.IgnoreSpeakers, f.Speaker) {
		return false
	}
	return true
}

// Update merges one partial or final transcript message into the fragment
// list. Every update replaces the whole partial tail: the service resends the
// complete uncommitted suffix each time, so prior partials are discarded
// before the new fragments are spliced in. Finals already in the list are
// retained, keeping the final prefix non-decreasing.
//
// totalAudioSeconds is the session audio clock, used for the TTFB
// measurement taken on the first partial after a final watermark.
func (r *Reconciler) Update(msg wire.Transcript, totalAudioSeconds float64) UpdateResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added []Fragment
	for _, res := range msg.Results {
		f, ok := fragmentFromResult(r.nextIndex+1, res, msg.IsFinal)
		if !ok {
			continue
		}
		r.nextIndex++
		f.Index = r.nextIndex
		if !r.accept(f) {
			continue
		}
		added = append(added, f)
		if f.EndTime > r.lastFragEnd {
			r.lastFragEnd = f.EndTime
		}
	}

	// Keep committed finals past the watermark, splice in the new batch.
	retained := r.fragments[:0:0]
	for _, f := range r.fragments {
		if f.IsFinal && f.StartTime >= r.trimBefore {
			retained = append(retained, f)
		}
	}

	// A duplicate server echo of a final batch must not duplicate words.
	if msg.IsFinal {
		deduped := added[:0]
		for _, f := range added {
			if !containsFinal(retained, f) {
				deduped = append(deduped, f)
			}
		}
		added = deduped
	}
	retained = append(retained, added...)
	sort.Slice(retained, func(i, j int) bool { return retained[i].Index < retained[j].Index })

	// Punctuation at the head belongs to an utterance already emitted.
	if len(retained) > 0 && retained[0].IsPunctuation && retained[0].AttachesTo == AttachesPrevious {
		retained = retained[1:]
	}
	r.fragments = retained

	result := UpdateResult{
		Added:        added,
		HasFragments: len(r.fragments) > 0,
	}
	if !msg.IsFinal {
		result.TTFBMillis = r.measureTTFB(msg.Metadata.EndTime, totalAudioSeconds)
	}
	return result
}

// containsFinal reports whether an equivalent final fragment is already
// retained, matching on timing, content and speaker.
func containsFinal(list []Fragment, f Fragment) bool {
	for _, g := range list {
		if g.StartTime == f.StartTime && g.EndTime == f.EndTime &&
			g.Content == f.Content && g.Speaker == f.Speaker && g.Kind == f.Kind {
			return true
		}
	}
	return false
}

// measureTTFB records the latency between audio sent and the first partial
// word covering it. Measured once per utterance; repeat partials for the same
// span are skipped.
func (r *Reconciler) measureTTFB(payloadEnd, totalAudioSeconds float64) float64 {
	hasWord := false
	for _, f := range r.fragments {
		if f.IsWord() {
			hasWord = true
			break
		}
	}
	if !hasWord {
		return 0
	}
	if r.lastTTFBTime > 0 && r.fragments[0].StartTime <= r.lastTTFBTime {
		return 0
	}

	ttfb := (totalAudioSeconds - payloadEnd) * 1000
	if ttfb <= 0 {
		return 0
	}
	r.lastTTFB = ttfb
	r.lastTTFBTime = payloadEnd
	return ttfb
}

// Fragments returns a copy of the current fragment list.
func (r *Reconciler) Fragments() []Fragment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Fragment, len(r.fragments))
	copy(out, r.fragments)
	return out
}

// TrimBefore advances the watermark and drops fragments that start before it.
// The watermark never moves backwards.
func (r *Reconciler) TrimBefore(t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t < r.trimBefore {
		return
	}
	r.trimBefore = t
	kept := r.fragments[:0]
	for _, f := range r.fragments {
		if f.StartTime >= t {
			kept = append(kept, f)
		}
	}
	r.fragments = kept
}

// Watermark returns the current trim watermark.
func (r *Reconciler) Watermark() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trimBefore
}

// LastFragmentEnd returns the latest fragment end time ever observed, used
// for time-slip compensation in turn-delay scheduling.
func (r *Reconciler) LastFragmentEnd() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFragEnd
}

// LastTTFB returns the most recent TTFB measurement in milliseconds.
func (r *Reconciler) LastTTFB() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastTTFB
}

// Reset discards all fragments and timing state. The index counter is
// preserved so indices stay unique across a session's lifetime.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fragments = nil
	r.trimBefore = 0
	r.lastFragEnd = 0
	r.lastTTFBTime = 0
	r.lastTTFB = 0
}
