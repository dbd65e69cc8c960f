// Package transcript reconciles the overlapping partial and final word
// streams of a live STT session into a stable, speaker-segmented view.
//
// The [Reconciler] owns the fragment list and applies trim, speaker and focus
// filtering as messages arrive. [BuildView] is a pure function from a fragment
// list to speaker segments with annotations; [CompareViews] classifies the
// difference between two consecutive views.
package transcript

import (
	"github.com/voicewire/voicewire/pkg/wire"
)

// Fragment kinds.
const (
	KindWord        = "word"
	KindPunctuation = "punctuation"
)

// Attachment relations for punctuation fragments.
const (
	AttachesPrevious = "previous"
	AttachesNext     = "next"
)

// Fragment is the atomic unit of reconciled speech. Fragments are created
// from recognition results and destroyed when trimmed past the watermark.
// Index is assigned from a monotonic counter and never reused.
type Fragment struct {
	Index         int64
	StartTime     float64
	EndTime       float64
	Language      string
	Kind          string
	IsEOS         bool
	IsFinal       bool
	IsDisfluency  bool
	IsPunctuation bool
	AttachesTo    string
	Content       string
	Speaker       string
	Confidence    float64

	// Result keeps the raw recognition result for callers that want the
	// service payload alongside the reconciled form.
	Result wire.Result
}

// IsWord reports whether the fragment is a word rather than punctuation.
func (f Fragment) IsWord() bool {
	return f.Kind == KindWord
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// fragmentFromResult builds a Fragment from one recognition result, taking
// the first alternative. Returns false when the result carries no content.
func fragmentFromResult(idx int64, r wire.Result, isFinal bool) (Fragment, bool) {
	if len(r.Alternatives) == 0 || r.Alternatives[0].Content == "" {
		return Fragment{}, false
	}
	alt := r.Alternatives[0]

	lang := alt.Language
	if lang == "" {
		lang = "en"
	}
	kind := r.Type
	if kind == "" {
		kind = KindWord
	}

	return Fragment{
		Index:         idx,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Language:      lang,
		Kind:          kind,
		IsEOS:         r.IsEOS,
		IsFinal:       isFinal,
		IsDisfluency:  hasTag(alt.Tags, "disfluency"),
		IsPunctuation: kind == KindPunctuation,
		AttachesTo:    r.AttachesTo,
		Content:       alt.Content,
		Speaker:       alt.Speaker,
		Confidence:    alt.Confidence,
		Result:        r,
	}, true
}
