package transcript

import (
	"fmt"
	"strings"
	"time"
)

// Segment is a contiguous run of fragments from one speaker, optionally split
// on sentence boundaries. Segments are derived values; they are recomputed
// from the fragment list on every view build and never stored.
type Segment struct {
	Speaker    string
	IsActive   bool
	Timestamp  time.Time
	Language   string
	Fragments  []Fragment
	Text       string
	Annotation Annotation
}

// StartTime returns the start of the first fragment.
func (s *Segment) StartTime() float64 {
	if len(s.Fragments) == 0 {
		return 0
	}
	return s.Fragments[0].StartTime
}

// EndTime returns the end of the last fragment.
func (s *Segment) EndTime() float64 {
	if len(s.Fragments) == 0 {
		return 0
	}
	return s.Fragments[len(s.Fragments)-1].EndTime
}

// BuildOptions parameterise view construction.
type BuildOptions struct {
	// Delimiter joins adjacent fragments; comes from the language pack.
	Delimiter string
	// BaseTime is the session start wall clock, used to timestamp segments.
	BaseTime time.Time
	// FocusSpeakers marks segments from other speakers inactive when set.
	FocusSpeakers []string
	// EmitSentences additionally splits segments after each finalised
	// end-of-sentence fragment.
	EmitSentences bool
}

// View is a snapshot of the fragment list grouped into annotated segments.
type View struct {
	Fragments []Fragment
	Segments  []Segment

	opts BuildOptions
}

// BuildView groups fragments into speaker segments and annotates them. It is
// a pure function of its inputs; the returned view owns its segment slices.
func BuildView(fragments []Fragment, opts BuildOptions) *View {
	if opts.Delimiter == "" {
		opts.Delimiter = " "
	}
	v := &View{Fragments: fragments, opts: opts}
	v.Segments = buildSegments(fragments, opts)
	return v
}

func buildSegments(fragments []Fragment, opts BuildOptions) []Segment {
	var groups [][]Fragment
	var current []Fragment
	currentSpeaker := ""
	started := false

	flush := func() {
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
	}

	for _, f := range fragments {
		if !started || f.Speaker != currentSpeaker {
			flush()
			currentSpeaker = f.Speaker
			started = true
		}
		current = append(current, f)
		if opts.EmitSentences && f.IsFinal && f.IsEOS {
			flush()
			started = false
		}
	}
	flush()

	segments := make([]Segment, 0, len(groups))
	for _, group := range groups {
		if seg, ok := segmentFromGroup(group, opts); ok {
			segments = append(segments, seg)
		}
	}
	return segments
}

// segmentFromGroup assembles one segment, stripping edge punctuation that
// grammatically belongs to a neighbouring run.
func segmentFromGroup(group []Fragment, opts BuildOptions) (Segment, bool) {
	if len(group) > 0 && group[0].AttachesTo == AttachesPrevious {
		group = group[1:]
	}
	if len(group) > 0 && group[len(group)-1].AttachesTo == AttachesNext {
		group = group[:len(group)-1]
	}
	if len(group) == 0 {
		return Segment{}, false
	}

	isActive := true
	if len(opts.FocusSpeakers) > 0 {
		isActive = contains(opts.FocusSpeakers, group[0].Speaker)
	}

	seg := Segment{
		Speaker:   group[0].Speaker,
		IsActive:  isActive,
		Timestamp: opts.BaseTime.Add(time.Duration(group[0].StartTime * float64(time.Second))),
		Language:  group[0].Language,
		Fragments: group,
		Text:      joinFragments(group, opts.Delimiter, false),
	}
	seg.Annotation = annotateSegment(&seg)
	return seg, true
}

// joinFragments renders fragment contents with the word delimiter, omitting
// it between fragments when either side declares an attachment relation.
func joinFragments(fragments []Fragment, delimiter string, wordsOnly bool) string {
	var b strings.Builder
	prevAttachesNext := false
	first := true
	for _, f := range fragments {
		if wordsOnly && !f.IsWord() {
			continue
		}
		if !first && f.AttachesTo != AttachesPrevious && !prevAttachesNext {
			b.WriteString(delimiter)
		}
		b.WriteString(f.Content)
		prevAttachesNext = f.AttachesTo == AttachesNext
		first = false
	}
	return b.String()
}

// annotateSegment derives the annotation set for a non-empty segment.
func annotateSegment(seg *Segment) Annotation {
	var a Annotation

	first := seg.Fragments[0]
	last := seg.Fragments[len(seg.Fragments)-1]

	var words []Fragment
	allPunctuation := true
	hasPartial := false
	hasFinal := false
	hasDisfluency := false
	for _, f := range seg.Fragments {
		if f.IsWord() {
			words = append(words, f)
		}
		if !f.IsPunctuation {
			allPunctuation = false
		}
		if f.IsFinal {
			hasFinal = true
		} else {
			hasPartial = true
		}
		if f.IsDisfluency {
			hasDisfluency = true
		}
	}

	if len(words) == 0 {
		a.Add(NoText)
	}
	if allPunctuation {
		a.Add(OnlyPunctuation)
	}
	if hasPartial {
		a.Add(HasPartial)
	}
	if hasFinal {
		a.Add(HasFinal)
	}
	if first.IsFinal {
		a.Add(StartsWithFinal)
	}
	if last.IsFinal {
		a.Add(EndsWithFinal)
	}
	if last.IsEOS {
		a.Add(EndsWithEOS)
	}
	if last.IsPunctuation {
		a.Add(EndsWithPunctuation)
	}

	if hasDisfluency {
		a.Add(HasDisfluency)
	}
	if first.IsDisfluency {
		a.Add(StartsWithDisfluency)
	}
	if last.IsDisfluency {
		a.Add(EndsWithDisfluency)
	}
	// A disfluency right before closing punctuation still ends the thought.
	if len(seg.Fragments) > 1 && a.Any(EndsWithEOS|EndsWithPunctuation) &&
		seg.Fragments[len(seg.Fragments)-2].IsDisfluency {
		a.Add(EndsWithDisfluency)
	}

	a.Add(classifyRate(words))
	return a
}

// classifyRate estimates the speaking rate over the last five words. Segments
// with fewer than five words are not classified.
func classifyRate(words []Fragment) Annotation {
	if len(words) < 5 {
		return 0
	}
	last5 := words[len(words)-5:]
	duration := last5[len(last5)-1].EndTime - last5[0].StartTime
	if duration <= 0 {
		return 0
	}
	wpm := 5 / (duration / 60)
	switch {
	case wpm < 30:
		return VerySlowSpeaker
	case wpm < 80:
		return SlowSpeaker
	case wpm > 350:
		return FastSpeaker
	default:
		return 0
	}
}

// ---- aggregate counters ----

// StartTime returns the start of the first fragment in the view.
func (v *View) StartTime() float64 {
	if len(v.Fragments) == 0 {
		return 0
	}
	return v.Fragments[0].StartTime
}

// EndTime returns the end of the last fragment in the view.
func (v *View) EndTime() float64 {
	if len(v.Fragments) == 0 {
		return 0
	}
	return v.Fragments[len(v.Fragments)-1].EndTime
}

// FinalCount returns the number of final fragments.
func (v *View) FinalCount() int {
	n := 0
	for _, f := range v.Fragments {
		if f.IsFinal {
			n++
		}
	}
	return n
}

// PartialCount returns the number of partial fragments.
func (v *View) PartialCount() int {
	return len(v.Fragments) - v.FinalCount()
}

// SegmentCount returns the number of segments.
func (v *View) SegmentCount() int {
	return len(v.Segments)
}

// LastActiveSegmentIndex returns the index of the last segment belonging to
// an in-focus speaker, or -1 when none is active.
func (v *View) LastActiveSegmentIndex() int {
	for i := len(v.Segments) - 1; i >= 0; i-- {
		if v.Segments[i].IsActive {
			return i
		}
	}
	return -1
}

// FormatText renders every segment as |speaker|text| for change detection.
// With wordsOnly, punctuation fragments are excluded from the render.
func (v *View) FormatText(wordsOnly bool) string {
	var b strings.Builder
	for _, seg := range v.Segments {
		b.WriteString("|")
		b.WriteString(seg.Speaker)
		b.WriteString("|")
		b.WriteString(joinFragments(seg.Fragments, v.opts.Delimiter, wordsOnly))
		b.WriteString("|")
	}
	return b.String()
}

// TimingString renders the start/end times of every word fragment, used to
// detect timing-only revisions between views.
func (v *View) TimingString() string {
	var b strings.Builder
	for _, f := range v.Fragments {
		if !f.IsWord() {
			continue
		}
		fmt.Fprintf(&b, "%.3f-%.3f;", f.StartTime, f.EndTime)
	}
	return b.String()
}

// Trim restricts the view to fragments fully inside [startTime, endTime] and
// rebuilds its segments.
func (v *View) Trim(startTime, endTime float64) {
	kept := v.Fragments[:0:0]
	for _, f := range v.Fragments {
		if f.StartTime >= startTime && f.EndTime <= endTime {
			kept = append(kept, f)
		}
	}
	v.Fragments = kept
	v.Segments = buildSegments(kept, v.opts)
}

// CompareViews classifies the difference between the new view and the old
// one. A view with no predecessor is flagged new; a view whose partial count
// is zero is flagged finalized.
func CompareViews(newView, oldView *View) Annotation {
	var a Annotation

	if oldView != nil && oldView.SegmentCount() > 0 {
		newFull := newView.FormatText(false)
		oldFull := oldView.FormatText(false)
		if newFull != oldFull {
			a.Add(UpdatedFull)
		}
		if !strings.EqualFold(newFull, oldFull) {
			a.Add(UpdatedFullLowercase)
		}

		newStripped := newView.FormatText(true)
		oldStripped := oldView.FormatText(true)
		if newStripped != oldStripped {
			a.Add(UpdatedStripped)
		}
		if !strings.EqualFold(newStripped, oldStripped) {
			a.Add(UpdatedStrippedLowercase)
		}

		if newView.TimingString() != oldView.TimingString() {
			a.Add(UpdatedWordTimings)
		}
		if newView.FinalCount() != oldView.FinalCount() {
			a.Add(UpdatedFinals)
		}
		if newView.PartialCount() != oldView.PartialCount() {
			a.Add(UpdatedPartials)
		}
		if newView.SegmentCount() != oldView.SegmentCount() {
			a.Add(UpdatedSpeakers)
		}
	} else if newView.SegmentCount() > 0 {
		a.Add(New)
	}

	if newView.SegmentCount() > 0 && newView.PartialCount() == 0 {
		a.Add(Finalized)
	}
	return a
}
