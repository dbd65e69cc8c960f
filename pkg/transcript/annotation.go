package transcript

import "strings"

// Annotation is a bit-set over the fixed vocabulary of segment and view-diff
// flags. The zero value carries no flags.
type Annotation uint32

const (
	// Segment content flags.
	NoText Annotation = 1 << iota
	OnlyPunctuation
	HasPartial
	HasFinal
	StartsWithFinal
	EndsWithFinal
	EndsWithEOS
	EndsWithPunctuation
	HasDisfluency
	StartsWithDisfluency
	EndsWithDisfluency
	VerySlowSpeaker
	SlowSpeaker
	FastSpeaker

	// View-diff flags.
	New
	UpdatedFull
	UpdatedFullLowercase
	UpdatedStripped
	UpdatedStrippedLowercase
	UpdatedWordTimings
	UpdatedFinals
	UpdatedPartials
	UpdatedSpeakers
	Finalized
)

var annotationNames = []struct {
	flag Annotation
	name string
}{
	{NoText, "no_text"},
	{OnlyPunctuation, "only_punctuation"},
	{HasPartial, "has_partial"},
	{HasFinal, "has_final"},
	{StartsWithFinal, "starts_with_final"},
	{EndsWithFinal, "ends_with_final"},
	{EndsWithEOS, "ends_with_end_of_sentence"},
	{EndsWithPunctuation, "ends_with_punctuation"},
	{HasDisfluency, "has_disfluency"},
	{StartsWithDisfluency, "starts_with_disfluency"},
	{EndsWithDisfluency, "ends_with_disfluency"},
	{VerySlowSpeaker, "very_slow_speaker"},
	{SlowSpeaker, "slow_speaker"},
	{FastSpeaker, "fast_speaker"},
	{New, "new"},
	{UpdatedFull, "updated_full"},
	{UpdatedFullLowercase, "updated_full_lowercase"},
	{UpdatedStripped, "updated_stripped"},
	{UpdatedStrippedLowercase, "updated_stripped_lowercase"},
	{UpdatedWordTimings, "updated_word_timings"},
	{UpdatedFinals, "updated_finals"},
	{UpdatedPartials, "updated_partials"},
	{UpdatedSpeakers, "updated_speakers"},
	{Finalized, "finalized"},
}

// Add sets the given flags.
func (a *Annotation) Add(flags Annotation) {
	*a |= flags
}

// Remove clears the given flags.
func (a *Annotation) Remove(flags Annotation) {
	*a &^= flags
}

// Has reports whether all given flags are set.
func (a Annotation) Has(flags Annotation) bool {
	return a&flags == flags
}

// Any reports whether at least one of the given flags is set.
func (a Annotation) Any(flags Annotation) bool {
	return a&flags != 0
}

// Names returns the snake_case names of all set flags, in declaration order.
// Event payloads carry annotations in this form.
func (a Annotation) Names() []string {
	out := make([]string, 0, 4)
	for _, e := range annotationNames {
		if a&e.flag != 0 {
			out = append(out, e.name)
		}
	}
	return out
}

func (a Annotation) String() string {
	return strings.Join(a.Names(), ",")
}
