package voice

import (
	"github.com/voicewire/voicewire/pkg/event"
	"github.com/voicewire/voicewire/pkg/transcript"
)

// Speaker VAD: speaker_started / speaker_ended are derived from the presence
// of in-focus words in the reconciled stream, not from acoustic energy. All
// methods here run on the work goroutine.

// lastInFocusWord returns the most recent partial word fragment from a
// speaker that drives the session, or nil. Finals are committed text, not
// live speech, and never open a turn or move the speaker floor.
func (c *Client) lastInFocusWord(added []transcript.Fragment) *transcript.Fragment {
	focus := c.rec.Focus().FocusSpeakers
	for i := len(added) - 1; i >= 0; i-- {
		f := added[i]
		if !f.IsWord() || f.IsFinal {
			continue
		}
		if len(focus) > 0 && !speakerIn(focus, f.Speaker) {
			continue
		}
		return &added[i]
	}
	return nil
}

func speakerIn(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// evaluateVAD tracks which diarized speaker currently holds the floor and
// emits started/ended events on transitions. A speaker switch emits the
// ended/started pair in that order.
func (c *Client) evaluateVAD(last *transcript.Fragment) {
	if !c.cfg.EnableDiarization || last == nil {
		return
	}

	if !c.speaking {
		c.speaking = true
		c.currentSpeaker = last.Speaker
		c.emitter.Emit(EventSpeakerStarted, event.Payload{
			"speaker": last.Speaker,
			"time":    last.StartTime,
		})
		return
	}
	if last.Speaker != c.currentSpeaker {
		c.emitter.Emit(EventSpeakerEnded, event.Payload{
			"speaker": c.currentSpeaker,
			"time":    last.StartTime,
		})
		c.emitter.Emit(EventSpeakerStarted, event.Payload{
			"speaker": last.Speaker,
			"time":    last.StartTime,
		})
		c.currentSpeaker = last.Speaker
	}
}

// vadSilence closes the current speaker's floor, if any. Called when a turn
// finalizes.
func (c *Client) vadSilence(at float64) {
	if !c.speaking {
		return
	}
	c.speaking = false
	c.emitter.Emit(EventSpeakerEnded, event.Payload{
		"speaker": c.currentSpeaker,
		"time":    at,
	})
	c.currentSpeaker = ""
}

// SpeakerStats aggregates per-speaker activity over emitted final segments.
type SpeakerStats struct {
	// Words is the number of word fragments attributed to the speaker.
	Words int
	// LastHeard is the end time in seconds of the speaker's latest word.
	LastHeard float64
}

// recordSpeakerStats folds emitted final segments into the per-speaker
// counters and emits a speaker_metrics snapshot when anyone is listening.
func (c *Client) recordSpeakerStats(finals []transcript.Segment) {
	if !c.cfg.EnableDiarization {
		return
	}
	for _, seg := range finals {
		for _, f := range seg.Fragments {
			if !f.IsWord() {
				continue
			}
			st := c.speakerStats[f.Speaker]
			if st == nil {
				st = &SpeakerStats{}
				c.speakerStats[f.Speaker] = st
			}
			st.Words++
			if f.EndTime > st.LastHeard {
				st.LastHeard = f.EndTime
			}
		}
	}

	if c.emitter.ListenerCount(EventSpeakerMetrics) == 0 {
		return
	}
	snapshot := make(map[string]SpeakerStats, len(c.speakerStats))
	for name, st := range c.speakerStats {
		snapshot[name] = *st
	}
	c.emitter.Emit(EventSpeakerMetrics, event.Payload{"speakers": snapshot})
}
