package voice

import "github.com/voicewire/voicewire/pkg/event"

// Events emitted by [Client]. Payload keys are documented per constant;
// payload values are plain Go types so handlers can type-assert without
// pulling in wire types.
const (
	// EventRecognitionStarted fires once per session when the service
	// acknowledges recognition. Payload: "session_id", "language_pack".
	EventRecognitionStarted event.Type = "recognition_started"

	// EventAddPartialTranscript and EventAddTranscript pass through the raw
	// partial and final word batches as they arrive.
	// Payload: "metadata", "results", "is_final".
	EventAddPartialTranscript event.Type = "add_partial_transcript"
	EventAddTranscript        event.Type = "add_transcript"

	// EventAddInterimSegment carries segments that may still be revised.
	// Payload: "segments" ([]transcript.Segment), "turn_id", and with
	// Config.IncludeResults "results" ([]wire.Result).
	EventAddInterimSegment event.Type = "add_interim_segment"

	// EventAddSegment carries segments final for this emission cycle.
	// Payload: "segments" ([]transcript.Segment), "turn_id", and with
	// Config.IncludeResults "results" ([]wire.Result).
	EventAddSegment event.Type = "add_segment"

	// EventSpeakerStarted and EventSpeakerEnded are diarization VAD derived
	// from the presence of in-focus words. Payload: "speaker", "time".
	EventSpeakerStarted event.Type = "speaker_started"
	EventSpeakerEnded   event.Type = "speaker_ended"

	// EventStartOfTurn fires when speech opens a new turn in adaptive and
	// smart-turn modes. Payload: "turn_id".
	EventStartOfTurn event.Type = "start_of_turn"

	// EventEndOfTurn fires after the closing finals of a turn have been
	// emitted. Payload: "turn_id".
	EventEndOfTurn event.Type = "end_of_turn"

	// EventEndOfTurnPrediction reports the currently scheduled end-of-turn
	// delay, and in smart-turn mode the acoustic verdict. Payload: "delay",
	// "turn_id" and optionally "complete", "probability".
	EventEndOfTurnPrediction event.Type = "end_of_turn_prediction"

	// EventTTFBMetrics carries a fresh time-to-first-byte measurement.
	// Payload: "ttfb_ms".
	EventTTFBMetrics event.Type = "ttfb_metrics"

	// EventMetrics is the periodic session metrics snapshot. Payload:
	// "session_id", "total_audio_seconds", "total_audio_bytes", "ttfb_ms",
	// "turn_id".
	EventMetrics event.Type = "metrics"

	// EventSpeakerMetrics carries per-speaker word counts after final
	// emission when diarization is enabled. Payload: "speakers"
	// (map[string]SpeakerStats).
	EventSpeakerMetrics event.Type = "speaker_metrics"

	// EventSpeakersResult carries speaker enrolment records requested via
	// [Client.GetSpeakers]. Payload: "speakers".
	EventSpeakersResult event.Type = "speakers_result"

	// EventTextInput mirrors a [Client.SendTextInput] call into the event
	// stream. Payload: "text", "interrupt".
	EventTextInput event.Type = "text_input"

	// EventInfo and EventWarning surface non-fatal server messages.
	// Payload: "type", "reason".
	EventInfo    event.Type = "info"
	EventWarning event.Type = "warning"

	// EventError surfaces a fatal server-reported error or a transport
	// failure (type "connection_error"); the session is terminated after
	// emission. Payload: "type", "reason".
	EventError event.Type = "error"
)
