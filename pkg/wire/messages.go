// Package wire translates between the transcription core's internal messages
// and the STT service's WebSocket wire protocol. Control frames are
// self-describing JSON objects with a "message" discriminator; audio frames
// are binary payloads tagged with a monotonic sequence number.
//
// Inbound frames are parsed into tagged variants at this boundary so that
// downstream components only ever consume strongly-typed values.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client → server message discriminators.
const (
	msgStartRecognition = "StartRecognition"
	msgEndOfStream      = "EndOfStream"
	msgFinalize         = "Finalize"
	msgGetSpeakers      = "GetSpeakers"
)

// Server → client message discriminators.
const (
	msgRecognitionStarted   = "RecognitionStarted"
	msgAddPartialTranscript = "AddPartialTranscript"
	msgAddTranscript        = "AddTranscript"
	msgEndOfUtterance       = "EndOfUtterance"
	msgEndOfTranscript      = "EndOfTranscript"
	msgSpeakersResult       = "SpeakersResult"
	msgInfo                 = "Info"
	msgWarning              = "Warning"
	msgError                = "Error"
)

// ErrUnknownMessage is returned by [ParseServerMessage] for discriminators the
// core does not understand. Callers should log and discard; an unknown message
// never terminates the session.
var ErrUnknownMessage = errors.New("wire: unknown server message")

// ErrMalformedMessage is returned by [ParseServerMessage] for frames that do
// not decode. Like [ErrUnknownMessage] it is a discard-and-continue condition.
var ErrMalformedMessage = errors.New("wire: malformed server message")

// IsProtocolError reports whether err is a parse-level problem the session can
// survive, as opposed to a transport failure.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrUnknownMessage) || errors.Is(err, ErrMalformedMessage)
}

// ---- outbound control messages ----

// AudioFormatSpec describes the raw audio stream announced in StartRecognition.
type AudioFormatSpec struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// VocabEntry is one additional-vocabulary item.
type VocabEntry struct {
	Content    string   `json:"content" yaml:"content"`
	SoundsLike []string `json:"sounds_like,omitempty" yaml:"sounds_like,omitempty"`
}

// SpeakerIdentifier names a known speaker and its enrolment identifiers.
type SpeakerIdentifier struct {
	Label              string   `json:"label"`
	SpeakerIdentifiers []string `json:"speaker_identifiers"`
}

// DiarizationSpec is the speaker-diarization portion of the transcription config.
type DiarizationSpec struct {
	SpeakerSensitivity   float64             `json:"speaker_sensitivity,omitempty"`
	PreferCurrentSpeaker bool                `json:"prefer_current_speaker,omitempty"`
	MaxSpeakers          int                 `json:"max_speakers,omitempty"`
	Speakers             []SpeakerIdentifier `json:"speakers,omitempty"`
}

// ConversationSpec carries the server-side end-of-utterance trigger, used in
// fixed turn-detection mode only.
type ConversationSpec struct {
	EndOfUtteranceSilenceTrigger float64 `json:"end_of_utterance_silence_trigger"`
}

// TranscriptionSpec is the transcription_config object sent in StartRecognition.
type TranscriptionSpec struct {
	Language              string            `json:"language"`
	Domain                string            `json:"domain,omitempty"`
	OutputLocale          string            `json:"output_locale,omitempty"`
	OperatingPoint        string            `json:"operating_point,omitempty"`
	Diarization           string            `json:"diarization,omitempty"`
	EnablePartials        bool              `json:"enable_partials"`
	MaxDelay              float64           `json:"max_delay,omitempty"`
	AdditionalVocab       []VocabEntry      `json:"additional_vocab,omitempty"`
	PunctuationOverrides  map[string]any    `json:"punctuation_overrides,omitempty"`
	SpeakerDiarization    *DiarizationSpec  `json:"speaker_diarization_config,omitempty"`
	Conversation          *ConversationSpec `json:"conversation_config,omitempty"`
}

// StartRecognition is the session-opening control message.
type StartRecognition struct {
	Message             string            `json:"message"`
	AudioFormat         AudioFormatSpec   `json:"audio_format"`
	TranscriptionConfig TranscriptionSpec `json:"transcription_config"`
}

// NewStartRecognition builds a StartRecognition message with the discriminator set.
func NewStartRecognition(format AudioFormatSpec, cfg TranscriptionSpec) StartRecognition {
	return StartRecognition{
		Message:             msgStartRecognition,
		AudioFormat:         format,
		TranscriptionConfig: cfg,
	}
}

// EndOfStream terminates the audio stream; LastSeqNo is the sequence number of
// the final audio frame sent.
type EndOfStream struct {
	Message   string `json:"message"`
	LastSeqNo int64  `json:"last_seq_no"`
}

// NewEndOfStream builds an EndOfStream message.
func NewEndOfStream(lastSeq int64) EndOfStream {
	return EndOfStream{Message: msgEndOfStream, LastSeqNo: lastSeq}
}

// Finalize asks the service to commit the current partial prefix as finals.
// It is a hint, not a guarantee of immediate emission.
type Finalize struct {
	Message string `json:"message"`
}

// NewFinalize builds a Finalize hint message.
func NewFinalize() Finalize {
	return Finalize{Message: msgFinalize}
}

// GetSpeakers requests speaker enrolment data for use in later sessions.
type GetSpeakers struct {
	Message string `json:"message"`
}

// NewGetSpeakers builds a GetSpeakers request.
func NewGetSpeakers() GetSpeakers {
	return GetSpeakers{Message: msgGetSpeakers}
}

// ---- inbound messages ----

// ServerMessage is the sealed set of inbound message variants. Exactly one of
// the concrete types in this package is returned by [ParseServerMessage].
type ServerMessage interface {
	serverMessage()
}

// LanguagePackInfo describes the language pack in use for the session,
// delivered with RecognitionStarted. WordDelimiter is the character used to
// join adjacent word fragments when rendering segment text.
type LanguagePackInfo struct {
	Adapted             bool   `json:"adapted"`
	ITN                 bool   `json:"itn"`
	LanguageDescription string `json:"language_description"`
	WordDelimiter       string `json:"word_delimiter"`
	WritingDirection    string `json:"writing_direction"`
}

// RecognitionStarted acknowledges the session; audio may be sent after this.
type RecognitionStarted struct {
	SessionID    string           `json:"id"`
	LanguagePack LanguagePackInfo `json:"language_pack_info"`
}

// TranscriptMetadata carries the payload-level timing of a transcript batch.
type TranscriptMetadata struct {
	StartTime  float64 `json:"start_time"`
	EndTime    float64 `json:"end_time"`
	Transcript string  `json:"transcript"`
}

// Alternative is one recognition hypothesis for a result. Only the first
// alternative is consumed by the core.
type Alternative struct {
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`
	Language   string   `json:"language"`
	Speaker    string   `json:"speaker"`
	Tags       []string `json:"tags"`
}

// Result is a single word or punctuation recognition result.
type Result struct {
	Type         string        `json:"type"`
	StartTime    float64       `json:"start_time"`
	EndTime      float64       `json:"end_time"`
	IsEOS        bool          `json:"is_eos"`
	AttachesTo   string        `json:"attaches_to"`
	Alternatives []Alternative `json:"alternatives"`
}

// Transcript is a batch of partial or final word results. IsFinal reflects the
// discriminator of the containing message (AddTranscript vs AddPartialTranscript).
type Transcript struct {
	IsFinal  bool
	Metadata TranscriptMetadata `json:"metadata"`
	Results  []Result           `json:"results"`
}

// EndOfUtterance is the server-side silence-trigger signal (fixed mode).
type EndOfUtterance struct {
	Metadata TranscriptMetadata `json:"metadata"`
}

// EndOfTranscript signals that the server has flushed all transcription after
// EndOfStream.
type EndOfTranscript struct{}

// SpeakersResult carries speaker enrolment records for later sessions.
type SpeakersResult struct {
	Speakers []SpeakerIdentifier `json:"speakers"`
}

// ServerInfo is a non-fatal informational message.
type ServerInfo struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ServerWarning is a non-fatal warning message.
type ServerWarning struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ServerError is a fatal server-reported error; it terminates the session.
type ServerError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (RecognitionStarted) serverMessage() {}
func (Transcript) serverMessage()         {}
func (EndOfUtterance) serverMessage()     {}
func (EndOfTranscript) serverMessage()    {}
func (SpeakersResult) serverMessage()     {}
func (ServerInfo) serverMessage()         {}
func (ServerWarning) serverMessage()      {}
func (ServerError) serverMessage()        {}

// Error implements the error interface so a ServerError can be wrapped.
func (e ServerError) Error() string {
	return fmt.Sprintf("wire: server error %s: %s", e.Type, e.Reason)
}

// ParseServerMessage parses a raw control frame into its tagged variant.
// Unknown discriminators return [ErrUnknownMessage]; malformed JSON returns a
// wrapped parse error. Both are protocol errors the caller should log and
// discard without terminating the session.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	var probe struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch probe.Message {
	case msgRecognitionStarted:
		var m RecognitionStarted
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, probe.Message, err)
		}
		return m, nil

	case msgAddPartialTranscript, msgAddTranscript:
		var m Transcript
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, probe.Message, err)
		}
		m.IsFinal = probe.Message == msgAddTranscript
		return m, nil

	case msgEndOfUtterance:
		var m EndOfUtterance
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, probe.Message, err)
		}
		return m, nil

	case msgEndOfTranscript:
		return EndOfTranscript{}, nil

	case msgSpeakersResult:
		var m SpeakersResult
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, probe.Message, err)
		}
		return m, nil

	case msgInfo:
		var m ServerInfo
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, probe.Message, err)
		}
		return m, nil

	case msgWarning:
		var m ServerWarning
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, probe.Message, err)
		}
		return m, nil

	case msgError:
		var m ServerError
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, probe.Message, err)
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, probe.Message)
	}
}
