// Package voice implements the transcription session controller: a client
// that holds a live WebSocket session with a streaming STT service, reconciles
// its partial/final word stream into speaker segments, detects end-of-utterance
// and end-of-turn, and delivers an ordered conversational event stream.
package voice

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/transcript"
	"github.com/voicewire/voicewire/pkg/wire"
)

// EndOfUtteranceMode selects the turn-detection strategy.
type EndOfUtteranceMode string

const (
	// ModeFixed relies on the service's silence-trigger end-of-utterance
	// signal, with a local fallback timer at 5x the trigger.
	ModeFixed EndOfUtteranceMode = "fixed"
	// ModeAdaptive schedules a local timer whose delay adapts to speaking
	// rate and disfluency.
	ModeAdaptive EndOfUtteranceMode = "adaptive"
	// ModeSmartTurn is adaptive augmented by an acoustic turn predicate.
	ModeSmartTurn EndOfUtteranceMode = "smart_turn"
	// ModeExternal never ends a turn automatically; only [Client.Finalize]
	// does.
	ModeExternal EndOfUtteranceMode = "external"
)

// IsValid reports whether the mode is one of the recognised values.
func (m EndOfUtteranceMode) IsValid() bool {
	switch m {
	case ModeFixed, ModeAdaptive, ModeSmartTurn, ModeExternal:
		return true
	}
	return false
}

// Operating points for the recognition engine.
const (
	OperatingPointStandard = "standard"
	OperatingPointEnhanced = "enhanced"
)

// Defaults applied by [Config.Validate] where fields are zero.
const (
	defaultMaxDelay           = 0.7
	defaultSilenceTrigger     = 0.2
	defaultEOUMaxDelay        = 10.0
	defaultSpeakerSensitivity = 0.5
	defaultSampleRate         = 16000
	defaultBufferSeconds      = 10.0
	defaultBufferFrameSize    = 320
)

// Config holds the per-session transcription configuration. The zero value
// plus a Language is usable; [Config.Validate] fills defaults and reports all
// problems found, joined.
type Config struct {
	// Language is the BCP-47 language code for recognition. Required.
	Language string `yaml:"language"`

	// Domain selects a domain-optimised language pack, e.g. "finance".
	Domain string `yaml:"domain,omitempty"`

	// OutputLocale controls spelling conventions of the transcript.
	OutputLocale string `yaml:"output_locale,omitempty"`

	// OperatingPoint is "standard" or "enhanced".
	OperatingPoint string `yaml:"operating_point,omitempty"`

	// MaxDelay caps final-result latency in seconds. Default 0.7.
	MaxDelay float64 `yaml:"max_delay,omitempty"`

	// EndOfUtteranceSilenceTrigger is the silence duration in seconds that
	// ends an utterance. Default 0.2.
	EndOfUtteranceSilenceTrigger float64 `yaml:"end_of_utterance_silence_trigger,omitempty"`

	// EndOfUtteranceMaxDelay clamps the computed adaptive delay. Default 10.
	EndOfUtteranceMaxDelay float64 `yaml:"end_of_utterance_max_delay,omitempty"`

	// EndOfUtteranceMode selects the turn-detection strategy. Default fixed.
	EndOfUtteranceMode EndOfUtteranceMode `yaml:"end_of_utterance_mode,omitempty"`

	// AdditionalVocab biases recognition towards the given entries.
	AdditionalVocab []wire.VocabEntry `yaml:"additional_vocab,omitempty"`

	// PunctuationOverrides is passed through to the service verbatim.
	PunctuationOverrides map[string]any `yaml:"punctuation_overrides,omitempty"`

	// EnableDiarization turns on speaker labelling.
	EnableDiarization bool `yaml:"enable_diarization,omitempty"`

	// SpeakerSensitivity tunes diarization in [0,1]. Default 0.5.
	SpeakerSensitivity float64 `yaml:"speaker_sensitivity,omitempty"`

	// PreferCurrentSpeaker biases diarization towards speaker continuity.
	PreferCurrentSpeaker bool `yaml:"prefer_current_speaker,omitempty"`

	// MaxSpeakers caps the number of distinct speaker labels.
	MaxSpeakers int `yaml:"max_speakers,omitempty"`

	// KnownSpeakers enrols voiceprints from earlier sessions.
	KnownSpeakers []wire.SpeakerIdentifier `yaml:"known_speakers,omitempty"`

	// Focus selects which speakers drive the session.
	Focus transcript.FocusConfig `yaml:"diarization_focus_config,omitempty"`

	// SampleRate of the inbound audio in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate,omitempty"`

	// AudioEncoding of the inbound audio. Default pcm_s16le.
	AudioEncoding audio.Encoding `yaml:"audio_encoding,omitempty"`

	// AudioBufferSeconds is the rolling audio window retained for acoustic
	// analysis. 0 keeps the default of 10; negative disables the buffer.
	AudioBufferSeconds float64 `yaml:"audio_buffer_seconds,omitempty"`

	// AudioBufferFrameSize is the ring frame size in samples. Default 320.
	AudioBufferFrameSize int `yaml:"audio_buffer_frame_size,omitempty"`

	// EmitSentences additionally splits segments on sentence boundaries.
	EmitSentences bool `yaml:"emit_sentences,omitempty"`

	// IncludeResults attaches the raw recognition results to segment
	// payloads alongside the reconciled segments.
	IncludeResults bool `yaml:"include_results,omitempty"`

	// TrailingEOS appends a closing "." when a forced finalization ends
	// without end-of-sentence punctuation.
	TrailingEOS bool `yaml:"trailing_eos,omitempty"`
}

// NewConfig returns a Config for the given language with all defaults filled.
func NewConfig(language string) *Config {
	cfg := &Config{Language: language}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.OperatingPoint == "" {
		c.OperatingPoint = OperatingPointStandard
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.EndOfUtteranceSilenceTrigger == 0 {
		c.EndOfUtteranceSilenceTrigger = defaultSilenceTrigger
	}
	if c.EndOfUtteranceMaxDelay == 0 {
		c.EndOfUtteranceMaxDelay = defaultEOUMaxDelay
	}
	if c.EndOfUtteranceMode == "" {
		c.EndOfUtteranceMode = ModeFixed
	}
	if c.SpeakerSensitivity == 0 {
		c.SpeakerSensitivity = defaultSpeakerSensitivity
	}
	if c.SampleRate == 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.AudioEncoding == "" {
		c.AudioEncoding = audio.EncodingPCM16
	}
	if c.AudioBufferSeconds == 0 {
		c.AudioBufferSeconds = defaultBufferSeconds
	}
	if c.AudioBufferFrameSize == 0 {
		c.AudioBufferFrameSize = defaultBufferFrameSize
	}
}

// Validate fills defaults and checks that the config is coherent. It returns
// a joined error listing all validation failures found.
func (c *Config) Validate() error {
	c.applyDefaults()

	var errs []error
	if c.Language == "" {
		errs = append(errs, errors.New("language is required"))
	}
	if c.OperatingPoint != OperatingPointStandard && c.OperatingPoint != OperatingPointEnhanced {
		errs = append(errs, fmt.Errorf("operating_point %q is invalid; valid values: standard, enhanced", c.OperatingPoint))
	}
	if !c.EndOfUtteranceMode.IsValid() {
		errs = append(errs, fmt.Errorf("end_of_utterance_mode %q is invalid; valid values: fixed, adaptive, smart_turn, external", c.EndOfUtteranceMode))
	}
	if c.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("max_delay %.2f must not be negative", c.MaxDelay))
	}
	if c.EndOfUtteranceSilenceTrigger < 0 {
		errs = append(errs, fmt.Errorf("end_of_utterance_silence_trigger %.2f must not be negative", c.EndOfUtteranceSilenceTrigger))
	}
	if c.EndOfUtteranceMaxDelay < c.EndOfUtteranceSilenceTrigger {
		errs = append(errs, fmt.Errorf("end_of_utterance_max_delay %.2f is below the silence trigger %.2f",
			c.EndOfUtteranceMaxDelay, c.EndOfUtteranceSilenceTrigger))
	}
	if c.SpeakerSensitivity < 0 || c.SpeakerSensitivity > 1 {
		errs = append(errs, fmt.Errorf("speaker_sensitivity %.2f is out of range [0, 1]", c.SpeakerSensitivity))
	}
	if c.MaxSpeakers < 0 {
		errs = append(errs, fmt.Errorf("max_speakers %d must not be negative", c.MaxSpeakers))
	}
	if mode := c.Focus.FocusMode; mode != "" && mode != transcript.FocusRetain && mode != transcript.FocusIgnore {
		errs = append(errs, fmt.Errorf("diarization_focus_config.focus_mode %q is invalid; valid values: retain, ignore", mode))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", c.SampleRate))
	}
	if _, err := c.AudioEncoding.SampleWidth(); err != nil {
		errs = append(errs, err)
	}
	if c.AudioBufferFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio_buffer_frame_size %d must be positive", c.AudioBufferFrameSize))
	}

	return errors.Join(errs...)
}

// LoadConfig reads the YAML configuration file at path and returns a
// validated [Config].
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("voice: open config %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadConfigFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("voice: config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("voice: decode yaml config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// audioFormat builds the audio_format object for StartRecognition.
func (c *Config) audioFormat() wire.AudioFormatSpec {
	return wire.AudioFormatSpec{
		Type:       "raw",
		Encoding:   string(c.AudioEncoding),
		SampleRate: c.SampleRate,
	}
}

// transcriptionSpec builds the transcription_config object for
// StartRecognition.
func (c *Config) transcriptionSpec() wire.TranscriptionSpec {
	spec := wire.TranscriptionSpec{
		Language:             c.Language,
		Domain:               c.Domain,
		OutputLocale:         c.OutputLocale,
		OperatingPoint:       c.OperatingPoint,
		EnablePartials:       true,
		MaxDelay:             c.MaxDelay,
		AdditionalVocab:      c.AdditionalVocab,
		PunctuationOverrides: c.PunctuationOverrides,
	}
	if c.EnableDiarization {
		spec.Diarization = "speaker"
		spec.SpeakerDiarization = &wire.DiarizationSpec{
			SpeakerSensitivity:   c.SpeakerSensitivity,
			PreferCurrentSpeaker: c.PreferCurrentSpeaker,
			MaxSpeakers:          c.MaxSpeakers,
			Speakers:             c.KnownSpeakers,
		}
	}
	// Only fixed mode delegates end-of-utterance detection to the service.
	if c.EndOfUtteranceMode == ModeFixed {
		spec.Conversation = &wire.ConversationSpec{
			EndOfUtteranceSilenceTrigger: c.EndOfUtteranceSilenceTrigger,
		}
	}
	return spec
}
