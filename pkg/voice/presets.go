package voice

// Ready-made configurations for common deployments. Each returns a fresh
// Config the caller may adjust before connecting.

// LowLatency favours fast turn handoff: server-side fixed end-of-utterance
// with a short silence trigger and diarization enabled.
func LowLatency(language string) *Config {
	cfg := NewConfig(language)
	cfg.EndOfUtteranceMode = ModeFixed
	cfg.EndOfUtteranceSilenceTrigger = 0.2
	cfg.MaxDelay = 0.7
	cfg.EnableDiarization = true
	return cfg
}

// ConversationAdaptive favours natural conversation: the end-of-utterance
// delay adapts to speaking rate and disfluency.
func ConversationAdaptive(language string) *Config {
	cfg := NewConfig(language)
	cfg.EndOfUtteranceMode = ModeAdaptive
	cfg.EndOfUtteranceSilenceTrigger = 0.5
	cfg.EnableDiarization = true
	return cfg
}

// ConversationSmartTurn is [ConversationAdaptive] augmented by an acoustic
// turn predicate; pass the predicate via [WithPredicate].
func ConversationSmartTurn(language string) *Config {
	cfg := NewConfig(language)
	cfg.EndOfUtteranceMode = ModeSmartTurn
	cfg.EndOfUtteranceSilenceTrigger = 0.5
	cfg.MaxDelay = 0.85
	cfg.EnableDiarization = true
	return cfg
}
