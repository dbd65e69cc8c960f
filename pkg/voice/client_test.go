package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicewire/voicewire/pkg/event"
	"github.com/voicewire/voicewire/pkg/transcript"
	"github.com/voicewire/voicewire/pkg/wire"
)

// ---- fake transport ----

type fakeTransport struct {
	mu       sync.Mutex
	controls []any
	audio    [][]byte
	seq      int64

	inbound   chan wire.ServerMessage
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan wire.ServerMessage, 32),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) SendControl(ctx context.Context, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, msg)
	return nil
}

func (f *fakeTransport) SendAudio(ctx context.Context, frame []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), frame...))
	f.seq++
	return f.seq, nil
}

func (f *fakeTransport) LastSeq() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

func (f *fakeTransport) Receive(ctx context.Context) (wire.ServerMessage, error) {
	select {
	case m := <-f.inbound:
		return m, nil
	case <-f.closed:
		return nil, errors.New("fake transport closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) push(m wire.ServerMessage) { f.inbound <- m }

func (f *fakeTransport) sentControls() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.controls...)
}

func (f *fakeTransport) audioFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

// ---- event recorder ----

type eventRecorder struct {
	mu     sync.Mutex
	events map[event.Type][]event.Payload
}

func newEventRecorder(c *Client, types ...event.Type) *eventRecorder {
	r := &eventRecorder{events: make(map[event.Type][]event.Payload)}
	for _, typ := range types {
		tt := typ
		c.On(tt, func(p event.Payload) {
			r.mu.Lock()
			r.events[tt] = append(r.events[tt], p)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *eventRecorder) count(t event.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[t])
}

func (r *eventRecorder) get(t event.Type) []event.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Payload(nil), r.events[t]...)
}

func segmentTexts(p event.Payload) []string {
	segs := p["segments"].([]transcript.Segment)
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Text
	}
	return out
}

// ---- message builders ----

func srvWord(content, speaker string, start, end float64, tags ...string) wire.Result {
	return wire.Result{
		Type:      "word",
		StartTime: start,
		EndTime:   end,
		Alternatives: []wire.Alternative{
			{Content: content, Confidence: 0.9, Language: "en", Speaker: speaker, Tags: tags},
		},
	}
}

func srvEOS(speaker string, at float64) wire.Result {
	return wire.Result{
		Type:       "punctuation",
		StartTime:  at,
		EndTime:    at,
		IsEOS:      true,
		AttachesTo: "previous",
		Alternatives: []wire.Alternative{
			{Content: ".", Confidence: 1.0, Language: "en", Speaker: speaker},
		},
	}
}

func srvBatch(final bool, end float64, results ...wire.Result) wire.Transcript {
	return wire.Transcript{
		IsFinal:  final,
		Metadata: wire.TranscriptMetadata{EndTime: end},
		Results:  results,
	}
}

// ---- session harness ----

func startSession(t *testing.T, cfg *Config, types ...event.Type) (*Client, *fakeTransport, *eventRecorder) {
	t.Helper()
	ft := newFakeTransport()
	c, err := NewClient(cfg, WithDialer(func(context.Context, string, wire.HeaderProducer) (Transport, error) {
		return ft, nil
	}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.handshakeTimeout = time.Second
	c.disconnectGrace = 100 * time.Millisecond

	rec := newEventRecorder(c, types...)
	ft.push(wire.RecognitionStarted{
		SessionID:    "sess-1",
		LanguagePack: wire.LanguagePackInfo{WordDelimiter: " "},
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c, ft, rec
}

// ---- lifecycle ----

func TestConnectIsExclusive(t *testing.T) {
	c, _, _ := startSession(t, NewConfig("en"), EventRecognitionStarted)
	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect: want ErrAlreadyConnected, got %v", err)
	}
	if got := c.SessionID(); got != "sess-1" {
		t.Errorf("session id: %q", got)
	}
}

func TestHandshakeTimeout(t *testing.T) {
	ft := newFakeTransport()
	c, err := NewClient(NewConfig("en"), WithDialer(func(context.Context, string, wire.HeaderProducer) (Transport, error) {
		return ft, nil
	}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.handshakeTimeout = 30 * time.Millisecond
	c.disconnectGrace = 50 * time.Millisecond

	if err := c.Connect(context.Background()); !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("want ErrHandshakeTimeout, got %v", err)
	}
}

func TestDisconnectTwice(t *testing.T) {
	c, ft, _ := startSession(t, NewConfig("en"), EventAddSegment)

	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := c.Disconnect(context.Background()); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	var sawEOS bool
	for _, msg := range ft.sentControls() {
		if _, ok := msg.(wire.EndOfStream); ok {
			sawEOS = true
		}
	}
	if !sawEOS {
		t.Error("EndOfStream not sent on disconnect")
	}
	if n := c.emitter.ListenerCount(EventAddSegment); n != 0 {
		t.Errorf("subscriptions survive disconnect: %d", n)
	}
}

func TestSendAudioLifecycle(t *testing.T) {
	ft := newFakeTransport()
	c, err := NewClient(NewConfig("en"), WithDialer(func(context.Context, string, wire.HeaderProducer) (Transport, error) {
		return ft, nil
	}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.disconnectGrace = 50 * time.Millisecond

	// Prebuffered speech racing the handshake is dropped, not an error.
	if err := c.SendAudio(context.Background(), make([]byte, 320)); err != nil {
		t.Fatalf("SendAudio before connect: %v", err)
	}
	if ft.audioFrames() != 0 {
		t.Fatal("audio forwarded before recognition acknowledgement")
	}

	ft.push(wire.RecognitionStarted{SessionID: "s", LanguagePack: wire.LanguagePackInfo{WordDelimiter: " "}})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })

	// 1 s of pcm_s16le at 16 kHz.
	if err := c.SendAudio(context.Background(), make([]byte, 32000)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if ft.audioFrames() != 1 {
		t.Fatalf("audio frames forwarded: %d", ft.audioFrames())
	}
	if got := c.totalAudioSeconds(); got != 1.0 {
		t.Errorf("audio clock: want 1.0, got %v", got)
	}
}

func TestServerErrorTerminatesSession(t *testing.T) {
	c, ft, rec := startSession(t, NewConfig("en"), EventError)

	ft.push(wire.ServerError{Type: "quota_exceeded", Reason: "out of quota"})

	waitFor(t, time.Second, "error event", func() bool { return rec.count(EventError) == 1 })
	waitFor(t, time.Second, "session teardown", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return !c.connected
	})
	if err := c.SendAudio(context.Background(), make([]byte, 320)); err != nil {
		t.Errorf("SendAudio after teardown must drop silently, got %v", err)
	}
}

// ---- end-to-end scenarios ----

func TestFixedModeSingleSpeaker(t *testing.T) {
	cfg := NewConfig("en")
	cfg.EndOfUtteranceMode = ModeFixed
	cfg.EndOfUtteranceSilenceTrigger = 0.5
	c, ft, rec := startSession(t, cfg, EventAddInterimSegment, EventAddSegment, EventEndOfTurn)

	ft.push(srvBatch(false, 0.5, srvWord("Hello", "", 0.0, 0.4)))
	ft.push(srvBatch(false, 0.9, srvWord("Hello", "", 0.0, 0.4), srvWord("world", "", 0.5, 0.8)))
	ft.push(srvBatch(true, 1.2, srvWord("Hello", "", 0.0, 0.4), srvWord("world", "", 0.5, 0.8), srvEOS("", 0.8)))
	ft.push(wire.EndOfUtterance{})

	waitFor(t, time.Second, "end of turn", func() bool { return rec.count(EventEndOfTurn) == 1 })

	interims := rec.get(EventAddInterimSegment)
	if len(interims) != 2 {
		t.Fatalf("interim emissions: want 2, got %d", len(interims))
	}
	if got := segmentTexts(interims[0]); len(got) != 1 || got[0] != "Hello" {
		t.Errorf("first interim: %v", got)
	}
	if got := segmentTexts(interims[1]); len(got) != 1 || got[0] != "Hello world" {
		t.Errorf("second interim: %v", got)
	}

	finals := rec.get(EventAddSegment)
	if len(finals) != 1 {
		t.Fatalf("final emissions: want 1, got %d", len(finals))
	}
	if got := segmentTexts(finals[0]); len(got) != 1 || got[0] != "Hello world." {
		t.Errorf("final segment: %v", got)
	}

	eot := rec.get(EventEndOfTurn)[0]
	if got := eot["turn_id"].(int64); got != 0 {
		t.Errorf("turn id: want 0, got %d", got)
	}
	if c.proc.TurnID() != 1 {
		t.Errorf("turn counter after end of turn: %d", c.proc.TurnID())
	}
}

func TestRetainFocusTwoSpeakers(t *testing.T) {
	cfg := NewConfig("en")
	cfg.EnableDiarization = true
	cfg.Focus = transcript.FocusConfig{
		FocusSpeakers: []string{"S1"},
		FocusMode:     transcript.FocusRetain,
	}
	c, ft, rec := startSession(t, cfg, EventAddSegment)

	ft.push(srvBatch(true, 1.0,
		srvWord("Yes", "S1", 0.0, 0.4), srvEOS("S1", 0.4),
		srvWord("No", "S2", 0.5, 0.9), srvEOS("S2", 0.9),
	))

	waitFor(t, time.Second, "final segments", func() bool { return rec.count(EventAddSegment) == 1 })

	segs := rec.get(EventAddSegment)[0]["segments"].([]transcript.Segment)
	if len(segs) != 2 {
		t.Fatalf("segments: want 2, got %d", len(segs))
	}
	if segs[0].Text != "Yes." || segs[1].Text != "No." {
		t.Errorf("texts: %q %q", segs[0].Text, segs[1].Text)
	}
	if !segs[0].IsActive || segs[1].IsActive {
		t.Errorf("is_active: %v %v", segs[0].IsActive, segs[1].IsActive)
	}
	if got := c.rec.Watermark(); got != 0.9 {
		t.Errorf("trim watermark: want 0.9, got %v", got)
	}
}

func TestAdaptiveTrailingDisfluencyHoldsTurn(t *testing.T) {
	cfg := NewConfig("en")
	cfg.EndOfUtteranceMode = ModeAdaptive
	cfg.EndOfUtteranceSilenceTrigger = 0.6
	cfg.EndOfUtteranceMaxDelay = 3.0
	c, ft, rec := startSession(t, cfg, EventAddSegment, EventEndOfTurn, EventStartOfTurn)

	ft.push(srvBatch(false, 0.9,
		srvWord("I", "", 0.0, 0.2),
		srvWord("think", "", 0.3, 0.5),
		srvWord("um", "", 0.6, 0.8, "disfluency"),
	))
	ft.push(srvBatch(true, 1.0,
		srvWord("I", "", 0.0, 0.2),
		srvWord("think", "", 0.3, 0.5),
		srvWord("um", "", 0.6, 0.8, "disfluency"),
	))

	waitFor(t, time.Second, "segment emission", func() bool { return rec.count(EventAddSegment) == 1 })
	if rec.count(EventStartOfTurn) != 1 {
		t.Errorf("start_of_turn emissions: %d", rec.count(EventStartOfTurn))
	}
	if !c.proc.HasPending() {
		t.Fatal("no end-of-utterance timer scheduled")
	}

	// The clamped 3 s delay must not have elapsed yet.
	time.Sleep(150 * time.Millisecond)
	if rec.count(EventEndOfTurn) != 0 {
		t.Fatal("end_of_turn before the adaptive timer fired")
	}
}

func TestReservedSpeakerNeverEmitted(t *testing.T) {
	cfg := NewConfig("en")
	cfg.EnableDiarization = true
	_, ft, rec := startSession(t, cfg, EventAddSegment)

	ft.push(srvBatch(true, 1.0,
		srvWord("ignore", "__ASSISTANT__", 0.0, 0.4),
		srvWord("me", "__ASSISTANT__", 0.5, 0.9),
	))
	ft.push(srvBatch(true, 2.0, srvWord("hello", "S1", 1.2, 1.6), srvEOS("S1", 1.6)))

	waitFor(t, time.Second, "segment emission", func() bool { return rec.count(EventAddSegment) >= 1 })

	for _, p := range rec.get(EventAddSegment) {
		for _, text := range segmentTexts(p) {
			if strings.Contains(text, "ignore") || strings.Contains(text, "me") {
				t.Fatalf("reserved speaker content emitted: %q", text)
			}
		}
	}
	if got := segmentTexts(rec.get(EventAddSegment)[0]); got[0] != "hello." {
		t.Errorf("segment: %v", got)
	}
}

func TestExternalFinalize(t *testing.T) {
	cfg := NewConfig("en")
	cfg.EndOfUtteranceMode = ModeExternal
	c, ft, rec := startSession(t, cfg, EventAddInterimSegment, EventAddSegment, EventEndOfTurn)

	ft.push(srvBatch(false, 0.6, srvWord("Welcome", "", 0.0, 0.3), srvWord("to", "", 0.35, 0.5)))
	waitFor(t, time.Second, "interim", func() bool { return rec.count(EventAddInterimSegment) == 1 })

	if err := c.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	var sawFinalize bool
	for _, msg := range ft.sentControls() {
		if _, ok := msg.(wire.Finalize); ok {
			sawFinalize = true
		}
	}
	if !sawFinalize {
		t.Fatal("finalize hint not sent upstream")
	}

	// The service commits the prefix; the turn closes on that final.
	ft.push(srvBatch(true, 1.2,
		srvWord("Welcome", "", 0.0, 0.3),
		srvWord("to", "", 0.35, 0.5),
		srvWord("Speechmatics", "", 0.6, 1.1),
	))

	waitFor(t, time.Second, "end of turn", func() bool { return rec.count(EventEndOfTurn) == 1 })
	finals := rec.get(EventAddSegment)
	if len(finals) != 1 {
		t.Fatalf("final emissions: want 1, got %d", len(finals))
	}
	if got := segmentTexts(finals[0]); len(got) != 1 || got[0] != "Welcome to Speechmatics" {
		t.Errorf("final segment: %v", got)
	}
}

func TestRawTranscriptPassthrough(t *testing.T) {
	// The raw word batches flow to subscribers on a default config.
	_, ft, rec := startSession(t, NewConfig("en"),
		EventAddPartialTranscript, EventAddTranscript, EventAddSegment)

	ft.push(srvBatch(false, 0.5, srvWord("Hello", "", 0.0, 0.4)))
	ft.push(srvBatch(true, 1.0, srvWord("Hello", "", 0.0, 0.4), srvEOS("", 0.4)))
	waitFor(t, time.Second, "final passthrough", func() bool { return rec.count(EventAddTranscript) == 1 })

	partials := rec.get(EventAddPartialTranscript)
	if len(partials) != 1 {
		t.Fatalf("partial passthrough emissions: want 1, got %d", len(partials))
	}
	if partials[0]["is_final"].(bool) {
		t.Error("partial batch marked final")
	}
	if got := partials[0]["results"].([]wire.Result); len(got) != 1 || got[0].Alternatives[0].Content != "Hello" {
		t.Errorf("partial results: %+v", got)
	}

	final := rec.get(EventAddTranscript)[0]
	if !final["is_final"].(bool) {
		t.Error("final batch not marked final")
	}
	if got := final["results"].([]wire.Result); len(got) != 2 {
		t.Errorf("final results: %+v", got)
	}

	// Raw results ride inside segment payloads only when opted in.
	seg := rec.get(EventAddSegment)[0]
	if _, ok := seg["results"]; ok {
		t.Error("segment payload carries raw results without include_results")
	}
}

func TestIncludeResultsAttachesRawResults(t *testing.T) {
	cfg := NewConfig("en")
	cfg.IncludeResults = true
	_, ft, rec := startSession(t, cfg, EventAddSegment)

	ft.push(srvBatch(true, 1.0, srvWord("Hi", "", 0.0, 0.3), srvEOS("", 0.3)))
	waitFor(t, time.Second, "final segments", func() bool { return rec.count(EventAddSegment) == 1 })

	results := rec.get(EventAddSegment)[0]["results"].([]wire.Result)
	if len(results) != 2 {
		t.Fatalf("segment payload results: want 2, got %d", len(results))
	}
	if results[0].Alternatives[0].Content != "Hi" || results[1].Alternatives[0].Content != "." {
		t.Errorf("results: %+v", results)
	}
}

func TestSpeakerFloorTracksPartialsOnly(t *testing.T) {
	cfg := NewConfig("en")
	cfg.EnableDiarization = true
	_, ft, rec := startSession(t, cfg, EventSpeakerStarted, EventAddSegment)

	// Committed text arriving without preceding partials moves no floor.
	ft.push(srvBatch(true, 1.0, srvWord("hello", "S1", 0.0, 0.4), srvEOS("S1", 0.4)))
	waitFor(t, time.Second, "final segments", func() bool { return rec.count(EventAddSegment) == 1 })
	if rec.count(EventSpeakerStarted) != 0 {
		t.Fatal("final-only update opened the speaker floor")
	}

	ft.push(srvBatch(false, 2.5, srvWord("again", "S1", 2.0, 2.4)))
	waitFor(t, time.Second, "speaker floor", func() bool { return rec.count(EventSpeakerStarted) == 1 })
	if got := rec.get(EventSpeakerStarted)[0]["speaker"].(string); got != "S1" {
		t.Errorf("speaker: %q", got)
	}
}

func TestTextInput(t *testing.T) {
	c, _, rec := startSession(t, NewConfig("en"), EventTextInput)

	c.SendTextInput("switch to spanish", false)
	waitFor(t, time.Second, "text_input event", func() bool { return rec.count(EventTextInput) == 1 })
	p := rec.get(EventTextInput)[0]
	if p["text"].(string) != "switch to spanish" || p["interrupt"].(bool) {
		t.Errorf("payload: %v", p)
	}
}
