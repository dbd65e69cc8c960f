package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicewire/voicewire/internal/observe"
	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/event"
	"github.com/voicewire/voicewire/pkg/transcript"
	"github.com/voicewire/voicewire/pkg/wire"
)

const defaultEndpoint = "wss://eu2.rt.speechmatics.com/v2"

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultDisconnectGrace  = 5 * time.Second
	defaultMetricsInterval  = 10 * time.Second

	// finalizeGraceDelay bounds how long an explicit Finalize waits for the
	// service to commit outstanding partials before finalizing with what is
	// already there.
	finalizeGraceDelay = 400 * time.Millisecond
)

var (
	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("voice: already connected")
	// ErrNotConnected is returned by operations that need a live session.
	ErrNotConnected = errors.New("voice: not connected")
	// ErrHandshakeTimeout is returned when the service does not acknowledge
	// recognition within the handshake window.
	ErrHandshakeTimeout = errors.New("voice: handshake timeout")
)

// Transport is the connection surface the client drives. [wire.Conn] is the
// production implementation; tests inject fakes through [WithDialer].
type Transport interface {
	SendControl(ctx context.Context, msg any) error
	SendAudio(ctx context.Context, frame []byte) (int64, error)
	LastSeq() int64
	Receive(ctx context.Context) (wire.ServerMessage, error)
	Close() error
}

var _ Transport = (*wire.Conn)(nil)

// Dialer opens a Transport to the given endpoint.
type Dialer func(ctx context.Context, endpoint string, headers wire.HeaderProducer) (Transport, error)

func defaultDialer(ctx context.Context, endpoint string, headers wire.HeaderProducer) (Transport, error) {
	return wire.Dial(ctx, endpoint, headers)
}

// Option configures a [Client].
type Option func(*Client)

// WithURL overrides the service endpoint.
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// WithHeaderProducer injects the handshake headers, typically authentication.
func WithHeaderProducer(h wire.HeaderProducer) Option {
	return func(c *Client) { c.headers = h }
}

// WithPredicate injects the acoustic turn predicate for smart_turn mode.
func WithPredicate(p TurnPredicate) Option {
	return func(c *Client) { c.pred = p }
}

// WithMetrics overrides the metric instruments, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDialer overrides how the transport is opened, mainly for tests.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// Client is the transcription session controller. It owns the WebSocket
// session, the fragment list and the turn state, and delivers the
// conversational event stream through its embedded emitter.
//
// All inbound messages, view rebuilds and event emissions happen on a single
// work goroutine, so handlers observe events in emission order and the
// fragment list has one writer. Public methods are safe for concurrent use.
// Event handlers run on the work goroutine and must not call [Client.Disconnect].
type Client struct {
	cfg     *Config
	url     string
	headers wire.HeaderProducer
	dial    Dialer
	pred    TurnPredicate
	predRun *predicateRunner
	metrics *observe.Metrics

	handshakeTimeout time.Duration
	disconnectGrace  time.Duration
	metricsInterval  time.Duration

	emitter *event.Emitter
	rec     *transcript.Reconciler
	proc    *TurnTaskProcessor

	bytesPerSecond float64
	totalBytes     atomic.Int64
	ready          atomic.Bool

	mu         sync.Mutex
	conn       Transport
	ring       *audio.RingBuffer
	connected  bool
	closing    bool
	sessionID  string
	quit       chan struct{}
	work       chan func()
	readDone   chan struct{}
	workDone   chan struct{}
	cancelRead context.CancelFunc

	// State below is owned by the work goroutine.
	acked           bool
	ackCh           chan struct{}
	drained         bool
	drainedCh       chan struct{}
	delimiter       string
	baseTime        time.Time
	prevView        *transcript.View
	speaking        bool
	currentSpeaker  string
	pendingFinalize bool
	speakerStats    map[string]*SpeakerStats
}

// NewClient creates a client for the given configuration. Configuration
// problems are reported here, before any connection attempt.
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("voice: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("voice: invalid config: %w", err)
	}

	c := &Client{
		cfg:              cfg,
		url:              defaultEndpoint,
		dial:             defaultDialer,
		metrics:          observe.DefaultMetrics(),
		handshakeTimeout: defaultHandshakeTimeout,
		disconnectGrace:  defaultDisconnectGrace,
		metricsInterval:  defaultMetricsInterval,
		emitter:          event.NewEmitter(),
		rec:              transcript.NewReconciler(cfg.Focus),
	}
	for _, o := range opts {
		o(c)
	}
	c.proc = NewTurnTaskProcessor(c.onTurnDone)
	if c.pred != nil {
		c.predRun = newPredicateRunner(c.pred)
	}

	width, _ := cfg.AudioEncoding.SampleWidth()
	c.bytesPerSecond = float64(cfg.SampleRate * width)
	return c, nil
}

// ---- subscriptions ----

// On registers a persistent handler for the given event.
func (c *Client) On(t event.Type, fn event.Handler) *event.Subscription {
	return c.emitter.On(t, fn)
}

// Once registers a handler removed after its first invocation.
func (c *Client) Once(t event.Type, fn event.Handler) *event.Subscription {
	return c.emitter.Once(t, fn)
}

// Off removes a previously registered handler.
func (c *Client) Off(sub *event.Subscription) {
	c.emitter.Off(sub)
}

// ---- lifecycle ----

// Connect dials the service, sends StartRecognition and waits for the
// acknowledgement. A second call on a connected client returns
// [ErrAlreadyConnected]; a missing acknowledgement returns
// [ErrHandshakeTimeout].
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	conn, err := c.dial(ctx, c.url, c.headers)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("voice: connect: %w", err)
	}

	var ring *audio.RingBuffer
	if c.cfg.AudioBufferSeconds > 0 {
		ring, err = audio.NewRingBuffer(c.cfg.SampleRate, c.cfg.AudioBufferFrameSize, 2, c.cfg.AudioBufferSeconds)
		if err != nil {
			conn.Close()
			c.mu.Unlock()
			return fmt.Errorf("voice: audio buffer: %w", err)
		}
	}

	start := wire.NewStartRecognition(c.cfg.audioFormat(), c.cfg.transcriptionSpec())
	if err := conn.SendControl(ctx, start); err != nil {
		conn.Close()
		c.mu.Unlock()
		return fmt.Errorf("voice: start recognition: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.conn = conn
	c.ring = ring
	c.connected = true
	c.closing = false
	c.cancelRead = cancel
	c.quit = make(chan struct{})
	c.work = make(chan func(), 64)
	c.readDone = make(chan struct{})
	c.workDone = make(chan struct{})
	c.sessionID = ""

	c.totalBytes.Store(0)
	c.rec.Reset()
	c.acked = false
	c.ackCh = make(chan struct{})
	c.drained = false
	c.drainedCh = make(chan struct{})
	c.prevView = nil
	c.speaking = false
	c.currentSpeaker = ""
	c.pendingFinalize = false
	c.speakerStats = make(map[string]*SpeakerStats)

	ack := c.ackCh
	go c.workLoop(c.work, c.quit, c.workDone)
	go c.readLoop(readCtx, conn, c.readDone)
	go c.metricsLoop(c.quit)
	c.mu.Unlock()

	select {
	case <-ack:
		return nil
	case <-time.After(c.handshakeTimeout):
		c.teardown(context.Background(), false)
		return ErrHandshakeTimeout
	case <-ctx.Done():
		c.teardown(context.Background(), false)
		return ctx.Err()
	}
}

// Disconnect sends the end-of-stream terminator, waits up to a 5-second
// grace for outstanding per-turn tasks and the server's transcript flush,
// then closes the transport and clears all subscriptions. Safe to call any
// number of times.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.teardown(ctx, true)
}

// teardown shuts the session down. With graceful set it drains first; the
// failure paths skip straight to closing.
func (c *Client) teardown(ctx context.Context, graceful bool) error {
	c.mu.Lock()
	if !c.connected || c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	cancelRead := c.cancelRead
	quit := c.quit
	readDone, workDone := c.readDone, c.workDone
	drainedCh := c.drainedCh
	c.mu.Unlock()

	if graceful {
		if err := conn.SendControl(ctx, wire.NewEndOfStream(conn.LastSeq())); err != nil {
			slog.Warn("end of stream not delivered", "err", err)
		}
		graceCtx, cancel := context.WithTimeout(ctx, c.disconnectGrace)
		if err := c.proc.WaitIdle(graceCtx); err != nil {
			slog.Warn("per-turn tasks cancelled by disconnect grace")
		}
		select {
		case <-drainedCh:
		case <-graceCtx.Done():
		}
		cancel()
		c.flushWork(ctx)
	}

	cancelRead()
	conn.Close()
	<-readDone
	close(quit)
	<-workDone

	if c.ready.Swap(false) {
		c.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	c.proc.Reset()
	c.rec.Reset()
	c.emitter.RemoveAllListeners()

	c.mu.Lock()
	c.connected = false
	c.conn = nil
	c.ring = nil
	c.mu.Unlock()
	return nil
}

// flushWork waits for already-queued work to complete so that events queued
// before disconnect are delivered.
func (c *Client) flushWork(ctx context.Context) {
	done := make(chan struct{})
	c.enqueue(func() { close(done) })
	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(c.disconnectGrace):
	}
}

// SessionID returns the service-assigned session id, or "" before the
// recognition acknowledgement.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ---- public operations ----

// SendAudio forwards one chunk of raw audio. Calls made before the service
// acknowledges recognition are dropped silently so a caller racing the
// handshake does not error. Once the service is slow to drain, the call
// blocks, throttling the producer.
func (c *Client) SendAudio(ctx context.Context, data []byte) error {
	if !c.ready.Load() || len(data) == 0 {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	ring := c.ring
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	if _, err := conn.SendAudio(ctx, data); err != nil {
		return fmt.Errorf("voice: send audio: %w", err)
	}
	c.totalBytes.Add(int64(len(data)))
	c.metrics.AudioSeconds.Add(ctx, float64(len(data))/c.bytesPerSecond)

	if ring != nil {
		pcm, err := audio.ToPCM16(data, c.cfg.AudioEncoding)
		if err == nil {
			ring.PutBytes(pcm)
		}
	}
	return nil
}

// SendTextInput emits an immediate text turn into the event stream without
// producing transcription output. With interrupt set, any open spoken turn is
// finalized first.
func (c *Client) SendTextInput(text string, interrupt bool) {
	c.enqueue(func() {
		if interrupt && c.proc.TurnActive() {
			c.finalizeTurn()
		}
		c.emitter.Emit(EventTextInput, event.Payload{"text": text, "interrupt": interrupt})
	})
}

// Finalize requests that the current partial prefix be resolved to finals.
// In external mode the finalize hint is sent upstream and the turn closes
// when the service commits, bounded by a grace timer; in the other modes the
// current view is force-finalized locally.
func (c *Client) Finalize(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	if c.cfg.EndOfUtteranceMode == ModeExternal {
		if err := conn.SendControl(ctx, wire.NewFinalize()); err != nil {
			return fmt.Errorf("voice: send finalize: %w", err)
		}
		c.enqueue(func() {
			c.pendingFinalize = true
			c.proc.Schedule(taskFinalizeGrace, finalizeGraceDelay, nil)
		})
		return nil
	}

	c.enqueue(c.finalizeTurn)
	return nil
}

// GetSpeakers requests speaker enrolment data; the result arrives as a
// speakers_result event.
func (c *Client) GetSpeakers(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	if err := conn.SendControl(ctx, wire.NewGetSpeakers()); err != nil {
		return fmt.Errorf("voice: get speakers: %w", err)
	}
	return nil
}

// UpdateDiarizationConfig replaces the focus policy mid-session. It takes
// effect from the next transcript update.
func (c *Client) UpdateDiarizationConfig(focus transcript.FocusConfig) {
	c.rec.SetFocus(focus)
}

// ---- goroutines ----

func (c *Client) workLoop(work chan func(), quit, done chan struct{}) {
	defer close(done)
	for {
		select {
		case fn := <-work:
			fn()
		case <-quit:
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn Transport, readDone chan struct{}) {
	defer close(readDone)
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			if wire.IsProtocolError(err) {
				slog.Warn("discarding unparseable server message", "err", err)
				c.metrics.ProtocolErrors.Add(context.Background(), 1)
				continue
			}
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if !closing {
				c.enqueue(func() { c.handleTransportFailure(err) })
			}
			return
		}
		m := msg
		c.enqueue(func() { c.handleMessage(m) })
	}
}

func (c *Client) metricsLoop(quit chan struct{}) {
	t := time.NewTicker(c.metricsInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if c.emitter.ListenerCount(EventMetrics) == 0 {
				continue
			}
			c.enqueue(c.emitSessionMetrics)
		case <-quit:
			return
		}
	}
}

// enqueue hands fn to the work goroutine. Dropped when no session is running
// or the session is quitting.
func (c *Client) enqueue(fn func()) {
	c.mu.Lock()
	work, quit := c.work, c.quit
	c.mu.Unlock()
	if work == nil {
		return
	}
	select {
	case work <- fn:
	case <-quit:
	}
}

// ---- message handling (work goroutine) ----

func (c *Client) handleMessage(msg wire.ServerMessage) {
	switch m := msg.(type) {
	case wire.RecognitionStarted:
		c.handleRecognitionStarted(m)
	case wire.Transcript:
		c.handleTranscript(m)
	case wire.EndOfUtterance:
		c.handleEndOfUtterance(m)
	case wire.EndOfTranscript:
		if !c.drained {
			c.drained = true
			close(c.drainedCh)
		}
	case wire.SpeakersResult:
		c.emitter.Emit(EventSpeakersResult, event.Payload{"speakers": m.Speakers})
	case wire.ServerInfo:
		c.emitter.Emit(EventInfo, event.Payload{"type": m.Type, "reason": m.Reason})
	case wire.ServerWarning:
		slog.Warn("server warning", "type", m.Type, "reason", m.Reason)
		c.emitter.Emit(EventWarning, event.Payload{"type": m.Type, "reason": m.Reason})
	case wire.ServerError:
		slog.Error("server reported fatal error", "type", m.Type, "reason", m.Reason)
		c.emitter.Emit(EventError, event.Payload{"type": m.Type, "reason": m.Reason})
		go c.teardown(context.Background(), false)
	}
}

func (c *Client) handleTransportFailure(err error) {
	slog.Error("transport failed", "err", err)
	c.emitter.Emit(EventError, event.Payload{"type": "connection_error", "reason": err.Error()})
	go c.teardown(context.Background(), false)
}

func (c *Client) handleRecognitionStarted(m wire.RecognitionStarted) {
	c.delimiter = m.LanguagePack.WordDelimiter
	if c.delimiter == "" {
		c.delimiter = " "
	}
	c.baseTime = time.Now()
	c.mu.Lock()
	c.sessionID = m.SessionID
	c.mu.Unlock()

	c.ready.Store(true)
	c.metrics.ActiveSessions.Add(context.Background(), 1)
	slog.Info("recognition started", "session_id", m.SessionID, "language", c.cfg.Language)

	c.emitter.Emit(EventRecognitionStarted, event.Payload{
		"session_id":    m.SessionID,
		"language_pack": m.LanguagePack,
	})
	if !c.acked {
		c.acked = true
		close(c.ackCh)
	}
}

func (c *Client) handleTranscript(m wire.Transcript) {
	total := c.totalAudioSeconds()
	res := c.rec.Update(m, total)

	evt := EventAddPartialTranscript
	if m.IsFinal {
		evt = EventAddTranscript
	}
	if c.emitter.ListenerCount(evt) > 0 {
		c.emitter.Emit(evt, event.Payload{
			"metadata": m.Metadata,
			"results":  m.Results,
			"is_final": m.IsFinal,
		})
	}

	if res.TTFBMillis > 0 {
		c.metrics.TTFB.Record(context.Background(), res.TTFBMillis)
		c.emitter.Emit(EventTTFBMetrics, event.Payload{"ttfb_ms": res.TTFBMillis})
	}

	if last := c.lastInFocusWord(res.Added); last != nil {
		if c.proc.StartTurn() && c.adaptiveMode() {
			c.emitter.Emit(EventStartOfTurn, event.Payload{"turn_id": c.proc.TurnID()})
		}
		c.evaluateVAD(last)
	}

	if c.pendingFinalize && m.IsFinal {
		c.proc.Cancel(taskFinalizeGrace)
		c.finalizeTurn()
		return
	}
	c.processFragments()
}

func (c *Client) handleEndOfUtterance(m wire.EndOfUtterance) {
	if c.cfg.EndOfUtteranceMode != ModeFixed {
		slog.Debug("ignoring server end of utterance", "mode", string(c.cfg.EndOfUtteranceMode))
		return
	}
	c.finalizeTurn()
}

func (c *Client) adaptiveMode() bool {
	return c.cfg.EndOfUtteranceMode == ModeAdaptive || c.cfg.EndOfUtteranceMode == ModeSmartTurn
}

// ---- view processing and emission (work goroutine) ----

func (c *Client) buildOptions() transcript.BuildOptions {
	return transcript.BuildOptions{
		Delimiter:     c.delimiter,
		BaseTime:      c.baseTime,
		FocusSpeakers: c.rec.Focus().FocusSpeakers,
		EmitSentences: c.cfg.EmitSentences,
	}
}

// processFragments rebuilds the segment view, emits the changed segments and
// reconciles the turn-detection timer with the new state.
func (c *Client) processFragments() {
	frags := c.rec.Fragments()
	if len(frags) == 0 {
		return
	}
	view := transcript.BuildView(frags, c.buildOptions())
	diff := transcript.CompareViews(view, c.prevView)
	if diff == 0 {
		return
	}

	c.emitCycle(view, false)

	switch c.cfg.EndOfUtteranceMode {
	case ModeFixed:
		if c.proc.TurnActive() {
			c.proc.Schedule(taskTurnFallback, durationFrom(fixedFallbackDelay(c.cfg.EndOfUtteranceSilenceTrigger)), nil)
		}
	case ModeAdaptive, ModeSmartTurn:
		if diff.Any(transcript.New | transcript.UpdatedFullLowercase) {
			c.armTurnDetection(view)
		}
	}
}

// emitCycle classifies the view's segments, emits them and advances the trim
// watermark past the emitted finals. With force set every segment is final
// and interims are suppressed.
func (c *Client) emitCycle(view *transcript.View, force bool) {
	var finals, interims []transcript.Segment
	for _, seg := range view.Segments {
		if force || seg.Annotation.Any(transcript.EndsWithFinal|transcript.EndsWithEOS) {
			finals = append(finals, seg)
		} else {
			interims = append(interims, seg)
		}
	}

	if force && c.cfg.TrailingEOS && len(finals) > 0 {
		last := &finals[len(finals)-1]
		if !last.Annotation.Any(transcript.EndsWithEOS | transcript.EndsWithPunctuation) {
			last.Text += "."
		}
	}

	turnID := c.proc.TurnID()
	if len(finals) > 0 {
		c.emitter.Emit(EventAddSegment, c.segmentPayload(finals, turnID))
		c.rec.TrimBefore(finals[len(finals)-1].EndTime())
		c.recordSpeakerStats(finals)
		c.metrics.RecordSegments(context.Background(), "final", len(finals))
	}
	if !force && len(interims) > 0 {
		c.emitter.Emit(EventAddInterimSegment, c.segmentPayload(interims, turnID))
		c.metrics.RecordSegments(context.Background(), "interim", len(interims))
	}

	rest := c.rec.Fragments()
	if len(rest) == 0 {
		c.prevView = nil
	} else {
		c.prevView = transcript.BuildView(rest, c.buildOptions())
	}
}

// segmentPayload builds an emission payload. With Config.IncludeResults set
// the raw recognition results behind the segments ride along, in fragment
// order.
func (c *Client) segmentPayload(segs []transcript.Segment, turnID int64) event.Payload {
	p := event.Payload{"segments": segs, "turn_id": turnID}
	if c.cfg.IncludeResults {
		var results []wire.Result
		for _, seg := range segs {
			for _, f := range seg.Fragments {
				results = append(results, f.Result)
			}
		}
		p["results"] = results
	}
	return p
}

// finalizeTurn closes the current turn: the whole remaining view is emitted
// as finals, end_of_turn fires with the closing turn id, and the turn
// increments, fencing every timer scheduled under it.
func (c *Client) finalizeTurn() {
	if !c.proc.TurnActive() {
		return
	}
	if frags := c.rec.Fragments(); len(frags) > 0 {
		c.emitCycle(transcript.BuildView(frags, c.buildOptions()), true)
	}
	c.vadSilence(c.rec.LastFragmentEnd())

	turnID := c.proc.TurnID()
	c.emitter.Emit(EventEndOfTurn, event.Payload{"turn_id": turnID})
	c.metrics.Turns.Add(context.Background(), 1)

	c.proc.Increment()
	c.prevView = nil
	c.pendingFinalize = false
}

// onTurnDone is the task processor callback: all per-turn tasks completed
// while the turn was still current.
func (c *Client) onTurnDone(turnID int64) {
	c.enqueue(func() {
		if turnID != c.proc.TurnID() {
			return
		}
		c.finalizeTurn()
	})
}

// armTurnDetection schedules the adaptive end-of-utterance timer for the
// view's closing active segment and, in smart-turn mode, kicks the acoustic
// predicate.
func (c *Client) armTurnDetection(view *transcript.View) {
	idx := view.LastActiveSegmentIndex()
	if idx < 0 || !c.proc.TurnActive() {
		return
	}
	seg := view.Segments[idx]

	delay := computeTurnDelay(c.cfg.EndOfUtteranceSilenceTrigger, c.cfg.EndOfUtteranceMaxDelay, seg.Annotation)
	delay = compensateDelay(delay, c.totalAudioSeconds(), c.rec.LastFragmentEnd())
	c.proc.Schedule(taskTurnDetection, durationFrom(delay), nil)
	c.metrics.TurnDelay.Record(context.Background(), delay)

	if c.emitter.ListenerCount(EventEndOfTurnPrediction) > 0 {
		c.emitter.Emit(EventEndOfTurnPrediction, event.Payload{
			"delay":   delay,
			"turn_id": c.proc.TurnID(),
		})
	}

	if c.cfg.EndOfUtteranceMode == ModeSmartTurn && c.predRun != nil {
		c.runPredicate(delay)
	}
}

// runPredicate hands the trailing audio window to the turn predicate, at most
// one inference in flight. The verdict arrives back on the work goroutine.
func (c *Client) runPredicate(baseDelay float64) {
	c.mu.Lock()
	ring := c.ring
	c.mu.Unlock()
	if ring == nil || !c.predRun.tryBegin() {
		return
	}

	end := c.totalAudioSeconds()
	start := end - predicateWindowSeconds
	if start < 0 {
		start = 0
	}
	pcm := ring.GetFrames(start, end, 0)
	if len(pcm) == 0 {
		c.predRun.end()
		return
	}

	if c.cfg.SampleRate != predicateSampleRate {
		pcm = audio.ResampleMono16(pcm, c.cfg.SampleRate, predicateSampleRate)
	}

	turnID := c.proc.TurnID()
	rate, lang := predicateSampleRate, c.cfg.Language
	c.proc.Go(taskSmartTurn, func() {
		defer c.predRun.end()
		p, err := c.pred.Predict(context.Background(), pcm, rate, lang)
		c.enqueue(func() { c.onPrediction(turnID, baseDelay, p, err) })
	})
}

func (c *Client) onPrediction(turnID int64, baseDelay float64, p Prediction, err error) {
	if turnID != c.proc.TurnID() {
		return
	}
	if err != nil {
		slog.Warn("turn predicate failed", "err", err)
		return
	}
	c.emitter.Emit(EventEndOfTurnPrediction, event.Payload{
		"complete":    p.Complete,
		"probability": p.Probability,
		"turn_id":     turnID,
	})
	if p.Complete {
		c.proc.Schedule(taskTurnDetection, durationFrom(turnDelayFloor), nil)
	} else {
		c.proc.Schedule(taskTurnDetection, durationFrom(baseDelay*smartTurnExtendMultiplier), nil)
	}
}

// ---- clocks and metrics (any goroutine) ----

// totalAudioSeconds is the session audio clock: bytes sent divided by the
// byte rate of the configured encoding.
func (c *Client) totalAudioSeconds() float64 {
	return float64(c.totalBytes.Load()) / c.bytesPerSecond
}

func (c *Client) emitSessionMetrics() {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	c.emitter.Emit(EventMetrics, event.Payload{
		"session_id":          sessionID,
		"total_audio_seconds": c.totalAudioSeconds(),
		"total_audio_bytes":   c.totalBytes.Load(),
		"ttfb_ms":             c.rec.LastTTFB(),
		"turn_id":             c.proc.TurnID(),
	})
}
