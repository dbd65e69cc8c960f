package voice

import (
	"context"
	"sync"
	"time"
)

// Names of the turn-scoped tasks the client schedules.
const (
	taskTurnDetection = "turn_detection"
	taskTurnFallback  = "turn_fallback"
	taskFinalizeGrace = "finalize_grace"
	taskSmartTurn     = "smart_turn"
)

// pendingTask identifies one registration. Identity of the pointer fences a
// replaced task against its late completion.
type pendingTask struct {
	turnID int64
	timer  *time.Timer
}

// TurnTaskProcessor gates end-of-turn emission on the completion of every
// named asynchronous task scheduled within the current turn. Scheduling a
// task under a name already registered cancels the prior one. Tasks carry the
// turn id they were scheduled under; completions arriving after the turn has
// incremented are ignored.
//
// When the last registered task of an active turn completes, the done
// callback fires exactly once for that turn.
type TurnTaskProcessor struct {
	mu       sync.Mutex
	turnID   int64
	active   bool
	doneSent bool
	pending  map[string]*pendingTask
	idleCh   chan struct{}
	onDone   func(turnID int64)
}

// NewTurnTaskProcessor creates a processor at turn 0. onDone may be nil.
func NewTurnTaskProcessor(onDone func(turnID int64)) *TurnTaskProcessor {
	return &TurnTaskProcessor{
		pending: make(map[string]*pendingTask),
		onDone:  onDone,
	}
}

// TurnID returns the current turn id. Turn ids start at 0.
func (p *TurnTaskProcessor) TurnID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.turnID
}

// TurnActive reports whether speech has opened the current turn.
func (p *TurnTaskProcessor) TurnActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// StartTurn marks the current turn active. Returns true on the transition
// from inactive, false when the turn was already open.
func (p *TurnTaskProcessor) StartTurn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return false
	}
	p.active = true
	return true
}

// Schedule registers fn to run after delay under the given name, replacing
// any task already registered under it. fn may be nil for a pure delay. A
// fire after the turn has incremented is a no-op.
func (p *TurnTaskProcessor) Schedule(name string, delay time.Duration, fn func()) {
	p.mu.Lock()
	p.cancelLocked(name)
	t := &pendingTask{turnID: p.turnID}
	t.timer = time.AfterFunc(delay, func() {
		if !p.claim(name, t) {
			return
		}
		if fn != nil {
			fn()
		}
		p.complete(t.turnID)
	})
	p.addLocked(name, t)
	p.mu.Unlock()
}

// Go registers fn as an immediately running task under the given name. The
// goroutine itself cannot be cancelled; a replaced or fenced task simply has
// its completion discarded.
func (p *TurnTaskProcessor) Go(name string, fn func()) {
	p.mu.Lock()
	p.cancelLocked(name)
	t := &pendingTask{turnID: p.turnID}
	p.addLocked(name, t)
	p.mu.Unlock()

	go func() {
		fn()
		if !p.claim(name, t) {
			return
		}
		p.complete(t.turnID)
	}()
}

// Cancel removes the task registered under name, if any. Cancellation never
// fires the done callback.
func (p *TurnTaskProcessor) Cancel(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked(name)
}

// HasPending reports whether any task is still registered.
func (p *TurnTaskProcessor) HasPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending) > 0
}

// WaitIdle blocks until no tasks are registered or ctx is done.
func (p *TurnTaskProcessor) WaitIdle(ctx context.Context) error {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.mu.Unlock()
			return nil
		}
		ch := p.idleCh
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset cancels all registered tasks without advancing the turn.
func (p *TurnTaskProcessor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name := range p.pending {
		p.cancelLocked(name)
	}
}

// Increment closes the current turn: the turn id advances, the turn becomes
// inactive, all registered tasks are cancelled, and any still-running task's
// completion will be ignored on arrival.
func (p *TurnTaskProcessor) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turnID++
	p.active = false
	p.doneSent = false
	for name := range p.pending {
		p.cancelLocked(name)
	}
}

// ---- internals ----

func (p *TurnTaskProcessor) addLocked(name string, t *pendingTask) {
	if len(p.pending) == 0 {
		p.idleCh = make(chan struct{})
	}
	p.pending[name] = t
}

func (p *TurnTaskProcessor) cancelLocked(name string) {
	t, ok := p.pending[name]
	if !ok {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	p.removeLocked(name)
}

func (p *TurnTaskProcessor) removeLocked(name string) {
	delete(p.pending, name)
	if len(p.pending) == 0 && p.idleCh != nil {
		close(p.idleCh)
		p.idleCh = nil
	}
}

// claim atomically takes ownership of a firing task. It returns false when
// the task has been replaced, cancelled, or fenced by a turn increment.
func (p *TurnTaskProcessor) claim(name string, t *pendingTask) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[name] != t {
		return false
	}
	p.removeLocked(name)
	return t.turnID == p.turnID
}

// complete fires the done callback when the completing task emptied the
// pending set of a still-current, active turn.
func (p *TurnTaskProcessor) complete(turnID int64) {
	p.mu.Lock()
	fire := turnID == p.turnID && p.active && !p.doneSent && len(p.pending) == 0
	if fire {
		p.doneSent = true
	}
	cb := p.onDone
	p.mu.Unlock()

	if fire && cb != nil {
		cb(turnID)
	}
}
