// Package ratelimit implements the client half of the rate-limit
// cooperation protocol: a local advisory cooldown between dispatches,
// always overridden by the windows the collaborator reports on a 429.
package ratelimit

import (
	"sync"
	"time"

	"github.com/enoki-chat/backend/internal/model/chat"
)

// DefaultCooldown is the mandatory minimum interval between dispatches
// when the collaborator has not imposed its own window.
const DefaultCooldown = 5 * time.Second

// State of the limiter between suspension points.
type State int

const (
	// Idle: a dispatch may be attempted.
	Idle State = iota
	// Dispatching: a send is in flight; the cooldown clock has not
	// started yet, so slow replies never shorten the effective wait.
	Dispatching
	// CoolingDown: the countdown is running; dispatches are refused.
	CoolingDown
)

// Limiter tracks one tab's dispatch cooldown.
type Limiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	state    State
	readyAt  time.Time
	seq      uint64
	timer    *time.Timer

	onTick  func(remaining time.Duration)
	onReady func()

	now func() time.Time
}

// New creates an idle limiter with the given default cooldown.
func New(cooldown time.Duration) *Limiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Limiter{cooldown: cooldown, now: time.Now}
}

// SetCallbacks installs countdown observers. onTick fires once per second
// with the remaining wait, onReady once when the limiter returns to Idle.
// Both may be nil.
func (l *Limiter) SetCallbacks(onTick func(remaining time.Duration), onReady func()) {
	l.mu.Lock()
	l.onTick = onTick
	l.onReady = onReady
	l.mu.Unlock()
}

// State returns the current limiter state.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *Limiter) stateLocked() State {
	if l.state == CoolingDown && !l.now().Before(l.readyAt) {
		l.state = Idle
	}
	return l.state
}

// Remaining reports how long until the next dispatch is allowed.
func (l *Limiter) Remaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stateLocked() != CoolingDown {
		return 0
	}
	return l.readyAt.Sub(l.now())
}

// BeginDispatch performs the advisory pre-dispatch check and, when it
// passes, marks a send in flight. The refusal is advisory only; the
// collaborator performs the authoritative check on the actual send.
func (l *Limiter) BeginDispatch() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.stateLocked() {
	case CoolingDown:
		return &chat.RateLimitedError{RetryAfter: l.readyAt.Sub(l.now())}
	case Dispatching:
		return &chat.RateLimitedError{RetryAfter: l.cooldown}
	}
	l.state = Dispatching
	return nil
}

// Settle starts the default cooldown. Called once the reply has been
// received or the error surfaced, never at request issue time.
func (l *Limiter) Settle() {
	l.startCooldown(l.cooldown)
}

// SettleRejected starts a cooldown from an authoritative server
// rejection. The server window always wins over the local default and
// over any countdown already running.
func (l *Limiter) SettleRejected(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = l.cooldown
	}
	l.startCooldown(retryAfter)
}

// startCooldown (re)starts the countdown. Bumping seq invalidates any
// previously scheduled tick so at most one countdown is ever live.
func (l *Limiter) startCooldown(wait time.Duration) {
	l.mu.Lock()
	l.state = CoolingDown
	l.readyAt = l.now().Add(wait)
	l.seq++
	seq := l.seq
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.scheduleTickLocked(seq)
	l.mu.Unlock()
}

// scheduleTickLocked arms the next one-second tick. Callers hold l.mu.
func (l *Limiter) scheduleTickLocked(seq uint64) {
	remaining := l.readyAt.Sub(l.now())
	step := time.Second
	if remaining < step {
		step = remaining
	}
	if step <= 0 {
		step = time.Millisecond
	}
	l.timer = time.AfterFunc(step, func() { l.tick(seq) })
}

func (l *Limiter) tick(seq uint64) {
	l.mu.Lock()
	if seq != l.seq {
		// Superseded by a newer countdown.
		l.mu.Unlock()
		return
	}

	remaining := l.readyAt.Sub(l.now())
	if remaining <= 0 {
		l.state = Idle
		l.timer = nil
		onReady := l.onReady
		l.mu.Unlock()
		if onReady != nil {
			onReady()
		}
		return
	}

	onTick := l.onTick
	l.scheduleTickLocked(seq)
	l.mu.Unlock()
	if onTick != nil {
		onTick(remaining)
	}
}

// Stop cancels any pending countdown without firing callbacks.
func (l *Limiter) Stop() {
	l.mu.Lock()
	l.seq++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()
}
