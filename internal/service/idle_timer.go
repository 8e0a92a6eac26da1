package service

import (
	"sync"
	"time"

	"sms-panel/internal/util"
)

// IdleHooks are invoked by the IdleTimer as the inactivity budget runs down.
// OnWarning fires once when the warning window opens, OnTick roughly once per
// second while it is open, and OnExpire when the budget is exhausted. Hooks
// run outside the timer's lock, so they may call back into Activity or Stop.
type IdleHooks struct {
	OnWarning func(remaining time.Duration)
	OnTick    func(remaining time.Duration)
	OnExpire  func()
}

// IdleTimer tracks session inactivity. Any activity resets the full budget;
// in the last warnBefore of the budget the warning hooks fire; at zero the
// expire hook fires exactly once. Stopping or resetting the timer invalidates
// every pending callback via a generation counter, so a hook scheduled before
// Stop can never fire after it.
type IdleTimer struct {
	mu         sync.Mutex
	budget     time.Duration
	warnBefore time.Duration
	tickEvery  time.Duration
	hooks      IdleHooks

	generation uint64
	running    bool
	warning    bool
	deadline   time.Time

	warnTimer   *time.Timer
	expireTimer *time.Timer
}

func NewIdleTimer(budget, warnBefore time.Duration, hooks IdleHooks) *IdleTimer {
	if warnBefore >= budget {
		warnBefore = budget / 2
	}
	return &IdleTimer{
		budget:     budget,
		warnBefore: warnBefore,
		tickEvery:  time.Second,
		hooks:      hooks,
	}
}

// Start begins (or restarts) the countdown with a full budget.
func (t *IdleTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	t.rearmLocked()
	util.Debug("Idle timer started", util.Duration("budget", t.budget))
}

// Activity resets the countdown to the full budget. It is a no-op when the
// timer is not running, including during the warning window, where it also
// dismisses the warning.
func (t *IdleTimer) Activity() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.rearmLocked()
}

// Extend is Activity under the name the warning prompt uses.
func (t *IdleTimer) Extend() {
	t.Activity()
}

// Stop cancels the countdown. After Stop returns, no hook fires until the
// next Start, even if a timer goroutine was already racing for the lock.
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.warning = false
	t.generation++
	t.cancelLocked()
	util.Debug("Idle timer stopped")
}

// Warning reports whether the warning window is open.
func (t *IdleTimer) Warning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.warning
}

// Remaining returns the time left on the budget, zero when stopped.
func (t *IdleTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	remaining := time.Until(t.deadline)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *IdleTimer) rearmLocked() {
	t.generation++
	t.cancelLocked()
	t.warning = false
	t.deadline = time.Now().Add(t.budget)

	gen := t.generation
	t.warnTimer = time.AfterFunc(t.budget-t.warnBefore, func() { t.fireWarning(gen) })
	t.expireTimer = time.AfterFunc(t.budget, func() { t.fireExpire(gen) })
}

func (t *IdleTimer) cancelLocked() {
	if t.warnTimer != nil {
		t.warnTimer.Stop()
		t.warnTimer = nil
	}
	if t.expireTimer != nil {
		t.expireTimer.Stop()
		t.expireTimer = nil
	}
}

func (t *IdleTimer) fireWarning(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || !t.running {
		t.mu.Unlock()
		return
	}
	t.warning = true
	remaining := time.Until(t.deadline)
	t.mu.Unlock()

	util.Info("Session idle warning", util.Duration("remaining", remaining))
	if t.hooks.OnWarning != nil {
		t.hooks.OnWarning(remaining)
	}
	go t.tickLoop(gen)
}

// tickLoop drives the per-second countdown shown during the warning window.
// It exits as soon as the generation moves on, whether from activity, logout
// or expiry.
func (t *IdleTimer) tickLoop(gen uint64) {
	ticker := time.NewTicker(t.tickEvery)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		if gen != t.generation || !t.running || !t.warning {
			t.mu.Unlock()
			return
		}
		remaining := time.Until(t.deadline)
		t.mu.Unlock()

		if remaining <= 0 {
			return
		}
		if t.hooks.OnTick != nil {
			t.hooks.OnTick(remaining)
		}
	}
}

func (t *IdleTimer) fireExpire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || !t.running {
		t.mu.Unlock()
		return
	}
	// Mark stopped before releasing the lock so OnExpire can call Stop or
	// Start again without deadlocking or double-firing.
	t.running = false
	t.warning = false
	t.generation++
	t.cancelLocked()
	t.mu.Unlock()

	util.Info("Session expired from inactivity", util.Duration("budget", t.budget))
	if t.hooks.OnExpire != nil {
		t.hooks.OnExpire()
	}
}
