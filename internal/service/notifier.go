package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"sms-panel/internal/models"
	"sms-panel/internal/util"
)

// Notifier holds the queue of transient toast notifications. Every toast
// auto-dismisses after the configured TTL; manual dismissal is idempotent
// and cancels the pending expiry so a recycled slot is never cleared early.
type Notifier struct {
	mu     sync.Mutex
	ttl    time.Duration
	active []models.Toast
	timers map[string]*time.Timer
	closed bool
}

func NewNotifier(ttl time.Duration) *Notifier {
	return &Notifier{
		ttl:    ttl,
		timers: make(map[string]*time.Timer),
	}
}

// Push queues a toast and schedules its auto-dismissal. Multiple toasts can
// be visible at once; ordering is insertion order.
func (n *Notifier) Push(message string, severity models.Severity) models.Toast {
	toast := models.Toast{
		ID:        uuid.New().String(),
		Message:   message,
		Severity:  severity,
		CreatedAt: time.Now(),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return toast
	}
	n.active = append(n.active, toast)
	n.timers[toast.ID] = time.AfterFunc(n.ttl, func() { n.Dismiss(toast.ID) })

	util.Debug("Toast queued", util.String("severity", string(severity)), util.String("message", message))
	return toast
}

func (n *Notifier) Success(message string) { n.Push(message, models.SeveritySuccess) }
func (n *Notifier) Error(message string)   { n.Push(message, models.SeverityError) }
func (n *Notifier) Info(message string)    { n.Push(message, models.SeverityInfo) }

// Dismiss removes a toast by id. Unknown ids are ignored.
func (n *Notifier) Dismiss(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if timer, ok := n.timers[id]; ok {
		timer.Stop()
		delete(n.timers, id)
	}
	for i, toast := range n.active {
		if toast.ID == id {
			n.active = append(n.active[:i], n.active[i+1:]...)
			return
		}
	}
}

// Active returns the currently visible toasts in insertion order.
func (n *Notifier) Active() []models.Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.Toast, len(n.active))
	copy(out, n.active)
	return out
}

// Stop cancels all pending dismissals and drops the queue.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for id, timer := range n.timers {
		timer.Stop()
		delete(n.timers, id)
	}
	n.active = nil
}
