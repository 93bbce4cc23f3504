package ledger

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"gridmeter"
)

// Health tracks connection state across sync attempts. It owns the
// consecutive-error counter and the scheduled next-attempt timestamp; the
// control loop consults Ready before trying the network at all, so backoff
// never blocks anything.
type Health struct {
	mu sync.Mutex

	clk            clock.Clock
	baseDelay      time.Duration
	maxDelay       time.Duration
	maxConsecutive int

	consecutive   int
	state         gridmeter.ConnState
	lastSuccessAt time.Time
	nextAttemptAt time.Time
}

func NewHealth(clk clock.Clock, baseDelay, maxDelay time.Duration, maxConsecutive int) *Health {
	return &Health{
		clk:            clk,
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		maxConsecutive: maxConsecutive,
		state:          gridmeter.ConnConnected,
	}
}

// Observe folds one attempt outcome into the counters. A nil error resets
// consecutive errors and restores CONNECTED; any failure schedules the next
// attempt at now + base_delay x consecutive_errors, capped at maxDelay.
func (h *Health) Observe(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clk.Now()
	if err == nil {
		h.consecutive = 0
		h.state = gridmeter.ConnConnected
		h.lastSuccessAt = now
		h.nextAttemptAt = time.Time{}
		return
	}

	h.consecutive++
	if h.consecutive >= h.maxConsecutive {
		h.state = gridmeter.ConnDisconnected
	}

	delay := time.Duration(h.consecutive) * h.baseDelay
	if delay > h.maxDelay {
		delay = h.maxDelay
	}
	h.nextAttemptAt = now.Add(delay)
}

// Ready reports whether the scheduled backoff window has passed.
func (h *Health) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextAttemptAt.IsZero() || !h.clk.Now().Before(h.nextAttemptAt)
}

func (h *Health) State() gridmeter.ConnState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Health) ConsecutiveErrors() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutive
}

func (h *Health) LastSuccessAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSuccessAt
}

func (h *Health) NextAttemptAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextAttemptAt
}
