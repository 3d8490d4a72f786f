package upstream

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// circuitBreaker guards one upstream service. It opens after threshold
// consecutive transport or 5xx failures. Once cooldown has passed it admits
// a single trial call; every other caller is rejected until that trial
// reports back. A successful trial closes the circuit, a failed one reopens
// it for another cooldown.
type circuitBreaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  int
	openedAt  time.Time
	trialBusy bool

	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may go out now. A true result obliges the
// caller to report back with Success, Fail or Abandon.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = stateHalfOpen
		b.trialBusy = true
		return true
	case stateHalfOpen:
		if b.trialBusy {
			return false
		}
		b.trialBusy = true
		return true
	default:
		return true
	}
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateHalfOpen {
		b.trip()
		return
	}
	b.failures++
	if b.threshold > 0 && b.failures >= b.threshold {
		b.trip()
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
	b.trialBusy = false
}

// Abandon reports a call that ended without saying anything about the
// upstream, such as a caller that went away. A pending trial slot is freed.
func (b *circuitBreaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialBusy = false
}

func (b *circuitBreaker) State() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *circuitBreaker) trip() {
	b.state = stateOpen
	b.openedAt = b.now()
	b.failures = 0
	b.trialBusy = false
}
