package inference

import "sync"

// State is the phase of the generation currently running on a handle.
type State int

const (
	StateIdle State = iota
	StateAdmitted
	StateTokenizing
	StateEvaluating
	StateSampling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdmitted:
		return "admitted"
	case StateTokenizing:
		return "tokenizing"
	case StateEvaluating:
		return "evaluating"
	case StateSampling:
		return "sampling"
	default:
		return "unknown"
	}
}

// flight serialises generations on one handle. Every transition happens
// under mu, so admission is a single test-and-set and cancellation is a
// single store observed by the loop at its next iteration.
type flight struct {
	mu        sync.Mutex
	state     State
	cancel    bool
	closed    bool
	done      chan struct{}
	admitted  uint64
	rejected  uint64
	cancelled uint64
}

func (f *flight) admit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrHandleClosed
	}
	if f.state != StateIdle {
		f.rejected++
		return ErrGenerationBusy
	}
	f.state = StateAdmitted
	f.cancel = false
	f.done = make(chan struct{})
	f.admitted++
	return nil
}

func (f *flight) advance(s State) {
	f.mu.Lock()
	if f.state != StateIdle {
		f.state = s
	}
	f.mu.Unlock()
}

func (f *flight) isCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancel
}

// stop requests cancellation of the running generation. It reports whether
// one was running.
func (f *flight) stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateIdle {
		return false
	}
	if !f.cancel {
		f.cancel = true
		f.cancelled++
	}
	return true
}

// finish returns the handle to idle and wakes anyone waiting in shutdown.
func (f *flight) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateIdle
	f.cancel = false
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
}

// shutdown marks the handle closed and cancels any running generation. It
// returns a channel closed when that generation has finished (nil if none
// was running) and whether this call performed the shutdown.
func (f *flight) shutdown() (<-chan struct{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	f.closed = true
	if f.state == StateIdle {
		return nil, true
	}
	f.cancel = true
	return f.done, true
}

func (f *flight) current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// FlightCounters are lifetime admission counts for a handle.
type FlightCounters struct {
	Admitted  uint64
	Rejected  uint64
	Cancelled uint64
}

func (f *flight) counters() FlightCounters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FlightCounters{Admitted: f.admitted, Rejected: f.rejected, Cancelled: f.cancelled}
}
