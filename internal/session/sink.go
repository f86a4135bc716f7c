package session

import (
	"errors"
	"sync"
	"time"

	"github.com/tinoosan/downlink/internal/data"
)

// ErrWaitTimeout is returned by a wait whose budget elapses before any
// terminal condition is observed. It is distinct from a transfer error,
// which ends the wait but is read from the sink, not returned.
var ErrWaitTimeout = errors.New("timed out waiting for transfer state")

// ErrNoSink is returned when a wait is attempted on a session whose callback
// sink has been cleared; such a session can never be woken.
var ErrNoSink = errors.New("no callback sink installed")

// Sink is the local receiver of asynchronous status notifications for
// exactly one session. The notification goroutine updates it; the caller's
// thread reads and waits on it. The mutex makes every read a complete
// snapshot of (state, error, extended error, done) and orders updates
// before the wake they trigger, so a terminal notification is never missed
// between an update and a waiter's check.
type Sink struct {
	mu     sync.Mutex
	status data.TransferStatus
	done   bool
	notify chan struct{} // closed on every update, then replaced
}

func NewSink() *Sink {
	return &Sink{notify: make(chan struct{})}
}

// OnStatus records a status update pushed by the remote service and wakes
// every waiter. Safe to call from any goroutine.
func (s *Sink) OnStatus(st data.TransferStatus) {
	s.mu.Lock()
	s.status = st
	if st.State.Terminal() || st.Error != 0 || st.ExtendedError != 0 {
		s.done = true
	}
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

// Reset clears the sink back to its initial no-error state so a prior
// attempt's failure does not leak into the evaluation of a resumed one.
func (s *Sink) Reset() {
	s.mu.Lock()
	s.status = data.TransferStatus{}
	s.done = false
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

// Snapshot returns the last reported status and whether the transfer has
// reached a terminal condition, as one consistent unit.
func (s *Sink) Snapshot() (data.TransferStatus, bool) {
	s.mu.Lock()
	st, done := s.status, s.done
	s.mu.Unlock()
	return st, done
}

// LastError returns the last reported error and extended error codes.
func (s *Sink) LastError() (uint32, uint32) {
	s.mu.Lock()
	e, x := s.status.Error, s.status.ExtendedError
	s.mu.Unlock()
	return e, x
}

// Wait blocks the calling goroutine until the sink reports target, one of
// the bailout states, a non-zero error code, or the budget elapses. The
// returned status is the snapshot that ended the wait; the error is non-nil
// only for ErrWaitTimeout. Conditions are evaluated before the first sleep,
// so a zero budget with nothing reported returns ErrWaitTimeout immediately
// and never blocks.
//
// There is no way to interrupt a wait before its budget runs out; a caller
// that stops caring must simply abandon the result.
func (s *Sink) Wait(target data.TransferState, budget time.Duration, bailouts ...data.TransferState) (data.TransferStatus, error) {
	deadline := time.Now().Add(budget)
	for {
		s.mu.Lock()
		st := s.status
		ch := s.notify
		s.mu.Unlock()

		if st.State == target {
			return st, nil
		}
		for _, b := range bailouts {
			if st.State == b {
				return st, nil
			}
		}
		if st.Error != 0 || st.ExtendedError != 0 {
			return st, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return st, ErrWaitTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			// Re-check once more; an update may have landed exactly at the
			// deadline and must still be observed.
		}
	}
}
