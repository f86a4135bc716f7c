// Package session implements the controller for one remote fetchd download:
// it owns the remote object handle, drives its lifecycle, and turns the
// service's push-style notifications into synchronous waits a caller can
// block on.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tinoosan/downlink/internal/data"
	"github.com/tinoosan/downlink/internal/downloadcfg"
	"github.com/tinoosan/downlink/internal/fetchd"
	"github.com/tinoosan/downlink/internal/rangeenc"
)

// RemoteObject is the narrow surface of a fetchd download handle the
// controller drives. *fetchd.Object satisfies it; tests substitute fakes.
type RemoteObject interface {
	GetProp(ctx context.Context, p fetchd.Prop, out any) error
	SetProp(ctx context.Context, p fetchd.Prop, v any) error
	Start(ctx context.Context, ranges []byte) error
	Pause(ctx context.Context) error
	Abort(ctx context.Context) error
	Finalize(ctx context.Context) error
	Status(ctx context.Context) (data.TransferStatus, error)
}

// Registrar routes notifications to sinks by session identifier. The
// Dispatcher implements it; its token is what gets written into the remote
// object's Callback property so fetchd knows where to push.
type Registrar interface {
	Register(id string, s *Sink)
	Unregister(id string)
	Token() string
}

// Session owns exactly one remote download object. The identifier is read
// once from the object at construction and never changes; the handle is not
// shared. Lifecycle operations other than the waits are fire-and-forget:
// they return when the remote call returns, without waiting for the
// transfer to reach any particular state.
type Session struct {
	id  string
	obj RemoteObject
	reg Registrar

	mu   sync.Mutex
	sink *Sink
}

// New wraps an already-created remote object. It captures the identifier
// from the object's own Id property, installs a fresh sink, and registers
// the callback with the remote service.
func New(ctx context.Context, obj RemoteObject, reg Registrar) (*Session, error) {
	var id string
	if err := obj.GetProp(ctx, fetchd.PropID, &id); err != nil {
		return nil, fmt.Errorf("read identifier: %w", err)
	}
	s := &Session{id: id, obj: obj, reg: reg}
	if err := s.SetSink(ctx, NewSink()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Sink returns the currently installed sink, or nil when callbacks are
// disabled.
func (s *Session) Sink() *Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// SetSink installs sink as the session's callback receiver. The previous
// registration is revoked with the remote service first, so a replaced sink
// never keeps receiving notifications for this session. A nil sink disables
// callbacks entirely.
func (s *Session) SetSink(ctx context.Context, sink *Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil {
		if err := s.obj.SetProp(ctx, fetchd.PropCallback, nil); err != nil {
			return fmt.Errorf("clear callback: %w", err)
		}
		s.reg.Unregister(s.id)
		s.sink = nil
	}
	if sink == nil {
		return nil
	}
	if err := s.obj.SetProp(ctx, fetchd.PropCallback, s.reg.Token()); err != nil {
		return fmt.Errorf("register callback: %w", err)
	}
	s.reg.Register(s.id, sink)
	s.sink = sink
	return nil
}

// Configure applies the start options and target URI as idempotent property
// writes. It has no effect on transfer progress and may be called in any
// state.
func (s *Session) Configure(ctx context.Context, uri string, opts downloadcfg.StartOptions) error {
	type propWrite struct {
		p fetchd.Prop
		v any
	}
	writes := []propWrite{
		{fetchd.PropCostPolicy, uint32(opts.Cost)},
		{fetchd.PropForeground, opts.Foreground},
		{fetchd.PropURI, uri},
	}
	if opts.NoProgressTimeoutSecs > 0 {
		writes = append(writes, propWrite{fetchd.PropNoProgressTimeout, opts.NoProgressTimeoutSecs})
	}
	for _, w := range writes {
		if err := s.obj.SetProp(ctx, w.p, w.v); err != nil {
			return fmt.Errorf("set %s: %w", w.p, err)
		}
	}
	return nil
}

// SetForeground toggles the priority property. The default is background.
func (s *Session) SetForeground(ctx context.Context, fg bool) error {
	return s.obj.SetProp(ctx, fetchd.PropForeground, fg)
}

// IsForeground reads the priority property from the remote object.
func (s *Session) IsForeground(ctx context.Context) (bool, error) {
	var fg bool
	err := s.obj.GetProp(ctx, fetchd.PropForeground, &fg)
	return fg, err
}

// IsBackground is the logical complement of IsForeground.
func (s *Session) IsBackground(ctx context.Context) (bool, error) {
	fg, err := s.IsForeground(ctx)
	return !fg, err
}

// TotalSizeBytes reads the resolved size of the source, once known.
func (s *Session) TotalSizeBytes(ctx context.Context) (int64, error) {
	var n int64
	err := s.obj.GetProp(ctx, fetchd.PropTotalSize, &n)
	return n, err
}

// Start begins the transfer, restricted to ranges when any are given. The
// encoded payload lives only for the duration of the remote call and is
// released on every exit path.
func (s *Session) Start(ctx context.Context, ranges []rangeenc.Range) error {
	var wire []byte
	if buf := rangeenc.Encode(ranges); buf != nil {
		defer buf.Release()
		wire = buf.Bytes()
	}
	return s.obj.Start(ctx, wire)
}

// Resume restarts a paused or failed transfer over the full file. The sink
// is reset first so an error recorded for the prior attempt reads as zero
// until the resumed attempt reports one of its own.
func (s *Session) Resume(ctx context.Context) error {
	if sink := s.Sink(); sink != nil {
		sink.Reset()
	}
	return s.Start(ctx, nil)
}

// Pause requests a remote pause. Asynchronous; the state change arrives via
// the sink.
func (s *Session) Pause(ctx context.Context) error {
	return s.obj.Pause(ctx)
}

// Abort cancels the transfer. Idempotent: when the service already reports
// Aborted the call is a no-op instead of surfacing fetchd's invalid-state
// error. Preconditions that are not locally knowable are left to fetchd.
func (s *Session) Abort(ctx context.Context) error {
	if st, err := s.obj.Status(ctx); err == nil && st.State == data.StateAborted {
		return nil
	}
	return s.obj.Abort(ctx)
}

// Finalize releases the remote-side resources for this session. Disposal of
// the remote object is the service's business, so this is an explicit call
// the caller makes, never an implicit cleanup.
func (s *Session) Finalize(ctx context.Context) error {
	return s.obj.Finalize(ctx)
}

// Status queries the remote service directly, bypassing the sink.
func (s *Session) Status(ctx context.Context) (data.TransferStatus, error) {
	return s.obj.Status(ctx)
}

// WaitForState blocks until the sink reports target, one of bailouts, a
// non-zero error code, or the budget elapses (ErrWaitTimeout). The budget
// is per call, not cumulative across retries.
func (s *Session) WaitForState(target data.TransferState, budget time.Duration, bailouts ...data.TransferState) (data.TransferStatus, error) {
	sink := s.Sink()
	if sink == nil {
		return data.TransferStatus{}, ErrNoSink
	}
	return sink.Wait(target, budget, bailouts...)
}

// WaitUntilTransferring waits for the transfer to begin. Paused counts as a
// bailout unless the wait follows a resume from pause, where passing
// through Paused is a legitimate outcome of the transition. This is
// deliberately asymmetric with WaitUntilTransferred: waiting to begin and
// waiting to finish have different failure shapes.
func (s *Session) WaitUntilTransferring(budget time.Duration, fromPause bool) (data.TransferStatus, error) {
	bailouts := []data.TransferState{data.StateAborted}
	if !fromPause {
		bailouts = append(bailouts, data.StatePaused)
	}
	return s.WaitForState(data.StateTransferring, budget, bailouts...)
}

// WaitUntilTransferred waits for completion, bailing out on Paused or
// Aborted.
func (s *Session) WaitUntilTransferred(budget time.Duration) (data.TransferStatus, error) {
	return s.WaitForState(data.StateTransferred, budget, data.StatePaused, data.StateAborted)
}
