package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tinoosan/downlink/internal/data"
	"github.com/tinoosan/downlink/internal/download"
	"github.com/tinoosan/downlink/internal/downloadcfg"
	"github.com/tinoosan/downlink/internal/fetchd"
	"github.com/tinoosan/downlink/internal/metrics"
	"github.com/tinoosan/downlink/internal/rangeenc"
)

// Manager implements the download.Downloader interface on top of sessions.
// It creates remote objects through the fetchd client, wraps each in a
// Session, and keeps the repository id to session binding the service layer
// works in.
type Manager struct {
	cl   *fetchd.Client
	disp *Dispatcher
	rep  download.Reporter
	opts downloadcfg.StartOptions
	log  *slog.Logger

	mu        sync.Mutex
	sessions  map[int]*Session
	wasPaused map[int]bool
}

func NewManager(cl *fetchd.Client, disp *Dispatcher, rep download.Reporter) *Manager {
	return &Manager{
		cl:        cl,
		disp:      disp,
		rep:       rep,
		opts:      downloadcfg.StartOptions{Cost: downloadcfg.CostAlways},
		log:       slog.Default(),
		sessions:  make(map[int]*Session),
		wasPaused: make(map[int]bool),
	}
}

var _ download.Downloader = (*Manager)(nil)

// SetLogger allows wiring a shared application logger into the manager.
func (m *Manager) SetLogger(l *slog.Logger) {
	if l != nil {
		m.log = l
	}
}

// SetDefaults replaces the options applied to every new session.
func (m *Manager) SetDefaults(opts downloadcfg.StartOptions) { m.opts = opts }

func (m *Manager) session(id int) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Start creates a remote download object for dl, wraps it in a session and
// begins an unrestricted transfer. If a session already exists for dl the
// call resumes it instead. Returns the session identifier.
func (m *Manager) Start(ctx context.Context, dl *data.Download) (string, error) {
	if s, ok := m.session(dl.ID); ok {
		return s.ID(), m.Resume(ctx, dl)
	}

	s, err := m.create(ctx, dl)
	if err != nil {
		return "", err
	}
	if err := s.Start(ctx, nil); err != nil {
		return "", err
	}
	if m.rep != nil {
		m.rep.Report(download.Event{ID: dl.ID, SessionID: s.ID(), Type: download.EventStart})
	}
	return s.ID(), nil
}

// StartRanged is Start restricted to the given byte ranges, for callers
// resuming a partial transfer they already hold pieces of.
func (m *Manager) StartRanged(ctx context.Context, dl *data.Download, ranges []rangeenc.Range) (string, error) {
	s, ok := m.session(dl.ID)
	if !ok {
		var err error
		if s, err = m.create(ctx, dl); err != nil {
			return "", err
		}
	}
	return s.ID(), s.Start(ctx, ranges)
}

// create builds the remote object, wraps it and registers the bindings. It
// does not start the transfer.
func (m *Manager) create(ctx context.Context, dl *data.Download) (*Session, error) {
	obj, err := m.cl.Create(ctx, dl.Source, dl.TargetPath)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, obj, m.disp)
	if err != nil {
		return nil, err
	}
	if err := s.Configure(ctx, dl.Source, m.opts); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[dl.ID] = s
	delete(m.wasPaused, dl.ID)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()
	m.disp.Track(s.ID(), dl.ID)
	return s, nil
}

func (m *Manager) Pause(ctx context.Context, dl *data.Download) error {
	s, ok := m.session(dl.ID)
	if !ok {
		return download.ErrNotFound
	}
	if err := s.Pause(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.wasPaused[dl.ID] = true
	m.mu.Unlock()
	return nil
}

// Resume restarts a session. The session controller resets its sink first,
// so errors from the prior attempt do not leak into this one.
func (m *Manager) Resume(ctx context.Context, dl *data.Download) error {
	s, ok := m.session(dl.ID)
	if !ok {
		return download.ErrNotFound
	}
	if err := s.Resume(ctx); err != nil {
		return err
	}
	// Restore the dispatcher binding in case a prior terminal event dropped
	// it; the resumed attempt's events must reach the repository.
	m.disp.Track(s.ID(), dl.ID)
	return nil
}

// Cancel aborts the session's transfer. Safe to repeat; the session's abort
// is a no-op once the service reports Aborted.
func (m *Manager) Cancel(ctx context.Context, dl *data.Download) error {
	s, ok := m.session(dl.ID)
	if !ok {
		return download.ErrNotFound
	}
	if err := s.Abort(ctx); err != nil {
		if fetchd.IsNotFound(err) {
			m.drop(ctx, dl.ID, s)
			return download.ErrNotFound
		}
		return err
	}
	return nil
}

// Finalize releases the remote object and forgets the session. Idempotent:
// finalizing a download with no live session is a no-op.
func (m *Manager) Finalize(ctx context.Context, dl *data.Download) error {
	s, ok := m.session(dl.ID)
	if !ok {
		return nil
	}
	// Stop notifications before the remote object goes away so nothing is
	// pushed at a dead registration.
	if err := s.SetSink(ctx, nil); err != nil {
		m.log.Warn("clear sink before finalize", "id", dl.ID, "err", err)
	}
	err := s.Finalize(ctx)
	m.drop(ctx, dl.ID, s)
	return err
}

func (m *Manager) drop(_ context.Context, id int, s *Session) {
	m.disp.Untrack(s.ID())
	m.disp.Unregister(s.ID())
	m.mu.Lock()
	delete(m.sessions, id)
	delete(m.wasPaused, id)
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()
}

// WaitUntilTransferring blocks until the download is moving, the budget
// runs out, or a bailout condition is reported. The Paused bailout is
// suppressed when the last lifecycle operation was a pause (the wait then
// follows a resume-from-pause).
func (m *Manager) WaitUntilTransferring(dl *data.Download, budget time.Duration) (data.TransferStatus, error) {
	s, ok := m.session(dl.ID)
	if !ok {
		return data.TransferStatus{}, download.ErrNotFound
	}
	m.mu.Lock()
	fromPause := m.wasPaused[dl.ID]
	delete(m.wasPaused, dl.ID)
	m.mu.Unlock()
	st, err := s.WaitUntilTransferring(budget, fromPause)
	metrics.WaitOutcomes.WithLabelValues(waitOutcome(data.StateTransferring, st, err)).Inc()
	return st, err
}

// WaitUntilTransferred blocks until completion, a Paused/Aborted bailout,
// an error report, or timeout.
func (m *Manager) WaitUntilTransferred(dl *data.Download, budget time.Duration) (data.TransferStatus, error) {
	s, ok := m.session(dl.ID)
	if !ok {
		return data.TransferStatus{}, download.ErrNotFound
	}
	st, err := s.WaitUntilTransferred(budget)
	metrics.WaitOutcomes.WithLabelValues(waitOutcome(data.StateTransferred, st, err)).Inc()
	return st, err
}

func waitOutcome(target data.TransferState, st data.TransferStatus, err error) string {
	switch {
	case err != nil:
		return "timeout"
	case st.State == target:
		return "reached"
	case st.Error != 0 || st.ExtendedError != 0:
		return "error"
	default:
		return "bailout"
	}
}
