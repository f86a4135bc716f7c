package reconciler

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tinoosan/downlink/internal/data"
	"github.com/tinoosan/downlink/internal/download"
	"github.com/tinoosan/downlink/internal/metrics"
	"github.com/tinoosan/downlink/internal/repo"
)

// Reconciler consumes downloader events and updates repository state.
type Reconciler struct {
	repo   repo.DownloadRepo
	events <-chan download.Event
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Reconciler that processes downloader events and mutates the
// repository accordingly.
func New(log *slog.Logger, repo repo.DownloadRepo, events <-chan download.Event) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, events: events, log: log, ctx: context.Background()}
}

// Run starts the reconciliation loop.
func (r *Reconciler) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	// Tag this run with a stable operation_id for easier correlation.
	opID := uuid.NewString()
	r.log = r.log.With("operation_id", opID)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stop:
				return
			case e, ok := <-r.events:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

// Stop terminates the reconciliation loop.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	}
}

func (r *Reconciler) handle(e download.Event) {
	metrics.DownloadEvents.WithLabelValues(strings.ToLower(string(e.Type))).Inc()
	var (
		status   data.DownloadStatus
		terminal bool
	)
	switch e.Type {
	case download.EventStart:
		// Bind the session identifier to the record as soon as the remote
		// object exists.
		_, err := r.repo.Update(r.ctx, e.ID, func(dl *data.Download) error {
			dl.SessionID = e.SessionID
			return nil
		})
		if err != nil {
			r.log.Error("bind session", "id", e.ID, "err", err)
		}
		return
	case download.EventTransferring:
		status = data.StatusActive
	case download.EventPaused:
		status = data.StatusPaused
	case download.EventAborted:
		status = data.StatusCancelled
		terminal = true
	case download.EventComplete:
		status = data.StatusComplete
		terminal = true
	case download.EventFailed:
		status = data.StatusError
		// A transient failure leaves the session bound: a resume on the same
		// session can still bring the record back to Active.
		terminal = e.Status == nil || e.Status.State.Terminal()
	case download.EventMeta:
		if e.Meta == nil {
			return
		}
		_, err := r.repo.Update(r.ctx, e.ID, func(dl *data.Download) error {
			if e.Meta.Name != nil {
				dl.Name = *e.Meta.Name
			}
			if e.Meta.TotalBytes != nil {
				dl.TotalBytes = *e.Meta.TotalBytes
			}
			return nil
		})
		if err != nil {
			r.log.Error("update meta", "id", e.ID, "err", err)
		} else {
			r.log.Info("updated meta", "id", e.ID)
		}
		return
	default:
		r.log.Warn("unknown event type", "id", e.ID, "type", e.Type)
		return
	}

	if terminal && !r.checkStale(e) {
		return
	}

	_, err := r.repo.Update(r.ctx, e.ID, func(dl *data.Download) error {
		dl.Status = status
		if terminal {
			dl.SessionID = ""
		}
		return nil
	})
	if err != nil {
		r.log.Error("update", "id", e.ID, "status", status, "err", err)
		return
	}
	r.log.Info("reconciled event", "id", e.ID, "type", e.Type)
}

// checkStale guards terminal updates: an event for a session the record is
// no longer bound to must not clobber a newer attempt's status.
func (r *Reconciler) checkStale(e download.Event) bool {
	dl, err := r.repo.Get(r.ctx, e.ID)
	if err != nil {
		r.log.Error("get", "id", e.ID, "err", err)
		return false
	}
	if dl.SessionID != "" && dl.SessionID != e.SessionID {
		r.log.Info("ignoring stale terminal event", "id", e.ID, "session", dl.SessionID, "event_session", e.SessionID)
		return false
	}
	return true
}
