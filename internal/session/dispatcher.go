package session

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tinoosan/downlink/internal/data"
	"github.com/tinoosan/downlink/internal/download"
	"github.com/tinoosan/downlink/internal/fetchd"
)

// Dispatcher owns the notification stream from fetchd and fans status
// updates out to the per-session sinks registered with it. It also reports
// downloader events for the reconciler. It is the only component that reads
// the websocket; sinks never see the wire.
type Dispatcher struct {
	cl    *fetchd.Client
	rep   download.Reporter
	token string

	mu      sync.RWMutex
	sinks   map[string]*Sink
	tracked map[string]int // session id -> repository download id

	// metaLim caps how often a notification triggers a follow-up property
	// query against fetchd.
	metaLim *rate.Limiter
	log     *slog.Logger
}

func NewDispatcher(cl *fetchd.Client, rep download.Reporter) *Dispatcher {
	return &Dispatcher{
		cl:      cl,
		rep:     rep,
		token:   uuid.NewString(),
		sinks:   make(map[string]*Sink),
		tracked: make(map[string]int),
		metaLim: rate.NewLimiter(rate.Limit(2), 4),
		log:     slog.Default(),
	}
}

var _ download.EventSource = (*Dispatcher)(nil)
var _ Registrar = (*Dispatcher)(nil)

// SetLogger allows wiring a shared application logger into the dispatcher.
func (d *Dispatcher) SetLogger(l *slog.Logger) {
	if l != nil {
		d.log = l
	}
}

// Token identifies this dispatcher as a callback target to fetchd. Sessions
// write it into their Callback property.
func (d *Dispatcher) Token() string { return d.token }

func (d *Dispatcher) Register(id string, s *Sink) {
	d.mu.Lock()
	d.sinks[id] = s
	d.mu.Unlock()
}

func (d *Dispatcher) Unregister(id string) {
	d.mu.Lock()
	delete(d.sinks, id)
	d.mu.Unlock()
}

// Track binds a session identifier to a repository download so events can
// carry the record id the reconciler needs.
func (d *Dispatcher) Track(id string, downloadID int) {
	d.mu.Lock()
	d.tracked[id] = downloadID
	d.mu.Unlock()
}

func (d *Dispatcher) Untrack(id string) {
	d.mu.Lock()
	delete(d.tracked, id)
	d.mu.Unlock()
}

// Run subscribes to fetchd notifications and routes them until ctx ends.
func (d *Dispatcher) Run(ctx context.Context) {
	opID := uuid.NewString()
	lg := d.log.With("operation_id", opID)
	ch, err := d.cl.Notifications(ctx)
	if err != nil {
		lg.Error("subscribe notifications", "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			d.handleNotification(ctx, n)
		}
	}
}

func (d *Dispatcher) handleNotification(ctx context.Context, n fetchd.Notification) {
	if n.Method != "fetchd.onStatusChange" {
		return
	}
	for _, ev := range n.Params {
		st, err := ev.Status()
		if err != nil {
			d.log.Warn("dropping notification", "id", ev.ID, "err", err)
			continue
		}

		d.mu.RLock()
		sink := d.sinks[ev.ID]
		id, trackedOK := d.tracked[ev.ID]
		d.mu.RUnlock()

		// Update the sink first: a blocked waiter must observe the terminal
		// condition even if event reporting lags behind.
		if sink != nil {
			sink.OnStatus(st)
		}
		if !trackedOK {
			continue
		}

		switch {
		case st.State == data.StateTransferring:
			d.report(download.Event{ID: id, SessionID: ev.ID, Type: download.EventTransferring, Status: &st})
			d.refreshMeta(ctx, id, ev.ID)
		case st.State == data.StatePaused:
			d.report(download.Event{ID: id, SessionID: ev.ID, Type: download.EventPaused, Status: &st})
		case st.State == data.StateTransferred:
			d.report(download.Event{ID: id, SessionID: ev.ID, Type: download.EventComplete, Status: &st})
			d.Untrack(ev.ID)
		case st.State == data.StateAborted:
			d.report(download.Event{ID: id, SessionID: ev.ID, Type: download.EventAborted, Status: &st})
			d.Untrack(ev.ID)
		case st.State == data.StateFatalError || st.Error != 0:
			d.report(download.Event{ID: id, SessionID: ev.ID, Type: download.EventFailed, Status: &st})
			// A transient error is recoverable; keep the binding so a resumed
			// transfer's events still reach the repository.
			if st.State.Terminal() {
				d.Untrack(ev.ID)
			}
		default:
			// Created / TransientError: nothing for the repository yet.
		}
	}
}

func (d *Dispatcher) report(e download.Event) {
	if d.rep != nil {
		d.rep.Report(e)
	}
}

// refreshMeta asks fetchd for the resolved size once a transfer is moving
// and derives a display name from the URI. Rate-limited; skipping a refresh
// is fine because the next notification retries it.
func (d *Dispatcher) refreshMeta(ctx context.Context, id int, sessionID string) {
	if !d.metaLim.Allow() {
		return
	}
	obj := d.cl.Object(sessionID)
	var meta download.Meta
	var total int64
	if err := obj.GetProp(ctx, fetchd.PropTotalSize, &total); err == nil && total > 0 {
		meta.TotalBytes = &total
	}
	var uri string
	if err := obj.GetProp(ctx, fetchd.PropURI, &uri); err == nil {
		if name := deriveName(uri); name != "" {
			meta.Name = &name
		}
	}
	if meta.Name != nil || meta.TotalBytes != nil {
		d.report(download.Event{ID: id, SessionID: sessionID, Type: download.EventMeta, Meta: &meta})
	}
}

// deriveName extracts a human-readable name from the source URI.
func deriveName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return base
}
