package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tinoosan/downlink/internal/data"
	"github.com/tinoosan/downlink/internal/download"
	"github.com/tinoosan/downlink/internal/service"
	"github.com/tinoosan/downlink/internal/session"
)

type DownloadHandler struct {
	l   *slog.Logger
	svc service.Download
}

type patchBody struct {
	DesiredStatus string `json:"desiredStatus"`
}

type waitBody struct {
	Target         string `json:"target"`
	TimeoutSeconds uint32 `json:"timeoutSeconds"`
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyDownload struct{}
type ctxKeyPatch struct{}

func NewDownloadHandler(l *slog.Logger, svc service.Download) *DownloadHandler {
	return &DownloadHandler{l: l, svc: svc}
}

func (dh *DownloadHandler) GetDownloads(w http.ResponseWriter, r *http.Request) {
	dls, err := dh.svc.List(r.Context())
	if err != nil {
		markErr(w, err)
		http.Error(w, "failed to list downloads", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := dls.ToJSON(w); err != nil {
		markErr(w, err)
		http.Error(w, "Unable to marshal json", http.StatusInternalServerError)
	}
}

func (dh *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	dl, err := dh.svc.Get(r.Context(), id)
	if err != nil {
		markErr(w, err)
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = dl.ToJSON(w)
}

func (dh *DownloadHandler) AddDownload(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyDownload{})
	dl, ok := v.(*data.Download)
	if !ok || dl == nil {
		markErr(w, ErrDownloadCtx)
		http.Error(w, ErrDownloadCtx.Error(), http.StatusInternalServerError)
		return
	}

	saved, err := dh.svc.Add(r.Context(), dl)
	if err != nil {
		markErr(w, err)
		switch {
		case errors.Is(err, data.ErrInvalidSource), errors.Is(err, data.ErrTargetPath), errors.Is(err, data.ErrBadStatus):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, data.ErrConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "failed to add download", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = saved.ToJSON(w)
}

func (dh *DownloadHandler) UpdateDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	v := r.Context().Value(ctxKeyPatch{})
	body, bok := v.(patchBody)
	if !bok || body.DesiredStatus == "" {
		markErr(w, ErrDesiredStatus)
		http.Error(w, ErrDesiredStatus.Error(), http.StatusInternalServerError)
		return
	}

	updated, err := dh.svc.UpdateDesiredStatus(r.Context(), id, data.DownloadStatus(body.DesiredStatus))
	if err != nil {
		markErr(w, err)
		switch {
		case errors.Is(err, data.ErrNotFound), errors.Is(err, download.ErrNotFound):
			http.Error(w, "Not found", http.StatusNotFound)
		case errors.Is(err, data.ErrBadStatus):
			http.Error(w, "Invalid desiredStatus (allowed: Active|Paused|Cancelled)", http.StatusBadRequest)
		default:
			http.Error(w, "failed to update", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = updated.ToJSON(w)
}

// maxWaitBudget caps the per-request wait. It must stay below the server's
// write timeout or a long wait gets its connection severed instead of a
// timeout response.
const maxWaitBudget = 110 * time.Second

// WaitDownload blocks the request until the download reaches the requested
// state, bails out, reports an error, or the budget elapses. Budgets above
// maxWaitBudget are clamped; the caller sees a gateway timeout and can wait
// again.
func (dh *DownloadHandler) WaitDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body waitBody
	if err := decodeJSONStrict(w, r, &body, 1<<16, "application/json"); err != nil {
		markErr(w, err)
		if err == ErrContentType {
			http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target, tok := data.ParseTransferState(body.Target)
	if !tok || (target != data.StateTransferring && target != data.StateTransferred) {
		markErr(w, ErrWaitTarget)
		http.Error(w, ErrWaitTarget.Error(), http.StatusBadRequest)
		return
	}

	budget := time.Duration(body.TimeoutSeconds) * time.Second
	if budget > maxWaitBudget {
		budget = maxWaitBudget
	}
	st, err := dh.svc.Wait(r.Context(), id, target, budget)
	if err != nil {
		markErr(w, err)
		switch {
		case errors.Is(err, session.ErrWaitTimeout):
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
		case errors.Is(err, data.ErrNotFound), errors.Is(err, download.ErrNotFound):
			http.Error(w, "Not found", http.StatusNotFound)
		default:
			http.Error(w, "wait failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		State         string `json:"state"`
		Error         uint32 `json:"error"`
		ExtendedError uint32 `json:"extendedError"`
	}{st.State.String(), st.Error, st.ExtendedError}
	writeJSON(w, resp)
}

func (dh *DownloadHandler) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := dh.svc.Delete(r.Context(), id); err != nil {
		markErr(w, err)
		if errors.Is(err, data.ErrNotFound) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		markErr(w, err)
		http.Error(w, "Unable to convert ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
