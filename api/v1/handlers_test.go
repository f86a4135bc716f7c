package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	internaldata "github.com/tinoosan/downlink/internal/data"
	"github.com/tinoosan/downlink/internal/download"
	"github.com/tinoosan/downlink/internal/repo"
	"github.com/tinoosan/downlink/internal/router"
	"github.com/tinoosan/downlink/internal/service"
	"github.com/tinoosan/downlink/internal/session"
)

const testToken = "testtoken"

func setup(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("DOWNLINK_API_TOKEN", testToken)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := repo.NewInMemoryDownloadRepo()
	dlr := download.NewNoopDownloader()
	svc := service.NewDownload(repo, dlr)
	return router.New(logger, svc, nil)
}

func authReq(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+testToken)
}

func TestHealthz(t *testing.T) {
	h := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "ok" {
		t.Fatalf("expected body 'ok' got %q", rr.Body.String())
	}
}

func TestDownloadsLifecycle(t *testing.T) {
	h := setup(t)

	// GET empty list
	req := httptest.NewRequest(http.MethodGet, "/v1/downloads", nil)
	authReq(req)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}
	var list []map[string]any
	err := json.NewDecoder(rr.Body).Decode(&list)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list got %v", list)
	}

	// POST valid download
	body := bytes.NewBufferString(`{"source":"http://example.com/file.bin","targetPath":"/tmp/file"}`)
	req = httptest.NewRequest(http.MethodPost, "/v1/downloads", body)
	authReq(req)
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rr.Code)
	}
	var created map[string]any
	err = json.NewDecoder(rr.Body).Decode(&created)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := int(created["id"].(float64))

	// GET list should have one item
	req = httptest.NewRequest(http.MethodGet, "/v1/downloads", nil)
	authReq(req)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}
	list = nil
	err = json.NewDecoder(rr.Body).Decode(&list)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || int(list[0]["id"].(float64)) != id {
		t.Fatalf("unexpected list: %v", list)
	}

	// GET existing download
	req = httptest.NewRequest(http.MethodGet, "/v1/downloads/"+strconv.Itoa(id), nil)
	authReq(req)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rr.Code)
	}

	// GET missing download
	req = httptest.NewRequest(http.MethodGet, "/v1/downloads/9999", nil)
	authReq(req)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rr.Code)
	}

	// DELETE existing download
	req = httptest.NewRequest(http.MethodDelete, "/v1/downloads/"+strconv.Itoa(id), nil)
	authReq(req)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 got %d", rr.Code)
	}

	// DELETE again is a 404
	req = httptest.NewRequest(http.MethodDelete, "/v1/downloads/"+strconv.Itoa(id), nil)
	authReq(req)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rr.Code)
	}
}

func TestPostDownloadValidation(t *testing.T) {
	h := setup(t)

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"wrong content-type", "text/plain", "{}", http.StatusUnsupportedMediaType},
		{"unknown field", "application/json", `{"source":"http://example.com/f","targetPath":"/tmp","extra":1}`, http.StatusBadRequest},
		{"missing target", "application/json", `{"source":"http://example.com/f"}`, http.StatusBadRequest},
		{"body too large", "application/json", `{"source":"http://example.com/` + strings.Repeat("a", 1<<20) + `","targetPath":"/tmp"}`, http.StatusBadRequest},
		{"name provided (read-only)", "application/json", `{"source":"http://example.com/f","targetPath":"/tmp","name":"hack"}`, http.StatusBadRequest},
		{"totalBytes provided (read-only)", "application/json", `{"source":"http://example.com/f","targetPath":"/tmp","totalBytes":5}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/downloads", strings.NewReader(tt.body))
			authReq(req)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestPostDuplicateReturns409(t *testing.T) {
	h := setup(t)

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		body := bytes.NewBufferString(`{"source":"http://example.com/file.bin","targetPath":"/tmp/file"}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/downloads", body)
		authReq(req)
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("post %d: expected status %d got %d", i, want, rr.Code)
		}
	}
}

func TestPatchDownload(t *testing.T) {
	h := setup(t)

	// first create a download
	body := bytes.NewBufferString(`{"source":"http://example.com/file.bin","targetPath":"/tmp/file"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/downloads", body)
	authReq(req)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rr.Code)
	}

	tests := []struct {
		name        string
		url         string
		contentType string
		body        string
		want        int
	}{
		{"valid", "/v1/downloads/1", "application/json", `{"desiredStatus":"Paused"}`, http.StatusOK},
		{"invalid status", "/v1/downloads/1", "application/json", `{"desiredStatus":"Bad"}`, http.StatusBadRequest},
		{"unknown id", "/v1/downloads/999", "application/json", `{"desiredStatus":"Paused"}`, http.StatusNotFound},
		{"wrong content-type", "/v1/downloads/1", "text/plain", `{"desiredStatus":"Paused"}`, http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, tt.url, strings.NewReader(tt.body))
			authReq(req)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d got %d", tt.want, rr.Code)
			}
		})
	}
}

// waitDL is a noop downloader that also exposes the wait surface with a
// scripted outcome, recording the budget it was handed.
type waitDL struct {
	download.Downloader
	st     internaldata.TransferStatus
	err    error
	budget time.Duration
}

func (w *waitDL) WaitUntilTransferring(d *internaldata.Download, budget time.Duration) (internaldata.TransferStatus, error) {
	w.budget = budget
	return w.st, w.err
}

func (w *waitDL) WaitUntilTransferred(d *internaldata.Download, budget time.Duration) (internaldata.TransferStatus, error) {
	w.budget = budget
	return w.st, w.err
}

func setupWait(t *testing.T, dlr download.Downloader) http.Handler {
	t.Helper()
	t.Setenv("DOWNLINK_API_TOKEN", testToken)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rpo := repo.NewInMemoryDownloadRepo()
	svc := service.NewDownload(rpo, dlr)
	h := router.New(logger, svc, nil)

	body := bytes.NewBufferString(`{"source":"http://example.com/file.bin","targetPath":"/tmp/file"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/downloads", body)
	authReq(req)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}
	return h
}

func TestWaitDownload(t *testing.T) {
	t.Run("reached", func(t *testing.T) {
		dlr := &waitDL{Downloader: download.NewNoopDownloader(), st: internaldata.TransferStatus{State: internaldata.StateTransferred}}
		h := setupWait(t, dlr)

		req := httptest.NewRequest(http.MethodPost, "/v1/downloads/1/wait", strings.NewReader(`{"target":"Transferred","timeoutSeconds":1}`))
		authReq(req)
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d (%s)", rr.Code, rr.Body.String())
		}
		var got map[string]any
		if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got["state"] != "Transferred" {
			t.Fatalf("state = %v", got["state"])
		}
	})

	t.Run("timeout maps to 504", func(t *testing.T) {
		dlr := &waitDL{Downloader: download.NewNoopDownloader(), err: session.ErrWaitTimeout}
		h := setupWait(t, dlr)

		req := httptest.NewRequest(http.MethodPost, "/v1/downloads/1/wait", strings.NewReader(`{"target":"Transferring","timeoutSeconds":1}`))
		authReq(req)
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusGatewayTimeout {
			t.Fatalf("expected 504, got %d", rr.Code)
		}
	})

	t.Run("budget capped below write timeout", func(t *testing.T) {
		dlr := &waitDL{Downloader: download.NewNoopDownloader(), st: internaldata.TransferStatus{State: internaldata.StateTransferred}}
		h := setupWait(t, dlr)

		req := httptest.NewRequest(http.MethodPost, "/v1/downloads/1/wait", strings.NewReader(`{"target":"Transferred","timeoutSeconds":3600}`))
		authReq(req)
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if dlr.budget != 110*time.Second {
			t.Fatalf("budget = %v, want the 110s cap", dlr.budget)
		}
	})

	t.Run("invalid target", func(t *testing.T) {
		h := setupWait(t, download.NewNoopDownloader())

		for _, target := range []string{"Paused", "Nonsense"} {
			req := httptest.NewRequest(http.MethodPost, "/v1/downloads/1/wait", strings.NewReader(`{"target":"`+target+`","timeoutSeconds":1}`))
			authReq(req)
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("target %q: expected 400, got %d", target, rr.Code)
			}
		}
	})

	t.Run("downloader without waits", func(t *testing.T) {
		h := setupWait(t, download.NewNoopDownloader())

		req := httptest.NewRequest(http.MethodPost, "/v1/downloads/1/wait", strings.NewReader(`{"target":"Transferring","timeoutSeconds":1}`))
		authReq(req)
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	})
}

type conflictDL struct{}

func (c *conflictDL) Start(ctx context.Context, d *internaldata.Download) (string, error) {
	return "", internaldata.ErrConflict
}
func (c *conflictDL) Pause(ctx context.Context, d *internaldata.Download) error { return nil }
func (c *conflictDL) Resume(ctx context.Context, d *internaldata.Download) error {
	return internaldata.ErrConflict
}
func (c *conflictDL) Cancel(ctx context.Context, d *internaldata.Download) error   { return nil }
func (c *conflictDL) Finalize(ctx context.Context, d *internaldata.Download) error { return nil }

func TestPatchDownloaderFailure(t *testing.T) {
	t.Setenv("DOWNLINK_API_TOKEN", testToken)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rpo := repo.NewInMemoryDownloadRepo()
	dlr := &conflictDL{}
	svc := service.NewDownload(rpo, dlr)
	h := router.New(logger, svc, nil)

	// Create download via API
	body := bytes.NewBufferString(`{"source":"http://example.com/file.bin","targetPath":"/tmp"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/downloads", body)
	authReq(req)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}

	// PATCH desiredStatus Active hits Start, which fails; the record is
	// marked failed and the request errors.
	req = httptest.NewRequest(http.MethodPatch, "/v1/downloads/1", strings.NewReader(`{"desiredStatus":"Active"}`))
	authReq(req)
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	got, _ := rpo.Get(context.Background(), 1)
	if got.Status != internaldata.StatusError {
		t.Fatalf("status = %v, want %v", got.Status, internaldata.StatusError)
	}
}

func TestAuth(t *testing.T) {
	h := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/downloads", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/downloads", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with bad token, got %d", rr.Code)
	}
}
