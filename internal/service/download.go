package service

import (
	"context"
	"strings"
	"time"

	"github.com/tinoosan/downlink/internal/data"
	"github.com/tinoosan/downlink/internal/download"
	"github.com/tinoosan/downlink/internal/fp"
	"github.com/tinoosan/downlink/internal/repo"
)

// Waiter is the synchronous wait surface a downloader may expose on top of
// its sessions. The manager implements it; the noop downloader does not.
type Waiter interface {
	WaitUntilTransferring(d *data.Download, budget time.Duration) (data.TransferStatus, error)
	WaitUntilTransferred(d *data.Download, budget time.Duration) (data.TransferStatus, error)
}

type Download interface {
	List(ctx context.Context) (data.Downloads, error)
	Get(ctx context.Context, id int) (*data.Download, error)
	Add(ctx context.Context, d *data.Download) (*data.Download, error)
	UpdateDesiredStatus(ctx context.Context, id int, status data.DownloadStatus) (*data.Download, error)
	Delete(ctx context.Context, id int) error
	Wait(ctx context.Context, id int, target data.TransferState, budget time.Duration) (data.TransferStatus, error)
}

var AllowedStatuses = map[data.DownloadStatus]bool{
	data.StatusActive:    true,
	data.StatusPaused:    true,
	data.StatusCancelled: true,
}

type downloadSvc struct {
	repo repo.DownloadRepo
	dlr  download.Downloader
}

func NewDownload(repo repo.DownloadRepo, dlr download.Downloader) Download {
	return &downloadSvc{
		repo: repo,
		dlr:  dlr,
	}
}

func (ds *downloadSvc) List(ctx context.Context) (data.Downloads, error) {
	return ds.repo.List(ctx)
}

func (ds *downloadSvc) Get(ctx context.Context, id int) (*data.Download, error) {
	return ds.repo.Get(ctx, id)
}

func (ds *downloadSvc) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	if strings.TrimSpace(d.Source) == "" {
		return nil, data.ErrInvalidSource
	}
	if strings.TrimSpace(d.TargetPath) == "" {
		return nil, data.ErrTargetPath
	}

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.Fingerprint = fp.Fingerprint(d.Source, d.TargetPath)

	switch d.DesiredStatus {
	case "", data.StatusQueued:
		d.DesiredStatus = data.StatusQueued
		d.Status = data.StatusQueued
	case data.StatusActive:
		d.Status = data.StatusActive
	case data.StatusPaused:
		d.Status = data.StatusPaused
	default:
		return nil, data.ErrBadStatus
	}

	saved, err := ds.repo.Add(ctx, d)
	if err != nil {
		return nil, err
	}

	if saved.Status == data.StatusActive {
		go func(dl *data.Download) {
			_, _ = ds.dlr.Start(context.Background(), dl)
		}(saved.Clone())
	}
	return saved, nil
}

func (ds *downloadSvc) UpdateDesiredStatus(ctx context.Context, id int, status data.DownloadStatus) (*data.Download, error) {
	if !AllowedStatuses[status] {
		return nil, data.ErrBadStatus
	}

	d, err := ds.repo.UpdateDesiredStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	var derr error
	switch status {
	case data.StatusActive:
		if d.SessionID == "" {
			_, derr = ds.dlr.Start(context.Background(), d)
		} else {
			derr = ds.dlr.Resume(context.Background(), d)
		}
	case data.StatusPaused:
		derr = ds.dlr.Pause(context.Background(), d)
	case data.StatusCancelled:
		derr = ds.dlr.Cancel(context.Background(), d)
	}

	if derr != nil {
		_ = ds.repo.SetStatus(ctx, id, data.StatusError)
		return nil, derr
	}

	if err := ds.repo.SetStatus(ctx, id, status); err != nil {
		return nil, err
	}
	d.Status = status
	return d, nil
}

// Delete releases the remote session for the download and removes the
// record. Cancelling first is best-effort; a session already gone is fine.
func (ds *downloadSvc) Delete(ctx context.Context, id int) error {
	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	_ = ds.dlr.Cancel(ctx, d)
	if err := ds.dlr.Finalize(ctx, d); err != nil {
		return err
	}
	return ds.repo.Delete(ctx, id)
}

// Wait drives the blocking wait protocol for one download. Only
// Transferring and Transferred are waitable targets.
func (ds *downloadSvc) Wait(ctx context.Context, id int, target data.TransferState, budget time.Duration) (data.TransferStatus, error) {
	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return data.TransferStatus{}, err
	}
	w, ok := ds.dlr.(Waiter)
	if !ok {
		return data.TransferStatus{}, download.ErrNotFound
	}
	switch target {
	case data.StateTransferring:
		return w.WaitUntilTransferring(d, budget)
	case data.StateTransferred:
		return w.WaitUntilTransferred(d, budget)
	default:
		return data.TransferStatus{}, data.ErrBadStatus
	}
}
