package download

import (
	"context"

	"github.com/tinoosan/downlink/internal/data"
)

type noopDownloader struct{}

// NewNoopDownloader returns a Downloader that accepts every operation and
// does nothing. Useful when running the API without a fetchd endpoint.
func NewNoopDownloader() Downloader {
	return &noopDownloader{}
}

func (d *noopDownloader) Start(ctx context.Context, dl *data.Download) (string, error) {
	return "", nil
}

func (d *noopDownloader) Pause(ctx context.Context, dl *data.Download) error { return nil }

func (d *noopDownloader) Resume(ctx context.Context, dl *data.Download) error { return nil }

func (d *noopDownloader) Cancel(ctx context.Context, dl *data.Download) error { return nil }

func (d *noopDownloader) Finalize(ctx context.Context, dl *data.Download) error { return nil }
