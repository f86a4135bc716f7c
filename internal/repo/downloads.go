package repo

import (
	"context"

	"github.com/tinoosan/downlink/internal/data"
)

type DownloadRepo interface {
	DownloadReader
	DownloadWriter
}

type DownloadReader interface {
	List(ctx context.Context) (data.Downloads, error)
	Get(ctx context.Context, id int) (*data.Download, error)
	GetByFingerprint(ctx context.Context, fprint string) (*data.Download, error)
}

type DownloadWriter interface {
	Add(ctx context.Context, download *data.Download) (*data.Download, error)
	UpdateDesiredStatus(ctx context.Context, id int, status data.DownloadStatus) (*data.Download, error)
	SetStatus(ctx context.Context, id int, status data.DownloadStatus) error
	Update(ctx context.Context, id int, mutate func(*data.Download) error) (*data.Download, error)
	Delete(ctx context.Context, id int) error
}
