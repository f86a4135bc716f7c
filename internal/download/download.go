package download

import (
	"context"
	"errors"

	"github.com/tinoosan/downlink/internal/data"
)

// ErrNotFound is returned when the downloader cannot locate a session for a download.
var ErrNotFound = errors.New("session not found")

// Downloader defines the operations required to manage a download's lifecycle
// against the remote service.
type Downloader interface {
	Start(ctx context.Context, d *data.Download) (string, error)
	Pause(ctx context.Context, d *data.Download) error
	Resume(ctx context.Context, d *data.Download) error
	Cancel(ctx context.Context, d *data.Download) error
	// Finalize releases the remote-side resources for the download's session.
	// It must be idempotent.
	Finalize(ctx context.Context, d *data.Download) error
}

// EventSource is implemented by downloaders that emit asynchronous events.
// Wiring launches Run(ctx) when available to process notifications.
type EventSource interface {
	Run(ctx context.Context)
}
