package v1

import "errors"

var (
	ErrDownloadCtx       = errors.New("download missing in context")
	ErrDesiredStatus     = errors.New("desired status missing in context")
	ErrDesiredStatusJSON = errors.New("desired status is required")
	ErrContentType       = errors.New("Content-Type must be application/json")
	ErrReadOnlyName      = errors.New("name is read-only")
	ErrReadOnlyTotal     = errors.New("totalBytes is read-only")
	ErrWaitTarget        = errors.New("target must be Transferring or Transferred")
)
