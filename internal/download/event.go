package download

import "github.com/tinoosan/downlink/internal/data"

// Event represents a state change or progress update for a download.
//
// Type indicates what kind of event occurred. For terminal events
// (Complete, Failed, Aborted) the reconciler updates the repository's
// Status and clears the session binding. Meta events carry resolved
// metadata worth persisting.
type Event struct {
	ID        int
	SessionID string
	Type      EventType
	Status    *data.TransferStatus
	Meta      *Meta
}

// EventType defines the set of events downloaders may emit.
type EventType string

const (
	EventStart        EventType = "Start"
	EventTransferring EventType = "Transferring"
	EventPaused       EventType = "Paused"
	EventAborted      EventType = "Aborted"
	EventComplete     EventType = "Complete"
	EventFailed       EventType = "Failed"
	EventMeta         EventType = "Meta"
)

// Meta carries optional metadata about a download that should be persisted
// by the reconciler, such as the resolved name or total size.
type Meta struct {
	Name       *string
	TotalBytes *int64
}
