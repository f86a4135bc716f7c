package data

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"
)

// Download is the repository record for one managed transfer. SessionID is
// the identifier of the remote fetchd object currently bound to it; it is
// empty before the first start and after a terminal state.
type Download struct {
	ID            int            `json:"id"`
	SessionID     string         `json:"-"`
	Source        string         `json:"source"`
	TargetPath    string         `json:"targetPath"`
	Name          string         `json:"name,omitempty"`
	TotalBytes    int64          `json:"totalBytes,omitempty"`
	Status        DownloadStatus `json:"status"`
	DesiredStatus DownloadStatus `json:"desiredStatus,omitempty"`
	Fingerprint   string         `json:"-"`
	CreatedAt     time.Time      `json:"createdAt"`
}

type Downloads []*Download
type DownloadStatus string

const (
	StatusQueued    DownloadStatus = "Queued"
	StatusActive    DownloadStatus = "Active"
	StatusPaused    DownloadStatus = "Paused"
	StatusComplete  DownloadStatus = "Complete"
	StatusCancelled DownloadStatus = "Cancelled"
	StatusError     DownloadStatus = "Failed"
)

var (
	ErrNotFound      = errors.New("download not found")
	ErrBadStatus     = errors.New("invalid status")
	ErrInvalidSource = errors.New("source is required")
	ErrTargetPath    = errors.New("targetPath is required")
	ErrConflict      = errors.New("download already exists")
)

// TransferState is the remote service's view of one download object. The
// controller treats the set as opaque apart from the four states its own
// logic branches on: Transferring, Paused, Transferred and Aborted.
type TransferState uint32

const (
	StateCreated TransferState = iota
	StateTransferring
	StatePaused
	StateTransferred
	StateAborted
	StateTransientError
	StateFatalError
)

var stateNames = map[TransferState]string{
	StateCreated:        "Created",
	StateTransferring:   "Transferring",
	StatePaused:         "Paused",
	StateTransferred:    "Transferred",
	StateAborted:        "Aborted",
	StateTransientError: "TransientError",
	StateFatalError:     "FatalError",
}

func (s TransferState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "TransferState(" + strconv.FormatUint(uint64(s), 10) + ")"
}

// Terminal reports whether the remote service will emit no further state
// changes for this download.
func (s TransferState) Terminal() bool {
	return s == StateTransferred || s == StateAborted || s == StateFatalError
}

// ParseTransferState maps a state name back to its enum value.
func ParseTransferState(name string) (TransferState, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// TransferStatus is the status triple fetchd reports for one download:
// current state plus an error and extended error code. A zero Error means no
// failure has been reported.
type TransferStatus struct {
	State         TransferState `json:"state"`
	Error         uint32        `json:"error"`
	ExtendedError uint32        `json:"extendedError"`
}

func (d *Downloads) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

func (d *Download) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

func (d *Download) FromJSON(r io.Reader) error { return json.NewDecoder(r).Decode(d) }

func (d *Download) Clone() *Download {
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}

func (ds Downloads) Clone() Downloads {
	out := make(Downloads, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Clone())
	}
	return out
}

func ParseID(s string) (int, error) { return strconv.Atoi(s) }
