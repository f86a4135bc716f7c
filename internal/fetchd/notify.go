package fetchd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"nhooyr.io/websocket"

	"github.com/tinoosan/downlink/internal/data"
)

// Notification represents an async event pushed by fetchd.
type Notification struct {
	Method string              `json:"method"`
	Params []NotificationEvent `json:"params"`
}

// NotificationEvent carries the updated status for one download object,
// keyed by its identifier.
type NotificationEvent struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	Error         uint32 `json:"error"`
	ExtendedError uint32 `json:"extendedError"`
}

// Status converts the wire event into a TransferStatus. Unknown state names
// are reported so the caller can skip the event rather than misroute it.
func (e NotificationEvent) Status() (data.TransferStatus, error) {
	st, ok := data.ParseTransferState(e.State)
	if !ok {
		return data.TransferStatus{}, fmt.Errorf("unknown transfer state %q", e.State)
	}
	return data.TransferStatus{State: st, Error: e.Error, ExtendedError: e.ExtendedError}, nil
}

// Notifications connects to the fetchd WebSocket endpoint and streams
// async notifications. The returned channel is closed when the connection
// terminates or the context is cancelled.
func (c *Client) Notifications(ctx context.Context) (<-chan Notification, error) {
	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", wsURL.Scheme)
	}
	conn, _, err := websocket.Dial(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	ch := make(chan Notification, 8)
	go func() {
		defer close(ch)
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				return
			}
			// fetchd may send newline-delimited JSON; trim
			raw = []byte(strings.TrimSpace(string(raw)))
			var n Notification
			if err := json.Unmarshal(raw, &n); err != nil {
				continue
			}
			// The consumer may be gone; never park on a full buffer forever.
			select {
			case ch <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
