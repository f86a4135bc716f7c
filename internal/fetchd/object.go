package fetchd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/tinoosan/downlink/internal/data"
)

// Prop is a typed key into a download object's property set. fetchd exposes
// configuration as key/value pairs rather than per-field methods.
type Prop string

const (
	PropID                Prop = "Id"
	PropCostPolicy        Prop = "CostPolicy"
	PropCallback          Prop = "Callback"
	PropURI               Prop = "Uri"
	PropForeground        Prop = "ForegroundPriority"
	PropNoProgressTimeout Prop = "NoProgressTimeoutSecs"
	PropTotalSize         Prop = "TotalSizeBytes"
)

// Object is a handle to one remote download owned by fetchd. A handle is
// cheap; it carries no local state beyond the identifier.
type Object struct {
	c  *Client
	id string
}

func (o *Object) ID() string { return o.id }

// GetProp reads one property into out, which must be a pointer of the
// property's JSON-compatible type.
func (o *Object) GetProp(ctx context.Context, p Prop, out any) error {
	res, err := o.c.call(ctx, "download.getProp", map[string]any{"id": o.id, "prop": string(p)})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("parse %s property: %w", p, err)
	}
	return nil
}

// SetProp writes one property. A nil value clears it; fetchd treats a
// cleared Callback property as "stop notifying".
func (o *Object) SetProp(ctx context.Context, p Prop, v any) error {
	_, err := o.c.call(ctx, "download.setProp", map[string]any{"id": o.id, "prop": string(p), "value": v})
	return err
}

// Start begins or resumes the transfer. ranges is the encoded range-list
// payload; nil means an unrestricted full-file transfer and is sent as an
// absent parameter, never as an empty one.
func (o *Object) Start(ctx context.Context, ranges []byte) error {
	params := map[string]any{"id": o.id}
	if ranges != nil {
		params["ranges"] = base64.StdEncoding.EncodeToString(ranges)
	}
	_, err := o.c.call(ctx, "download.start", params)
	return err
}

func (o *Object) Pause(ctx context.Context) error {
	_, err := o.c.call(ctx, "download.pause", map[string]any{"id": o.id})
	return err
}

func (o *Object) Abort(ctx context.Context) error {
	_, err := o.c.call(ctx, "download.abort", map[string]any{"id": o.id})
	return err
}

// Finalize releases the remote-side resources for this download. fetchd
// forgets the object afterwards; the handle must not be used again.
func (o *Object) Finalize(ctx context.Context) error {
	_, err := o.c.call(ctx, "download.finalize", map[string]any{"id": o.id})
	return err
}

// statusResp is the wire form of download.status; the state travels by name.
type statusResp struct {
	State         string `json:"state"`
	Error         uint32 `json:"error"`
	ExtendedError uint32 `json:"extendedError"`
}

// Status queries the current state/error triple for this download.
func (o *Object) Status(ctx context.Context) (data.TransferStatus, error) {
	res, err := o.c.call(ctx, "download.status", map[string]any{"id": o.id})
	if err != nil {
		return data.TransferStatus{}, err
	}
	var sr statusResp
	if err := json.Unmarshal(res, &sr); err != nil {
		return data.TransferStatus{}, fmt.Errorf("parse status: %w", err)
	}
	st, ok := data.ParseTransferState(sr.State)
	if !ok {
		return data.TransferStatus{}, fmt.Errorf("unknown transfer state %q", sr.State)
	}
	return data.TransferStatus{State: st, Error: sr.Error, ExtendedError: sr.ExtendedError}, nil
}
