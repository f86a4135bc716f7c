package fetchd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinoosan/downlink/internal/metrics"
)

// --- JSON-RPC wire types ---

type rpcReq struct {
	Jsonrpc string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	ID      string         `json:"id"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcResp struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a failure reported by fetchd itself, as opposed to transport
// errors reaching it.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("fetchd rpc error %d: %s", e.Code, e.Message)
}

// fetchd error codes the controller branches on.
const (
	codeInvalidState = 12
	codeNotFound     = 4
)

// IsInvalidState reports whether err is fetchd rejecting an operation for
// the object's current state (e.g. aborting an already-aborted download).
func IsInvalidState(err error) bool {
	var re *RPCError
	return errors.As(err, &re) && re.Code == codeInvalidState
}

// IsNotFound reports whether err is fetchd not knowing the object id.
func IsNotFound(err error) bool {
	var re *RPCError
	return errors.As(err, &re) && re.Code == codeNotFound
}

func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	timer := prometheus.NewTimer(metrics.RemoteRPCLatency.WithLabelValues(method))
	defer timer.ObserveDuration()

	if s := c.secret; s != "" {
		if params == nil {
			params = map[string]any{}
		}
		params["token"] = s
	}
	body, _ := json.Marshal(rpcReq{Jsonrpc: "2.0", Method: method, ID: "downlink", Params: params})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RemoteRPCErrors.WithLabelValues(method).Inc()
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		metrics.RemoteRPCErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("fetchd http %d: %s", resp.StatusCode, string(b))
	}
	b, _ := io.ReadAll(resp.Body)

	var rr rpcResp
	if err := json.Unmarshal(b, &rr); err != nil {
		metrics.RemoteRPCErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("fetchd rpc decode: %w (%s)", err, string(b))
	}
	if rr.Error != nil {
		metrics.RemoteRPCErrors.WithLabelValues(method).Inc()
		return nil, rr.Error
	}
	return rr.Result, nil
}

// Ping performs a lightweight RPC to check fetchd liveness/readiness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, "fetchd.getVersion", nil)
	return err
}

// Create asks fetchd to allocate a new download object for the given source
// and destination and returns a handle to it. Object activation lives here
// so the session controller only ever sees an already-created handle.
func (c *Client) Create(ctx context.Context, source, targetPath string) (*Object, error) {
	res, err := c.call(ctx, "download.create", map[string]any{
		"source":     source,
		"targetPath": targetPath,
	})
	if err != nil {
		return nil, err
	}
	var id string
	if err := json.Unmarshal(res, &id); err != nil {
		return nil, fmt.Errorf("parse create result: %w", err)
	}
	return &Object{c: c, id: id}, nil
}
