// Package fetchd is the JSON-RPC client for the fetchd download service.
// fetchd owns the actual transfers; downlink only drives and observes the
// per-download remote objects it exposes.
package fetchd

import (
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

type Client struct {
	baseURL *url.URL
	secret  string
	http    *http.Client
}

func NewClientFromEnv() (*Client, error) {
	ms := 3000
	if v := os.Getenv("FETCHD_TIMEOUT_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			ms = parsed
		}
	}

	secret := os.Getenv("FETCHD_SECRET")

	rawURL := os.Getenv("FETCHD_RPC_URL")
	if rawURL == "" {
		rawURL = "http://127.0.0.1:7300/jsonrpc"
	}

	baseURL, err := url.Parse(rawURL)
	if err != nil {
		baseURL, err = url.Parse("http://127.0.0.1:7300/jsonrpc")
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: time.Duration(ms) * time.Millisecond},
	}, nil
}

func (c *Client) BaseURL() *url.URL { return c.baseURL }
func (c *Client) Secret() string    { return c.secret }
func (c *Client) HTTP() *http.Client { return c.http }

// Object returns a handle for an existing remote download by identifier.
func (c *Client) Object(id string) *Object { return &Object{c: c, id: id} }
