// Package client talks to a simtemp server. Control-plane calls use msgpack;
// samples arrive as raw 16-byte records over HTTP or a websocket stream.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/luki/simtemp/internal/device"
	"github.com/luki/simtemp/internal/sample"
	"github.com/luki/simtemp/internal/server"
)

// APIError is a non-2xx reply. It unwraps to the matching device sentinel
// so callers can use errors.Is(err, device.ErrWouldBlock) and friends.
type APIError struct {
	Status  int
	Message string
	Errno   int32
}

func (e *APIError) Error() string {
	return fmt.Sprintf("simtemp: %s (status %d, errno %d)", e.Message, e.Status, e.Errno)
}

// Unwrap maps the status back to the device sentinel, so errors.Is works
// across the wire.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return device.ErrUnknownAttr
	case http.StatusBadRequest:
		return device.ErrInvalidArgument
	case http.StatusConflict:
		return device.ErrWouldBlock
	case http.StatusServiceUnavailable:
		return device.ErrTemporarilyUnavailable
	case http.StatusGone:
		return device.ErrClosed
	case http.StatusGatewayTimeout:
		return context.DeadlineExceeded
	default:
		return nil
	}
}

// Client talks to one simtemp server.
type Client struct {
	base string
	http *http.Client
	log  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a client for the server at base, e.g. http://127.0.0.1:8080.
func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{},
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := msgpack.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", server.MIMEMsgpack)
	if in != nil {
		req.Header.Set("Content-Type", server.MIMEMsgpack)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := msgpack.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
	var eb server.ErrorBody
	if strings.HasPrefix(resp.Header.Get("Content-Type"), server.MIMEMsgpack) {
		if err := msgpack.NewDecoder(resp.Body).Decode(&eb); err == nil {
			apiErr.Message, apiErr.Errno = eb.Error, eb.Errno
		}
	}
	return apiErr
}

// Info returns the device identity and scheduler counters.
func (c *Client) Info(ctx context.Context) (server.Info, error) {
	var v server.Info
	err := c.do(ctx, http.MethodGet, "/v1/info", nil, &v)
	return v, err
}

// Config returns the current configuration.
func (c *Client) Config(ctx context.Context) (device.Config, error) {
	var v device.Config
	err := c.do(ctx, http.MethodGet, "/v1/config", nil, &v)
	return v, err
}

// SetConfig replaces the whole configuration and returns what was applied.
func (c *Client) SetConfig(ctx context.Context, cfg device.Config) (device.Config, error) {
	var v device.Config
	err := c.do(ctx, http.MethodPut, "/v1/config", cfg, &v)
	return v, err
}

// UpdateConfig reads the configuration, applies mutate and writes it back.
func (c *Client) UpdateConfig(ctx context.Context, mutate func(*device.Config)) (device.Config, error) {
	cfg, err := c.Config(ctx)
	if err != nil {
		return device.Config{}, err
	}
	mutate(&cfg)
	return c.SetConfig(ctx, cfg)
}

// Stats returns the device counters.
func (c *Client) Stats(ctx context.Context) (device.Stats, error) {
	var v device.Stats
	err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &v)
	return v, err
}

// ResetStats zeroes the counters and returns the fresh snapshot.
func (c *Client) ResetStats(ctx context.Context) (device.Stats, error) {
	var v device.Stats
	err := c.do(ctx, http.MethodPost, "/v1/stats/reset", nil, &v)
	return v, err
}

// Enable arms sampling.
func (c *Client) Enable(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/enable", nil, nil)
}

// Disable stops sampling.
func (c *Client) Disable(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/v1/disable", nil, nil)
}

// Flush discards queued samples and returns how many were dropped.
func (c *Client) Flush(ctx context.Context) (int, error) {
	var v server.FlushResult
	err := c.do(ctx, http.MethodPost, "/v1/flush", nil, &v)
	return v.Dropped, err
}

// Poll reports readiness, waiting up to wait for a wakeup.
func (c *Client) Poll(ctx context.Context, wait time.Duration) (bool, error) {
	path := "/v1/poll"
	if wait > 0 {
		path += "?wait=" + url.QueryEscape(wait.String())
	}
	var v server.PollResult
	err := c.do(ctx, http.MethodGet, path, nil, &v)
	return v.Ready, err
}

// Read fetches one record. A blocking read lasts until a sample arrives or
// ctx ends.
func (c *Client) Read(ctx context.Context, nonblock bool) (sample.Sample, error) {
	path := "/v1/read"
	if nonblock {
		path += "?nonblock=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return sample.Sample{}, err
	}
	req.Header.Set("Accept", server.MIMEMsgpack)

	resp, err := c.http.Do(req)
	if err != nil {
		return sample.Sample{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return sample.Sample{}, decodeError(resp)
	}

	buf := make([]byte, sample.Size)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return sample.Sample{}, fmt.Errorf("read record: %w", err)
	}
	var s sample.Sample
	if err := s.UnmarshalBinary(buf); err != nil {
		return sample.Sample{}, err
	}
	return s, nil
}

// ReadAttr returns the text value of a named attribute.
func (c *Client) ReadAttr(ctx context.Context, name string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/attrs/"+url.PathEscape(name), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", server.MIMEMsgpack)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}

// WriteAttr sets a named attribute from its text form.
func (c *Client) WriteAttr(ctx context.Context, name, value string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base+"/v1/attrs/"+url.PathEscape(name),
		strings.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", server.MIMEMsgpack)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	return nil
}

// Stream opens the websocket sample stream. The returned channel is closed
// when ctx ends or the connection fails; the error, if any, is then
// available from the second channel.
func (c *Client) Stream(ctx context.Context) (<-chan sample.Sample, <-chan error, error) {
	u, err := url.Parse(c.base + "/v1/stream")
	if err != nil {
		return nil, nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial stream: %w", err)
	}

	out := make(chan sample.Sample, 64)
	errc := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		case <-done:
		}
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(errc)
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					errc <- err
				}
				return
			}
			var s sample.Sample
			if err := s.UnmarshalBinary(data); err != nil {
				c.log.Warn("simtemp: bad stream record", "len", len(data), "err", err)
				continue
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errc, nil
}

// IsRetryable reports whether a read error just means "try again".
func IsRetryable(err error) bool {
	return errors.Is(err, device.ErrWouldBlock) || errors.Is(err, device.ErrTemporarilyUnavailable)
}
