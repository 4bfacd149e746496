// Package server exposes a Device over HTTP: the control plane as JSON or
// msgpack resources, single-record reads, long-poll readiness, a websocket
// sample stream, the textual attribute surface and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luki/simtemp/internal/device"
	"github.com/luki/simtemp/internal/sample"
)

const (
	writeWait          = 5 * time.Second
	defaultMaxPollWait = 30 * time.Second
)

// PollResult is the body of GET /v1/poll.
type PollResult struct {
	Ready bool `json:"ready" msgpack:"ready"`
}

// EnabledResult is returned by enable and disable.
type EnabledResult struct {
	Enabled bool `json:"enabled" msgpack:"enabled"`
}

// FlushResult is returned by flush.
type FlushResult struct {
	Dropped int `json:"dropped" msgpack:"dropped"`
}

// Info describes the device instance.
type Info struct {
	ID          string `json:"id" msgpack:"id"`
	Enabled     bool   `json:"enabled" msgpack:"enabled"`
	OpenHandles int    `json:"open_handles" msgpack:"open_handles"`
	LastTempMC  int32  `json:"last_temp_mC" msgpack:"last_temp_mC"`
	Ticks       uint64 `json:"ticks" msgpack:"ticks"`
	Runs        uint64 `json:"runs" msgpack:"runs"`
	Coalesced   uint64 `json:"coalesced" msgpack:"coalesced"`
}

// Server exposes one device over HTTP: the control plane, the record read
// channel, long-poll readiness, a websocket stream and the text attributes.
type Server struct {
	dev         *device.Device
	log         *slog.Logger
	gatherer    prometheus.Gatherer
	maxPollWait time.Duration
	upgrader    websocket.Upgrader
	mux         *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithGatherer enables GET /metrics backed by g.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithMaxPollWait caps the wait parameter of GET /v1/poll.
func WithMaxPollWait(d time.Duration) Option {
	return func(s *Server) { s.maxPollWait = d }
}

// New builds the routes for dev. It does not start listening.
func New(dev *device.Device, opts ...Option) *Server {
	s := &Server{
		dev:         dev,
		log:         slog.Default(),
		maxPollWait: defaultMaxPollWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 1024,
		},
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /v1/info", s.handleInfo)
	s.mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	s.mux.HandleFunc("PUT /v1/config", s.handlePutConfig)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
	s.mux.HandleFunc("POST /v1/stats/reset", s.handleResetStats)
	s.mux.HandleFunc("POST /v1/enable", s.handleEnable)
	s.mux.HandleFunc("POST /v1/disable", s.handleDisable)
	s.mux.HandleFunc("POST /v1/flush", s.handleFlush)
	s.mux.HandleFunc("GET /v1/read", s.handleRead)
	s.mux.HandleFunc("GET /v1/poll", s.handlePoll)
	s.mux.HandleFunc("GET /v1/stream", s.handleStream)
	s.mux.HandleFunc("GET /v1/attrs", s.handleListAttrs)
	s.mux.HandleFunc("GET /v1/attrs/{name}", s.handleGetAttr)
	s.mux.HandleFunc("PUT /v1/attrs/{name}", s.handlePutAttr)
	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("simtemp: listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("simtemp: request",
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed", time.Since(start),
		)
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	st := s.dev.SchedulerStats()
	writeValue(w, r, http.StatusOK, Info{
		ID:          s.dev.ID().String(),
		Enabled:     s.dev.Enabled(),
		OpenHandles: s.dev.OpenCount(),
		LastTempMC:  s.dev.LastTemperature(),
		Ticks:       st.Ticks,
		Runs:        st.Runs,
		Coalesced:   st.Coalesced,
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeValue(w, r, http.StatusOK, s.dev.Config())
}

// handlePutConfig replaces the whole configuration; omitted fields take
// their zero value and are validated like any other.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg device.Config
	if err := decodeBody(r, &cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.dev.SetConfig(cfg); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeValue(w, r, http.StatusOK, s.dev.Config())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeValue(w, r, http.StatusOK, s.dev.Stats())
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.dev.ResetStats()
	writeValue(w, r, http.StatusOK, s.dev.Stats())
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if err := s.dev.Enable(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeValue(w, r, http.StatusOK, EnabledResult{Enabled: true})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.dev.Disable()
	writeValue(w, r, http.StatusOK, EnabledResult{Enabled: false})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	writeValue(w, r, http.StatusOK, FlushResult{Dropped: s.dev.Flush()})
}

// handleRead returns one 16-byte record. ?nonblock=1 selects a
// non-blocking read; ?timeout=DURATION bounds a blocking one.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nonblock, _ := strconv.ParseBool(q.Get("nonblock"))

	ctx := r.Context()
	if v := q.Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: timeout %q", device.ErrInvalidArgument, v))
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	h, err := s.dev.Open(nonblock)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer h.Close()

	buf := make([]byte, sample.Size)
	n, err := h.ReadContext(ctx, buf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", MIMERecord)
	w.Header().Set("Content-Length", strconv.Itoa(n))
	w.Write(buf[:n])
}

// handlePoll reports readiness. With ?wait=DURATION it waits for the next
// wakeup and polls again, the way a poller re-checks after being woken.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.writeError(w, r, fmt.Errorf("%w: wait %q", device.ErrInvalidArgument, v))
			return
		}
		wait = min(d, s.maxPollWait)
	}

	ready, wake := s.dev.Poll()
	if !ready && wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-wake:
			ready, _ = s.dev.Poll()
		case <-t.C:
		case <-r.Context().Done():
			return
		}
	}
	writeValue(w, r, http.StatusOK, PollResult{Ready: ready})
}

// handleStream upgrades to a websocket and sends one binary message per
// sample until the peer goes away or the device is closed.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	defer conn.Close()

	h, err := s.dev.Open(false)
	if err != nil {
		closeWith(conn, websocket.CloseGoingAway, err.Error())
		return
	}
	defer h.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain control frames and notice when the peer closes.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	s.log.Info("simtemp: stream opened", "remote", r.RemoteAddr)
	defer s.log.Info("simtemp: stream closed", "remote", r.RemoteAddr)

	buf := make([]byte, sample.Size)
	for {
		n, err := h.ReadContext(ctx, buf)
		switch {
		case errors.Is(err, device.ErrTemporarilyUnavailable):
			continue
		case errors.Is(err, device.ErrClosed):
			closeWith(conn, websocket.CloseGoingAway, "device closed")
			return
		case err != nil:
			return
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (s *Server) handleListAttrs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", MIMEText)
	io.WriteString(w, strings.Join(device.Attrs, "\n")+"\n")
}

func (s *Server) handleGetAttr(w http.ResponseWriter, r *http.Request) {
	v, err := s.dev.ReadAttr(r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", MIMEText)
	io.WriteString(w, v)
}

func (s *Server) handlePutAttr(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", device.ErrInvalidArgument, err))
		return
	}
	if err := s.dev.WriteAttr(r.PathValue("name"), string(body)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
