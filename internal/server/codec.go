package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/luki/simtemp/internal/device"
)

// Content types the server speaks.
const (
	MIMEJSON    = "application/json"
	MIMEMsgpack = "application/msgpack"
	MIMERecord  = "application/octet-stream"
	MIMEText    = "text/plain; charset=utf-8"

	maxBodyBytes = 1 << 16
)

// ErrorBody is the payload of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error" msgpack:"error"`
	Errno int32  `json:"errno" msgpack:"errno"`
}

func wantsMsgpack(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), MIMEMsgpack)
}

func writeValue(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsMsgpack(r) {
		b, err := msgpack.Marshal(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", MIMEMsgpack)
		w.WriteHeader(status)
		w.Write(b)
		return
	}

	w.Header().Set("Content-Type", MIMEJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON or msgpack body depending on Content-Type.
// Decode failures are reported as ErrInvalidArgument.
func decodeBody(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if mt == MIMEMsgpack {
		err = msgpack.NewDecoder(body).Decode(v)
	} else {
		dec := json.NewDecoder(body)
		dec.DisallowUnknownFields()
		err = dec.Decode(v)
	}
	if err != nil {
		return fmt.Errorf("%w: decode body: %v", device.ErrInvalidArgument, err)
	}
	return nil
}

// StatusFor maps a device error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrUnknownAttr):
		return http.StatusNotFound
	case errors.Is(err, device.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrWouldBlock):
		return http.StatusConflict
	case errors.Is(err, device.ErrTemporarilyUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, device.ErrClosed):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return // client went away
	}
	status := StatusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error("simtemp: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeValue(w, r, status, ErrorBody{Error: err.Error(), Errno: device.Errno(err)})
}
