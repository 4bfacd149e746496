package device

import (
	"context"
	"errors"
)

var (
	// ErrInvalidArgument rejects a bad configuration value or read buffer.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrWouldBlock is returned by a non-blocking read on an empty queue.
	ErrWouldBlock = errors.New("operation would block")
	// ErrTemporarilyUnavailable is returned when a blocking read was woken
	// but the queue was empty again on its single retry.
	ErrTemporarilyUnavailable = errors.New("resource temporarily unavailable")
	// ErrOverflow is recorded in the statistics when an enqueue hits a full
	// queue. It is never returned to a caller.
	ErrOverflow = errors.New("sample buffer overflow")
	// ErrClosed is returned once the device has been detached.
	ErrClosed = errors.New("device closed")
)

// Negative errno values carried in Stats.LastError and on the wire.
const (
	errnoEINTR     = -4
	errnoEIO       = -5
	errnoEAGAIN    = -11
	errnoENODEV    = -19
	errnoEINVAL    = -22
	errnoEOVERFLOW = -75
)

// Errno maps an error from this package to a negative errno value. A nil
// error maps to 0.
func Errno(err error) int32 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidArgument):
		return errnoEINVAL
	case errors.Is(err, ErrWouldBlock), errors.Is(err, ErrTemporarilyUnavailable):
		return errnoEAGAIN
	case errors.Is(err, ErrOverflow):
		return errnoEOVERFLOW
	case errors.Is(err, ErrClosed):
		return errnoENODEV
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errnoEINTR
	default:
		return errnoEIO
	}
}
