package controlplane

import (
	"errors"
	"net/http"

	"github.com/fentz26/pocketd/internal/device"
	"github.com/fentz26/pocketd/internal/scheduler"
)

// Sentinel errors for control plane operations.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrDeviceBusy     = errors.New("device is controlled by another user session")
	ErrUnavailable    = errors.New("component not configured")
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, scheduler.ErrInvalidTask):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, ErrUnavailable), errors.Is(err, device.ErrNoPIN):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
