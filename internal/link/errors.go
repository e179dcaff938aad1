package link

import (
	"errors"

	"github.com/openstation/engine/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrBind       = errors.New("udp_bind")
	ErrSend       = errors.New("udp_send")
	ErrReceive    = errors.New("udp_receive")
	ErrTCPConnect = errors.New("tcp_connect")
	ErrTCPWrite   = errors.New("tcp_write")
	ErrTCPRead    = errors.New("tcp_read")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrBind):
		return metrics.ErrUDPBind
	case errors.Is(err, ErrSend):
		return metrics.ErrUDPSend
	case errors.Is(err, ErrReceive):
		return metrics.ErrUDPReceive
	case errors.Is(err, ErrTCPConnect):
		return metrics.ErrTCPConnect
	case errors.Is(err, ErrTCPWrite):
		return metrics.ErrTCPWrite
	case errors.Is(err, ErrTCPRead):
		return metrics.ErrTCPRead
	default:
		return "other"
	}
}
