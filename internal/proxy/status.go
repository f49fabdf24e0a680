package proxy

import (
	"errors"
	"net/http"

	"github.com/die-net/sockstun/internal/socks"
)

// statusForDialError picks the response status for a failed upstream
// connection.
func statusForDialError(err error) int {
	switch {
	case errors.Is(err, socks.ErrHandshakeTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, socks.ErrInvalidHost), errors.Is(err, socks.ErrUnsupportedAddress):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
