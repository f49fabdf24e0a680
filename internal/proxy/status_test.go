package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/die-net/sockstun/internal/socks"
)

func TestStatusForDialError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&socks.HandshakeError{Version: socks.V5, Err: socks.ErrHandshakeTimeout}, http.StatusGatewayTimeout},
		{fmt.Errorf("%w: %w: example.com", socks.ErrTLSHandshake, socks.ErrHandshakeTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("%w: example.com", socks.ErrTLSHandshake), http.StatusBadGateway},
		{fmt.Errorf("%w: %q", socks.ErrInvalidHost, "bad host"), http.StatusBadRequest},
		{socks.ErrUnsupportedAddress, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		if got := statusForDialError(tt.err); got != tt.want {
			t.Errorf("statusForDialError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
