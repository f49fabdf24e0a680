package socks

import (
	"bytes"
	"errors"
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	socks5Version = 0x05
	userPassVer   = 0x01
)

type v5 struct {
	cfg Config
}

func (d *v5) greeting() []byte {
	methods := []byte{txsocks5.MethodNone}
	if d.cfg.HasCredentials() {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	var b bytes.Buffer
	_, _ = txsocks5.NewNegotiationRequest(methods).WriteTo(&b)
	return b.Bytes()
}

func (d *v5) selectMethod(buf []byte) (int, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, nil
	}
	if buf[0] != socks5Version {
		return 0, nil, fmt.Errorf("%w: method reply version %#02x, want %#02x", ErrProtocolVersion, buf[0], socks5Version)
	}

	switch buf[1] {
	case txsocks5.MethodNone:
		return 2, nil, nil
	case txsocks5.MethodUsernamePassword:
		if !d.cfg.HasCredentials() {
			return 0, nil, fmt.Errorf("%w: server requires username/password", ErrAuthMethodRejected)
		}
		var b bytes.Buffer
		_, _ = txsocks5.NewUserPassNegotiationRequest([]byte(d.cfg.Username), []byte(d.cfg.Password)).WriteTo(&b)
		return 2, b.Bytes(), nil
	case 0xff:
		return 0, nil, fmt.Errorf("%w: no acceptable methods", ErrAuthMethodRejected)
	default:
		return 0, nil, fmt.Errorf("%w: server chose unsupported method %#02x", ErrAuthMethodRejected, buf[1])
	}
}

func (d *v5) checkAuth(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, nil
	}
	if buf[0] != userPassVer {
		return 0, fmt.Errorf("%w: auth reply version %#02x, want %#02x", ErrProtocolVersion, buf[0], userPassVer)
	}
	if buf[1] != txsocks5.UserPassStatusSuccess {
		return 0, fmt.Errorf("%w: user %q, status %#02x", ErrAuthenticationFailed, d.cfg.Username, buf[1])
	}
	return 2, nil
}

func (d *v5) request(target Addr) ([]byte, error) {
	atyp, addr, port, err := encodeV5(target)
	if err != nil {
		return nil, err
	}
	if atyp == txsocks5.ATYPDomain && len(addr) > maxDomainLen {
		return nil, fmt.Errorf("%w: hostname longer than %d bytes", ErrInvalidHost, maxDomainLen)
	}

	var b bytes.Buffer
	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, addr, port).WriteTo(&b); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return b.Bytes(), nil
}

// reply parses VER REP RSV ATYP BND.ADDR BND.PORT. A failure code is acted
// on as soon as it arrives; a success waits for the whole bound address.
func (d *v5) reply(buf []byte) (Addr, int, error) {
	if len(buf) < 2 {
		return Addr{}, 0, nil
	}
	if buf[0] != socks5Version {
		return Addr{}, 0, fmt.Errorf("%w: reply version %#02x, want %#02x", ErrProtocolVersion, buf[0], socks5Version)
	}
	if buf[1] != txsocks5.RepSuccess {
		return Addr{}, 0, newServerError(V5, buf[1])
	}
	if len(buf) < 4 {
		return Addr{}, 0, nil
	}

	bound, n, err := DecodeAddr(V5, buf[3:])
	if errors.Is(err, ErrTruncatedReply) {
		return Addr{}, 0, nil
	}
	if err != nil {
		return Addr{}, 0, err
	}
	return bound, 3 + n, nil
}
