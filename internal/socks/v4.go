package socks

import (
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	socks4Version   = 0x04
	socks4ReplyVer  = 0x00
	socks4ReplySize = 8
)

// v4 speaks SOCKS4, which only carries IPv4 targets and has no
// authentication beyond the ident field.
type v4 struct {
	cfg Config
}

func (d *v4) request(target Addr) ([]byte, error) {
	addr, err := EncodeAddr(V4, target)
	if err != nil {
		return nil, err
	}
	return d.frame(addr), nil
}

// frame assembles VER CMD DSTPORT DSTIP USERID NUL, followed by whatever addr
// carries past its first six bytes.
func (d *v4) frame(addr []byte) []byte {
	b := make([]byte, 0, 2+len(addr)+len(d.cfg.Username)+1)
	b = append(b, socks4Version, txsocks5.CmdConnect)
	b = append(b, addr[:6]...)
	b = append(b, d.cfg.Username...)
	b = append(b, 0)
	return append(b, addr[6:]...)
}

// reply parses VN CD DSTPORT DSTIP. Nothing is decided before all eight
// bytes are present.
func (d *v4) reply(buf []byte) (Addr, int, error) {
	if len(buf) < socks4ReplySize {
		return Addr{}, 0, nil
	}
	if buf[0] != socks4ReplyVer {
		return Addr{}, 0, fmt.Errorf("%w: reply version %#02x, want %#02x", ErrProtocolVersion, buf[0], socks4ReplyVer)
	}
	if buf[1] != socks4Granted {
		return Addr{}, 0, newServerError(d.cfg.Version, buf[1])
	}

	bound, _, err := DecodeAddr(V4, buf[2:socks4ReplySize])
	if err != nil {
		return Addr{}, 0, err
	}
	return bound, socks4ReplySize, nil
}

// v4a is SOCKS4 with remote resolution: a hostname target is sent after the
// ident field behind the 0.0.0.1 sentinel address.
type v4a struct {
	v4
}

func (d *v4a) request(target Addr) ([]byte, error) {
	addr, err := EncodeAddr(V4A, target)
	if err != nil {
		return nil, err
	}
	return d.frame(addr), nil
}
