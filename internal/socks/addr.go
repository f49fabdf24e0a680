package socks

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	txsocks5 "github.com/txthinking/socks5"
)

// AddrKind is the class a target host string falls into.
type AddrKind int

const (
	KindInvalid AddrKind = iota
	KindIPv4
	KindDomain
	KindIPv6
)

func (k AddrKind) String() string {
	switch k {
	case KindIPv4:
		return "ipv4"
	case KindDomain:
		return "domain"
	case KindIPv6:
		return "ipv6"
	default:
		return "invalid"
	}
}

// maxDomainLen is the longest name a SOCKS5 length prefix can describe.
const maxDomainLen = 255

// socks4aSentinel is the 0.0.0.x address that tells a SOCKS4a proxy to
// resolve the hostname that follows the ident field.
var socks4aSentinel = [4]byte{0, 0, 0, 1}

// Addr is a host and port as carried in SOCKS frames.
type Addr struct {
	Host string
	Port uint16
}

// ParseAddr splits a "host:port" string into an Addr.
func ParseAddr(address string) (Addr, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %w", ErrInvalidHost, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: invalid port %q", ErrInvalidHost, port)
	}
	return Addr{Host: host, Port: uint16(p)}, nil
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// Kind classifies a.Host. See [Classify].
func (a Addr) Kind() AddrKind {
	return Classify(a.Host)
}

// Classify reports which kind of address host is. A dotted IPv4 literal wins
// over everything else; then a DNS hostname; then an IPv6 literal. The
// result does not depend on the SOCKS version, which only decides whether a
// kind can be sent.
func Classify(host string) AddrKind {
	if ip, err := netip.ParseAddr(host); err == nil && ip.Is4() {
		return KindIPv4
	}
	if isHostname(host) {
		return KindDomain
	}
	if ip, err := netip.ParseAddr(host); err == nil && ip.Is6() && ip.Zone() == "" {
		return KindIPv6
	}
	return KindInvalid
}

// isHostname reports whether s is made of DNS labels: 1 to 63 letters,
// digits or hyphens, not starting or ending with a hyphen. A single trailing
// dot is allowed, but counts toward the 255 byte limit since it is sent on
// the wire. Strings of only digits and dots are rejected so malformed IPv4
// literals are not sent for remote resolution.
func isHostname(s string) bool {
	if len(s) > maxDomainLen {
		return false
	}
	s = strings.TrimSuffix(s, ".")
	if s == "" {
		return false
	}

	numeric := true
	for _, label := range strings.Split(s, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= '0' && c <= '9':
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-':
				numeric = false
			default:
				return false
			}
		}
	}
	return !numeric
}

// EncodeAddr returns the wire form of a for version v.
//
// For SOCKS5 it is ATYP ADDR PORT. For SOCKS4 and SOCKS4a it is PORT IPV4,
// and for a SOCKS4a hostname the NUL-terminated name follows; request
// encoding places the ident field between the two parts.
func EncodeAddr(v Version, a Addr) ([]byte, error) {
	switch v {
	case V5:
		atyp, addr, port, err := encodeV5(a)
		if err != nil {
			return nil, err
		}
		b := []byte{atyp}
		if atyp == txsocks5.ATYPDomain {
			b = append(b, byte(len(addr)))
		}
		b = append(b, addr...)
		return append(b, port...), nil
	case V4, V4A:
		return encodeV4(v, a)
	default:
		return nil, fmt.Errorf("unknown socks version %d", int(v))
	}
}

// encodeV5 returns the pieces of a SOCKS5 address. Domain names are returned
// without their length prefix.
func encodeV5(a Addr) (atyp byte, addr, port []byte, err error) {
	port = binary.BigEndian.AppendUint16(nil, a.Port)
	switch Classify(a.Host) {
	case KindIPv4:
		ip := netip.MustParseAddr(a.Host).As4()
		return txsocks5.ATYPIPv4, ip[:], port, nil
	case KindDomain:
		return txsocks5.ATYPDomain, []byte(a.Host), port, nil
	case KindIPv6:
		ip := netip.MustParseAddr(a.Host).As16()
		return txsocks5.ATYPIPv6, ip[:], port, nil
	default:
		return 0, nil, nil, fmt.Errorf("%w: %q", ErrInvalidHost, a.Host)
	}
}

func encodeV4(v Version, a Addr) ([]byte, error) {
	b := binary.BigEndian.AppendUint16(make([]byte, 0, 6), a.Port)
	switch Classify(a.Host) {
	case KindIPv4:
		ip := netip.MustParseAddr(a.Host).As4()
		return append(b, ip[:]...), nil
	case KindDomain:
		if v != V4A {
			return nil, fmt.Errorf("%w: %q is not an IPv4 address and %s cannot resolve hostnames", ErrInvalidHost, a.Host, v)
		}
		b = append(b, socks4aSentinel[:]...)
		b = append(b, a.Host...)
		return append(b, 0), nil
	case KindIPv6:
		return nil, fmt.Errorf("%w: %s cannot carry IPv6 address %q", ErrUnsupportedAddress, v, a.Host)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidHost, a.Host)
	}
}

// DecodeAddr parses an address in the form produced by [EncodeAddr] and
// reports how many bytes it used. If b ends before the frame its type
// declares, the error wraps [ErrTruncatedReply].
func DecodeAddr(v Version, b []byte) (Addr, int, error) {
	switch v {
	case V5:
		return decodeV5(b)
	case V4, V4A:
		return decodeV4(v, b)
	default:
		return Addr{}, 0, fmt.Errorf("unknown socks version %d", int(v))
	}
}

func decodeV5(b []byte) (Addr, int, error) {
	if len(b) < 1 {
		return Addr{}, 0, fmt.Errorf("%w: missing address type", ErrTruncatedReply)
	}

	var (
		host string
		n    int
	)
	switch b[0] {
	case txsocks5.ATYPIPv4:
		n = 1 + 4
		if len(b) < n+2 {
			return Addr{}, 0, fmt.Errorf("%w: ipv4 address needs %d bytes, have %d", ErrTruncatedReply, n+2, len(b))
		}
		host = netip.AddrFrom4([4]byte(b[1:n])).String()
	case txsocks5.ATYPDomain:
		if len(b) < 2 {
			return Addr{}, 0, fmt.Errorf("%w: missing domain length", ErrTruncatedReply)
		}
		n = 2 + int(b[1])
		if len(b) < n+2 {
			return Addr{}, 0, fmt.Errorf("%w: domain address needs %d bytes, have %d", ErrTruncatedReply, n+2, len(b))
		}
		host = string(b[2:n])
	case txsocks5.ATYPIPv6:
		n = 1 + 16
		if len(b) < n+2 {
			return Addr{}, 0, fmt.Errorf("%w: ipv6 address needs %d bytes, have %d", ErrTruncatedReply, n+2, len(b))
		}
		host = netip.AddrFrom16([16]byte(b[1:n])).String()
	default:
		return Addr{}, 0, fmt.Errorf("%w: address type %#02x", ErrUnsupportedAddress, b[0])
	}

	port := binary.BigEndian.Uint16(b[n : n+2])
	return Addr{Host: host, Port: port}, n + 2, nil
}

func decodeV4(v Version, b []byte) (Addr, int, error) {
	if len(b) < 6 {
		return Addr{}, 0, fmt.Errorf("%w: address needs 6 bytes, have %d", ErrTruncatedReply, len(b))
	}
	port := binary.BigEndian.Uint16(b[0:2])
	ip := [4]byte(b[2:6])

	if v != V4A || ip[0] != 0 || ip[1] != 0 || ip[2] != 0 || ip[3] == 0 {
		return Addr{Host: netip.AddrFrom4(ip).String(), Port: port}, 6, nil
	}

	end := -1
	for i := 6; i < len(b); i++ {
		if b[i] == 0 {
			end = i
			break
		}
	}
	if end < 0 {
		return Addr{}, 0, fmt.Errorf("%w: unterminated hostname", ErrTruncatedReply)
	}
	return Addr{Host: string(b[6:end]), Port: port}, end + 1, nil
}
