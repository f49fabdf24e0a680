package socks

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		host string
		want AddrKind
	}{
		{"127.0.0.1", KindIPv4},
		{"0.0.0.0", KindIPv4},
		{"example.com", KindDomain},
		{"example.com.", KindDomain},
		{"localhost", KindDomain},
		{"www.163.com", KindDomain},
		{"xn--bcher-kva.example", KindDomain},
		{"a-b.c-d.e", KindDomain},
		{"::1", KindIPv6},
		{"2001:db8::1", KindIPv6},
		{"::ffff:192.0.2.1", KindIPv6},
		{"fe80::1%eth0", KindInvalid},
		{"127.1", KindInvalid},
		{"256.1.1.1", KindInvalid},
		{"1.2.3.4.5", KindInvalid},
		{"", KindInvalid},
		{".", KindInvalid},
		{"-bad.example", KindInvalid},
		{"bad-.example", KindInvalid},
		{"under_score.example", KindInvalid},
		{"a..b", KindInvalid},
		{"has space.example", KindInvalid},
		{strings.Repeat("a", 64) + ".example", KindInvalid},
		{strings.Repeat("a", 63) + ".example", KindDomain},
	}

	for _, tt := range tests {
		if got := Classify(tt.host); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.host, got, tt.want)
		}
	}
}

func TestHostnameLength(t *testing.T) {
	t.Parallel()

	label := strings.Repeat("a", 63)
	longest := strings.Repeat(label+".", 4)[:maxDomainLen]
	tests := []struct {
		name string
		host string
		want AddrKind
	}{
		{"255 bytes", longest, KindDomain},
		{"256 bytes with trailing dot", longest + ".", KindInvalid},
		{"256 bytes", "b." + strings.Repeat(label+".", 3) + label[:62], KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.host); got != tt.want {
				t.Fatalf("Classify(len %d) = %s, want %s", len(tt.host), got, tt.want)
			}

			b, err := EncodeAddr(V5, Addr{tt.host, 80})
			if tt.want == KindInvalid {
				if !errors.Is(err, ErrInvalidHost) {
					t.Fatalf("EncodeAddr err=%v, want ErrInvalidHost", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if int(b[1]) != len(tt.host) {
				t.Fatalf("length prefix %d, want %d", b[1], len(tt.host))
			}
			got, n, err := DecodeAddr(V5, b)
			if err != nil || n != len(b) || got.Host != tt.host {
				t.Fatalf("DecodeAddr = %d byte host, %d, %v; want %d byte host, %d", len(got.Host), n, err, len(tt.host), len(b))
			}
		})
	}
}

func TestEncodeAddr(t *testing.T) {
	t.Parallel()

	ipv6Loopback := append([]byte{0x04}, make([]byte, 15)...)
	ipv6Loopback = append(ipv6Loopback, 0x01, 0x01, 0xbb)

	tests := []struct {
		name    string
		version Version
		addr    Addr
		want    []byte
		wantErr error
	}{
		{
			name:    "socks5 ipv4",
			version: V5,
			addr:    Addr{"127.0.0.1", 8080},
			want:    []byte{0x01, 0x7f, 0x00, 0x00, 0x01, 0x1f, 0x90},
		},
		{
			name:    "socks5 domain",
			version: V5,
			addr:    Addr{"example.com", 80},
			want:    append(append([]byte{0x03, 11}, "example.com"...), 0x00, 0x50),
		},
		{
			name:    "socks5 ipv6",
			version: V5,
			addr:    Addr{"::1", 443},
			want:    ipv6Loopback,
		},
		{
			name:    "socks5 invalid",
			version: V5,
			addr:    Addr{"not a host", 80},
			wantErr: ErrInvalidHost,
		},
		{
			name:    "socks4 ipv4",
			version: V4,
			addr:    Addr{"127.0.0.1", 8080},
			want:    []byte{0x1f, 0x90, 0x7f, 0x00, 0x00, 0x01},
		},
		{
			name:    "socks4 domain",
			version: V4,
			addr:    Addr{"example.com", 80},
			wantErr: ErrInvalidHost,
		},
		{
			name:    "socks4 ipv6",
			version: V4,
			addr:    Addr{"::1", 80},
			wantErr: ErrUnsupportedAddress,
		},
		{
			name:    "socks4a domain",
			version: V4A,
			addr:    Addr{"example.com", 80},
			want:    append(append([]byte{0x00, 0x50, 0x00, 0x00, 0x00, 0x01}, "example.com"...), 0x00),
		},
		{
			name:    "socks4a ipv6",
			version: V4A,
			addr:    Addr{"2001:db8::1", 80},
			wantErr: ErrUnsupportedAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := EncodeAddr(tt.version, tt.addr)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("got % x, want % x", got, tt.want)
			}
		})
	}
}

func TestAddrRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version Version
		addr    Addr
	}{
		{V5, Addr{"192.0.2.7", 1}},
		{V5, Addr{"proxy.example.org", 65535}},
		{V5, Addr{"2001:db8::7", 8443}},
		{V4, Addr{"10.1.2.3", 80}},
		{V4A, Addr{"10.1.2.3", 80}},
		{V4A, Addr{"example.com", 443}},
	}

	for _, tt := range tests {
		b, err := EncodeAddr(tt.version, tt.addr)
		if err != nil {
			t.Fatalf("%s %s: encode: %v", tt.version, tt.addr, err)
		}
		got, n, err := DecodeAddr(tt.version, b)
		if err != nil {
			t.Fatalf("%s %s: decode: %v", tt.version, tt.addr, err)
		}
		if got != tt.addr {
			t.Errorf("%s: got %s, want %s", tt.version, got, tt.addr)
		}
		if n != len(b) {
			t.Errorf("%s %s: consumed %d of %d bytes", tt.version, tt.addr, n, len(b))
		}
	}
}

func TestDecodeAddrTruncated(t *testing.T) {
	t.Parallel()

	for _, addr := range []Addr{{"192.0.2.7", 80}, {"example.com", 80}, {"2001:db8::7", 80}} {
		b, err := EncodeAddr(V5, addr)
		if err != nil {
			t.Fatal(err)
		}
		for i := 0; i < len(b); i++ {
			if _, _, err := DecodeAddr(V5, b[:i]); !errors.Is(err, ErrTruncatedReply) {
				t.Errorf("%s: %d bytes: err=%v, want ErrTruncatedReply", addr, i, err)
			}
		}
	}

	if _, _, err := DecodeAddr(V5, []byte{0x02, 0, 0, 0, 0, 0, 0}); !errors.Is(err, ErrUnsupportedAddress) {
		t.Errorf("unknown address type: err=%v, want ErrUnsupportedAddress", err)
	}
	if _, _, err := DecodeAddr(V4A, []byte{0, 80, 0, 0, 0, 1, 'a', 'b'}); !errors.Is(err, ErrTruncatedReply) {
		t.Errorf("unterminated socks4a hostname: err=%v, want ErrTruncatedReply", err)
	}
}

func TestParseAddr(t *testing.T) {
	t.Parallel()

	a, err := ParseAddr("[2001:db8::1]:443")
	if err != nil {
		t.Fatal(err)
	}
	if a != (Addr{"2001:db8::1", 443}) {
		t.Fatalf("got %+v", a)
	}
	if a.String() != "[2001:db8::1]:443" {
		t.Fatalf("String() = %q", a.String())
	}

	for _, bad := range []string{"example.com", "example.com:http", "example.com:70000", ""} {
		if _, err := ParseAddr(bad); !errors.Is(err, ErrInvalidHost) {
			t.Errorf("ParseAddr(%q): err=%v, want ErrInvalidHost", bad, err)
		}
	}
}
