package socks

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Version selects the SOCKS protocol variant spoken to the proxy.
type Version int

const (
	V4 Version = iota + 1
	V4A
	V5
)

func (v Version) String() string {
	switch v {
	case V4:
		return "socks4"
	case V4A:
		return "socks4a"
	case V5:
		return "socks5"
	default:
		return "socks(" + strconv.Itoa(int(v)) + ")"
	}
}

// DefaultPort is used when a proxy URL does not name a port.
const DefaultPort = 1080

// Config describes an upstream SOCKS proxy. It must not be modified once a
// connection attempt using it has started.
//
// Username is sent as the SOCKS4 ident. For SOCKS5, username/password
// authentication is offered only when both Username and Password are set.
type Config struct {
	Version  Version
	Host     string
	Port     uint16
	Username string
	Password string
}

// Addr returns the proxy's host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// HasCredentials reports whether SOCKS5 username/password authentication
// should be offered.
func (c Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// String returns the proxy as a URL with the password redacted.
func (c Config) String() string {
	u := url.URL{Scheme: c.Version.String(), Host: c.Addr()}
	if c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, "xxxxx")
		} else {
			u.User = url.User(c.Username)
		}
	}
	return u.String()
}

// Validate checks that c can be used for a handshake.
func (c Config) Validate() error {
	switch c.Version {
	case V4, V4A, V5:
	default:
		return fmt.Errorf("unknown socks version %d", int(c.Version))
	}
	if c.Host == "" {
		return errors.New("missing proxy host")
	}
	if c.Port == 0 {
		return errors.New("missing proxy port")
	}
	if c.Version == V5 && (len(c.Username) > 255 || len(c.Password) > 255) {
		return errors.New("socks5 username and password must be at most 255 bytes")
	}
	if strings.IndexByte(c.Username, 0) >= 0 {
		return errors.New("username must not contain NUL")
	}
	return nil
}

// ParseURL parses a proxy URL of the form
// scheme://[user[:pass]@]host[:port] where scheme is one of socks4,
// socks4a, socks5 or socks5h. socks5h is accepted as an alias for socks5;
// hostnames are always resolved by the proxy.
func ParseURL(raw string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("invalid url: %w", err)
	}
	return FromURL(u)
}

// FromURL is like [ParseURL] for an already parsed URL.
func FromURL(u *url.URL) (Config, error) {
	var c Config
	switch strings.ToLower(u.Scheme) {
	case "socks4":
		c.Version = V4
	case "socks4a":
		c.Version = V4A
	case "socks5", "socks5h":
		c.Version = V5
	case "":
		return Config{}, errors.New("invalid url: missing scheme")
	default:
		return Config{}, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}

	if u.Path != "" && u.Path != "/" {
		return Config{}, errors.New("invalid url: path should be empty")
	}

	c.Host = u.Hostname()
	if c.Host == "" {
		return Config{}, errors.New("invalid url: missing host")
	}

	c.Port = DefaultPort
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("invalid url: bad port %q", p)
		}
		c.Port = uint16(n)
	}

	if u.User != nil {
		c.Username = u.User.Username()
		c.Password, _ = u.User.Password()
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
