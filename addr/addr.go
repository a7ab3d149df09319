// Package addr parses MonetDB endpoint specifications. An endpoint is a
// bare port, host:port, [ipv6]:port, or a filesystem path for a Unix
// domain socket. A bare port follows the MonetDB convention of being
// reachable both on /tmp/.s.monetdb.<port> and on localhost TCP.
package addr

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ErrParse wraps every address syntax error.
var ErrParse = errors.New("invalid address")

var (
	hostPortRe = regexp.MustCompile(`^(.+):(\d+)$`)
	bracketRe  = regexp.MustCompile(`^\[([0-9a-fA-F:]+)\]$`)
	dnsNameRe  = regexp.MustCompile(`^[a-zA-Z0-9][-a-zA-Z0-9.]*$`)
)

// Kind discriminates the parsed endpoint forms.
type Kind uint8

const (
	KindPortOnly Kind = iota
	KindHost
	KindIP
	KindUnix
)

// MonetAddr is a parsed but not yet resolved endpoint.
type MonetAddr struct {
	kind Kind
	host string // KindHost
	ip   net.IP // KindIP
	port uint16
	path string // KindUnix
}

func (a MonetAddr) Kind() Kind { return a.kind }

func (a MonetAddr) String() string {
	switch a.kind {
	case KindPortOnly:
		return strconv.Itoa(int(a.port))
	case KindHost:
		return fmt.Sprintf("%s:%d", a.host, a.port)
	case KindIP:
		if a.ip.To4() == nil {
			return fmt.Sprintf("[%s]:%d", a.ip, a.port)
		}
		return fmt.Sprintf("%s:%d", a.ip, a.port)
	default:
		return a.path
	}
}

// Parse converts an endpoint specification into a MonetAddr.
func Parse(s string) (MonetAddr, error) {
	if s == "" {
		return MonetAddr{}, fmt.Errorf("%w: empty string", ErrParse)
	}

	// Anything containing a path separator is a Unix socket path.
	if strings.ContainsAny(s, `/\`) {
		return MonetAddr{kind: KindUnix, path: s}, nil
	}

	if port, err := strconv.ParseUint(s, 10, 16); err == nil {
		return MonetAddr{kind: KindPortOnly, port: uint16(port)}, nil
	}
	if _, err := strconv.ParseUint(s, 10, 64); err == nil {
		return MonetAddr{}, fmt.Errorf("%w: port out of range: %s", ErrParse, s)
	}

	m := hostPortRe.FindStringSubmatch(s)
	if m == nil {
		return MonetAddr{}, fmt.Errorf("%w: %q", ErrParse, s)
	}
	hostPart := m[1]
	port, err := strconv.ParseUint(m[2], 10, 16)
	if err != nil {
		return MonetAddr{}, fmt.Errorf("%w: bad port in %q", ErrParse, s)
	}

	if b := bracketRe.FindStringSubmatch(hostPart); b != nil {
		ip := net.ParseIP(b[1])
		if ip == nil || ip.To4() != nil {
			return MonetAddr{}, fmt.Errorf("%w: bad IPv6 address in %q", ErrParse, s)
		}
		return MonetAddr{kind: KindIP, ip: ip, port: uint16(port)}, nil
	}
	if strings.ContainsAny(hostPart, "[]") {
		return MonetAddr{}, fmt.Errorf("%w: unbalanced brackets in %q", ErrParse, s)
	}
	if ip := net.ParseIP(hostPart); ip != nil && ip.To4() != nil {
		return MonetAddr{kind: KindIP, ip: ip, port: uint16(port)}, nil
	}
	if dnsNameRe.MatchString(hostPart) {
		return MonetAddr{kind: KindHost, host: hostPart, port: uint16(port)}, nil
	}
	return MonetAddr{}, fmt.Errorf("%w: %q", ErrParse, s)
}

// Addr is a single resolved, connectable or bindable address.
type Addr struct {
	// Network is "tcp" or "unix".
	network string
	// target is host:port for tcp, the socket path for unix.
	target string
}

func (a Addr) Network() string { return a.network }
func (a Addr) Target() string  { return a.target }
func (a Addr) IsUnix() bool    { return a.network == "unix" }
func (a Addr) String() string  { return a.target }

// TCPAddr builds a resolved TCP address.
func TCPAddr(target string) Addr { return Addr{network: "tcp", target: target} }

// UnixAddr builds a resolved Unix socket address.
func UnixAddr(path string) Addr { return Addr{network: "unix", target: path} }

// Resolve expands the endpoint into concrete addresses, Unix candidates
// first so that local connections prefer the faster transport.
func (a MonetAddr) Resolve() ([]Addr, error) {
	var out []Addr

	switch a.kind {
	case KindUnix:
		return []Addr{UnixAddr(a.path)}, nil
	case KindPortOnly:
		out = append(out, UnixAddr(fmt.Sprintf("/tmp/.s.monetdb.%d", a.port)))
		tcp, err := resolveTCP("localhost", a.port)
		if err != nil {
			// The Unix candidate still stands.
			return out, nil
		}
		return append(out, tcp...), nil
	case KindIP:
		return []Addr{TCPAddr(net.JoinHostPort(a.ip.String(), strconv.Itoa(int(a.port))))}, nil
	default:
		return resolveTCP(a.host, a.port)
	}
}

func resolveTCP(host string, port uint16) ([]Addr, error) {
	ips, err := net.LookupHost(host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	out := make([]Addr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, TCPAddr(net.JoinHostPort(ip, strconv.Itoa(int(port)))))
	}
	return out, nil
}
