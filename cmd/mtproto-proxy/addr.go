package main

import (
	"fmt"
	"net"
	"strconv"
)

// splitHostPort parses a "host:port" listen address into the raw IPv4
// bytes and port unix.Bind needs. IPv6 listen addresses are out of
// scope: the --ipv6 flag only selects which DC address family to dial
// out to, not which family this process listens on.
func splitHostPort(addr string) (host [4]byte, port int, err error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return host, 0, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}

	portNum, err := strconv.Atoi(p)
	if err != nil {
		return host, 0, fmt.Errorf("invalid listen port %q: %w", p, err)
	}

	ip := net.ParseIP(h)
	if ip == nil {
		return host, 0, fmt.Errorf("invalid listen host %q", h)
	}
	v4 := ip.To4()
	if v4 == nil {
		return host, 0, fmt.Errorf("listen host %q is not an IPv4 address", h)
	}
	copy(host[:], v4)
	return host, portNum, nil
}
