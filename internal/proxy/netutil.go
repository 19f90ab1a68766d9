package proxy

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

type resolvedAddr struct {
	family   int
	sockaddr unix.Sockaddr
}

// resolveEndpoint turns an Endpoint's host/port into a raw sockaddr
// suitable for a non-blocking unix.Connect, picking IPv4 or IPv6 based
// on what the host resolves to.
func resolveEndpoint(ep Endpoint) (resolvedAddr, error) {
	ip := net.ParseIP(ep.Host)
	if ip == nil {
		addrs, err := net.LookupIP(ep.Host)
		if err != nil {
			return resolvedAddr{}, fmt.Errorf("proxy: resolve %s: %w", ep.Host, err)
		}
		if len(addrs) == 0 {
			return resolvedAddr{}, fmt.Errorf("proxy: no addresses for %s", ep.Host)
		}
		ip = addrs[0]
	}

	if v4 := ip.To4(); v4 != nil {
		var addr [4]byte
		copy(addr[:], v4)
		return resolvedAddr{
			family:   unix.AF_INET,
			sockaddr: &unix.SockaddrInet4{Port: ep.Port, Addr: addr},
		}, nil
	}

	var addr [16]byte
	copy(addr[:], ip.To16())
	return resolvedAddr{
		family:   unix.AF_INET6,
		sockaddr: &unix.SockaddrInet6{Port: ep.Port, Addr: addr},
	}, nil
}

// dialNonBlocking starts a non-blocking TCP connect to ep. Per the
// single-threaded model, the connect is allowed to return EINPROGRESS;
// the selector's subsequent writable notification confirms completion.
func dialNonBlocking(ep Endpoint) (int, error) {
	resolved, err := resolveEndpoint(ep)
	if err != nil {
		return 0, err
	}

	fd, err := unix.Socket(resolved.family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return 0, fmt.Errorf("proxy: socket: %w", err)
	}

	if err := unix.Connect(fd, resolved.sockaddr); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return 0, fmt.Errorf("proxy: connect: %w", err)
	}
	return fd, nil
}
