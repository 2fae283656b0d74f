package server

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listen creates a non-blocking listening socket bound to addr (host:port;
// an empty or unspecified host binds any-address over both IPv4 and IPv6),
// with SO_REUSEADDR set before bind and a backlog of 10, per spec §6.
func listen(addr string) (fd int, boundAddr string, err error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, "", errors.Wrap(err, "parsing listen address")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, "", errors.Wrap(err, "parsing listen port")
	}

	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		return listenIPv4(ip.To4(), port)
	}
	return listenDualStack(host, port)
}

func listenIPv4(ip net.IP, port int) (int, string, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, "", errors.Wrap(err, "socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}

	var addr4 [4]byte
	copy(addr4[:], ip)
	sa := &unix.SockaddrInet4{Port: port, Addr: addr4}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "bind")
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "listen")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "setnonblock")
	}

	boundSA, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "getsockname")
	}
	bound := boundSA.(*unix.SockaddrInet4)
	return fd, net.JoinHostPort(net.IP(bound.Addr[:]).String(), strconv.Itoa(bound.Port)), nil
}

// listenDualStack binds an IPv6 socket to the any-address (empty host) or
// to a literal IP host, with IPV6_V6ONLY disabled; hostnames are not
// resolved and are rejected, so both IPv4 and IPv6 clients can connect to
// the same listener, matching spec §6 ("TCP, IPv4 and IPv6, any-address").
func listenDualStack(host string, port int) (int, string, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, "", errors.Wrap(err, "socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "setsockopt SO_REUSEADDR")
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "setsockopt IPV6_V6ONLY")
	}

	var addr6 [16]byte
	if host != "" {
		ip := net.ParseIP(host)
		if ip == nil {
			_ = unix.Close(fd)
			return 0, "", errors.Errorf("invalid listen host %q", host)
		}
		copy(addr6[:], ip.To16())
	}
	sa := &unix.SockaddrInet6{Port: port, Addr: addr6}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "bind")
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "listen")
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "setnonblock")
	}

	boundSA, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return 0, "", errors.Wrap(err, "getsockname")
	}
	bound := boundSA.(*unix.SockaddrInet6)
	return fd, net.JoinHostPort(net.IP(bound.Addr[:]).String(), strconv.Itoa(bound.Port)), nil
}

const listenBacklog = 10
