//go:build linux

package netpoll

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Socket is a connected, non-blocking TCP stream.
type Socket struct {
	fd     int
	remote string
}

func (s *Socket) Fd() int { return s.fd }

// RemoteAddr returns the peer address as host:port.
func (s *Socket) RemoteAddr() string { return s.remote }

// Read performs one non-blocking read. 0, nil means the peer closed its
// write side.
func (s *Socket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if wouldBlock(err) {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("read: %w", err)
	}
	return n, nil
}

// Write performs one non-blocking write and may accept only a prefix of p.
func (s *Socket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err != nil {
		if wouldBlock(err) {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// ListenSocket is a non-blocking listening TCP socket.
type ListenSocket struct {
	fd   int
	addr *net.TCPAddr
}

// Listen binds host:port and starts listening. Port 0 picks a free port;
// Addr reports the result.
func Listen(addr string) (*ListenSocket, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	family, sa := toSockaddr(tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return &ListenSocket{fd: fd, addr: fromSockaddr(bound)}, nil
}

func (l *ListenSocket) Fd() int { return l.fd }

func (l *ListenSocket) Addr() *net.TCPAddr { return l.addr }

// Accept returns one pending connection, or ErrWouldBlock when none is
// queued.
func (l *ListenSocket) Accept() (*Socket, error) {
	fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if wouldBlock(err) || errors.Is(err, unix.ECONNABORTED) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	remote := ""
	if a := fromSockaddr(sa); a != nil {
		remote = a.String()
	}
	return &Socket{fd: fd, remote: remote}, nil
}

func (l *ListenSocket) Close() error {
	return unix.Close(l.fd)
}

func wouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

func toSockaddr(a *net.TCPAddr) (int, unix.Sockaddr) {
	if a.IP == nil || a.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		if ip4 := a.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return unix.AF_INET6, sa
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, a.Addr[:])
		return &net.TCPAddr{IP: ip, Port: a.Port}
	}
	return nil
}
