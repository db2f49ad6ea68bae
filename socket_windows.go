//go:build windows

package reactor

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/windows"
)

var errUnsupportedAddrFamily = errors.New("reactor: unsupported address family")

func resolveTCPAddrs(host string, port int) ([]*net.TCPAddr, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	addrs := make([]*net.TCPAddr, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: port})
	}
	return addrs, nil
}

func toSockaddr(addr *net.TCPAddr) (windows.Sockaddr, int, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &windows.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, windows.AF_INET, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &windows.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		return sa, windows.AF_INET6, nil
	}
	return nil, 0, errUnsupportedAddrFamily
}

func newNonblockSocket(family int) (int, error) {
	fd, err := windows.Socket(family, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	var mode uint32 = 1
	if err := windows.Ioctlsocket(fd, windows.FIONBIO, &mode); err != nil {
		_ = windows.Closesocket(fd)
		return -1, err
	}
	return int(fd), nil
}

func dialNonblock(addr *net.TCPAddr) (int, error) {
	sa, family, err := toSockaddr(addr)
	if err != nil {
		return -1, err
	}
	fd, err := newNonblockSocket(family)
	if err != nil {
		return -1, err
	}
	err = windows.Connect(windows.Handle(fd), sa)
	return fd, err
}

func socketConnectError(fd int) error {
	errno, err := windows.GetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return syscall.Errno(errno)
	}
	return nil
}

func listenTCP(addr *net.TCPAddr, backlog int) (int, error) {
	sa, family, err := toSockaddr(addr)
	if err != nil {
		return -1, err
	}
	fd, err := newNonblockSocket(family)
	if err != nil {
		return -1, err
	}
	if err := windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
		_ = windows.Closesocket(windows.Handle(fd))
		return -1, err
	}
	if err := windows.Bind(windows.Handle(fd), sa); err != nil {
		_ = windows.Closesocket(windows.Handle(fd))
		return -1, err
	}
	if err := windows.Listen(windows.Handle(fd), backlog); err != nil {
		_ = windows.Closesocket(windows.Handle(fd))
		return -1, err
	}
	return fd, nil
}

func acceptNonblock(fd int) (int, error) {
	nfd, err := windows.Accept(windows.Handle(fd))
	if err != nil {
		return -1, err
	}
	var mode uint32 = 1
	if err := windows.Ioctlsocket(nfd, windows.FIONBIO, &mode); err != nil {
		_ = windows.Closesocket(nfd)
		return -1, err
	}
	return int(nfd), nil
}

func shutdownRead(fd int) error {
	return windows.Shutdown(windows.Handle(fd), windows.SHUT_RD)
}

func isInProgress(err error) bool {
	return errors.Is(err, windows.WSAEWOULDBLOCK) || errors.Is(err, windows.WSAEALREADY) || errors.Is(err, windows.WSAEINVAL)
}

func isRetryableConnectErr(err error) bool {
	return errors.Is(err, windows.WSAECONNREFUSED) || errors.Is(err, windows.WSAEADDRNOTAVAIL)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, windows.WSAEWOULDBLOCK)
}
