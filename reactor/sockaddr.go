package reactor

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// resolveSockaddr turns an (ip, port) pair as passed across the command
// surface into a unix.Sockaddr plus the address family to create the
// socket with. An empty ip resolves to the wildcard address
// (INADDR_ANY / in6addr_any), matching a bare port bind. Resolution
// failure is exactly the original's getaddrinfo failure path, surfaced
// here as reactorcore.ErrAddrInfo by the caller.
func resolveSockaddr(ip, port string) (unix.Sockaddr, int, error) {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, 0, err
	}

	var resolved net.IP
	if ip != "" {
		addrs, err := net.LookupIP(ip)
		if err != nil || len(addrs) == 0 {
			if err == nil {
				err = &net.AddrError{Err: "no such host", Addr: ip}
			}
			return nil, 0, err
		}
		resolved = addrs[0]
	}

	if resolved == nil || resolved.To4() != nil {
		var b [4]byte
		if v4 := resolved.To4(); v4 != nil {
			copy(b[:], v4)
		}
		return &unix.SockaddrInet4{Port: portNum, Addr: b}, unix.AF_INET, nil
	}

	var b [16]byte
	copy(b[:], resolved.To16())
	return &unix.SockaddrInet6{Port: portNum, Addr: b}, unix.AF_INET6, nil
}

// sockaddrToAddr converts an accepted/received peer's unix.Sockaddr
// back into a net.Addr for inclusion in bus messages (spec.md §4.2's
// "peer address string" / "sender address string").
func sockaddrToAddr(sa unix.Sockaddr, network string) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		if network == "udp" {
			return &net.UDPAddr{IP: ip, Port: a.Port}
		}
		return &net.TCPAddr{IP: ip, Port: a.Port}
	case *unix.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		if network == "udp" {
			return &net.UDPAddr{IP: ip, Port: a.Port}
		}
		return &net.TCPAddr{IP: ip, Port: a.Port}
	default:
		return nil
	}
}

// addrToSockaddr converts the destination net.Addr carried by a udp-send
// command back into a unix.Sockaddr for sendto(2). A nil addr (a
// udp-connect socket sending to its fixed peer) yields a nil
// unix.Sockaddr, which unix.Sendto treats as send(2) semantics.
func addrToSockaddr(addr net.Addr) unix.Sockaddr {
	udp, ok := addr.(*net.UDPAddr)
	if !ok || udp == nil {
		return nil
	}
	if v4 := udp.IP.To4(); v4 != nil {
		var b [4]byte
		copy(b[:], v4)
		return &unix.SockaddrInet4{Port: udp.Port, Addr: b}
	}
	var b [16]byte
	copy(b[:], udp.IP.To16())
	return &unix.SockaddrInet6{Port: udp.Port, Addr: b}
}
