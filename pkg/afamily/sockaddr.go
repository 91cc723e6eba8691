// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package afamily

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Sockaddr is a socket address of one of the supported families.
type Sockaddr interface {
	Family() int
	String() string
	// match reports whether peer is covered by the receiver used as a
	// filter. Zero fields on either side are wildcards.
	match(peer Sockaddr) bool
}

// Match reports whether the peer address passes the filter address.
// IPv4-mapped IPv6 addresses compare equal to the IPv4 address they carry.
func Match(filter, peer Sockaddr) bool {
	return normalize(filter).match(normalize(peer))
}

func normalize(sa Sockaddr) Sockaddr {
	if in, ok := sa.(InetAddr); ok && in.Addr().Is4In6() {
		return InetAddr{netip.AddrPortFrom(in.Addr().Unmap(), in.Port())}
	}
	return sa
}

// InetAddr is an IPv4 or IPv6 address with a port.
type InetAddr struct {
	netip.AddrPort
}

func (a InetAddr) Family() int {
	if a.Addr().Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

func (a InetAddr) String() string {
	return a.AddrPort.String()
}

func (a InetAddr) match(peer Sockaddr) bool {
	p, ok := peer.(InetAddr)
	if !ok {
		return false
	}
	fa, pa := a.Addr().WithZone(""), p.Addr().WithZone("")
	if !fa.IsUnspecified() && !pa.IsUnspecified() && fa != pa {
		return false
	}
	return a.Port() == 0 || p.Port() == 0 || a.Port() == p.Port()
}

func (a InetAddr) toUnix() unix.Sockaddr {
	ip := a.Addr()
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: int(a.Port()), Addr: ip.As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(a.Port()), Addr: ip.As16()}
	if zone := ip.Zone(); zone != "" {
		if ifi, err := net.InterfaceByName(zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		} else if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
			sa.ZoneId = uint32(n)
		}
	}
	return sa
}

func inetFromUnix(usa unix.Sockaddr) (InetAddr, bool) {
	switch sa := usa.(type) {
	case *unix.SockaddrInet4:
		return InetAddr{netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))}, true
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(sa.Addr)
		if sa.ZoneId != 0 {
			zone := strconv.FormatUint(uint64(sa.ZoneId), 10)
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = ifi.Name
			}
			ip = ip.WithZone(zone)
		}
		return InetAddr{netip.AddrPortFrom(ip, uint16(sa.Port))}, true
	}
	return InetAddr{}, false
}

// Bdaddr is a Bluetooth device address, most significant byte first as it
// is written ("00:11:22:33:44:55").
type Bdaddr [6]byte

// ParseBdaddr parses the colon separated form of a device address.
func ParseBdaddr(s string) (Bdaddr, error) {
	var b Bdaddr
	parts := strings.Split(s, ":")
	if len(parts) != len(b) {
		return b, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i, part := range parts {
		if len(part) != 2 {
			return b, fmt.Errorf("invalid bluetooth address %q", s)
		}
		if _, err := hex.Decode(b[i:i+1], []byte(part)); err != nil {
			return b, fmt.Errorf("invalid bluetooth address %q: %w", s, err)
		}
	}
	return b, nil
}

func (b Bdaddr) IsZero() bool { return b == Bdaddr{} }

func (b Bdaddr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}

// reversed returns the address in the byte order the kernel uses.
func (b Bdaddr) reversed() Bdaddr {
	var r Bdaddr
	for i := range b {
		r[i] = b[len(b)-1-i]
	}
	return r
}

func matchBdaddr(filter, peer Bdaddr) bool {
	return filter.IsZero() || peer.IsZero() || filter == peer
}

// L2Addr is a Bluetooth L2CAP address.
type L2Addr struct {
	Bdaddr Bdaddr
	PSM    uint16
}

func (a L2Addr) Family() int { return AFBluetooth }

func (a L2Addr) String() string {
	return fmt.Sprintf("%s/%d", a.Bdaddr, a.PSM)
}

func (a L2Addr) match(peer Sockaddr) bool {
	p, ok := peer.(L2Addr)
	if !ok {
		return false
	}
	return matchBdaddr(a.Bdaddr, p.Bdaddr) && (a.PSM == 0 || p.PSM == 0 || a.PSM == p.PSM)
}

// SCOAddr is a Bluetooth SCO address. SCO links have no port.
type SCOAddr struct {
	Bdaddr Bdaddr
}

func (a SCOAddr) Family() int { return AFBluetooth }

func (a SCOAddr) String() string { return a.Bdaddr.String() }

func (a SCOAddr) match(peer Sockaddr) bool {
	p, ok := peer.(SCOAddr)
	return ok && matchBdaddr(a.Bdaddr, p.Bdaddr)
}

// IUCVAddr is a z/VM IUCV address: a VM user id and an application name,
// each blank padded to eight characters.
type IUCVAddr struct {
	UserID [8]byte
	Name   [8]byte
}

var blank8 = [8]byte{' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}

// NewIUCVAddr builds an address from a user id and an application name of
// at most eight characters each.
func NewIUCVAddr(userID, name string) (IUCVAddr, error) {
	a := IUCVAddr{UserID: blank8, Name: blank8}
	if len(userID) > len(a.UserID) {
		return a, fmt.Errorf("iucv user id %q longer than %d characters", userID, len(a.UserID))
	}
	if len(name) > len(a.Name) {
		return a, fmt.Errorf("iucv name %q longer than %d characters", name, len(a.Name))
	}
	copy(a.UserID[:], userID)
	copy(a.Name[:], name)
	return a, nil
}

func (a IUCVAddr) Family() int { return AFIUCV }

func (a IUCVAddr) String() string {
	return fmt.Sprintf("%s.%s", bytes.TrimRight(a.UserID[:], " \x00"), bytes.TrimRight(a.Name[:], " \x00"))
}

func (a IUCVAddr) match(peer Sockaddr) bool {
	p, ok := peer.(IUCVAddr)
	if !ok {
		return false
	}
	return matchBlank(a.UserID, p.UserID) && matchBlank(a.Name, p.Name)
}

func matchBlank(filter, peer [8]byte) bool {
	isBlank := func(b [8]byte) bool { return len(bytes.Trim(b[:], " \x00")) == 0 }
	return isBlank(filter) || isBlank(peer) || filter == peer
}
