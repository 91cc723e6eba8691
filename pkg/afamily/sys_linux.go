// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package afamily

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	AFBluetooth  = unix.AF_BLUETOOTH
	AFIUCV       = unix.AF_IUCV
	BTProtoL2CAP = unix.BTPROTO_L2CAP
	BTProtoSCO   = unix.BTPROTO_SCO
)

func socket(domain, typ, proto int) (int, error) {
	return unix.Socket(domain, typ|unix.SOCK_CLOEXEC, proto)
}

// rawSockaddrSCO is struct sockaddr_sco, which x/sys/unix does not know.
type rawSockaddrSCO struct {
	Family uint16
	Bdaddr [6]byte
}

const sizeofSockaddrSCO = 8

func scoCall(trap uintptr, fd int, sa SCOAddr) error {
	raw := rawSockaddrSCO{Family: unix.AF_BLUETOOTH, Bdaddr: sa.Bdaddr.reversed()}
	_, _, errno := unix.Syscall(trap, uintptr(fd), uintptr(unsafe.Pointer(&raw)), sizeofSockaddrSCO)
	if errno != 0 {
		return errno
	}
	return nil
}

func bind(fd int, sa Sockaddr) error {
	if sco, ok := sa.(SCOAddr); ok {
		return scoCall(unix.SYS_BIND, fd, sco)
	}
	usa, err := toUnix(sa)
	if err != nil {
		return err
	}
	return unix.Bind(fd, usa)
}

func connect(fd int, sa Sockaddr) error {
	if sco, ok := sa.(SCOAddr); ok {
		return scoCall(unix.SYS_CONNECT, fd, sco)
	}
	usa, err := toUnix(sa)
	if err != nil {
		return err
	}
	return unix.Connect(fd, usa)
}

// acceptConn accepts a connection on the listening socket b.
func acceptConn(b *boundSocket) (int, Sockaddr, error) {
	if b.ai.Protocol == BTProtoSCO && b.ai.Family == AFBluetooth {
		return acceptSCO(b.fd)
	}
	nfd, usa, err := unix.Accept4(b.fd, unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	peer, err := fromUnix(usa)
	if err != nil {
		closeFd(nfd)
		return -1, nil, err
	}
	return nfd, peer, nil
}

func acceptSCO(fd int) (int, Sockaddr, error) {
	var rsa unix.RawSockaddrAny
	size := uint32(unix.SizeofSockaddrAny)
	nfd, _, errno := unix.Syscall6(unix.SYS_ACCEPT4, uintptr(fd),
		uintptr(unsafe.Pointer(&rsa)), uintptr(unsafe.Pointer(&size)), unix.SOCK_CLOEXEC, 0, 0)
	if errno != 0 {
		return -1, nil, errno
	}
	raw := (*rawSockaddrSCO)(unsafe.Pointer(&rsa))
	return int(nfd), SCOAddr{Bdaddr: Bdaddr(raw.Bdaddr).reversed()}, nil
}

func toUnix(sa Sockaddr) (unix.Sockaddr, error) {
	switch sa := sa.(type) {
	case InetAddr:
		return sa.toUnix(), nil
	case L2Addr:
		// SockaddrL2 takes the address in written order and reverses it itself
		return &unix.SockaddrL2{PSM: sa.PSM, Addr: sa.Bdaddr}, nil
	case IUCVAddr:
		return &unix.SockaddrIUCV{UserID: string(sa.UserID[:]), Name: string(sa.Name[:])}, nil
	}
	return nil, fmt.Errorf("%T: %w", sa, unix.EAFNOSUPPORT)
}

func fromUnix(usa unix.Sockaddr) (Sockaddr, error) {
	if in, ok := inetFromUnix(usa); ok {
		return in, nil
	}
	switch sa := usa.(type) {
	case *unix.SockaddrL2:
		// decoded in kernel byte order
		return L2Addr{Bdaddr: Bdaddr(sa.Addr).reversed(), PSM: sa.PSM}, nil
	case *unix.SockaddrIUCV:
		a := IUCVAddr{UserID: blank8, Name: blank8}
		copy(a.UserID[:], sa.UserID)
		copy(a.Name[:], sa.Name)
		return a, nil
	}
	return nil, errors.New("unsupported socket address type")
}
