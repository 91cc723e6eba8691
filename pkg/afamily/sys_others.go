// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package afamily

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// Bluetooth and IUCV sockets only exist on Linux. The constants carry the
// Linux values so that socket creation fails with EAFNOSUPPORT elsewhere.
const (
	AFBluetooth  = 31
	AFIUCV       = 32
	BTProtoL2CAP = 0
	BTProtoSCO   = 2
)

func socket(domain, typ, proto int) (int, error) {
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(domain, typ, proto)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	return fd, err
}

func bind(fd int, sa Sockaddr) error {
	usa, err := toUnix(sa)
	if err != nil {
		return err
	}
	return unix.Bind(fd, usa)
}

func connect(fd int, sa Sockaddr) error {
	usa, err := toUnix(sa)
	if err != nil {
		return err
	}
	return unix.Connect(fd, usa)
}

func acceptConn(b *boundSocket) (int, Sockaddr, error) {
	syscall.ForkLock.RLock()
	nfd, usa, err := unix.Accept(b.fd)
	if err == nil {
		unix.CloseOnExec(nfd)
	}
	syscall.ForkLock.RUnlock()
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

func toUnix(sa Sockaddr) (unix.Sockaddr, error) {
	if in, ok := sa.(InetAddr); ok {
		return in.toUnix(), nil
	}
	return nil, fmt.Errorf("%T: %w", sa, unix.EAFNOSUPPORT)
}

func fromUnix(usa unix.Sockaddr) (Sockaddr, error) {
	if in, ok := inetFromUnix(usa); ok {
		return in, nil
	}
	return nil, errors.New("unsupported socket address type")
}
