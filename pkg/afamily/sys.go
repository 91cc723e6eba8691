// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package afamily

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// sysOps are the socket calls whose failures the engine reacts to.
// Tests replace them to simulate kernels without IPv6 or dual-stack sockets.
type sysOps struct {
	socket    func(domain, typ, proto int) (int, error)
	setV6Only func(fd int) error
}

var defaultSysOps = sysOps{
	socket: socket,
	setV6Only: func(fd int) error {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
	},
}

// connectTimeout connects fd to sa, giving up after timeout if it is
// positive, in which case fd is left in non-blocking mode.
func connectTimeout(fd int, sa Sockaddr, timeout time.Duration) error {
	if timeout <= 0 {
		err := connect(fd, sa)
		if errors.Is(err, unix.EINTR) {
			// the connect carries on in the background
			return waitConnected(fd, time.Time{})
		}
		return err
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("set non-blocking: %w", err)
	}
	err := connect(fd, sa)
	if err != nil {
		if !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EINTR) {
			return err
		}
		return waitConnected(fd, time.Now().Add(timeout))
	}
	return nil
}

// waitConnected waits for a pending connect on fd to complete and returns
// its outcome. A zero deadline waits forever.
func waitConnected(fd int, deadline time.Time) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		timeout := -1
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return ErrTimeout
			}
			timeout = int((left + time.Millisecond - 1) / time.Millisecond)
		}
		n, err := unix.Poll(pfd, timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return ErrTimeout
		}
		break
	}
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}

// peek returns the source of the next datagram queued on fd without
// consuming it.
func peek(fd int) (Sockaddr, error) {
	var b [1]byte
	for {
		_, from, err := unix.Recvfrom(fd, b[:], unix.MSG_PEEK)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if from == nil {
			return nil, errors.New("datagram without source address")
		}
		return fromUnix(from)
	}
}

// discard consumes the next datagram queued on fd.
func discard(fd int) {
	var b [1]byte
	_, _, _ = unix.Recvfrom(fd, b[:], unix.MSG_DONTWAIT)
}

func getsockname(fd int) (Sockaddr, error) {
	usa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	return fromUnix(usa)
}

func dup(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
}

func closeFd(fd int) {
	_ = unix.Close(fd)
}
