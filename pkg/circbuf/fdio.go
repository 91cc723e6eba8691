// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package circbuf

import (
	"errors"

	"golang.org/x/sys/unix"
)

// FillFrom reads up to limit bytes (limit <= 0: as many as fit) from fd into the
// free region of the buffer with a single vectored read.
//
// A return of 0 with a nil error is not treated specially here; deciding
// whether it means end of stream is up to the caller.
func (b *Buffer) FillFrom(fd, limit int) (int, error) {
	if b.IsFull() {
		return 0, ErrFull
	}
	iovs := b.freeSpans(limit)
	for {
		n, err := readv(fd, iovs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		b.produced(n)
		return n, nil
	}
}

// RecvFrom is FillFrom for sockets, additionally returning the address the
// data was sent from.
func (b *Buffer) RecvFrom(fd, limit int) (int, unix.Sockaddr, error) {
	if b.IsFull() {
		return 0, nil, ErrFull
	}
	iovs := b.freeSpans(limit)
	for {
		n, _, _, from, err := unix.RecvmsgBuffers(fd, iovs, nil, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, nil, err
		}
		b.produced(n)
		return n, from, nil
	}
}

// DrainTo writes up to limit of the oldest bytes (limit <= 0: all of them) to fd
// with a single vectored write, and discards what was written.
func (b *Buffer) DrainTo(fd, limit int) (int, error) {
	if b.IsEmpty() {
		return 0, nil
	}
	iovs := b.usedSpans(limit)
	for {
		n, err := writev(fd, iovs)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		b.consumed(n)
		return n, nil
	}
}

// SendTo is DrainTo for sockets with an explicit destination. A nil to sends
// to the connected peer.
func (b *Buffer) SendTo(fd, limit int, to unix.Sockaddr) (int, error) {
	if b.IsEmpty() {
		return 0, nil
	}
	iovs := b.usedSpans(limit)
	for {
		n, err := unix.SendmsgBuffers(fd, iovs, nil, to, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		b.consumed(n)
		return n, nil
	}
}
