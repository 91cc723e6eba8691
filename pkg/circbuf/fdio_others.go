// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package circbuf

import "golang.org/x/sys/unix"

// Without readv/writev only the first span is transferred; the remainder is
// picked up by the next call.

func readv(fd int, iovs [][]byte) (int, error) {
	return unix.Read(fd, iovs[0])
}

func writev(fd int, iovs [][]byte) (int, error) {
	return unix.Write(fd, iovs[0])
}
