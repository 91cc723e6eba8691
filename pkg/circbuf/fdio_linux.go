// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package circbuf

import "golang.org/x/sys/unix"

func readv(fd int, iovs [][]byte) (int, error) {
	return unix.Readv(fd, iovs)
}

func writev(fd int, iovs [][]byte) (int, error) {
	return unix.Writev(fd, iovs)
}
