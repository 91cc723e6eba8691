// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package localexec

import "golang.org/x/sys/unix"

func pipe(p []int) error {
	return unix.Pipe2(p, unix.O_CLOEXEC)
}
