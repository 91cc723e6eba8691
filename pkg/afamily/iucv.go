// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package afamily

import (
	"context"

	"golang.org/x/sys/unix"
)

// iucvFamily maps node to the VM user id and service to the application name.
type iucvFamily struct{}

func (iucvFamily) resolve(_ context.Context, hints Hints, addr Address) ([]AddrInfo, error) {
	sockType := hints.SockType
	if sockType == 0 {
		sockType = unix.SOCK_STREAM
	}
	sa, err := NewIUCVAddr(addr.Node, addr.Service)
	if err != nil {
		return nil, err
	}
	return []AddrInfo{{Family: AFIUCV, SockType: sockType, Addr: sa}}, nil
}
