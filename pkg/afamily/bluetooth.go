// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package afamily

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sys/unix"
)

// bluetoothFamily takes device addresses literally; there is no name
// service. The service of an L2CAP address is its PSM.
type bluetoothFamily struct{}

func (bluetoothFamily) resolve(_ context.Context, hints Hints, addr Address) ([]AddrInfo, error) {
	proto := hints.Protocol
	if proto == 0 {
		proto = BTProtoL2CAP
	}
	sockType := hints.SockType
	if sockType == 0 {
		sockType = unix.SOCK_SEQPACKET
	}

	var bd Bdaddr
	if addr.Node != "" && addr.Node != "any" {
		var err error
		if bd, err = ParseBdaddr(addr.Node); err != nil {
			return nil, err
		}
	}

	ai := AddrInfo{Family: AFBluetooth, SockType: sockType, Protocol: proto}
	switch proto {
	case BTProtoL2CAP:
		var psm uint64
		if addr.Service != "" {
			var err error
			if psm, err = strconv.ParseUint(addr.Service, 0, 16); err != nil {
				return nil, fmt.Errorf("invalid l2cap psm %q", addr.Service)
			}
		}
		ai.Addr = L2Addr{Bdaddr: bd, PSM: uint16(psm)}
	case BTProtoSCO:
		ai.Addr = SCOAddr{Bdaddr: bd}
	default:
		return nil, fmt.Errorf("bluetooth protocol %d: %w", proto, unix.EPROTONOSUPPORT)
	}
	return []AddrInfo{ai}, nil
}
