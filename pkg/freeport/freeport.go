// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

// Package freeport finds ports that are not in use on a local address.
package freeport

import (
	"fmt"
	"net"
	"net/netip"
)

// TCP returns a TCP port that is currently free on host.
func TCP(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return port(l.Addr())
}

// UDP returns a UDP port that is currently free on host.
func UDP(host string) (int, error) {
	c, err := net.ListenPacket("udp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer c.Close()
	return port(c.LocalAddr())
}

func port(addr net.Addr) (int, error) {
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return 0, fmt.Errorf("unexpected address %v: %w", addr, err)
	}
	if ap.Port() == 0 {
		return 0, fmt.Errorf("unexpected port %d", ap.Port())
	}
	return int(ap.Port()), nil
}
