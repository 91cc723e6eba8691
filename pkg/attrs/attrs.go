// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

// Package attrs holds the connection attributes: the configuration that is
// built once from the command line and only read afterwards.
package attrs

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// ErrConflict is wrapped by Finalize for mutually exclusive settings.
var ErrConflict = errors.New("conflicting options")

// Infinite disables a hold timeout.
const Infinite time.Duration = -1

type Family int

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
	FamilyBluetooth
	FamilyIUCV
)

func (f Family) String() string {
	switch f {
	case FamilyUnspec:
		return "unspec"
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	case FamilyBluetooth:
		return "bluetooth"
	case FamilyIUCV:
		return "iucv"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

type Protocol int

const (
	ProtoUnspec Protocol = iota
	ProtoTCP
	ProtoUDP
	ProtoSCO
	ProtoL2CAP
)

func (p Protocol) String() string {
	switch p {
	case ProtoUnspec:
		return "unspec"
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoSCO:
		return "sco"
	case ProtoL2CAP:
		return "l2cap"
	}
	return fmt.Sprintf("proto(%d)", int(p))
}

type Flags uint

const (
	NumericMode Flags = 1 << iota
	Listen
	DontReuseAddr
	RecvOnly
	SendOnly
	DisableNagle
	Continuous
)

func (f Flags) Has(flag Flags) bool { return f&flag == flag }

// Address is a node/service pair. Either half may be empty.
type Address struct {
	Node    string
	Service string
}

func (a Address) IsSet() bool { return a.Node != "" || a.Service != "" }

func (a Address) String() string {
	node := a.Node
	if node == "" {
		node = "*"
	}
	service := a.Service
	if service == "" {
		service = "*"
	}
	return node + " " + service
}

type Attributes struct {
	Family   Family
	Protocol Protocol
	Remote   Address
	Local    Address
	Flags    Flags

	// BufferSize is the capacity of each of the two transfer buffers.
	BufferSize int
	// RemoteMTU caps a single write to the remote endpoint, 0 is unlimited.
	RemoteMTU int
	// RemoteNRU is the least free space worth reading from the remote into.
	RemoteNRU int
	// SendBufferSize and RecvBufferSize set SO_SNDBUF/SO_RCVBUF when non-zero.
	SendBufferSize int
	RecvBufferSize int

	// ConnectTimeout bounds connects and the wait for an incoming connection.
	ConnectTimeout time.Duration
	// IdleTimeout ends the transfer with an error after that much inactivity.
	IdleTimeout time.Duration
	LocalHold   time.Duration
	RemoteHold  time.Duration

	LocalNoHalfClose  bool
	RemoteNoHalfClose bool

	// Exec, when set, is run for every connection and used as the local end.
	Exec string

	finalized bool
}

const (
	streamBufferSize = 64 * 1024
	dgramBufferSize  = 128 * 1024
	dgramMTU         = 8 * 1024
	dgramNRU         = 64 * 1024
	// default outgoing MTU of an L2CAP channel
	l2capMTU = 672
)

// New returns attributes with the defaults that do not depend on the protocol.
func New() *Attributes {
	return &Attributes{
		LocalHold:         Infinite,
		RemoteHold:        0,
		RemoteNoHalfClose: true,
	}
}

// SockType returns the socket type implied by the family and protocol.
func (a *Attributes) SockType() int {
	switch a.Protocol {
	case ProtoUDP:
		return unix.SOCK_DGRAM
	case ProtoSCO, ProtoL2CAP:
		return unix.SOCK_SEQPACKET
	case ProtoTCP:
		return unix.SOCK_STREAM
	}
	if a.Family == FamilyBluetooth {
		return unix.SOCK_SEQPACKET
	}
	return unix.SOCK_STREAM
}

// Finalize validates the attributes and fills in the protocol dependent
// defaults. It must be called once, before the attributes are used.
func (a *Attributes) Finalize() error {
	if a.finalized {
		return nil
	}
	if a.Flags.Has(RecvOnly) && a.Flags.Has(SendOnly) {
		return fmt.Errorf("%w: receive-only and send-only", ErrConflict)
	}
	if a.Flags.Has(Continuous) {
		if !a.Flags.Has(Listen) {
			return fmt.Errorf("%w: continuous accept requires listen mode", ErrConflict)
		}
		if a.Exec == "" {
			return fmt.Errorf("%w: continuous accept requires an exec command", ErrConflict)
		}
	}

	switch a.Protocol {
	case ProtoSCO, ProtoL2CAP:
		if a.Family != FamilyBluetooth {
			return fmt.Errorf("%w: %s requires the bluetooth family", ErrConflict, a.Protocol)
		}
	case ProtoTCP, ProtoUDP:
		if a.Family == FamilyBluetooth {
			return fmt.Errorf("%w: %s is not available over bluetooth", ErrConflict, a.Protocol)
		}
	case ProtoUnspec:
		if a.Family == FamilyBluetooth {
			a.Protocol = ProtoL2CAP
		}
	}
	if a.Family == FamilyIUCV && a.Protocol == ProtoUDP {
		return fmt.Errorf("%w: udp is not available over iucv", ErrConflict)
	}
	// Each datagram peer takes over the listening socket, and the next one
	// is received on a new socket bound to the same port.
	if a.Flags.Has(Continuous|DontReuseAddr) && a.SockType() == unix.SOCK_DGRAM {
		return fmt.Errorf("%w: continuous datagram listening needs address reuse", ErrConflict)
	}

	if !a.Flags.Has(Listen) && a.Remote.Node == "" {
		return errors.New("remote address required")
	}

	for _, v := range []struct {
		name string
		val  int
	}{
		{"buffer size", a.BufferSize},
		{"mtu", a.RemoteMTU},
		{"nru", a.RemoteNRU},
		{"send buffer size", a.SendBufferSize},
		{"receive buffer size", a.RecvBufferSize},
	} {
		if v.val < 0 {
			return fmt.Errorf("invalid %s %d", v.name, v.val)
		}
	}

	if a.SockType() == unix.SOCK_STREAM {
		if a.BufferSize == 0 {
			a.BufferSize = streamBufferSize
		}
		if a.RemoteNRU == 0 {
			a.RemoteNRU = 1
		}
	} else {
		if a.BufferSize == 0 {
			a.BufferSize = dgramBufferSize
		}
		if a.RemoteMTU == 0 {
			a.RemoteMTU = dgramMTU
			if a.Family == FamilyBluetooth {
				a.RemoteMTU = l2capMTU
			}
		}
		if a.RemoteNRU == 0 {
			a.RemoteNRU = dgramNRU
		}
	}
	// A read is never attempted with less than NRU bytes free, so the
	// buffer it reads into has to hold at least that much.
	if a.RemoteNRU > a.BufferSize {
		a.BufferSize = a.RemoteNRU
	}

	a.finalized = true
	return nil
}

// Finalized reports whether Finalize succeeded.
func (a *Attributes) Finalized() bool { return a.finalized }
