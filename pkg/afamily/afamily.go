// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

// Package afamily resolves addresses and establishes connections, actively
// or by listening, for the inet, Bluetooth and IUCV address families.
//
// The candidate loop of Connect and the bind/accept loop of Listen are
// shared by all families; a family only knows how to turn a node/service
// pair into candidate addresses.
package afamily

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	// ErrNoCandidates means resolution produced no address a socket could
	// even be created for.
	ErrNoCandidates = errors.New("no usable socket types returned by resolution")
	// ErrConnectFailed means every candidate address was tried and failed.
	ErrConnectFailed = errors.New("unable to connect to address/service")
	// ErrNoListeners means no local address could be bound.
	ErrNoListeners = errors.New("unable to bind to any local address")
	// ErrTimeout is returned when a connect or accept does not complete in time.
	ErrTimeout = errors.New("connection timed out")
)

// Address is a node/service pair as given by the user. Either half may be empty.
type Address struct {
	Node    string
	Service string
}

func (a Address) IsSet() bool { return a.Node != "" || a.Service != "" }

func (a Address) String() string {
	return fmt.Sprintf("%s/%s", a.Node, a.Service)
}

// Hints narrow down resolution, like the hints of getaddrinfo.
type Hints struct {
	// Family is one of unix.AF_UNSPEC, unix.AF_INET, unix.AF_INET6,
	// AFBluetooth or AFIUCV.
	Family   int
	SockType int
	Protocol int
	// Numeric disables name lookups.
	Numeric bool
	// Passive resolves an empty node to the wildcard address instead of loopback.
	Passive bool
}

// AddrInfo is one candidate address.
type AddrInfo struct {
	Family   int
	SockType int
	Protocol int
	Addr     Sockaddr
}

// SocketFunc configures a freshly created socket before it is bound or
// connected. It runs synchronously inside Connect and Listen.
type SocketFunc func(fd int, ai AddrInfo) error

// AcceptFunc receives every established connection. The descriptor is
// owned by the callee.
type AcceptFunc func(fd, sockType int) error

// family turns node/service pairs into candidate addresses.
type family interface {
	resolve(ctx context.Context, hints Hints, addr Address) ([]AddrInfo, error)
}

// Engine connects and listens for one address family.
type Engine struct {
	fam family
	sys sysOps
	log logrus.FieldLogger
}

// New returns the engine for the address family af.
func New(af int, log logrus.FieldLogger) (*Engine, error) {
	var fam family
	switch af {
	case unix.AF_UNSPEC, unix.AF_INET, unix.AF_INET6:
		fam = &inetFamily{resolver: net.DefaultResolver}
	case AFBluetooth:
		fam = bluetoothFamily{}
	case AFIUCV:
		fam = iucvFamily{}
	default:
		return nil, fmt.Errorf("address family %d: %w", af, unix.EAFNOSUPPORT)
	}
	return &Engine{fam: fam, sys: defaultSysOps, log: log}, nil
}

// usable filters resolved candidates before any socket is created for them.
func usable(ai AddrInfo, hints Hints) bool {
	switch ai.SockType {
	case unix.SOCK_STREAM, unix.SOCK_DGRAM, unix.SOCK_SEQPACKET:
	default:
		return false
	}
	if hints.SockType != 0 && ai.SockType != hints.SockType {
		return false
	}
	// IPv4 addresses dressed up as IPv6 bypass IPv4 access policies
	// (draft-itojun-v6ops-v4mapped-harmful).
	if in, ok := ai.Addr.(InetAddr); ok && in.Addr().Is4In6() {
		return false
	}
	return true
}

// unsupported reports socket creation errors that only mean the kernel
// lacks the family or protocol of a candidate.
func unsupported(err error) bool {
	for _, errno := range []unix.Errno{
		unix.EAFNOSUPPORT,
		unix.EPFNOSUPPORT,
		unix.EPROTONOSUPPORT,
		unix.ESOCKTNOSUPPORT,
		unix.EPROTOTYPE,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func sockTypeName(st int) string {
	switch st {
	case unix.SOCK_STREAM:
		return "stream"
	case unix.SOCK_DGRAM:
		return "dgram"
	case unix.SOCK_SEQPACKET:
		return "seqpacket"
	}
	return fmt.Sprintf("socktype(%d)", st)
}
