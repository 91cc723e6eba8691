// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

// Package connection establishes the connections described by the
// connection attributes and hands each one to a Handler.
package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/nc6-project/nc6/pkg/afamily"
	"github.com/nc6-project/nc6/pkg/attrs"
)

// Handler takes over an established connection. It owns fd.
type Handler func(ctx context.Context, fd, sockType int) error

// Run connects to, or listens for, the remote endpoint of a and calls
// handle for every established connection. In continuous mode each
// connection is handled on its own goroutine and Run only returns when
// listening fails; the error of a single connection is logged.
func Run(ctx context.Context, a *attrs.Attributes, handle Handler, log logrus.FieldLogger) error {
	if !a.Finalized() {
		return errors.New("connection attributes are not finalized")
	}
	af, err := addressFamily(a.Family)
	if err != nil {
		return err
	}
	engine, err := afamily.New(af, log)
	if err != nil {
		return err
	}
	hints := Hints(a)
	configure := SocketOptions(a, log)
	remote := afamily.Address{Node: a.Remote.Node, Service: a.Remote.Service}
	local := afamily.Address{Node: a.Local.Node, Service: a.Local.Service}

	if !a.Flags.Has(attrs.Listen) {
		fd, sockType, err := engine.Connect(ctx, hints, remote, local, configure, a.ConnectTimeout)
		if err != nil {
			return err
		}
		return handle(ctx, fd, sockType)
	}

	if !a.Flags.Has(attrs.Continuous) {
		return engine.Listen(ctx, hints, local, remote, configure, handle.established(ctx), a.ConnectTimeout, 1)
	}

	var g errgroup.Group
	accept := func(fd, sockType int) error {
		g.Go(func() error {
			if err := handle(ctx, fd, sockType); err != nil {
				log.WithError(err).Error("connection failed")
			}
			return nil
		})
		return nil
	}
	err = engine.Listen(ctx, hints, local, remote, configure, accept, a.ConnectTimeout, -1)
	_ = g.Wait()
	return err
}

func (h Handler) established(ctx context.Context) afamily.AcceptFunc {
	return func(fd, sockType int) error {
		return h(ctx, fd, sockType)
	}
}

func addressFamily(f attrs.Family) (int, error) {
	switch f {
	case attrs.FamilyUnspec:
		return unix.AF_UNSPEC, nil
	case attrs.FamilyIPv4:
		return unix.AF_INET, nil
	case attrs.FamilyIPv6:
		return unix.AF_INET6, nil
	case attrs.FamilyBluetooth:
		return afamily.AFBluetooth, nil
	case attrs.FamilyIUCV:
		return afamily.AFIUCV, nil
	}
	return 0, fmt.Errorf("unknown address family %s", f)
}

// Hints builds the resolver hints for a.
func Hints(a *attrs.Attributes) afamily.Hints {
	h := afamily.Hints{
		SockType: a.SockType(),
		Numeric:  a.Flags.Has(attrs.NumericMode),
	}
	h.Family, _ = addressFamily(a.Family)
	switch a.Protocol {
	case attrs.ProtoTCP:
		h.Protocol = unix.IPPROTO_TCP
	case attrs.ProtoUDP:
		h.Protocol = unix.IPPROTO_UDP
	case attrs.ProtoL2CAP:
		h.Protocol = afamily.BTProtoL2CAP
	case attrs.ProtoSCO:
		h.Protocol = afamily.BTProtoSCO
	}
	return h
}

// SocketOptions returns the callback that applies the socket options of a
// to every socket before it is bound or connected.
func SocketOptions(a *attrs.Attributes, log logrus.FieldLogger) afamily.SocketFunc {
	return func(fd int, ai afamily.AddrInfo) error {
		if !a.Flags.Has(attrs.DontReuseAddr) {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				return fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
			}
		}
		if a.Flags.Has(attrs.DisableNagle) {
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
				if isTCP(ai) || !optionUnsupported(err) {
					return fmt.Errorf("failed to set TCP_NODELAY: %w", err)
				}
				log.Debugf("TCP_NODELAY does not apply to %s", ai.Addr)
			}
		}
		if a.SendBufferSize > 0 {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, a.SendBufferSize); err != nil {
				return fmt.Errorf("failed to set SO_SNDBUF: %w", err)
			}
		}
		if a.RecvBufferSize > 0 {
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, a.RecvBufferSize); err != nil {
				return fmt.Errorf("failed to set SO_RCVBUF: %w", err)
			}
		}
		return nil
	}
}

func isTCP(ai afamily.AddrInfo) bool {
	return ai.SockType == unix.SOCK_STREAM &&
		(ai.Family == unix.AF_INET || ai.Family == unix.AF_INET6) &&
		(ai.Protocol == 0 || ai.Protocol == unix.IPPROTO_TCP)
}

func optionUnsupported(err error) bool {
	return errors.Is(err, unix.ENOPROTOOPT) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EINVAL)
}
