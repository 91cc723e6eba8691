// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package afamily

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// boundSocket is one socket Listen waits on.
type boundSocket struct {
	fd int
	ai AddrInfo
}

func (b *boundSocket) datagram() bool { return b.ai.SockType == unix.SOCK_DGRAM }

// Listen binds every candidate address of local and hands established
// connections to accept. If remoteFilter is set, connections from other
// peers are rejected. A positive timeout bounds each wait for a connection.
//
// maxAccepts is the number of connections to accept before returning;
// zero returns right after binding and a negative value accepts forever.
func (e *Engine) Listen(ctx context.Context, hints Hints, local, remoteFilter Address, configure SocketFunc, accept AcceptFunc, timeout time.Duration, maxAccepts int) error {
	bound, err := e.bindAll(ctx, hints, local, configure)
	if err != nil {
		return err
	}
	defer func() {
		for _, b := range bound {
			if b.fd >= 0 {
				closeFd(b.fd)
			}
		}
	}()
	if maxAccepts == 0 {
		return nil
	}

	var filters []Sockaddr
	if remoteFilter.IsSet() {
		fh := hints
		fh.Passive = false
		candidates, err := e.fam.resolve(ctx, fh, remoteFilter)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", remoteFilter, err)
		}
		for _, ai := range candidates {
			if usable(ai, fh) {
				filters = append(filters, ai.Addr)
			}
		}
		if len(filters) == 0 {
			return fmt.Errorf("remote %s: %w", remoteFilter, ErrNoCandidates)
		}
	}

	for accepted := 0; maxAccepts < 0 || accepted < maxAccepts; {
		ready, err := e.waitReadable(ctx, bound, timeout)
		if err != nil {
			return err
		}
		for _, i := range ready {
			b := &bound[i]
			fd, peer, err := e.acceptOne(b)
			if err != nil {
				if temporary(err) {
					continue
				}
				return fmt.Errorf("accept on %s: %w", b.ai.Addr, err)
			}
			if len(filters) > 0 && !matchAny(filters, peer) {
				e.log.Infof("rejecting connection from %s", peer)
				if b.datagram() {
					discard(b.fd)
				}
				closeFd(fd)
				continue
			}
			if b.datagram() {
				if err := connect(fd, peer); err != nil {
					closeFd(fd)
					return fmt.Errorf("connect to %s: %w", peer, err)
				}
			}
			e.log.Infof("connection from %s", peer)
			if err := accept(fd, b.ai.SockType); err != nil {
				return err
			}
			accepted++

			if b.datagram() && (maxAccepts < 0 || accepted < maxAccepts) {
				// the accepted descriptor shares the socket, which is now
				// connected to the peer
				if err := e.rebind(b, configure); err != nil {
					return err
				}
			}
			if maxAccepts >= 0 && accepted >= maxAccepts {
				break
			}
		}
	}
	return nil
}

// bindAll creates, configures and binds a socket for every usable
// candidate of local, IPv6 first. Stream and seqpacket sockets are put
// into listening state.
func (e *Engine) bindAll(ctx context.Context, hints Hints, local Address, configure SocketFunc) ([]boundSocket, error) {
	hints.Passive = true
	candidates, err := e.fam.resolve(ctx, hints, local)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", local, err)
	}
	// A dual-stack IPv6 wildcard socket already receives IPv4 traffic;
	// binding it first lets the IPv4 bind be recognized as redundant.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Family == unix.AF_INET6 && candidates[j].Family != unix.AF_INET6
	})

	var (
		bound      []boundSocket
		v6OnlySet  bool
		v6Wildcard bool
	)
	fail := func(err error) ([]boundSocket, error) {
		for _, b := range bound {
			closeFd(b.fd)
		}
		return nil, err
	}
	for _, ai := range candidates {
		if !usable(ai, hints) {
			continue
		}
		fd, err := e.sys.socket(ai.Family, ai.SockType, ai.Protocol)
		if err != nil {
			if unsupported(err) {
				e.log.WithError(err).Debugf("skipping local address %s", ai.Addr)
				continue
			}
			return fail(fmt.Errorf("socket: %w", err))
		}
		if ai.Family == unix.AF_INET6 {
			if err := e.sys.setV6Only(fd); err != nil {
				e.log.WithError(err).Debug("unable to set IPV6_V6ONLY")
			} else {
				v6OnlySet = true
			}
		}
		if configure != nil {
			if err := configure(fd, ai); err != nil {
				closeFd(fd)
				return fail(err)
			}
		}
		if err := bind(fd, ai.Addr); err != nil {
			closeFd(fd)
			if errors.Is(err, unix.EADDRINUSE) && ai.Family == unix.AF_INET && v6Wildcard && !v6OnlySet {
				e.log.Debugf("%s is already covered by the IPv6 wildcard socket", ai.Addr)
				continue
			}
			e.log.WithError(err).Infof("unable to bind to %s", ai.Addr)
			continue
		}
		if ai.SockType != unix.SOCK_DGRAM {
			if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
				closeFd(fd)
				return fail(fmt.Errorf("listen on %s: %w", ai.Addr, err))
			}
		}
		if in, ok := ai.Addr.(InetAddr); ok && in.Addr().Is6() && in.Addr().IsUnspecified() {
			v6Wildcard = true
		}
		e.log.Infof("listening on %s (%s)", ai.Addr, sockTypeName(ai.SockType))
		bound = append(bound, boundSocket{fd: fd, ai: ai})
	}
	if len(bound) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoListeners, local)
	}
	return bound, nil
}

// waitReadable waits until at least one bound socket has a connection or
// datagram pending and returns their indices.
func (e *Engine) waitReadable(ctx context.Context, bound []boundSocket, timeout time.Duration) ([]int, error) {
	pfds := make([]unix.PollFd, len(bound))
	for i, b := range bound {
		pfds[i] = unix.PollFd{Fd: int32(b.fd), Events: unix.POLLIN}
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ms := -1
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return nil, ErrTimeout
			}
			ms = int((left + time.Millisecond - 1) / time.Millisecond)
		}
		n, err := unix.Poll(pfds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		var ready []int
		for i, pfd := range pfds {
			if pfd.Revents&unix.POLLNVAL != 0 {
				return nil, fmt.Errorf("poll: invalid descriptor %d", pfd.Fd)
			}
			if pfd.Revents != 0 {
				ready = append(ready, i)
			}
		}
		return ready, nil
	}
}

// acceptOne returns a descriptor for the connection pending on b and the
// peer address. For datagram sockets the descriptor is a duplicate of the
// bound socket and the datagram stays queued.
func (e *Engine) acceptOne(b *boundSocket) (int, Sockaddr, error) {
	if !b.datagram() {
		return acceptConn(b)
	}
	peer, err := peek(b.fd)
	if err != nil {
		return -1, nil, err
	}
	fd, err := dup(b.fd)
	if err != nil {
		return -1, nil, err
	}
	return fd, peer, nil
}

// rebind replaces the datagram socket of b, which was handed off to a
// connection, with a fresh one bound to the same local address.
func (e *Engine) rebind(b *boundSocket, configure SocketFunc) error {
	addr := b.ai.Addr
	// the connected socket reports the address it was routed through, so
	// only its port is taken, for sockets bound to an ephemeral one
	if in, ok := addr.(InetAddr); ok && in.Port() == 0 {
		if cur, err := getsockname(b.fd); err == nil {
			if c, ok := cur.(InetAddr); ok {
				addr = InetAddr{netip.AddrPortFrom(in.Addr(), c.Port())}
			}
		}
	}
	closeFd(b.fd)
	b.fd = -1

	fd, err := e.sys.socket(b.ai.Family, b.ai.SockType, b.ai.Protocol)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	if b.ai.Family == unix.AF_INET6 {
		if err := e.sys.setV6Only(fd); err != nil {
			e.log.WithError(err).Debug("unable to set IPV6_V6ONLY")
		}
	}
	if configure != nil {
		if err := configure(fd, b.ai); err != nil {
			closeFd(fd)
			return err
		}
	}
	if err := bind(fd, addr); err != nil {
		closeFd(fd)
		return fmt.Errorf("rebind to %s: %w", addr, err)
	}
	b.fd = fd
	return nil
}

func matchAny(filters []Sockaddr, peer Sockaddr) bool {
	for _, f := range filters {
		if Match(f, peer) {
			return true
		}
	}
	return false
}

func temporary(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ECONNABORTED)
}
