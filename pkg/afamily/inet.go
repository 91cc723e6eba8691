// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package afamily

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// Resolver is the subset of *net.Resolver used for name lookups.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
}

// inetFamily resolves IPv4 and IPv6 addresses with TCP and UDP services.
type inetFamily struct {
	resolver Resolver
}

func (f *inetFamily) resolve(ctx context.Context, hints Hints, addr Address) ([]AddrInfo, error) {
	sockTypes := []int{hints.SockType}
	if hints.SockType == 0 {
		sockTypes = []int{unix.SOCK_STREAM, unix.SOCK_DGRAM}
	}
	ips, err := f.hosts(ctx, hints, addr.Node)
	if err != nil {
		return nil, err
	}

	var res []AddrInfo
	for _, st := range sockTypes {
		network, proto := "tcp", unix.IPPROTO_TCP
		switch st {
		case unix.SOCK_STREAM:
		case unix.SOCK_DGRAM:
			network, proto = "udp", unix.IPPROTO_UDP
		default:
			return nil, fmt.Errorf("%s sockets: %w", sockTypeName(st), unix.ESOCKTNOSUPPORT)
		}
		port, err := f.port(ctx, network, addr.Service)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			in := InetAddr{netip.AddrPortFrom(ip, port)}
			res = append(res, AddrInfo{
				Family:   in.Family(),
				SockType: st,
				Protocol: proto,
				Addr:     in,
			})
		}
	}
	return res, nil
}

// hosts resolves node to addresses of the requested family, IPv6 first.
func (f *inetFamily) hosts(ctx context.Context, hints Hints, node string) ([]netip.Addr, error) {
	want6 := hints.Family == unix.AF_UNSPEC || hints.Family == unix.AF_INET6
	want4 := hints.Family == unix.AF_UNSPEC || hints.Family == unix.AF_INET

	if node == "" {
		var ips []netip.Addr
		if want6 {
			ips = append(ips, pick(hints.Passive, netip.IPv6Unspecified(), netip.IPv6Loopback()))
		}
		if want4 {
			ips = append(ips, pick(hints.Passive, netip.IPv4Unspecified(), netip.AddrFrom4([4]byte{127, 0, 0, 1})))
		}
		return ips, nil
	}

	if ip, err := netip.ParseAddr(node); err == nil {
		if (ip.Is4() && !want4) || (ip.Is6() && !want6) {
			return nil, fmt.Errorf("%s: %w", node, unix.EAFNOSUPPORT)
		}
		return []netip.Addr{ip}, nil
	}
	if hints.Numeric {
		return nil, fmt.Errorf("%q is not a numeric address", node)
	}

	var (
		ips  []netip.Addr
		errs []error
	)
	if want6 {
		res, err := f.resolver.LookupNetIP(ctx, "ip6", node)
		if err != nil {
			errs = append(errs, err)
		}
		ips = append(ips, res...)
	}
	if want4 {
		res, err := f.resolver.LookupNetIP(ctx, "ip4", node)
		if err != nil {
			errs = append(errs, err)
		}
		for _, ip := range res {
			ips = append(ips, ip.Unmap())
		}
	}
	if len(ips) == 0 {
		if len(errs) == 0 {
			return nil, fmt.Errorf("%s: no addresses found", node)
		}
		return nil, errors.Join(errs...)
	}
	return ips, nil
}

func (f *inetFamily) port(ctx context.Context, network, service string) (uint16, error) {
	if service == "" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(service, 10, 16); err == nil {
		return uint16(n), nil
	}
	n, err := f.resolver.LookupPort(ctx, network, service)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

func pick[T any](cond bool, a, b T) T {
	if cond {
		return a
	}
	return b
}
