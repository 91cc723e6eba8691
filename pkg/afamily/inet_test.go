// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package afamily

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

type fakeResolver struct {
	hosts    map[string][]netip.Addr // keyed by network + " " + host
	services map[string]int
	lookups  []string
}

func (r *fakeResolver) LookupNetIP(_ context.Context, network, host string) ([]netip.Addr, error) {
	r.lookups = append(r.lookups, network+" "+host)
	if ips, ok := r.hosts[network+" "+host]; ok {
		return ips, nil
	}
	return nil, errors.New("no such host")
}

func (r *fakeResolver) LookupPort(_ context.Context, _, service string) (int, error) {
	if p, ok := r.services[service]; ok {
		return p, nil
	}
	return 0, errors.New("unknown port")
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		hosts: map[string][]netip.Addr{
			"ip6 example": {netip.MustParseAddr("2001:db8::1")},
			"ip4 example": {netip.MustParseAddr("::ffff:192.0.2.1")},
			"ip4 v4only":  {netip.MustParseAddr("192.0.2.2")},
		},
		services: map[string]int{"http": 80},
	}
}

func addrs(ais []AddrInfo) []string {
	var res []string
	for _, ai := range ais {
		res = append(res, sockTypeName(ai.SockType)+" "+ai.Addr.String())
	}
	return res
}

func TestInetResolve(t *testing.T) {
	tests := []struct {
		name  string
		hints Hints
		addr  Address
		want  []string
	}{
		{
			name:  "names, v6 first, v4 unmapped",
			hints: Hints{SockType: unix.SOCK_STREAM},
			addr:  Address{Node: "example", Service: "http"},
			want:  []string{"stream [2001:db8::1]:80", "stream 192.0.2.1:80"},
		},
		{
			name:  "one family failing",
			hints: Hints{SockType: unix.SOCK_DGRAM},
			addr:  Address{Node: "v4only", Service: "53"},
			want:  []string{"dgram 192.0.2.2:53"},
		},
		{
			name:  "both socket types",
			hints: Hints{Family: unix.AF_INET},
			addr:  Address{Node: "192.0.2.9", Service: "7"},
			want:  []string{"stream 192.0.2.9:7", "dgram 192.0.2.9:7"},
		},
		{
			name:  "passive wildcard",
			hints: Hints{SockType: unix.SOCK_STREAM, Passive: true},
			addr:  Address{Service: "8080"},
			want:  []string{"stream [::]:8080", "stream 0.0.0.0:8080"},
		},
		{
			name:  "active loopback",
			hints: Hints{Family: unix.AF_INET6, SockType: unix.SOCK_STREAM},
			addr:  Address{Service: "8080"},
			want:  []string{"stream [::1]:8080"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &inetFamily{resolver: newFakeResolver()}
			res, err := f.resolve(context.Background(), tc.hints, tc.addr)
			assert.NilError(t, err)
			assert.DeepEqual(t, addrs(res), tc.want)
		})
	}
}

func TestInetResolveNumericMode(t *testing.T) {
	r := newFakeResolver()
	f := &inetFamily{resolver: r}
	_, err := f.resolve(context.Background(), Hints{Numeric: true}, Address{Node: "example", Service: "80"})
	assert.ErrorContains(t, err, "not a numeric address")
	assert.Equal(t, len(r.lookups), 0)

	res, err := f.resolve(context.Background(), Hints{Numeric: true, SockType: unix.SOCK_STREAM}, Address{Node: "::1", Service: "80"})
	assert.NilError(t, err)
	assert.DeepEqual(t, addrs(res), []string{"stream [::1]:80"})
}

func TestInetResolveErrors(t *testing.T) {
	f := &inetFamily{resolver: newFakeResolver()}
	ctx := context.Background()

	_, err := f.resolve(ctx, Hints{Family: unix.AF_INET6}, Address{Node: "192.0.2.1"})
	assert.ErrorIs(t, err, unix.EAFNOSUPPORT)

	_, err = f.resolve(ctx, Hints{}, Address{Node: "unknown"})
	assert.ErrorContains(t, err, "no such host")

	_, err = f.resolve(ctx, Hints{}, Address{Node: "::1", Service: "gopher-nonexistent"})
	assert.ErrorContains(t, err, "unknown port")
}

func TestUsableRejectsMappedAddresses(t *testing.T) {
	ai := AddrInfo{Family: unix.AF_INET6, SockType: unix.SOCK_STREAM, Addr: inet("[::ffff:192.0.2.1]:80")}
	assert.Check(t, !usable(ai, Hints{}))

	ai.Addr = inet("[2001:db8::1]:80")
	assert.Check(t, usable(ai, Hints{}))
	assert.Check(t, !usable(ai, Hints{SockType: unix.SOCK_DGRAM}))

	ai.SockType = unix.SOCK_RAW
	assert.Check(t, !usable(ai, Hints{}))
}
