// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package afamily

import (
	"net/netip"
	"testing"

	"gotest.tools/v3/assert"
)

func inet(s string) InetAddr {
	return InetAddr{netip.MustParseAddrPort(s)}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		filter Sockaddr
		peer   Sockaddr
		want   bool
	}{
		{name: "equal", filter: inet("192.0.2.1:80"), peer: inet("192.0.2.1:80"), want: true},
		{name: "other host", filter: inet("192.0.2.1:80"), peer: inet("192.0.2.2:80"), want: false},
		{name: "other port", filter: inet("192.0.2.1:80"), peer: inet("192.0.2.1:81"), want: false},
		{name: "any port", filter: inet("192.0.2.1:0"), peer: inet("192.0.2.1:4711"), want: true},
		{name: "any host", filter: inet("0.0.0.0:80"), peer: inet("192.0.2.1:80"), want: true},
		{name: "mapped peer", filter: inet("192.0.2.1:0"), peer: inet("[::ffff:192.0.2.1]:5000"), want: true},
		{name: "mapped filter", filter: inet("[::ffff:192.0.2.1]:0"), peer: inet("192.0.2.1:5000"), want: true},
		{name: "v6", filter: inet("[2001:db8::1]:0"), peer: inet("[2001:db8::1]:5000"), want: true},
		{name: "v6 zone ignored", filter: inet("[fe80::1]:0"), peer: inet("[fe80::1%eth0]:5000"), want: true},
		{name: "v4 against v6", filter: inet("192.0.2.1:0"), peer: inet("[2001:db8::1]:5000"), want: false},
		{name: "l2cap any psm", filter: L2Addr{Bdaddr: Bdaddr{1, 2, 3, 4, 5, 6}}, peer: L2Addr{Bdaddr: Bdaddr{1, 2, 3, 4, 5, 6}, PSM: 4097}, want: true},
		{name: "l2cap other device", filter: L2Addr{Bdaddr: Bdaddr{1, 2, 3, 4, 5, 6}}, peer: L2Addr{Bdaddr: Bdaddr{6, 5, 4, 3, 2, 1}}, want: false},
		{name: "sco any", filter: SCOAddr{}, peer: SCOAddr{Bdaddr: Bdaddr{1, 2, 3, 4, 5, 6}}, want: true},
		{name: "family mismatch", filter: SCOAddr{}, peer: inet("192.0.2.1:80"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, Match(tc.filter, tc.peer), tc.want)
		})
	}
}

func TestParseBdaddr(t *testing.T) {
	b, err := ParseBdaddr("00:1a:7D:da:71:13")
	assert.NilError(t, err)
	assert.Equal(t, b, Bdaddr{0x00, 0x1a, 0x7d, 0xda, 0x71, 0x13})
	assert.Equal(t, b.String(), "00:1A:7D:DA:71:13")
	assert.Equal(t, b.reversed(), Bdaddr{0x13, 0x71, 0xda, 0x7d, 0x1a, 0x00})

	for _, bad := range []string{"", "00:11:22:33:44", "00:11:22:33:44:5", "00:11:22:33:44:zz", "001122334455"} {
		_, err := ParseBdaddr(bad)
		assert.Check(t, err != nil, bad)
	}
}

func TestIUCVAddr(t *testing.T) {
	a, err := NewIUCVAddr("LINUX01", "NC6")
	assert.NilError(t, err)
	assert.Equal(t, string(a.UserID[:]), "LINUX01 ")
	assert.Equal(t, string(a.Name[:]), "NC6     ")
	assert.Equal(t, a.String(), "LINUX01.NC6")

	wildcard, err := NewIUCVAddr("", "NC6")
	assert.NilError(t, err)
	assert.Check(t, Match(wildcard, a))

	other, err := NewIUCVAddr("LINUX02", "NC6")
	assert.NilError(t, err)
	assert.Check(t, !Match(other, a))

	_, err = NewIUCVAddr("TOOLONGUSER", "NC6")
	assert.ErrorContains(t, err, "longer than 8 characters")
}
