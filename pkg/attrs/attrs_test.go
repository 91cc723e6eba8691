// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package attrs

import (
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

func TestFinalizeDefaults(t *testing.T) {
	tests := []struct {
		name     string
		protocol Protocol
		family   Family
		sockType int
		buffer   int
		mtu      int
		nru      int
	}{
		{name: "tcp", protocol: ProtoTCP, sockType: unix.SOCK_STREAM, buffer: 64 * 1024, mtu: 0, nru: 1},
		{name: "unspec", protocol: ProtoUnspec, sockType: unix.SOCK_STREAM, buffer: 64 * 1024, mtu: 0, nru: 1},
		{name: "udp", protocol: ProtoUDP, sockType: unix.SOCK_DGRAM, buffer: 128 * 1024, mtu: 8 * 1024, nru: 64 * 1024},
		{name: "l2cap", protocol: ProtoUnspec, family: FamilyBluetooth, sockType: unix.SOCK_SEQPACKET, buffer: 128 * 1024, mtu: 672, nru: 64 * 1024},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := New()
			a.Protocol = tc.protocol
			a.Family = tc.family
			a.Remote = Address{Node: "host", Service: "1"}
			assert.NilError(t, a.Finalize())
			assert.Equal(t, a.SockType(), tc.sockType)
			assert.Equal(t, a.BufferSize, tc.buffer)
			assert.Equal(t, a.RemoteMTU, tc.mtu)
			assert.Equal(t, a.RemoteNRU, tc.nru)
			assert.Equal(t, a.LocalHold, Infinite)
			assert.Equal(t, a.RemoteHold.Nanoseconds(), int64(0))
			assert.Check(t, a.Finalized())
		})
	}
}

func TestFinalizeGrowsBufferToNRU(t *testing.T) {
	a := New()
	a.Remote = Address{Node: "host", Service: "1"}
	a.BufferSize = 1024
	a.RemoteNRU = 4096
	assert.NilError(t, a.Finalize())
	assert.Equal(t, a.BufferSize, 4096)
}

func TestFinalizeConflicts(t *testing.T) {
	tests := []struct {
		name   string
		modify func(a *Attributes)
		errMsg string
	}{
		{
			name:   "recv and send only",
			modify: func(a *Attributes) { a.Flags |= RecvOnly | SendOnly },
			errMsg: "receive-only and send-only",
		},
		{
			name:   "continuous without listen",
			modify: func(a *Attributes) { a.Flags |= Continuous },
			errMsg: "requires listen mode",
		},
		{
			name:   "continuous without exec",
			modify: func(a *Attributes) { a.Flags |= Continuous | Listen },
			errMsg: "requires an exec command",
		},
		{
			name:   "sco over inet",
			modify: func(a *Attributes) { a.Protocol = ProtoSCO },
			errMsg: "sco requires the bluetooth family",
		},
		{
			name: "udp over bluetooth",
			modify: func(a *Attributes) {
				a.Family = FamilyBluetooth
				a.Protocol = ProtoUDP
			},
			errMsg: "udp is not available over bluetooth",
		},
		{
			name: "continuous udp without address reuse",
			modify: func(a *Attributes) {
				a.Protocol = ProtoUDP
				a.Flags |= Listen | Continuous | DontReuseAddr
				a.Exec = "cat"
			},
			errMsg: "continuous datagram listening needs address reuse",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := New()
			a.Remote = Address{Node: "host", Service: "1"}
			tc.modify(a)
			err := a.Finalize()
			assert.ErrorIs(t, err, ErrConflict)
			assert.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestFinalizeContinuousStreamWithoutAddressReuse(t *testing.T) {
	a := New()
	a.Flags |= Listen | Continuous | DontReuseAddr
	a.Exec = "cat"
	assert.NilError(t, a.Finalize())
}

func TestFinalizeRequiresRemoteWhenConnecting(t *testing.T) {
	a := New()
	assert.ErrorContains(t, a.Finalize(), "remote address required")

	a.Flags |= Listen
	assert.NilError(t, a.Finalize())
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, Address{}.String(), "* *")
	assert.Equal(t, Address{Node: "::1", Service: "80"}.String(), "::1 80")
	assert.Check(t, !Address{}.IsSet())
	assert.Check(t, Address{Service: "80"}.IsSet())
}
