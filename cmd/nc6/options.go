// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/nc6-project/nc6/pkg/attrs"
)

// options are the connection flags of the command line.
type options struct {
	ipv4, ipv6      bool
	bluetooth, iucv bool
	udp, sco        bool
	listen          bool
	localAddress    string
	localPort       string
	numeric         bool
	transfer        bool
	recvOnly        bool
	sendOnly        bool
	halfClose       bool
	disableNagle    bool
	noReuseAddr     bool
	continuous      bool
	exec            string

	bufferSize, mtu, nru   sizeValue
	sndbufSize, rcvbufSize sizeValue

	timeout, idleTimeout timeoutValue
	hold                 holdValue
}

func (o *options) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&o.ipv4, "ipv4", "4", false, "Use IPv4 only")
	fs.BoolVarP(&o.ipv6, "ipv6", "6", false, "Use IPv6 only")
	fs.BoolVarP(&o.bluetooth, "bluetooth", "b", false, "Use Bluetooth (L2CAP unless --sco)")
	fs.BoolVar(&o.iucv, "iucv", false, "Use z/VM IUCV")
	fs.BoolVarP(&o.udp, "udp", "u", false, "Use UDP instead of TCP")
	fs.BoolVar(&o.sco, "sco", false, "Use Bluetooth SCO instead of L2CAP")
	fs.BoolVarP(&o.listen, "listen", "l", false, "Listen for an incoming connection")
	fs.StringVarP(&o.localAddress, "address", "s", "", "Local source address")
	fs.StringVarP(&o.localPort, "port", "p", "", "Local source port")
	fs.BoolVarP(&o.numeric, "numeric", "n", false, "Do not resolve host names")
	fs.BoolVarP(&o.transfer, "transfer", "x", false, "File transfer mode: receive when listening, send when connecting")
	fs.BoolVar(&o.recvOnly, "recv-only", false, "Only receive data from the remote end")
	fs.BoolVar(&o.sendOnly, "send-only", false, "Only send data to the remote end")
	fs.BoolVar(&o.halfClose, "half-close", false, "Half-close the remote connection when local input ends")
	fs.BoolVar(&o.disableNagle, "disable-nagle", false, "Disable the Nagle algorithm for TCP connections")
	fs.BoolVar(&o.noReuseAddr, "no-reuseaddr", false, "Do not set SO_REUSEADDR on sockets")
	fs.BoolVar(&o.continuous, "continuous", false, "Keep accepting connections, each running its own --exec command")
	fs.StringVarP(&o.exec, "exec", "e", "", "Run a command as the local end of the connection")
	fs.Var(&o.bufferSize, "buffer-size", "Size of each transfer buffer")
	fs.Var(&o.mtu, "mtu", "Largest single write to the remote end")
	fs.Var(&o.nru, "nru", "Least buffer space worth reading from the remote end into")
	fs.Var(&o.sndbufSize, "sndbuf-size", "Kernel socket send buffer size")
	fs.Var(&o.rcvbufSize, "rcvbuf-size", "Kernel socket receive buffer size")
	fs.VarP(&o.timeout, "timeout", "w", "Timeout for connects and accepts")
	fs.VarP(&o.idleTimeout, "idle-timeout", "t", "Fail after this long without activity on the remote end")
	fs.VarP(&o.hold, "hold-timeout", "q", "How long to keep one direction open after the other one ended (inf for ever)")
}

// attributes builds the connection attributes from the parsed flags and
// the positional arguments. The result still needs to be finalized.
func (o *options) attributes(args []string) (*attrs.Attributes, error) {
	a := attrs.New()

	switch {
	case o.ipv4 && o.ipv6:
		return nil, errors.New("cannot use both --ipv4 and --ipv6")
	case o.bluetooth && o.iucv:
		return nil, errors.New("cannot use both --bluetooth and --iucv")
	case (o.bluetooth || o.iucv) && (o.ipv4 || o.ipv6):
		return nil, errors.New("--ipv4 and --ipv6 only apply to internet connections")
	case o.ipv4:
		a.Family = attrs.FamilyIPv4
	case o.ipv6:
		a.Family = attrs.FamilyIPv6
	case o.bluetooth:
		a.Family = attrs.FamilyBluetooth
	case o.iucv:
		a.Family = attrs.FamilyIUCV
	}

	switch {
	case o.udp && o.sco:
		return nil, errors.New("cannot use both --udp and --sco")
	case o.udp:
		a.Protocol = attrs.ProtoUDP
	case o.sco:
		a.Protocol = attrs.ProtoSCO
	case a.Family == attrs.FamilyIPv4 || a.Family == attrs.FamilyIPv6 || a.Family == attrs.FamilyUnspec:
		a.Protocol = attrs.ProtoTCP
	}

	if len(args) > 2 {
		return nil, fmt.Errorf("too many arguments: %v", args)
	}
	if len(args) > 0 {
		a.Remote.Node = args[0]
	}
	if len(args) > 1 {
		a.Remote.Service = args[1]
	}
	a.Local = attrs.Address{Node: o.localAddress, Service: o.localPort}

	if o.listen {
		a.Flags |= attrs.Listen
	} else {
		if a.Remote.Node == "" {
			return nil, errors.New("remote hostname required")
		}
		if a.Remote.Service == "" && a.Protocol != attrs.ProtoSCO {
			return nil, errors.New("remote port required")
		}
	}

	for _, f := range []struct {
		set  bool
		flag attrs.Flags
	}{
		{o.numeric, attrs.NumericMode},
		{o.noReuseAddr, attrs.DontReuseAddr},
		{o.recvOnly, attrs.RecvOnly},
		{o.sendOnly, attrs.SendOnly},
		{o.disableNagle, attrs.DisableNagle},
		{o.continuous, attrs.Continuous},
	} {
		if f.set {
			a.Flags |= f.flag
		}
	}
	if o.transfer {
		if o.listen {
			a.Flags |= attrs.RecvOnly
		} else {
			a.Flags |= attrs.SendOnly
			a.RemoteNoHalfClose = false
		}
	}
	if o.halfClose {
		a.RemoteNoHalfClose = false
	}

	a.Exec = o.exec
	a.BufferSize = int(o.bufferSize)
	a.RemoteMTU = int(o.mtu)
	a.RemoteNRU = int(o.nru)
	a.SendBufferSize = int(o.sndbufSize)
	a.RecvBufferSize = int(o.rcvbufSize)
	a.ConnectTimeout = time.Duration(o.timeout)
	a.IdleTimeout = time.Duration(o.idleTimeout)
	if o.hold.set {
		a.LocalHold, a.RemoteHold = o.hold.local, o.hold.remote
	}
	return a, nil
}
