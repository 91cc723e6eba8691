// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nc6-project/nc6/pkg/attrs"
	"github.com/nc6-project/nc6/pkg/circbuf"
	"github.com/nc6-project/nc6/pkg/localexec"
	"github.com/nc6-project/nc6/pkg/stream"
)

// Relay copies data between an established connection and the local
// endpoint: the exec command of the attributes, or Stdin and Stdout.
type Relay struct {
	Attrs         *attrs.Attributes
	Stdin, Stdout int
	Log           logrus.FieldLogger
}

// NewRelay returns a relay to the standard input and output of the process.
func NewRelay(a *attrs.Attributes, log logrus.FieldLogger) *Relay {
	return &Relay{Attrs: a, Stdin: unix.Stdin, Stdout: unix.Stdout, Log: log}
}

// Handle is a Handler. It returns once the transfer is over.
func (r *Relay) Handle(ctx context.Context, fd, sockType int) error {
	a := r.Attrs
	localIn, localOut := r.Stdin, r.Stdout
	// releases the local end when the streams could not be set up
	closeLocal := func() {}
	if a.Exec != "" {
		proc, err := localexec.Start(ctx, a.Exec, r.Log)
		if err != nil {
			unix.Close(fd)
			return err
		}
		defer proc.Reap()
		localIn, localOut = proc.In, proc.Out
		closeLocal = func() {
			unix.Close(proc.In)
			unix.Close(proc.Out)
		}
	}

	fromRemote := circbuf.New(a.BufferSize)
	toRemote := circbuf.New(a.BufferSize)
	remote, err := stream.New(stream.Config{
		Name:        "remote",
		In:          fd,
		Out:         fd,
		SockType:    sockType,
		InBuf:       fromRemote,
		OutBuf:      toRemote,
		MTU:         a.RemoteMTU,
		NRU:         a.RemoteNRU,
		IdleTimeout: a.IdleTimeout,
		HoldTimeout: a.RemoteHold,
		NoHalfClose: a.RemoteNoHalfClose,
	})
	if err != nil {
		unix.Close(fd)
		closeLocal()
		return err
	}
	local, err := stream.New(stream.Config{
		Name:        "local",
		In:          localIn,
		Out:         localOut,
		InBuf:       toRemote,
		OutBuf:      fromRemote,
		HoldTimeout: a.LocalHold,
		NoHalfClose: a.LocalNoHalfClose,
	})
	if err != nil {
		remote.Close()
		closeLocal()
		return err
	}

	switch {
	case a.Flags.Has(attrs.RecvOnly):
		stream.RecvOnly(remote, local)
	case a.Flags.Has(attrs.SendOnly):
		stream.SendOnly(remote, local)
	}

	err = stream.ReadWrite(remote, local, r.Log)
	remote.Close()
	local.Close()
	r.Log.WithFields(logrus.Fields{
		"sent":     remote.Sent(),
		"received": remote.Received(),
	}).Infof("connection closed: sent %s, received %s",
		units.BytesSize(float64(remote.Sent())), units.BytesSize(float64(remote.Received())))
	return err
}
