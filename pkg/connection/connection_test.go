// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/nc6-project/nc6/pkg/afamily"
	"github.com/nc6-project/nc6/pkg/attrs"
	"github.com/nc6-project/nc6/pkg/freeport"
)

func finalized(t *testing.T, modify func(a *attrs.Attributes)) *attrs.Attributes {
	t.Helper()
	a := attrs.New()
	modify(a)
	assert.NilError(t, a.Finalize())
	return a
}

func TestHints(t *testing.T) {
	tests := []struct {
		name   string
		modify func(a *attrs.Attributes)
		want   afamily.Hints
	}{
		{
			name:   "default",
			modify: func(a *attrs.Attributes) { a.Remote = attrs.Address{Node: "host", Service: "80"} },
			want:   afamily.Hints{Family: unix.AF_UNSPEC, SockType: unix.SOCK_STREAM},
		},
		{
			name: "udp over ipv6, numeric",
			modify: func(a *attrs.Attributes) {
				a.Family = attrs.FamilyIPv6
				a.Protocol = attrs.ProtoUDP
				a.Flags |= attrs.NumericMode | attrs.Listen
			},
			want: afamily.Hints{Family: unix.AF_INET6, SockType: unix.SOCK_DGRAM, Protocol: unix.IPPROTO_UDP, Numeric: true},
		},
		{
			name: "bluetooth defaults to l2cap",
			modify: func(a *attrs.Attributes) {
				a.Family = attrs.FamilyBluetooth
				a.Remote = attrs.Address{Node: "00:11:22:33:44:55", Service: "4097"}
			},
			want: afamily.Hints{Family: afamily.AFBluetooth, SockType: unix.SOCK_SEQPACKET, Protocol: afamily.BTProtoL2CAP},
		},
		{
			name: "sco",
			modify: func(a *attrs.Attributes) {
				a.Family = attrs.FamilyBluetooth
				a.Protocol = attrs.ProtoSCO
				a.Flags |= attrs.Listen
			},
			want: afamily.Hints{Family: afamily.AFBluetooth, SockType: unix.SOCK_SEQPACKET, Protocol: afamily.BTProtoSCO},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.DeepEqual(t, Hints(finalized(t, tc.modify)), tc.want)
		})
	}
}

func getsockopt(t *testing.T, fd, level, opt int) int {
	t.Helper()
	v, err := unix.GetsockoptInt(fd, level, opt)
	assert.NilError(t, err)
	return v
}

func TestSocketOptions(t *testing.T) {
	a := finalized(t, func(a *attrs.Attributes) {
		a.Flags |= attrs.Listen | attrs.DisableNagle
		a.RecvBufferSize = 64 * 1024
	})
	configure := SocketOptions(a, logrus.StandardLogger())

	tcp, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	assert.NilError(t, err)
	defer unix.Close(tcp)
	assert.NilError(t, configure(tcp, afamily.AddrInfo{Family: unix.AF_INET, SockType: unix.SOCK_STREAM, Protocol: unix.IPPROTO_TCP}))
	assert.Check(t, getsockopt(t, tcp, unix.SOL_SOCKET, unix.SO_REUSEADDR) != 0)
	assert.Check(t, getsockopt(t, tcp, unix.IPPROTO_TCP, unix.TCP_NODELAY) != 0)
	assert.Check(t, getsockopt(t, tcp, unix.SOL_SOCKET, unix.SO_RCVBUF) >= 64*1024)

	// TCP_NODELAY on a datagram socket is not an error
	udp, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	assert.NilError(t, err)
	defer unix.Close(udp)
	assert.NilError(t, configure(udp, afamily.AddrInfo{Family: unix.AF_INET, SockType: unix.SOCK_DGRAM, Protocol: unix.IPPROTO_UDP}))
}

func TestSocketOptionsNoReuseAddr(t *testing.T) {
	a := finalized(t, func(a *attrs.Attributes) { a.Flags |= attrs.Listen | attrs.DontReuseAddr })
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	assert.NilError(t, err)
	defer unix.Close(fd)
	assert.NilError(t, SocketOptions(a, logrus.StandardLogger())(fd, afamily.AddrInfo{Family: unix.AF_INET, SockType: unix.SOCK_STREAM}))
	assert.Equal(t, getsockopt(t, fd, unix.SOL_SOCKET, unix.SO_REUSEADDR), 0)
}

func TestRunRequiresFinalizedAttributes(t *testing.T) {
	err := Run(context.Background(), attrs.New(), nil, logrus.StandardLogger())
	assert.ErrorContains(t, err, "not finalized")
}

// pipes returns the local endpoint for a relay and the test's ends of it.
func pipes(t *testing.T) (stdin, stdout, feed, drain int) {
	t.Helper()
	var in, out [2]int
	assert.NilError(t, unix.Pipe(in[:]))
	assert.NilError(t, unix.Pipe(out[:]))
	return in[0], out[1], in[1], out[0]
}

func readFd(fd int) (string, error) {
	var buf bytes.Buffer
	p := make([]byte, 512)
	for {
		n, err := unix.Read(fd, p)
		if err != nil {
			return buf.String(), err
		}
		if n == 0 {
			return buf.String(), nil
		}
		buf.Write(p[:n])
	}
}

func TestRunConnectRelaysStdio(t *testing.T) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	assert.NilError(t, err)
	defer l.Close()

	var g errgroup.Group
	var fromLocal []byte
	g.Go(func() error {
		c, err := l.Accept()
		if err != nil {
			return err
		}
		defer c.Close()
		if _, err := c.Write([]byte("from remote")); err != nil {
			return err
		}
		fromLocal, err = io.ReadAll(c)
		return err
	})

	a := finalized(t, func(a *attrs.Attributes) {
		a.Family = attrs.FamilyIPv4
		a.Flags |= attrs.NumericMode
		a.Remote = attrs.Address{Node: "127.0.0.1", Service: strconv.Itoa(l.Addr().(*net.TCPAddr).Port)}
		a.RemoteNoHalfClose = false
	})
	stdin, stdout, feed, drain := pipes(t)
	defer unix.Close(drain)
	relay := &Relay{Attrs: a, Stdin: stdin, Stdout: stdout, Log: logrus.StandardLogger()}

	_, err = unix.Write(feed, []byte("from local"))
	assert.NilError(t, err)
	assert.NilError(t, unix.Close(feed))

	assert.NilError(t, Run(context.Background(), a, relay.Handle, logrus.StandardLogger()))
	got, err := readFd(drain)
	assert.NilError(t, err)
	assert.Equal(t, got, "from remote")

	assert.NilError(t, g.Wait())
	assert.Equal(t, string(fromLocal), "from local")
}

func TestRunContinuousExec(t *testing.T) {
	port, err := freeport.TCP("127.0.0.1")
	assert.NilError(t, err)
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	a := finalized(t, func(a *attrs.Attributes) {
		a.Family = attrs.FamilyIPv4
		a.Flags |= attrs.NumericMode | attrs.Listen | attrs.Continuous
		a.Local = attrs.Address{Node: "127.0.0.1", Service: strconv.Itoa(port)}
		a.Exec = "cat"
		a.RemoteHold = attrs.Infinite
		a.ConnectTimeout = time.Second
	})
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), a, NewRelay(a, logrus.StandardLogger()).Handle, logrus.StandardLogger())
	}()

	for _, msg := range []string{"first", "second"} {
		var c net.Conn
		for i := 0; i < 50; i++ {
			if c, err = net.Dial("tcp", addr); err == nil {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		assert.NilError(t, err)
		_, err = c.Write([]byte(msg))
		assert.NilError(t, err)
		assert.NilError(t, c.(*net.TCPConn).CloseWrite())
		echo, err := io.ReadAll(c)
		assert.NilError(t, err)
		assert.Equal(t, string(echo), msg)
		c.Close()
	}

	select {
	case err := <-done:
		// with no further connection the listener gives up
		assert.Check(t, errors.Is(err, afamily.ErrTimeout), err)
	case <-time.After(10 * time.Second):
		t.Fatal("listener did not time out")
	}
}

func openFds(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot list open descriptors: %v", err)
	}
	return len(entries)
}

func TestRelayClosesExecPipesOnSetupError(t *testing.T) {
	a := finalized(t, func(a *attrs.Attributes) {
		a.Flags |= attrs.Listen
		a.Exec = "cat"
	})
	before := openFds(t)

	err := NewRelay(a, logrus.StandardLogger()).Handle(context.Background(), -1, unix.SOCK_STREAM)
	assert.ErrorContains(t, err, "invalid descriptors")

	// cat sees EOF on its closed input and is reaped in the background
	deadline := time.Now().Add(5 * time.Second)
	for openFds(t) != before && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, openFds(t), before)
}
