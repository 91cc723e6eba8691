// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream wraps the descriptors of one endpoint of a relayed
// connection and implements the loop that copies data between two of them.
package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nc6-project/nc6/pkg/circbuf"
)

// Config describes one endpoint.
type Config struct {
	// Name is used in log messages, e.g. "remote" or "local".
	Name string
	// In and Out may be the same descriptor (a socket) or two (stdio, pipes).
	In, Out int
	// SockType is the socket type of the descriptors, 0 if they are not sockets.
	SockType int
	// InBuf receives the data read from In. OutBuf holds the data to be
	// written to Out. The two streams of a pair share their buffers crosswise.
	InBuf, OutBuf *circbuf.Buffer
	// MTU caps the size of a single write, 0 is unlimited.
	MTU int
	// NRU is the least free space in InBuf for which a read is attempted.
	NRU int
	// IdleTimeout, if positive, makes the transfer fail after that long
	// without any I/O on this endpoint.
	IdleTimeout time.Duration
	// HoldTimeout is how long after the read side shut down the opposite
	// direction is kept running. Negative never expires, zero expires at once.
	HoldTimeout time.Duration
	// NoHalfClose keeps the write side of the descriptor open until the
	// read side is done as well.
	NoHalfClose bool
}

// Stream is one endpoint of a relayed connection.
type Stream struct {
	name        string
	fdIn, fdOut int // -1 once released
	sockType    int
	in, out     *circbuf.Buffer
	mtu, nru    int
	idle, hold  time.Duration
	noHalfClose bool

	writing      bool // false once the write side is shut, even if fdOut is kept
	drain        bool // no more data will arrive in out; shut write once empty
	readShutAt   time.Time
	timedOut     bool
	lastActivity time.Time

	sent, received int64

	// descriptors switched to non-blocking mode by New, restored on close
	restore []int
}

func New(cfg Config) (*Stream, error) {
	if cfg.InBuf == nil || cfg.OutBuf == nil {
		return nil, errors.New("stream: buffers must be set")
	}
	if cfg.In < 0 || cfg.Out < 0 {
		return nil, fmt.Errorf("stream: invalid descriptors %d/%d", cfg.In, cfg.Out)
	}
	nru := max(cfg.NRU, 1)
	if nru > cfg.InBuf.Cap() {
		return nil, fmt.Errorf("stream %s: nru %d exceeds buffer size %d", cfg.Name, nru, cfg.InBuf.Cap())
	}
	// the transfer loop must only ever wait in poll
	var restore []int
	for _, fd := range []int{cfg.In, cfg.Out} {
		changed, err := setNonblock(fd)
		if err != nil {
			for _, fd := range restore {
				_ = unix.SetNonblock(fd, false)
			}
			return nil, fmt.Errorf("stream %s: %w", cfg.Name, err)
		}
		if changed {
			restore = append(restore, fd)
		}
	}
	return &Stream{
		name:         cfg.Name,
		fdIn:         cfg.In,
		fdOut:        cfg.Out,
		sockType:     cfg.SockType,
		in:           cfg.InBuf,
		out:          cfg.OutBuf,
		mtu:          max(cfg.MTU, 0),
		nru:          nru,
		idle:         cfg.IdleTimeout,
		hold:         cfg.HoldTimeout,
		noHalfClose:  cfg.NoHalfClose,
		writing:      true,
		lastActivity: time.Now(),
		restore:      restore,
	}, nil
}

// setNonblock puts fd into non-blocking mode. changed is false if it
// already was.
func setNonblock(fd int) (changed bool, err error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return false, fmt.Errorf("get flags of fd %d: %w", fd, err)
	}
	if flags&unix.O_NONBLOCK != 0 {
		return false, nil
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return false, fmt.Errorf("set fd %d non-blocking: %w", fd, err)
	}
	return true, nil
}

// closeFd closes fd, first handing it back in blocking mode if New changed
// that. Standard input and output share their mode with other processes.
func (s *Stream) closeFd(fd int) {
	for i, r := range s.restore {
		if r == fd {
			_ = unix.SetNonblock(fd, false)
			s.restore = append(s.restore[:i], s.restore[i+1:]...)
			break
		}
	}
	_ = unix.Close(fd)
}

func (s *Stream) Name() string { return s.name }

// Sent returns the number of bytes written to the endpoint.
func (s *Stream) Sent() int64 { return s.sent }

// Received returns the number of bytes read from the endpoint.
func (s *Stream) Received() int64 { return s.received }

// ReadOpen reports whether data may still be read from the endpoint.
func (s *Stream) ReadOpen() bool { return s.fdIn >= 0 }

// WriteOpen reports whether data may still be written to the endpoint.
func (s *Stream) WriteOpen() bool { return s.writing }

func (s *Stream) wantRead() bool {
	return s.fdIn >= 0 && s.in.Free() >= s.nru
}

func (s *Stream) wantWrite() bool {
	return s.writing && !s.out.IsEmpty()
}

// ShutdownRead stops reading from the endpoint and starts the hold timer.
func (s *Stream) ShutdownRead() {
	if s.fdIn < 0 {
		return
	}
	s.readShutAt = time.Now()
	s.releaseIn()
	if !s.writing {
		s.releaseOut()
	}
}

// ShutdownWrite stops writing to the endpoint. Unless half-close is
// suppressed the peer is told that no more data follows.
func (s *Stream) ShutdownWrite() {
	if !s.writing {
		return
	}
	s.writing = false
	if s.noHalfClose && s.fdIn >= 0 {
		return
	}
	s.releaseOut()
}

// Close releases both directions.
func (s *Stream) Close() {
	s.writing = false
	s.releaseIn()
	s.releaseOut()
}

func (s *Stream) releaseIn() {
	if s.fdIn < 0 {
		return
	}
	if s.fdIn == s.fdOut {
		// keep the descriptor for the write side
		_ = unix.Shutdown(s.fdIn, unix.SHUT_RD)
	} else {
		s.closeFd(s.fdIn)
	}
	s.fdIn = -1
}

func (s *Stream) releaseOut() {
	if s.fdOut < 0 {
		return
	}
	if s.fdOut == s.fdIn {
		if s.sockType == unix.SOCK_STREAM || s.sockType == unix.SOCK_SEQPACKET {
			_ = unix.Shutdown(s.fdOut, unix.SHUT_WR)
		}
	} else {
		s.closeFd(s.fdOut)
	}
	s.fdOut = -1
}

// finishWrite is called when the opposite endpoint will produce no more
// data: the pending output is written and then the write side is shut.
func (s *Stream) finishWrite() {
	s.drain = true
	if s.out.IsEmpty() {
		s.ShutdownWrite()
	}
}

// holdDeadline returns when the hold timer expires. ok is false while the
// read side is open, when the hold timeout is infinite, or once it fired.
func (s *Stream) holdDeadline() (deadline time.Time, ok bool) {
	if s.timedOut || s.fdIn >= 0 || s.hold < 0 {
		return time.Time{}, false
	}
	return s.readShutAt.Add(s.hold), true
}

// idleDeadline returns when the endpoint is considered dead.
func (s *Stream) idleDeadline() (deadline time.Time, ok bool) {
	if s.idle <= 0 || (s.fdIn < 0 && !s.writing) {
		return time.Time{}, false
	}
	return s.lastActivity.Add(s.idle), true
}

// read fills the input buffer. eof is true when the endpoint has no more data.
func (s *Stream) read() (eof bool, err error) {
	var n int
	if s.sockType == unix.SOCK_DGRAM {
		n, _, err = s.in.RecvFrom(s.fdIn, 0)
	} else {
		n, err = s.in.FillFrom(s.fdIn, 0)
	}
	if errors.Is(err, unix.EAGAIN) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read from %s: %w", s.name, err)
	}
	s.lastActivity = time.Now()
	s.received += int64(n)
	// an empty datagram is a valid message, not the end of the stream
	return n == 0 && s.sockType != unix.SOCK_DGRAM, nil
}

// write drains the output buffer, at most MTU bytes at a time.
func (s *Stream) write() error {
	n, err := s.out.DrainTo(s.fdOut, s.mtu)
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write to %s: %w", s.name, err)
	}
	s.lastActivity = time.Now()
	s.sent += int64(n)
	return nil
}

// RecvOnly sets the pair up to carry data from the remote to the local
// endpoint only.
func RecvOnly(remote, local *Stream) {
	remote.ShutdownWrite()
	local.ShutdownRead()
	remote.hold, local.hold = -1, -1
}

// SendOnly sets the pair up to carry data from the local to the remote
// endpoint only.
func SendOnly(remote, local *Stream) {
	remote.ShutdownRead()
	local.ShutdownWrite()
	remote.hold, local.hold = -1, -1
}

func (s *Stream) logFields() logrus.Fields {
	return logrus.Fields{
		"stream":   s.name,
		"sent":     s.sent,
		"received": s.received,
	}
}
