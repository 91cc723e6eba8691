// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ErrIdleTimeout is returned by ReadWrite when an endpoint saw no I/O for
// longer than its idle timeout.
var ErrIdleTimeout = errors.New("connection timed out")

const (
	readyIn  = unix.POLLIN | unix.POLLHUP | unix.POLLERR
	readyOut = unix.POLLOUT | unix.POLLHUP | unix.POLLERR
)

// pollSet maps the scheduled directions of both streams onto poll entries.
// A direction that is not scheduled has index -1.
type pollSet struct {
	fds       []unix.PollFd
	readIdx   [2]int
	writeIdx  [2]int
	scheduled bool
}

func (p *pollSet) add(fd int, events int16) int {
	for i := range p.fds {
		if int(p.fds[i].Fd) == fd {
			p.fds[i].Events |= events
			return i
		}
	}
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: events})
	return len(p.fds) - 1
}

func schedule(streams [2]*Stream) *pollSet {
	p := &pollSet{
		readIdx:  [2]int{-1, -1},
		writeIdx: [2]int{-1, -1},
	}
	for i, s := range streams {
		if s.wantRead() {
			p.readIdx[i] = p.add(s.fdIn, unix.POLLIN)
			p.scheduled = true
		}
		if s.wantWrite() {
			p.writeIdx[i] = p.add(s.fdOut, unix.POLLOUT)
			p.scheduled = true
		}
	}
	return p
}

func (p *pollSet) ready(idx int, mask int16) bool {
	if idx < 0 {
		return false
	}
	return p.fds[idx].Revents&mask != 0
}

func (p *pollSet) invalid() error {
	for _, pfd := range p.fds {
		if pfd.Revents&unix.POLLNVAL != 0 {
			return fmt.Errorf("poll: invalid descriptor %d", pfd.Fd)
		}
	}
	return nil
}

// ReadWrite copies data between the remote and the local stream until
// neither has anything left to do. It returns nil on an orderly end, and an
// error for an I/O failure or an idle timeout.
//
// Each pass waits once for readiness of every scheduled direction, bounded
// by the nearest hold or idle deadline, then services reads before writes
// and the remote stream before the local one.
func ReadWrite(remote, local *Stream, log logrus.FieldLogger) error {
	streams := [2]*Stream{remote, local}
	peer := func(i int) *Stream { return streams[1-i] }
	for _, s := range streams {
		s.lastActivity = time.Now()
	}

	for {
		for _, s := range streams {
			if s.drain && s.writing && s.out.IsEmpty() {
				log.WithFields(s.logFields()).Debug("output drained, shutting down write side")
				s.ShutdownWrite()
			}
		}

		p := schedule(streams)
		if !p.scheduled {
			log.Debug("nothing left to transfer")
			return nil
		}

		now := time.Now()
		var deadline time.Time
		expired := false
		for i, s := range streams {
			if d, ok := s.holdDeadline(); ok {
				if !now.Before(d) {
					log.WithFields(s.logFields()).Debug("hold timeout expired")
					s.timedOut = true
					peer(i).ShutdownRead()
					s.ShutdownWrite()
					expired = true
					continue
				}
				if deadline.IsZero() || d.Before(deadline) {
					deadline = d
				}
			}
			if d, ok := s.idleDeadline(); ok {
				if !now.Before(d) {
					return fmt.Errorf("%s: %w", s.name, ErrIdleTimeout)
				}
				if deadline.IsZero() || d.Before(deadline) {
					deadline = d
				}
			}
		}
		if expired {
			// the shutdowns changed what is scheduled
			continue
		}

		timeout := -1
		if !deadline.IsZero() {
			// round up so the wait does not end just short of the deadline
			timeout = int((deadline.Sub(now) + time.Millisecond - 1) / time.Millisecond)
		}
		n, err := unix.Poll(p.fds, timeout)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if err := p.invalid(); err != nil {
			return err
		}

		for i, s := range streams {
			if !p.ready(p.readIdx[i], readyIn) || s.fdIn < 0 {
				continue
			}
			eof, err := s.read()
			if err != nil {
				return err
			}
			if eof {
				log.WithFields(s.logFields()).Debug("end of input")
				s.ShutdownRead()
				peer(i).finishWrite()
			}
		}
		for i, s := range streams {
			if !p.ready(p.writeIdx[i], readyOut) || !s.writing || s.fdOut < 0 {
				continue
			}
			if err := s.write(); err != nil {
				return err
			}
		}
	}
}
