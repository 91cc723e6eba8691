// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package afamily

import (
	"context"
	"fmt"
	"time"
)

// Connect tries every candidate address of remote in order and returns the
// first connected socket along with its socket type. When local is set,
// each socket is bound to one of its addresses before connecting.
// configure is called for every socket before it is bound or connected.
func (e *Engine) Connect(ctx context.Context, hints Hints, remote, local Address, configure SocketFunc, timeout time.Duration) (int, int, error) {
	hints.Passive = false
	candidates, err := e.fam.resolve(ctx, hints, remote)
	if err != nil {
		return -1, 0, fmt.Errorf("resolve %s: %w", remote, err)
	}

	attempted := false
	for _, ai := range candidates {
		if !usable(ai, hints) {
			e.log.Debugf("skipping candidate %s (%s)", ai.Addr, sockTypeName(ai.SockType))
			continue
		}
		fd, err := e.sys.socket(ai.Family, ai.SockType, ai.Protocol)
		if err != nil {
			if unsupported(err) {
				e.log.WithError(err).Debugf("skipping candidate %s", ai.Addr)
				continue
			}
			return -1, 0, fmt.Errorf("socket: %w", err)
		}
		attempted = true

		if configure != nil {
			if err := configure(fd, ai); err != nil {
				closeFd(fd)
				return -1, 0, err
			}
		}
		if local.IsSet() && !e.bindLocal(ctx, fd, ai, hints.Numeric, local) {
			closeFd(fd)
			continue
		}

		e.log.Debugf("connecting to %s (%s)", ai.Addr, sockTypeName(ai.SockType))
		if err := connectTimeout(fd, ai.Addr, timeout); err != nil {
			e.log.WithError(err).Infof("unable to connect to %s", ai.Addr)
			closeFd(fd)
			continue
		}
		e.log.Infof("connected to %s", ai.Addr)
		return fd, ai.SockType, nil
	}

	if !attempted {
		return -1, 0, ErrNoCandidates
	}
	return -1, 0, fmt.Errorf("%w %s", ErrConnectFailed, remote)
}

// bindLocal binds fd to the first local address compatible with the
// remote candidate ai. Failures are logged and reported as false.
func (e *Engine) bindLocal(ctx context.Context, fd int, ai AddrInfo, numeric bool, local Address) bool {
	hints := Hints{
		Family:   ai.Family,
		SockType: ai.SockType,
		Protocol: ai.Protocol,
		Numeric:  numeric,
		Passive:  true,
	}
	candidates, err := e.fam.resolve(ctx, hints, local)
	if err != nil {
		e.log.WithError(err).Infof("unable to resolve local address %s", local)
		return false
	}
	for _, lai := range candidates {
		if !usable(lai, hints) || lai.Family != ai.Family {
			continue
		}
		if err := bind(fd, lai.Addr); err != nil {
			e.log.WithError(err).Infof("unable to bind to local address %s", lai.Addr)
			continue
		}
		e.log.Debugf("bound to local address %s", lai.Addr)
		return true
	}
	return false
}
