// SPDX-FileCopyrightText: Copyright The nc6 Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"

	"github.com/nc6-project/nc6/pkg/attrs"
)

// sizeValue is a byte count such as "1500", "64k" or "1MiB".
type sizeValue int

var _ pflag.Value = (*sizeValue)(nil)

func (v *sizeValue) String() string {
	if *v == 0 {
		return "0"
	}
	return units.BytesSize(float64(*v))
}

func (v *sizeValue) Set(s string) error {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return err
	}
	if n < 0 || n > int64(^uint32(0)>>1) {
		return fmt.Errorf("size %q out of range", s)
	}
	*v = sizeValue(n)
	return nil
}

func (v *sizeValue) Type() string { return "size" }

// timeoutValue is a duration such as "1.5s", or a bare number of seconds.
type timeoutValue time.Duration

var _ pflag.Value = (*timeoutValue)(nil)

func (v *timeoutValue) String() string {
	if *v == 0 {
		return "0"
	}
	return time.Duration(*v).String()
}

func (v *timeoutValue) Set(s string) error {
	d, err := parseTimeout(s)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("negative timeout %q", s)
	}
	*v = timeoutValue(d)
	return nil
}

func (v *timeoutValue) Type() string { return "duration" }

func parseTimeout(s string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(s, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		secs := n * float64(time.Second)
		if math.IsNaN(n) || math.Abs(secs) >= math.MaxInt64 {
			return 0, fmt.Errorf("timeout %q out of range", s)
		}
		return time.Duration(secs), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	return d, nil
}

// holdValue is "local[:remote]", each side a timeout or "inf"/"-1" for
// no timeout. A single value sets both sides.
type holdValue struct {
	local, remote time.Duration
	set           bool
}

var _ pflag.Value = (*holdValue)(nil)

func (v *holdValue) String() string {
	if !v.set {
		return ""
	}
	return formatHold(v.local) + ":" + formatHold(v.remote)
}

func formatHold(d time.Duration) string {
	if d == attrs.Infinite {
		return "inf"
	}
	return d.String()
}

func (v *holdValue) Set(s string) error {
	localStr, remoteStr, pair := strings.Cut(s, ":")
	local, err := parseHold(localStr)
	if err != nil {
		return err
	}
	remote := local
	if pair {
		if remote, err = parseHold(remoteStr); err != nil {
			return err
		}
	}
	v.local, v.remote, v.set = local, remote, true
	return nil
}

func (v *holdValue) Type() string { return "local[:remote]" }

func parseHold(s string) (time.Duration, error) {
	switch strings.ToLower(s) {
	case "inf", "infinite", "-1":
		return attrs.Infinite, nil
	}
	d, err := parseTimeout(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative hold timeout %q", s)
	}
	return d, nil
}
